// Package settings supplies the remote account identity and the enabled
// inventory locations. Settings come either from the environment (Static)
// or from a single Postgres row (Store).
package settings

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/example/rms-availability/internal/gateway"
)

type Settings struct {
	Subdomain string
	APIToken  string
	// Locations are the enabled location ids, in display order.
	Locations []int64
	UpdatedAt time.Time
}

// Configured reports whether the remote identity is present.
func (s Settings) Configured() bool {
	return s.Credentials().Valid()
}

func (s Settings) Credentials() gateway.Credentials {
	return gateway.Credentials{Subdomain: s.Subdomain, APIToken: s.APIToken}
}

// Fingerprint changes whenever the account or the location set changes.
// The token is not part of it.
func (s Settings) Fingerprint() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(s.Subdomain)))
	for _, id := range s.Locations {
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(id, 10))
	}
	return b.String()
}

// MaskedToken shows only the last four characters of the token.
func (s Settings) MaskedToken() string {
	t := s.APIToken
	switch {
	case t == "":
		return ""
	case len(t) <= 4:
		return "****"
	default:
		return strings.Repeat("*", 8) + t[len(t)-4:]
	}
}

type Source interface {
	Load(ctx context.Context) (Settings, error)
}

// Static serves fixed settings, typically read from the environment.
type Static Settings

func (s Static) Load(context.Context) (Settings, error) {
	out := Settings(s)
	out.Locations = append([]int64(nil), s.Locations...)
	return out, nil
}

// Credentials adapts a Source for the gateway, which reads the identity at
// dispatch time.
func Credentials(src Source) gateway.CredentialSource {
	return gateway.CredentialsFunc(func(ctx context.Context) (gateway.Credentials, error) {
		s, err := src.Load(ctx)
		if err != nil {
			return gateway.Credentials{}, err
		}
		return s.Credentials(), nil
	})
}
