package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigured(t *testing.T) {
	assert.True(t, Settings{Subdomain: "acme", APIToken: "tok"}.Configured())
	assert.False(t, Settings{Subdomain: "acme"}.Configured())
	assert.False(t, Settings{APIToken: "tok"}.Configured())
	assert.False(t, Settings{Subdomain: " ", APIToken: "tok"}.Configured())
}

func TestFingerprint(t *testing.T) {
	a := Settings{Subdomain: "acme", APIToken: "one", Locations: []int64{7, 3}}
	b := Settings{Subdomain: "ACME", APIToken: "two", Locations: []int64{7, 3}}
	c := Settings{Subdomain: "acme", Locations: []int64{7}}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.NotContains(t, a.Fingerprint(), "one")
}

func TestMaskedToken(t *testing.T) {
	assert.Equal(t, "", Settings{}.MaskedToken())
	assert.Equal(t, "****", Settings{APIToken: "abc"}.MaskedToken())
	assert.Equal(t, "********wxyz", Settings{APIToken: "abcdefwxyz"}.MaskedToken())
}

func TestStaticReturnsCopies(t *testing.T) {
	src := Static{Subdomain: "acme", APIToken: "tok", Locations: []int64{7}}
	s, err := src.Load(context.Background())
	require.NoError(t, err)
	s.Locations[0] = 99

	again, _ := src.Load(context.Background())
	assert.Equal(t, []int64{7}, again.Locations)
}

type failingSource struct{ err error }

func (f failingSource) Load(context.Context) (Settings, error) { return Settings{}, f.err }

func TestCredentialsAdapter(t *testing.T) {
	creds, err := Credentials(Static{Subdomain: "acme", APIToken: "tok"}).Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acme", creds.Subdomain)
	assert.Equal(t, "tok", creds.APIToken)

	boom := errors.New("db down")
	_, err = Credentials(failingSource{err: boom}).Credentials(context.Background())
	assert.ErrorIs(t, err, boom)
}
