package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/rms-availability/internal/crypto"
	"github.com/example/rms-availability/internal/db"
	"github.com/example/rms-availability/internal/internaltypes"
)

const tokenLabel = "rms_settings.api_token"

// Store persists settings in the rms_settings table with the API token
// sealed.
type Store struct {
	db   *db.DB
	aead *crypto.AEAD
}

func NewStore(d *db.DB, aead *crypto.AEAD) *Store {
	return &Store{db: d, aead: aead}
}

// Load returns empty settings when none have been saved.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	var (
		out    Settings
		sealed string
	)
	err := s.db.QueryRow(ctx, `
		SELECT subdomain, api_token_sealed, locations, updated_at
		FROM rms_settings WHERE id = 1
	`).Scan(&out.Subdomain, &sealed, &out.Locations, &out.UpdatedAt)
	if err := db.WrapNotFound(err); err != nil {
		if errors.Is(err, internaltypes.ErrNotFound) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if sealed != "" {
		out.APIToken, err = s.aead.DecryptString(sealed, tokenLabel)
		if err != nil {
			return Settings{}, fmt.Errorf("load settings: %w", err)
		}
	}
	return out, nil
}

// Save replaces the stored settings.
func (s *Store) Save(ctx context.Context, in Settings) error {
	sealed := ""
	if token := strings.TrimSpace(in.APIToken); token != "" {
		var err error
		sealed, err = s.aead.EncryptToString(token, tokenLabel)
		if err != nil {
			return fmt.Errorf("seal token: %w", err)
		}
	}
	locations := in.Locations
	if locations == nil {
		locations = []int64{}
	}
	err := s.db.Exec(ctx, `
		INSERT INTO rms_settings (id, subdomain, api_token_sealed, locations, updated_at)
		VALUES (1, $1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET
			subdomain = EXCLUDED.subdomain,
			api_token_sealed = EXCLUDED.api_token_sealed,
			locations = EXCLUDED.locations,
			updated_at = EXCLUDED.updated_at
	`, strings.TrimSpace(in.Subdomain), sealed, locations)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
