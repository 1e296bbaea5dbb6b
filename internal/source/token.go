package source

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// ReadToken loads an OAuth2 token saved as JSON. A missing file is reported
// as [ErrAuthRequired].
func ReadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("token file %s not found: %w", path, ErrAuthRequired)
	}
	if err != nil {
		return nil, fmt.Errorf("opening token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decoding token file %s: %w", path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("token file %s holds no token: %w", path, ErrAuthRequired)
	}
	return tok, nil
}

// WriteToken saves tok as JSON with owner-only permissions, replacing the
// file atomically.
func WriteToken(path string, tok *oauth2.Token) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".token-*")
	if err != nil {
		return fmt.Errorf("creating temp token file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("restricting token file: %w", err)
	}
	if err := json.NewEncoder(tmp).Encode(tok); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing token file: %w", err)
	}
	return nil
}
