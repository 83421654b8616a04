package httpclient

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FileTokenStore persists an oauth2.Token as JSON at Path, restoring the
// "--oauth-session-token is a path to a file where the session keys should
// be read from/stored to" contract from cmd_util.py's OAuth argument group.
type FileTokenStore struct {
	Path string
}

func (s FileTokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("oauth: parse session token %s: %w", s.Path, err)
	}
	return &tok, nil
}

func (s FileTokenStore) Save(tok *oauth2.Token) error {
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("oauth: create session token dir %s: %w", dir, err)
		}
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path, data, 0o600)
}

// noSaveStore wraps a TokenStore so a previously stored token can still be
// loaded (reusing an existing session), but a freshly obtained token is
// never written back, per --oauth-no-store's "don't store the new session
// token obtained after logging in".
type noSaveStore struct {
	TokenStore
}

func (noSaveStore) Save(*oauth2.Token) error { return nil }

// NoSave wraps store so Save becomes a no-op while Load still consults it.
func NoSave(store TokenStore) TokenStore {
	return noSaveStore{TokenStore: store}
}
