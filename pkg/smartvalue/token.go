package smartvalue

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TokenPath is where command line clients keep the session token.
// SMARTVALUE_TOKEN_FILE overrides the default under the user config dir.
func TokenPath() string {
	if p := os.Getenv("SMARTVALUE_TOKEN_FILE"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "smartvalue", "token")
}

// LoadToken reads the saved session token. A missing file yields "".
func LoadToken() (string, error) {
	data, err := os.ReadFile(TokenPath())
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveToken persists token with owner-only permissions.
func SaveToken(token string) error {
	p := TokenPath()
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(token), 0o600)
}

// ClearToken removes the saved token.
func ClearToken() error {
	err := os.Remove(TokenPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
