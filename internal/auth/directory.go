// Package auth is a minimal credential directory with register/login and
// opaque session tokens. Credentials are stored and compared as given.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"smartvalue/internal/store"
)

// ErrExists is returned by Directory.Register for a taken username.
var ErrExists = errors.New("user already exists")

// Directory looks up and records credentials.
type Directory interface {
	// Lookup returns the stored secret for username.
	Lookup(ctx context.Context, username string) (secret string, found bool, err error)

	// Register records a new user. It returns ErrExists if username is taken.
	Register(ctx context.Context, username, secret string) error
}

// userRecord is the persisted form of one account.
type userRecord struct {
	Password string `json:"password"`
}

// Compile-time interface check.
var _ Directory = (*BlobDirectory)(nil)

// BlobDirectory keeps accounts in a BlobStore, one key per username.
type BlobDirectory struct {
	blobs store.BlobStore
}

// NewBlobDirectory creates a Directory persisted in blobs.
func NewBlobDirectory(blobs store.BlobStore) *BlobDirectory {
	return &BlobDirectory{blobs: blobs}
}

// Lookup returns the stored password for username.
func (d *BlobDirectory) Lookup(ctx context.Context, username string) (string, bool, error) {
	data, ok, err := d.blobs.Get(ctx, store.NamespaceUsers, username)
	if err != nil || !ok {
		return "", false, err
	}
	var rec userRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", false, fmt.Errorf("decoding user %s: %w", username, err)
	}
	return rec.Password, true, nil
}

// Register stores a new account.
func (d *BlobDirectory) Register(ctx context.Context, username, secret string) error {
	_, found, err := d.Lookup(ctx, username)
	if err != nil {
		return err
	}
	if found {
		return ErrExists
	}
	data, err := json.Marshal(userRecord{Password: secret})
	if err != nil {
		return err
	}
	return d.blobs.Put(ctx, store.NamespaceUsers, username, data)
}
