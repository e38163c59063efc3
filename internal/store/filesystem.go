// filesystem.go -- Server-side session files for deployments without Redis.
package store

import (
	"context"
	"fmt"
	"os"

	"github.com/gorilla/sessions"
)

// FilesystemStore wraps sessions.FilesystemStore to add CheckHealth.
type FilesystemStore struct {
	*sessions.FilesystemStore
}

// NewFilesystemStore stores session values in dir (os.TempDir() when empty);
// the cookie only carries the signed session ID.
func NewFilesystemStore(dir string, opts *sessions.Options, keyPairs ...[]byte) (*FilesystemStore, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session dir: %w", err)
	}
	fs := sessions.NewFilesystemStore(dir, keyPairs...)
	fs.Options = opts
	fs.MaxAge(opts.MaxAge)
	return &FilesystemStore{fs}, nil
}

// CheckHealth always returns ErrStoreDisabled; there is no remote dependency.
func (s *FilesystemStore) CheckHealth(context.Context) error {
	return ErrStoreDisabled
}
