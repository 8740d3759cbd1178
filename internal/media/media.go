// Package media stores user-uploaded images (avatars, cover images) in an
// object storage backend and hands out the public URLs persisted on
// accounts.
package media

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"path"
	"strings"
)

// Backend defines the object operations shared by the storage providers.
type Backend interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Store wraps a Backend and owns key naming and URL mapping.
type Store struct {
	backend       Backend
	publicBaseURL string
}

// NewStore constructs a Store. publicBaseURL is the prefix stored URLs get;
// when empty the server's own /media route is used.
func NewStore(backend Backend, publicBaseURL string) *Store {
	base := strings.TrimRight(publicBaseURL, "/")
	if base == "" {
		base = "/media"
	}
	return &Store{backend: backend, publicBaseURL: base}
}

// EnsureBucket ensures the configured bucket exists.
func (s *Store) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Upload stores an object under a fresh key in the given folder and
// returns the public URL to persist.
func (s *Store) Upload(ctx context.Context, folder, filename string, r io.Reader, size int64, contentType string) (string, error) {
	key := newKey(folder, filename)
	if err := s.backend.Put(ctx, key, r, size, contentType); err != nil {
		return "", err
	}
	return s.publicBaseURL + "/" + key, nil
}

// Open streams a stored object by key.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, key)
}

// RemoveURL deletes the object a previously issued URL points at.
// URLs not issued by this store are ignored.
func (s *Store) RemoveURL(ctx context.Context, url string) error {
	key, ok := s.keyFromURL(url)
	if !ok {
		return nil
	}
	return s.backend.Delete(ctx, key)
}

func (s *Store) keyFromURL(url string) (string, bool) {
	if url == "" || !strings.HasPrefix(url, s.publicBaseURL+"/") {
		return "", false
	}
	key := strings.TrimPrefix(url, s.publicBaseURL+"/")
	return key, key != ""
}

// newKey builds "<folder>/<random hex><ext>" so uploads never collide and
// never trust client-supplied names.
func newKey(folder, filename string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return folder + "/" + hex.EncodeToString(b) + strings.ToLower(path.Ext(filename))
}
