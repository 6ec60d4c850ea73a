// Package keyring persists key material on disk, one directory per
// fingerprint.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrNotFound is returned when no entry exists for a fingerprint.
var ErrNotFound = errors.New("key not found")

const (
	publicFile = "public.cert"
	secretFile = "secret.key"
)

// Entry is the stored material of one key. Secret is nil when only the
// public certificate is known.
type Entry struct {
	Fingerprint string
	Public      []byte
	Secret      []byte
}

// HasSecret reports whether secret material is stored.
func (e *Entry) HasSecret() bool { return len(e.Secret) > 0 }

// Store manages key persistence.
type Store interface {
	// Put writes the public certificate and, when non-nil, the secret key.
	// A nil secret leaves any stored secret untouched.
	Put(ctx context.Context, fingerprint string, public, secret []byte) error

	// Get loads an entry by fingerprint.
	Get(ctx context.Context, fingerprint string) (*Entry, error)

	// List returns all fingerprints in sorted order.
	List(ctx context.Context) ([]string, error)

	// Delete removes an entry.
	Delete(ctx context.Context, fingerprint string) error

	// Exists checks if an entry exists.
	Exists(ctx context.Context, fingerprint string) bool

	// BasePath returns the keyring directory path.
	BasePath() string
}

// FileStore implements Store using the filesystem.
// Layout:
//
//	{basePath}/{FINGERPRINT}/
//	    public.cert     # encoded certificate
//	    secret.key      # protected secret key (optional)
type FileStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewFileStore creates a file-based keyring rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{basePath: dir}
}

// Dir returns the conventional keyring directory below an encrypto home.
func Dir(home string) string {
	return filepath.Join(home, "keyring")
}

func (s *FileStore) entryPath(fingerprint string) string {
	return filepath.Join(s.basePath, fingerprint)
}

// Put writes the entry atomically per file.
func (s *FileStore) Put(ctx context.Context, fingerprint string, public, secret []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validName(fingerprint) {
		return fmt.Errorf("invalid keyring entry name %q", fingerprint)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.entryPath(fingerprint)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create keyring entry: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, publicFile), public, 0644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}

	if secret != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeAtomic(filepath.Join(dir, secretFile), secret, 0600); err != nil {
			return fmt.Errorf("failed to write secret key: %w", err)
		}
	}
	return nil
}

// Get loads an entry by fingerprint.
func (s *FileStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validName(fingerprint) {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getUnlocked(fingerprint)
}

func (s *FileStore) getUnlocked(fingerprint string) (*Entry, error) {
	dir := s.entryPath(fingerprint)
	public, err := os.ReadFile(filepath.Join(dir, publicFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}

	secret, err := os.ReadFile(filepath.Join(dir, secretFile))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read secret key: %w", err)
		}
		secret = nil
	}

	return &Entry{Fingerprint: fingerprint, Public: public, Secret: secret}, nil
}

// List returns all fingerprints with a stored certificate.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keyring directory: %w", err)
	}

	var fps []string
	for _, entry := range entries {
		if !entry.IsDir() || !validName(entry.Name()) {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.basePath, entry.Name(), publicFile)); err != nil {
			continue
		}
		fps = append(fps, entry.Name())
	}

	sort.Strings(fps)
	return fps, nil
}

// Delete removes an entry and all its files.
func (s *FileStore) Delete(ctx context.Context, fingerprint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validName(fingerprint) {
		return ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.entryPath(fingerprint)); err != nil {
		return fmt.Errorf("failed to delete keyring entry: %w", err)
	}
	return nil
}

// Exists checks if an entry exists.
func (s *FileStore) Exists(ctx context.Context, fingerprint string) bool {
	if ctx.Err() != nil || !validName(fingerprint) {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(filepath.Join(s.entryPath(fingerprint), publicFile))
	return err == nil
}

// BasePath returns the keyring directory path.
func (s *FileStore) BasePath() string {
	return s.basePath
}

// Init ensures the keyring directory exists.
func (s *FileStore) Init() error {
	return os.MkdirAll(s.basePath, 0700)
}

// writeAtomic writes data to a temp file in the target directory and renames
// it over path, so readers never observe a partial file.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	cleanup := func() { _ = os.Remove(name) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(name, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(name, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// validName rejects anything that is not a plain hex fingerprint so entry
// names can never escape the keyring directory.
func validName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, c := range name {
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
