// Package storage keeps uploaded files on the local filesystem, one
// directory per user, stored under random names so originals never
// collide or leak into paths.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Store writes and reads upload payloads under Root/<userID>/.
type Store struct {
	Root string
}

func NewStore(root string) *Store {
	return &Store{Root: root}
}

// userDir returns (and creates) the per-user directory.
func (s *Store) userDir(userID uint) (string, error) {
	dir := filepath.Join(s.Root, strconv.FormatUint(uint64(userID), 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create user dir: %w", err)
	}
	return dir, nil
}

// Save streams src to disk and returns the stored name
// (uuid + original extension) and the byte count written.
func (s *Store) Save(userID uint, originalName string, src io.Reader) (string, int64, error) {
	dir, err := s.userDir(userID)
	if err != nil {
		return "", 0, err
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	stored := uuid.New().String() + ext
	full := filepath.Join(dir, stored)

	dst, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", 0, fmt.Errorf("create file: %w", err)
	}

	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(full)
		return "", 0, fmt.Errorf("write file: %w", err)
	}
	return stored, n, nil
}

// Path returns the on-disk location of a stored file.
func (s *Store) Path(userID uint, storedName string) string {
	return filepath.Join(s.Root, strconv.FormatUint(uint64(userID), 10), storedName)
}

// Remove deletes a stored file; a missing file is not an error, the
// metadata row is authoritative.
func (s *Store) Remove(userID uint, storedName string) error {
	err := os.Remove(s.Path(userID, storedName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stored file: %w", err)
	}
	return nil
}

// RemoveAll deletes a user's whole directory (account deletion).
func (s *Store) RemoveAll(userID uint) error {
	dir := filepath.Join(s.Root, strconv.FormatUint(uint64(userID), 10))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove user dir: %w", err)
	}
	return nil
}
