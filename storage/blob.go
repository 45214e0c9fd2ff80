package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/cppla/mediavault/models"
)

// DiskStore keeps blobs as flat files under a single root directory. Keys are
// treated as opaque identifiers: anything that could navigate outside the root
// is rejected before it ever reaches the filesystem.
type DiskStore struct {
	root string
}

// NewDiskStore creates the root directory if needed and returns a store.
func NewDiskStore(root string) (*DiskStore, error) {
	if root == "" {
		return nil, errors.New("storage root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &DiskStore{root: root}, nil
}

// Root returns the configured storage root directory.
func (s *DiskStore) Root() string {
	return s.root
}

// SanitizeKey reduces a client-supplied filename to a safe flat key. Path
// components are stripped, and keys that would resolve to the root itself or a
// parent directory are rejected.
func SanitizeKey(name string) (string, error) {
	key := filepath.Base(strings.TrimSpace(name))
	// filepath.Base never returns a separator on the host OS, but uploads may
	// carry Windows-style paths.
	if idx := strings.LastIndexByte(key, '\\'); idx >= 0 {
		key = key[idx+1:]
	}
	if key == "" || key == "." || key == ".." || strings.ContainsRune(key, 0) {
		return "", fmt.Errorf("%w: unusable key %q", models.ErrIOFailure, name)
	}
	return key, nil
}

func (s *DiskStore) path(key string) (string, error) {
	clean, err := SanitizeKey(key)
	if err != nil || clean != key {
		return "", fmt.Errorf("%w: invalid key %q", models.ErrIOFailure, key)
	}
	return filepath.Join(s.root, key), nil
}

// Put writes the stream to a fresh file named by key. Exclusive-create keeps
// concurrent uploads with the same key from interleaving: exactly one caller
// wins, the rest get ErrDuplicateEntry. Returns the number of bytes written,
// measured from the stream; declared is only advisory.
func (s *DiskStore) Put(key string, r io.Reader, declared int64) (int64, error) {
	path, err := s.path(key)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return 0, models.ErrDuplicateEntry
		}
		return 0, fmt.Errorf("%w: create %s: %v", models.ErrIOFailure, key, err)
	}

	written, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(path)
		return 0, fmt.Errorf("%w: write %s: %v", models.ErrIOFailure, key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("%w: close %s: %v", models.ErrIOFailure, key, err)
	}
	// The measured count is authoritative; declared is reconciled by the caller.
	return written, nil
}

// Open returns a random-access handle and the current size of the blob.
// The returned file supports positioned reads, so range requests never scan
// from the start. A missing blob maps to ErrNotFound.
func (s *DiskStore) Open(key string) (*os.File, int64, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, models.ErrNotFound
		}
		return nil, 0, fmt.Errorf("%w: open %s: %v", models.ErrIOFailure, key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("%w: stat %s: %v", models.ErrIOFailure, key, err)
	}
	return f, info.Size(), nil
}

// Exists reports whether a blob is present without opening it.
func (s *DiskStore) Exists(key string) bool {
	path, err := s.path(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Delete removes a blob. Deleting an absent key is a no-op; other filesystem
// errors surface as ErrIOFailure. An unlink while a stream is in flight leaves
// the open handle readable until it is closed, so draining readers are safe.
func (s *DiskStore) Delete(key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove %s: %v", models.ErrIOFailure, key, err)
	}
	return nil
}

// FreeSpace reports the bytes available to unprivileged writers on the
// filesystem holding the storage root.
func (s *DiskStore) FreeSpace() (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(s.root, &st); err != nil {
		return 0, fmt.Errorf("%w: statfs %s: %v", models.ErrIOFailure, s.root, err)
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}

// UsedSpace sums the sizes of all blobs under the root.
func (s *DiskStore) UsedSpace() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: walk %s: %v", models.ErrIOFailure, s.root, err)
	}
	return total, nil
}

// Keys lists all blob keys currently on disk. Used by the consistency sweeper.
func (s *DiskStore) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: readdir %s: %v", models.ErrIOFailure, s.root, err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			keys = append(keys, e.Name())
		}
	}
	return keys, nil
}
