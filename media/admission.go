package media

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/mediavault/catalog"
	"github.com/cppla/mediavault/models"
	"github.com/cppla/mediavault/storage"
)

// Service owns the admission pipeline and the streaming/removal paths built on
// top of the blob store and catalog. It is the only way new entries are created.
type Service struct {
	store      *storage.DiskStore
	cat        catalog.Catalog
	maxStorage int64
	log        *zap.SugaredLogger

	// admitMu serializes measure-check-write-insert. Without it two concurrent
	// uploads could both pass the quota check against a stale usage figure and
	// jointly blow the budget.
	admitMu sync.Mutex
}

// NewService wires the media service. maxStorage is the aggregate byte budget
// for all stored blobs.
func NewService(store *storage.DiskStore, cat catalog.Catalog, maxStorage int64, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{store: store, cat: cat, maxStorage: maxStorage, log: log}
}

// UploadRequest carries one upload through admission. Body length is never
// trusted from DeclaredSize; the stream is measured before any durable write.
type UploadRequest struct {
	Key          string
	Title        string
	MimeType     string
	Kind         string
	Owner        string
	Body         io.Reader
	DeclaredSize int64
	// MimePrefix restricts the accepted content type ("video/" for the video
	// endpoint). Empty accepts anything.
	MimePrefix string
}

// Admit validates, measures, and commits one upload. The blob write and the
// catalog insert are one logical transaction: a failed insert triggers a
// compensating blob delete so no orphan survives.
func (s *Service) Admit(req UploadRequest) (*models.MediaEntry, error) {
	if req.MimePrefix != "" && !strings.HasPrefix(req.MimeType, req.MimePrefix) {
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedType, req.MimeType)
	}

	key, err := storage.SanitizeKey(req.Key)
	if err != nil {
		return nil, err
	}

	src, size, cleanup, err := measure(req.Body)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	s.admitMu.Lock()
	defer s.admitMu.Unlock()

	used, err := s.cat.TotalSize()
	if err != nil {
		return nil, err
	}
	free, err := s.store.FreeSpace()
	if err != nil {
		return nil, err
	}
	if size > free || used+size > s.maxStorage {
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d budget used, %d free on disk",
			models.ErrQuotaExceeded, size, used, s.maxStorage, free)
	}

	written, err := s.store.Put(key, src, size)
	if err != nil {
		return nil, err
	}

	committed := false
	defer func() {
		// Compensating delete is mandatory on every failure past this point.
		if !committed {
			if derr := s.store.Delete(key); derr != nil {
				s.log.Errorw("compensating blob delete failed", "key", key, "error", derr)
			}
		}
	}()

	if written != size {
		return nil, fmt.Errorf("%w: short write for %s: measured %d, wrote %d",
			models.ErrIOFailure, key, size, written)
	}

	entry := &models.MediaEntry{
		Key:        key,
		Title:      req.Title,
		Kind:       req.Kind,
		MimeType:   req.MimeType,
		SizeBytes:  written,
		Owner:      req.Owner,
		UploadedAt: time.Now(),
	}
	if err := s.cat.Insert(entry); err != nil {
		return nil, err
	}
	committed = true
	return entry, nil
}

// Remove deletes the blob and the catalog row. The blob goes first: if the
// filesystem refuses, the row stays and the error surfaces rather than leaving
// a catalog entry that points at nothing. An in-flight stream holding the open
// file keeps draining after the unlink.
func (s *Service) Remove(entry *models.MediaEntry) error {
	if err := s.store.Delete(entry.Key); err != nil {
		return err
	}
	if err := s.cat.Delete(entry.ID); err != nil {
		return fmt.Errorf("blob removed but catalog delete failed for id %d: %w", entry.ID, err)
	}
	return nil
}

// Usage reports current storage accounting for diagnostics.
func (s *Service) Usage() (used, free, budget int64, err error) {
	used, err = s.store.UsedSpace()
	if err != nil {
		return 0, 0, 0, err
	}
	free, err = s.store.FreeSpace()
	if err != nil {
		return 0, 0, 0, err
	}
	return used, free, s.maxStorage, nil
}

// measure determines the true byte length of a stream before admission.
// Seekable sources are measured in place; anything else is spooled to a temp
// file so the length is known without committing bytes to the store.
func measure(r io.Reader) (src io.Reader, size int64, cleanup func(), err error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		size, err = rs.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("%w: measure seek: %v", models.ErrIOFailure, err)
		}
		if _, err = rs.Seek(0, io.SeekStart); err != nil {
			return nil, 0, nil, fmt.Errorf("%w: measure rewind: %v", models.ErrIOFailure, err)
		}
		return rs, size, func() {}, nil
	}

	tmp, err := os.CreateTemp("", "mediavault-upload-*")
	if err != nil {
		return nil, 0, nil, fmt.Errorf("%w: spool temp: %v", models.ErrIOFailure, err)
	}
	cleanup = func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}
	size, err = io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("%w: spool copy: %v", models.ErrIOFailure, err)
	}
	if _, err = tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("%w: spool rewind: %v", models.ErrIOFailure, err)
	}
	return tmp, size, cleanup, nil
}
