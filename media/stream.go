package media

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cppla/mediavault/models"
)

// byteRange is an inclusive window into a blob.
type byteRange struct {
	start int64
	end   int64
}

func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

// parseRange interprets a single-range header of the form "bytes=start-end".
// Open-ended ends default to the last byte; ends past the blob are clamped.
// Malformed syntax, open-ended starts, and multi-range requests all degrade to
// a full response (ok=false) rather than erroring, which matches what lenient
// media players expect. Only a start beyond the blob is a hard failure.
func parseRange(header string, size int64) (byteRange, bool, error) {
	header = strings.TrimSpace(header)
	if header == "" || !strings.HasPrefix(header, "bytes=") {
		return byteRange{}, false, nil
	}
	spec := strings.TrimPrefix(header, "bytes=")
	if strings.Contains(spec, ",") {
		// Multi-range is out of scope; degrade to a full response.
		return byteRange{}, false, nil
	}

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found || startStr == "" {
		// Suffix ranges ("bytes=-500") are unsupported.
		return byteRange{}, false, nil
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, false, nil
	}

	end := size - 1
	if endStr = strings.TrimSpace(endStr); endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return byteRange{}, false, nil
		}
	}
	if end > size-1 {
		end = size - 1
	}

	if start > end || start >= size {
		return byteRange{}, false, models.ErrRangeNotSatisfiable
	}
	return byteRange{start: start, end: end}, true, nil
}

// ServeEntry streams a catalog entry's bytes honoring HTTP range semantics.
// The responder owns the whole response, including the 416 for unsatisfiable
// ranges. It returns ErrNotFound when the blob is missing from disk (a stale
// catalog row, surfaced as a consistency fault) before any header is written;
// once headers go out, client-side aborts are swallowed after cleanup.
func (s *Service) ServeEntry(w http.ResponseWriter, r *http.Request, entry *models.MediaEntry) error {
	blob, size, err := s.store.Open(entry.Key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.log.Warnw("catalog entry has no blob on disk",
				"id", entry.ID, "key", entry.Key)
			return models.ErrNotFound
		}
		return err
	}
	defer blob.Close()

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", entry.MimeType)

	rng, partial, err := parseRange(r.Header.Get("Range"), size)
	if err != nil {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	if !partial {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		if !entry.Streamable() {
			h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry.Key))
		}
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, blob); err != nil {
			s.log.Debugw("full stream aborted", "key", entry.Key, "error", err)
		}
		return nil
	}

	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end, size))
	h.Set("Content-Length", strconv.FormatInt(rng.length(), 10))
	w.WriteHeader(http.StatusPartialContent)

	// Positioned reads only: many concurrent large streams must not pull whole
	// blobs into memory.
	section := io.NewSectionReader(blob, rng.start, rng.length())
	if _, err := io.Copy(w, section); err != nil {
		s.log.Debugw("range stream aborted", "key", entry.Key, "error", err)
	}
	return nil
}
