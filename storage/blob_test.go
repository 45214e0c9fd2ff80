package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cppla/mediavault/models"
)

func newTestStore(t *testing.T) *DiskStore {
	t.Helper()
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestPutMeasuresWrittenBytes(t *testing.T) {
	store := newTestStore(t)
	payload := bytes.Repeat([]byte("x"), 1234)

	// Declared length is advisory; the measured count wins.
	written, err := store.Put("clip.mp4", bytes.NewReader(payload), 99)
	require.NoError(t, err)
	require.Equal(t, int64(1234), written)

	blob, size, err := store.Open("clip.mp4")
	require.NoError(t, err)
	defer blob.Close()
	require.Equal(t, int64(1234), size)
}

func TestPutDuplicateKey(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put("doc.pdf", strings.NewReader("first"), -1)
	require.NoError(t, err)

	_, err = store.Put("doc.pdf", strings.NewReader("second"), -1)
	require.ErrorIs(t, err, models.ErrDuplicateEntry)

	// The original content is untouched by the losing write.
	blob, size, err := store.Open("doc.pdf")
	require.NoError(t, err)
	defer blob.Close()
	require.Equal(t, int64(len("first")), size)
}

func TestOpenSupportsPositionedReads(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Put("data.bin", strings.NewReader("0123456789"), -1)
	require.NoError(t, err)

	blob, _, err := store.Open("data.bin")
	require.NoError(t, err)
	defer blob.Close()

	buf := make([]byte, 4)
	n, err := blob.ReadAt(buf, 3)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "3456", string(buf))
}

func TestOpenMissingKey(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.Open("ghost")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Put("gone.txt", strings.NewReader("bye"), -1)
	require.NoError(t, err)

	require.NoError(t, store.Delete("gone.txt"))
	require.NoError(t, store.Delete("gone.txt"))
	require.False(t, store.Exists("gone.txt"))
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", "movie.mp4", "movie.mp4", false},
		{"unix path stripped", "../../etc/passwd", "passwd", false},
		{"nested path stripped", "a/b/c.txt", "c.txt", false},
		{"windows path stripped", `C:\Users\foo\clip.avi`, "clip.avi", false},
		{"empty", "", "", true},
		{"dot", ".", "", true},
		{"dotdot", "..", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeKey(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestPutRejectsUnsanitizedKey(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Put("../escape.txt", strings.NewReader("nope"), -1)
	require.ErrorIs(t, err, models.ErrIOFailure)

	// Nothing must land outside the root.
	parent := filepath.Dir(store.Root())
	_, statErr := os.Stat(filepath.Join(parent, "escape.txt"))
	require.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestUsedSpaceAndKeys(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Put("a.bin", bytes.NewReader(make([]byte, 100)), -1)
	require.NoError(t, err)
	_, err = store.Put("b.bin", bytes.NewReader(make([]byte, 250)), -1)
	require.NoError(t, err)

	used, err := store.UsedSpace()
	require.NoError(t, err)
	require.Equal(t, int64(350), used)

	keys, err := store.Keys()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.bin", "b.bin"}, keys)
}

func TestFreeSpaceReportsSomething(t *testing.T) {
	store := newTestStore(t)
	free, err := store.FreeSpace()
	require.NoError(t, err)
	require.Greater(t, free, int64(0))
}
