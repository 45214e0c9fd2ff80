package models

import (
	"strings"
	"time"
)

// Media entry kinds. Plain files and videos share one kind-tagged table and one
// storage folder, so keys must be unique across both kinds.
const (
	KindFile  = "file"
	KindVideo = "video"
)

// MediaEntry describes one stored object. The key doubles as the filename under
// the storage root; SizeBytes is always measured from the uploaded stream, never
// taken from client-declared metadata.
type MediaEntry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Key        string    `gorm:"size:255;uniqueIndex;not null" json:"key"`
	Title      string    `gorm:"size:255;index;not null" json:"title"`
	Kind       string    `gorm:"size:16;index;not null" json:"kind"`
	MimeType   string    `gorm:"size:100;not null" json:"mime_type"`
	SizeBytes  int64     `gorm:"not null" json:"size_bytes"`
	Owner      string    `gorm:"size:64;index;not null" json:"owner"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Streamable reports whether the declared mime type is served inline with range
// support rather than as an attachment download. The mime type is trusted from
// the client at upload time and not verified against content.
func (m *MediaEntry) Streamable() bool {
	return strings.HasPrefix(m.MimeType, "video/") || strings.HasPrefix(m.MimeType, "audio/")
}
