package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamable(t *testing.T) {
	tests := []struct {
		mime string
		want bool
	}{
		{"video/mp4", true},
		{"video/webm", true},
		{"audio/mpeg", true},
		{"application/pdf", false},
		{"text/plain", false},
		{"", false},
	}
	for _, tt := range tests {
		entry := MediaEntry{MimeType: tt.mime}
		require.Equal(t, tt.want, entry.Streamable(), tt.mime)
	}
}
