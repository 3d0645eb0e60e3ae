package media

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	pngHeader  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	gifHeader  = []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00")
	jpegHeader = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
)

func TestStoreAcceptsImages(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDiskStore(dir, "/uploads", 0)
	require.NoError(t, err)

	tests := []struct {
		name string
		file string
		data []byte
	}{
		{"png", "me.png", pngHeader},
		{"gif", "anim.GIF", gifHeader},
		{"jpeg", "photo.jpeg", jpegHeader},
		{"jpg", "photo.jpg", jpegHeader},
	}

	refPattern := regexp.MustCompile(`^/uploads/\d+-[0-9a-f-]{36}\.(png|gif|jpeg|jpg)$`)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := s.Store(tt.file, bytes.NewReader(tt.data))
			require.NoError(t, err)
			require.Regexp(t, refPattern, ref)

			stored, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(ref, "/uploads/")))
			require.NoError(t, err)
			require.Equal(t, tt.data, stored)
		})
	}
}

func TestStoreRejects(t *testing.T) {
	s, err := NewDiskStore(t.TempDir(), "/uploads/", 64)
	require.NoError(t, err)

	tests := []struct {
		name string
		file string
		data []byte
		want error
	}{
		{"wrong extension", "notes.txt", pngHeader, ErrUnsupportedType},
		{"no extension", "image", pngHeader, ErrUnsupportedType},
		{"content mismatch", "fake.png", []byte("just some text pretending"), ErrUnsupportedType},
		{"too large", "big.png", append(append([]byte{}, pngHeader...), make([]byte, 64)...), ErrTooLarge},
		{"empty", "empty.png", nil, ErrEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Store(tt.file, bytes.NewReader(tt.data))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewDiskStoreCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "uploads")
	s, err := NewDiskStore(dir, "/uploads/", 0)
	require.NoError(t, err)
	require.DirExists(t, dir)
	require.Equal(t, int64(DefaultMaxBytes), s.MaxBytes())
}
