// Package media stores uploaded images on local disk and hands back the
// opaque reference clients use to fetch them.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// DefaultMaxBytes is the upload size limit.
const DefaultMaxBytes = 5 << 20

var (
	// ErrUnsupportedType is returned when the extension or the sniffed
	// content is not an accepted image type.
	ErrUnsupportedType = errors.New("media: only jpeg, png and gif images are allowed")
	// ErrTooLarge is returned when the upload exceeds the size limit.
	ErrTooLarge = errors.New("media: file too large")
	// ErrEmpty is returned for a zero-byte upload.
	ErrEmpty = errors.New("media: empty file")
)

var allowedExt = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
	".gif":  true,
}

var allowedMIME = []string{"image/jpeg", "image/png", "image/gif"}

// DiskStore writes files to a directory and serves them under a URL prefix.
type DiskStore struct {
	dir       string
	urlPrefix string
	maxBytes  int64
	now       func() time.Time
}

// NewDiskStore creates dir if needed. urlPrefix is prepended to stored file
// names to form references, e.g. "/uploads/".
func NewDiskStore(dir, urlPrefix string, maxBytes int64) (*DiskStore, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create upload dir: %w", err)
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &DiskStore{dir: dir, urlPrefix: urlPrefix, maxBytes: maxBytes, now: time.Now}, nil
}

// Dir returns the directory files are written to.
func (s *DiskStore) Dir() string { return s.dir }

// MaxBytes returns the upload size limit.
func (s *DiskStore) MaxBytes() int64 { return s.maxBytes }

// Store validates and saves the content of r, named filename by the client,
// and returns its reference. Both the extension and the sniffed content
// type must be an accepted image type.
func (s *DiskStore) Store(filename string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExt[ext] {
		return "", ErrUnsupportedType
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("media: read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", ErrTooLarge
	}
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if mt := mimetype.Detect(data); !mimetype.EqualsAny(mt.String(), allowedMIME...) {
		return "", ErrUnsupportedType
	}

	name := fmt.Sprintf("%d-%s%s", s.now().UnixMilli(), uuid.NewString(), ext)
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("media: write %s: %w", name, err)
	}
	return s.urlPrefix + name, nil
}
