package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// MaxFileSize is the upload size ceiling in bytes.
const MaxFileSize = 10 << 20

// Retention is how long an entry survives after its last write.
const Retention = 24 * time.Hour

var (
	// ErrNotFound is returned when no entry exists for a code.
	ErrNotFound = errors.New("entry not found")
	// ErrFileTooLarge is returned when a declared upload exceeds MaxFileSize.
	ErrFileTooLarge = errors.New("file size exceeds limit")
	// ErrUnsupportedType is returned when a declared MIME type is not allowed.
	ErrUnsupportedType = errors.New("file type not allowed")
)

var allowedTypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/gif":       {},
	"image/bmp":       {},
	"image/webp":      {},
	"image/svg+xml":   {},
	"text/plain":      {},
	"text/markdown":   {},
	"text/rtf":        {},
	"application/pdf": {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
}

// TextEntry is the single current text blob bound to a code.
type TextEntry struct {
	Code      string    `json:"code"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileEntry is the metadata record for the single current file bound to a
// code. StoredName is the only value ever resolved to a filesystem path;
// OriginalName is untrusted client input kept for display and download naming.
type FileEntry struct {
	Code         string    `json:"code"`
	OriginalName string    `json:"original_name"`
	StoredName   string    `json:"stored_name"`
	Size         int64     `json:"file_size"`
	ContentType  string    `json:"file_type"`
	Checksum     string    `json:"checksum,omitempty"`
	UploadedAt   time.Time `json:"upload_time"`
}

// Store defines the storage backend contract. Text entries and file entries
// live in separate namespaces keyed by code; each namespace is swept
// independently.
type Store interface {
	SaveText(ctx context.Context, entry *TextEntry) error
	GetText(ctx context.Context, code string) (*TextEntry, error)
	SaveFile(ctx context.Context, entry *FileEntry, blob io.Reader) error
	GetFile(ctx context.Context, code string) (*FileEntry, error)
	OpenBlob(ctx context.Context, entry *FileEntry) (io.ReadSeekCloser, error)
	SweepTexts(ctx context.Context, before time.Time) (int, error)
	SweepFiles(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// AllowedType reports whether a declared MIME type may be stored.
func AllowedType(contentType string) bool {
	_, ok := allowedTypes[contentType]
	return ok
}

// ValidateUpload checks the declared size and type of an upload before any
// bytes are persisted. Size is checked first.
func ValidateUpload(size int64, contentType string) error {
	if size > MaxFileSize {
		return ErrFileTooLarge
	}
	if !AllowedType(contentType) {
		return ErrUnsupportedType
	}
	return nil
}

// StoredName builds the on-disk name for an uploaded blob: CODE_unixtime.ext.
// The extension comes from originalName but is reduced to lowercase
// alphanumerics so a hostile filename cannot smuggle path separators.
func StoredName(code string, uploadedAt time.Time, originalName string) string {
	return fmt.Sprintf("%s_%d.%s", code, uploadedAt.Unix(), sanitizeExt(filepath.Ext(originalName)))
}

func sanitizeExt(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	var b strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() >= 10 {
			break
		}
	}
	if b.Len() == 0 {
		return "bin"
	}
	return b.String()
}
