//go:build sqlite

package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "modernc.org/sqlite"

	"quickclip/internal/storage"
)

// Store implements storage.Store using SQLite for metadata and a blob
// directory for upload bytes.
type Store struct {
	db    *sql.DB
	blobs *storage.BlobDir
}

// Open initializes the SQLite database at path and the blob directory at
// blobDir.
func Open(path, blobDir string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := initialize(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	blobs, err := storage.NewBlobDir(blobDir)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, blobs: blobs}, nil
}

func initialize(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS texts (
    code TEXT PRIMARY KEY,
    content BLOB NOT NULL,
    updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_texts_updated_at ON texts (updated_at);
CREATE TABLE IF NOT EXISTS files (
    code TEXT PRIMARY KEY,
    original_name TEXT NOT NULL,
    stored_name TEXT NOT NULL,
    size INTEGER NOT NULL,
    content_type TEXT NOT NULL,
    checksum TEXT,
    uploaded_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_uploaded_at ON files (uploaded_at);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// SaveText inserts or overwrites the text entry for a code.
func (s *Store) SaveText(ctx context.Context, entry *storage.TextEntry) error {
	if entry == nil {
		return errors.New("text entry is nil")
	}
	entry.UpdatedAt = entry.UpdatedAt.UTC()

	const q = `
INSERT INTO texts (code, content, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(code) DO UPDATE SET
    content=excluded.content,
    updated_at=excluded.updated_at;
`
	if _, err := s.db.ExecContext(ctx, q, entry.Code, []byte(entry.Content), entry.UpdatedAt); err != nil {
		return fmt.Errorf("save text entry: %w", err)
	}
	return nil
}

// GetText fetches the text entry for a code.
func (s *Store) GetText(ctx context.Context, code string) (*storage.TextEntry, error) {
	const q = `SELECT code, content, updated_at FROM texts WHERE code = ?;`
	row := s.db.QueryRowContext(ctx, q, code)

	var (
		content   []byte
		updatedAt time.Time
	)
	if err := row.Scan(&code, &content, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query text entry: %w", err)
	}
	return &storage.TextEntry{
		Code:      code,
		Content:   string(content),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

// SaveFile writes the blob and then inserts or overwrites the metadata
// record for the code. The prior blob is left behind for the sweeper.
func (s *Store) SaveFile(ctx context.Context, entry *storage.FileEntry, blob io.Reader) error {
	if entry == nil {
		return errors.New("file entry is nil")
	}
	entry.UploadedAt = entry.UploadedAt.UTC()

	written, sum, err := s.blobs.Write(entry.StoredName, blob)
	if err != nil {
		return err
	}
	entry.Size = written
	entry.Checksum = sum

	const q = `
INSERT INTO files (code, original_name, stored_name, size, content_type, checksum, uploaded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(code) DO UPDATE SET
    original_name=excluded.original_name,
    stored_name=excluded.stored_name,
    size=excluded.size,
    content_type=excluded.content_type,
    checksum=excluded.checksum,
    uploaded_at=excluded.uploaded_at;
`
	if _, err := s.db.ExecContext(ctx, q,
		entry.Code,
		entry.OriginalName,
		entry.StoredName,
		entry.Size,
		entry.ContentType,
		nullString(entry.Checksum),
		entry.UploadedAt,
	); err != nil {
		_ = s.blobs.Remove(entry.StoredName)
		return fmt.Errorf("save file entry: %w", err)
	}
	return nil
}

// GetFile fetches the file metadata record for a code.
func (s *Store) GetFile(ctx context.Context, code string) (*storage.FileEntry, error) {
	const q = `
SELECT code, original_name, stored_name, size, content_type, checksum, uploaded_at
FROM files WHERE code = ?;
`
	row := s.db.QueryRowContext(ctx, q, code)

	var (
		entry      storage.FileEntry
		checksum   sql.NullString
		uploadedAt time.Time
	)
	if err := row.Scan(&entry.Code, &entry.OriginalName, &entry.StoredName, &entry.Size, &entry.ContentType, &checksum, &uploadedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query file entry: %w", err)
	}
	entry.Checksum = checksum.String
	entry.UploadedAt = uploadedAt.UTC()
	return &entry, nil
}

// OpenBlob opens the stored bytes for a file entry.
func (s *Store) OpenBlob(ctx context.Context, entry *storage.FileEntry) (io.ReadSeekCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return s.blobs.Open(entry.StoredName)
}

// SweepTexts removes text entries last written at or before the cutoff.
func (s *Store) SweepTexts(ctx context.Context, before time.Time) (int, error) {
	const q = `DELETE FROM texts WHERE updated_at <= ?;`
	res, err := s.db.ExecContext(ctx, q, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep texts: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(rows), nil
}

// SweepFiles removes expired file records with their blobs, then reclaims
// orphaned blobs by mtime. Blob deletion failures do not stop the sweep.
func (s *Store) SweepFiles(ctx context.Context, before time.Time) (int, error) {
	before = before.UTC()

	rows, err := s.db.QueryContext(ctx, `SELECT stored_name FROM files WHERE uploaded_at <= ?;`, before)
	if err != nil {
		return 0, fmt.Errorf("query expired files: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan stored name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("close rows: %w", err)
	}

	var blobErrs []error
	for _, name := range names {
		if err := s.blobs.Remove(name); err != nil {
			blobErrs = append(blobErrs, err)
		}
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE uploaded_at <= ?;`, before)
	if err != nil {
		return 0, fmt.Errorf("sweep files: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	removed := int(affected)

	orphans, err := s.blobs.SweepOlder(before)
	removed += orphans
	if err != nil {
		blobErrs = append(blobErrs, err)
	}
	return removed, errors.Join(blobErrs...)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
