package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	bolt "go.etcd.io/bbolt"

	"quickclip/internal/storage"
)

var (
	textBucket = []byte("texts")
	fileBucket = []byte("files")
)

// Store implements storage.Store with bbolt buckets for the text and file
// metadata namespaces and a blob directory for upload bytes.
type Store struct {
	db    *bolt.DB
	blobs *storage.BlobDir
}

// Open initializes the metadata database at path and the blob directory at
// blobDir.
func Open(path, blobDir string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(textBucket); err != nil {
			return fmt.Errorf("create texts bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(fileBucket); err != nil {
			return fmt.Errorf("create files bucket: %w", err)
		}
		return nil
	}); err != nil {
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

// SaveText persists or overwrites the text entry for a code.
func (s *Store) SaveText(ctx context.Context, entry *storage.TextEntry) error {
	if entry == nil {
		return errors.New("text entry is nil")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entry.UpdatedAt = entry.UpdatedAt.UTC()
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal text entry: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(textBucket)
		if bucket == nil {
			return errors.New("texts bucket missing")
		}
		if err := bucket.Put([]byte(entry.Code), data); err != nil {
			return fmt.Errorf("save text entry: %w", err)
		}
		return nil
	})
}

// GetText retrieves the text entry for a code.
func (s *Store) GetText(ctx context.Context, code string) (*storage.TextEntry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var out *storage.TextEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(textBucket)
		if bucket == nil {
			return errors.New("texts bucket missing")
		}
		raw := bucket.Get([]byte(code))
		if raw == nil {
			return storage.ErrNotFound
		}
		var entry storage.TextEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("unmarshal text entry: %w", err)
		}
		out = &entry
		return nil
	})
	return out, err
}

// SaveFile writes the blob under the entry's stored name and then persists
// the metadata record, overwriting any prior record for the code. The prior
// blob is left behind for the sweeper. Size and Checksum are filled in from
// the bytes actually written.
func (s *Store) SaveFile(ctx context.Context, entry *storage.FileEntry, blob io.Reader) error {
	if entry == nil {
		return errors.New("file entry is nil")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entry.UploadedAt = entry.UploadedAt.UTC()
	written, sum, err := s.blobs.Write(entry.StoredName, blob)
	if err != nil {
		return err
	}
	entry.Size = written
	entry.Checksum = sum

	data, err := json.Marshal(entry)
	if err != nil {
		_ = s.blobs.Remove(entry.StoredName)
		return fmt.Errorf("marshal file entry: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(fileBucket)
		if bucket == nil {
			return errors.New("files bucket missing")
		}
		if err := bucket.Put([]byte(entry.Code), data); err != nil {
			return fmt.Errorf("save file entry: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = s.blobs.Remove(entry.StoredName)
		return err
	}
	return nil
}

// GetFile retrieves the file metadata record for a code.
func (s *Store) GetFile(ctx context.Context, code string) (*storage.FileEntry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var out *storage.FileEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(fileBucket)
		if bucket == nil {
			return errors.New("files bucket missing")
		}
		raw := bucket.Get([]byte(code))
		if raw == nil {
			return storage.ErrNotFound
		}
		var entry storage.FileEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("unmarshal file entry: %w", err)
		}
		out = &entry
		return nil
	})
	return out, err
}

// OpenBlob opens the stored bytes for a file entry. The path is resolved
// only from the recorded stored name.
func (s *Store) OpenBlob(ctx context.Context, entry *storage.FileEntry) (io.ReadSeekCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return s.blobs.Open(entry.StoredName)
}

// SweepTexts removes text entries last written at or before the cutoff.
// Records that fail to decode are removed as well.
func (s *Store) SweepTexts(ctx context.Context, before time.Time) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	before = before.UTC()
	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(textBucket)
		if bucket == nil {
			return errors.New("texts bucket missing")
		}
		cursor := bucket.Cursor()
		for key, val := cursor.First(); key != nil; key, val = cursor.Next() {
			var entry storage.TextEntry
			if err := json.Unmarshal(val, &entry); err == nil && entry.UpdatedAt.After(before) {
				continue
			}
			if err := cursor.Delete(); err != nil {
				return fmt.Errorf("delete expired text %s: %w", key, err)
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// SweepFiles removes file metadata records uploaded at or before the cutoff
// together with their blobs, then reclaims orphaned blobs by mtime. Blob
// deletion failures do not stop the sweep.
func (s *Store) SweepFiles(ctx context.Context, before time.Time) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	before = before.UTC()
	var removed int
	var blobErrs []error
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(fileBucket)
		if bucket == nil {
			return errors.New("files bucket missing")
		}
		cursor := bucket.Cursor()
		for key, val := cursor.First(); key != nil; key, val = cursor.Next() {
			var entry storage.FileEntry
			if err := json.Unmarshal(val, &entry); err == nil && entry.UploadedAt.After(before) {
				continue
			}
			if entry.StoredName != "" {
				if err := s.blobs.Remove(entry.StoredName); err != nil {
					blobErrs = append(blobErrs, err)
				}
			}
			if err := cursor.Delete(); err != nil {
				return fmt.Errorf("delete expired file record %s: %w", key, err)
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, err
	}

	orphans, err := s.blobs.SweepOlder(before)
	removed += orphans
	if err != nil {
		blobErrs = append(blobErrs, err)
	}
	return removed, errors.Join(blobErrs...)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
