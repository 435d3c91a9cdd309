package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"
)

// BlobDir stores raw upload bytes in a flat directory, one file per stored
// name. Backends own the metadata records; BlobDir owns the bytes.
type BlobDir struct {
	root string
}

// NewBlobDir creates the directory if needed and returns a BlobDir over it.
func NewBlobDir(root string) (*BlobDir, error) {
	if root == "" {
		return nil, errors.New("blob directory required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &BlobDir{root: root}, nil
}

// Write streams blob into storedName, replacing any previous content. It
// returns the byte count written and the hex BLAKE2b-256 digest of the bytes.
func (d *BlobDir) Write(storedName string, blob io.Reader) (int64, string, error) {
	path, err := d.resolve(storedName)
	if err != nil {
		return 0, "", err
	}
	hasher, err := blake2b.New256(nil)
	if err != nil {
		return 0, "", fmt.Errorf("init digest: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, "", fmt.Errorf("create blob %s: %w", storedName, err)
	}
	n, err := io.Copy(io.MultiWriter(f, hasher), blob)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return 0, "", fmt.Errorf("write blob %s: %w", storedName, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return 0, "", fmt.Errorf("close blob %s: %w", storedName, err)
	}
	return n, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Open opens a stored blob for reading. Missing blobs map to ErrNotFound.
func (d *BlobDir) Open(storedName string) (io.ReadSeekCloser, error) {
	path, err := d.resolve(storedName)
	if err != nil {
		return nil, ErrNotFound
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", storedName, err)
	}
	return f, nil
}

// Remove deletes a stored blob. A blob that is already gone is not an error.
func (d *BlobDir) Remove(storedName string) error {
	path, err := d.resolve(storedName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob %s: %w", storedName, err)
	}
	return nil
}

// SweepOlder removes every blob whose modification time is at or before the
// cutoff. Orphaned blobs from overwritten uploads age out here on their own
// mtime. Per-file failures are collected; the sweep continues past them.
func (d *BlobDir) SweepOlder(before time.Time) (int, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return 0, fmt.Errorf("read blob dir: %w", err)
	}
	removed := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			errs = append(errs, fmt.Errorf("stat blob %s: %w", e.Name(), err))
			continue
		}
		if info.ModTime().After(before) {
			continue
		}
		if err := os.Remove(filepath.Join(d.root, e.Name())); err != nil {
			errs = append(errs, fmt.Errorf("remove blob %s: %w", e.Name(), err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// resolve joins storedName under the root, refusing anything that is not a
// bare file name.
func (d *BlobDir) resolve(storedName string) (string, error) {
	if storedName == "" || storedName != filepath.Base(storedName) {
		return "", fmt.Errorf("invalid stored name %q", storedName)
	}
	return filepath.Join(d.root, storedName), nil
}
