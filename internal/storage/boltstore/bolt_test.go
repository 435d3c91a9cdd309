package boltstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"quickclip/internal/storage"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	blobDir := filepath.Join(dir, "uploads")
	store, err := Open(filepath.Join(dir, "test.db"), blobDir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, blobDir
}

func TestTextRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Second)

	if err := store.SaveText(ctx, &storage.TextEntry{Code: "AB12C", Content: "hello", UpdatedAt: now}); err != nil {
		t.Fatalf("save text: %v", err)
	}
	out, err := store.GetText(ctx, "AB12C")
	if err != nil {
		t.Fatalf("get text: %v", err)
	}
	if out.Content != "hello" {
		t.Fatalf("expected %q, got %q", "hello", out.Content)
	}

	// last write wins
	if err := store.SaveText(ctx, &storage.TextEntry{Code: "AB12C", Content: "b", UpdatedAt: now.Add(time.Second)}); err != nil {
		t.Fatalf("overwrite text: %v", err)
	}
	out, err = store.GetText(ctx, "AB12C")
	if err != nil {
		t.Fatalf("get text after overwrite: %v", err)
	}
	if out.Content != "b" {
		t.Fatalf("expected %q, got %q", "b", out.Content)
	}

	// empty content is a valid write, not a delete
	if err := store.SaveText(ctx, &storage.TextEntry{Code: "AB12C", Content: "", UpdatedAt: now.Add(2 * time.Second)}); err != nil {
		t.Fatalf("save empty text: %v", err)
	}
	out, err = store.GetText(ctx, "AB12C")
	if err != nil {
		t.Fatalf("get empty text: %v", err)
	}
	if out.Content != "" {
		t.Fatalf("expected empty content, got %q", out.Content)
	}

	if _, err := store.GetText(ctx, "ZZZZZ"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileSaveOpenAndOverwrite(t *testing.T) {
	store, blobDir := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Second)

	data := bytes.Repeat([]byte{0x42}, 2048)
	entry := &storage.FileEntry{
		Code:         "K9X3P",
		OriginalName: "cat.png",
		StoredName:   storage.StoredName("K9X3P", now, "cat.png"),
		ContentType:  "image/png",
		UploadedAt:   now,
	}
	if err := store.SaveFile(ctx, entry, bytes.NewReader(data)); err != nil {
		t.Fatalf("save file: %v", err)
	}
	if entry.Size != 2048 {
		t.Fatalf("expected size 2048, got %d", entry.Size)
	}
	if entry.Checksum == "" {
		t.Fatalf("expected a checksum")
	}

	got, err := store.GetFile(ctx, "K9X3P")
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if got.OriginalName != "cat.png" || got.StoredName != entry.StoredName || got.Size != 2048 {
		t.Fatalf("metadata mismatch: %+v", got)
	}

	blob, err := store.OpenBlob(ctx, got)
	if err != nil {
		t.Fatalf("open blob: %v", err)
	}
	content, err := io.ReadAll(blob)
	blob.Close()
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if !bytes.Equal(content, data) {
		t.Fatalf("blob content mismatch")
	}

	// re-upload overwrites the record; the prior blob becomes an orphan
	// until the sweeper reclaims it
	second := &storage.FileEntry{
		Code:         "K9X3P",
		OriginalName: "notes.txt",
		StoredName:   storage.StoredName("K9X3P", now.Add(time.Minute), "notes.txt"),
		ContentType:  "text/plain",
		UploadedAt:   now.Add(time.Minute),
	}
	if err := store.SaveFile(ctx, second, bytes.NewReader([]byte("notes"))); err != nil {
		t.Fatalf("overwrite file: %v", err)
	}
	got, err = store.GetFile(ctx, "K9X3P")
	if err != nil {
		t.Fatalf("get file after overwrite: %v", err)
	}
	if got.OriginalName != "notes.txt" {
		t.Fatalf("expected overwritten metadata, got %+v", got)
	}
	if _, err := os.Stat(filepath.Join(blobDir, entry.StoredName)); err != nil {
		t.Fatalf("orphaned blob should persist until sweep: %v", err)
	}
}

func TestSweepTexts(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Second)

	if err := store.SaveText(ctx, &storage.TextEntry{Code: "DEAD1", Content: "bye", UpdatedAt: now.Add(-25 * time.Hour)}); err != nil {
		t.Fatalf("save expired: %v", err)
	}
	if err := store.SaveText(ctx, &storage.TextEntry{Code: "LIVE1", Content: "ok", UpdatedAt: now}); err != nil {
		t.Fatalf("save live: %v", err)
	}

	removed, err := store.SweepTexts(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("sweep texts: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := store.GetText(ctx, "DEAD1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected expired entry removed, got %v", err)
	}
	if _, err := store.GetText(ctx, "LIVE1"); err != nil {
		t.Fatalf("expected live entry kept: %v", err)
	}
}

func TestSweepFilesRemovesRecordsBlobsAndOrphans(t *testing.T) {
	store, blobDir := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Second)

	old := &storage.FileEntry{
		Code:         "DEAD2",
		OriginalName: "old.pdf",
		StoredName:   storage.StoredName("DEAD2", now.Add(-25*time.Hour), "old.pdf"),
		ContentType:  "application/pdf",
		UploadedAt:   now.Add(-25 * time.Hour),
	}
	if err := store.SaveFile(ctx, old, bytes.NewReader([]byte("old"))); err != nil {
		t.Fatalf("save old: %v", err)
	}
	fresh := &storage.FileEntry{
		Code:         "LIVE2",
		OriginalName: "new.png",
		StoredName:   storage.StoredName("LIVE2", now, "new.png"),
		ContentType:  "image/png",
		UploadedAt:   now,
	}
	if err := store.SaveFile(ctx, fresh, bytes.NewReader([]byte("new"))); err != nil {
		t.Fatalf("save fresh: %v", err)
	}

	// stray blob with no metadata, aged past retention
	orphan := filepath.Join(blobDir, "GONE1_1.bin")
	if err := os.WriteFile(orphan, []byte("orphan"), 0o644); err != nil {
		t.Fatalf("write orphan: %v", err)
	}
	stale := now.Add(-26 * time.Hour)
	if err := os.Chtimes(orphan, stale, stale); err != nil {
		t.Fatalf("chtimes orphan: %v", err)
	}

	removed, err := store.SweepFiles(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("sweep files: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removals (record + orphan), got %d", removed)
	}

	if _, err := store.GetFile(ctx, "DEAD2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected expired record removed, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(blobDir, old.StoredName)); !os.IsNotExist(err) {
		t.Fatalf("expected expired blob removed, got %v", err)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("expected orphan blob removed, got %v", err)
	}
	if _, err := store.GetFile(ctx, "LIVE2"); err != nil {
		t.Fatalf("expected fresh record kept: %v", err)
	}
	if _, err := os.Stat(filepath.Join(blobDir, fresh.StoredName)); err != nil {
		t.Fatalf("expected fresh blob kept: %v", err)
	}
}
