package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidateUpload(t *testing.T) {
	if err := ValidateUpload(MaxFileSize, "image/png"); err != nil {
		t.Fatalf("upload at the limit should pass: %v", err)
	}
	if err := ValidateUpload(MaxFileSize+1, "image/png"); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if err := ValidateUpload(1024, "application/zip"); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	// size is checked before type
	if err := ValidateUpload(MaxFileSize+1, "application/zip"); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected size check first, got %v", err)
	}
}

func TestStoredName(t *testing.T) {
	at := time.Unix(1700000000, 0)
	cases := []struct {
		original string
		want     string
	}{
		{"cat.png", "AB12C_1700000000.png"},
		{"report.PDF", "AB12C_1700000000.pdf"},
		{"archive.tar.gz", "AB12C_1700000000.gz"},
		{"noext", "AB12C_1700000000.bin"},
		{"", "AB12C_1700000000.bin"},
		{"shell.sh;rm", "AB12C_1700000000.shrm"},
	}
	for _, tc := range cases {
		if got := StoredName("AB12C", at, tc.original); got != tc.want {
			t.Errorf("StoredName(%q) = %q, want %q", tc.original, got, tc.want)
		}
	}
}

func TestStoredNameNeverContainsSeparators(t *testing.T) {
	at := time.Unix(1700000000, 0)
	hostiles := []string{
		"../../etc/passwd",
		"..\\..\\boot.ini",
		"a/.hidden",
		"x." + strings.Repeat("e", 40),
	}
	for _, h := range hostiles {
		name := StoredName("AB12C", at, h)
		if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
			t.Errorf("StoredName(%q) = %q leaks path characters", h, name)
		}
		if len(name) > len("AB12C_1700000000.")+10 {
			t.Errorf("StoredName(%q) = %q extension not capped", h, name)
		}
	}
}

func TestBlobDirRoundTrip(t *testing.T) {
	dir, err := NewBlobDir(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("new blob dir: %v", err)
	}

	data := bytes.Repeat([]byte{0xAB}, 2048)
	n, sum, err := dir.Write("AB12C_1700000000.png", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}
	if n != 2048 {
		t.Fatalf("expected 2048 bytes written, got %d", n)
	}
	if sum == "" {
		t.Fatalf("expected a checksum")
	}

	blob, err := dir.Open("AB12C_1700000000.png")
	if err != nil {
		t.Fatalf("open blob: %v", err)
	}
	got, err := io.ReadAll(blob)
	blob.Close()
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("blob content mismatch")
	}

	if err := dir.Remove("AB12C_1700000000.png"); err != nil {
		t.Fatalf("remove blob: %v", err)
	}
	if _, err := dir.Open("AB12C_1700000000.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
	// removing again is fine
	if err := dir.Remove("AB12C_1700000000.png"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestBlobDirRejectsPathishNames(t *testing.T) {
	dir, err := NewBlobDir(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("new blob dir: %v", err)
	}
	for _, name := range []string{"", "../escape", "a/b", `a\b`} {
		if _, _, err := dir.Write(name, strings.NewReader("x")); err == nil {
			t.Errorf("Write(%q) should fail", name)
		}
		if _, err := dir.Open(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Open(%q) should report not found, got %v", name, err)
		}
	}
}

func TestBlobDirSweepOlder(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uploads")
	dir, err := NewBlobDir(root)
	if err != nil {
		t.Fatalf("new blob dir: %v", err)
	}

	now := time.Now()
	if _, _, err := dir.Write("OLD11_1.bin", strings.NewReader("old")); err != nil {
		t.Fatalf("write old: %v", err)
	}
	if err := os.Chtimes(filepath.Join(root, "OLD11_1.bin"), now.Add(-25*time.Hour), now.Add(-25*time.Hour)); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if _, _, err := dir.Write("NEW22_2.bin", strings.NewReader("new")); err != nil {
		t.Fatalf("write new: %v", err)
	}

	removed, err := dir.SweepOlder(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := dir.Open("OLD11_1.bin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old blob swept, got %v", err)
	}
	if blob, err := dir.Open("NEW22_2.bin"); err != nil {
		t.Fatalf("expected new blob to survive: %v", err)
	} else {
		blob.Close()
	}
}
