package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalSaveOpenDelete(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	ctx := context.Background()

	n, err := s.Save(ctx, "primary/logical/a.sql", strings.NewReader("dump contents"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if n != int64(len("dump contents")) {
		t.Errorf("Save() = %d bytes, want %d", n, len("dump contents"))
	}

	rc, err := s.Open(ctx, "primary/logical/a.sql")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "dump contents" {
		t.Errorf("content = %q", data)
	}

	if err := s.Delete(ctx, "primary/logical/a.sql"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Open(ctx, "primary/logical/a.sql"); err == nil {
		t.Error("Open() after delete should fail")
	}

	// Deleting a missing key is not an error
	if err := s.Delete(ctx, "primary/logical/a.sql"); err != nil {
		t.Errorf("repeated Delete() error = %v", err)
	}
}

func TestLocalSaveLeavesNoPartial(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStorage(root)
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}

	// A reader that fails mid-copy must not leave anything behind
	r := io.MultiReader(strings.NewReader("partial"), failingReader{})
	if _, err := s.Save(context.Background(), "x/broken.sql", r); err == nil {
		t.Fatal("Save() with failing reader should error")
	}

	entries, err := os.ReadDir(filepath.Join(root, "x"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("leftover files after failed save: %v", entries)
	}
}

func TestLocalList(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"a/binlog/bin.000001", "a/binlog/bin.000002", "b/logical/x.sql"} {
		if _, err := s.Save(ctx, key, strings.NewReader("data")); err != nil {
			t.Fatalf("Save(%s) error = %v", key, err)
		}
	}

	keys, err := s.List(ctx, "a/binlog")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("List() = %v, want 2 keys", keys)
	}
	if keys[0] != "a/binlog/bin.000001" || keys[1] != "a/binlog/bin.000002" {
		t.Errorf("List() = %v", keys)
	}

	keys, err = s.List(ctx, "missing/prefix")
	if err != nil {
		t.Fatalf("List() on missing prefix error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("List() on missing prefix = %v, want empty", keys)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
