package fs_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/crsche/trustify/pkg/storage"
	"github.com/crsche/trustify/pkg/storage/fs"
)

func TestStoreRoundTrip(t *testing.T) {
	s, err := fs.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open(): %v", err)
	}
	defer s.Close() //nolint:errcheck

	raw := []byte(`{"bomFormat":"CycloneDX","specVersion":"1.5"}`)
	digest := storage.Sum(raw)

	ok, err := s.Exists(digest)
	if err != nil {
		t.Fatalf("Exists(): %v", err)
	}
	if ok {
		t.Fatal("Exists() = true before Put()")
	}

	if err := s.Put(digest, raw); err != nil {
		t.Fatalf("Put(): %v", err)
	}
	// Second put of the same content is a no-op.
	if err := s.Put(digest, raw); err != nil {
		t.Fatalf("Put() again: %v", err)
	}

	got, err := s.Get(digest)
	if err != nil {
		t.Fatalf("Get(): %v", err)
	}
	if !bytes.Equal(raw, got) {
		t.Errorf("Get() = %q, want %q", got, raw)
	}

	ok, err = s.Exists(digest)
	if err != nil {
		t.Fatalf("Exists(): %v", err)
	}
	if !ok {
		t.Error("Exists() = false after Put()")
	}
}

func TestStoreLayout(t *testing.T) {
	root := t.TempDir()
	s, err := fs.Open(root)
	if err != nil {
		t.Fatalf("Open(): %v", err)
	}
	defer s.Close() //nolint:errcheck

	raw := []byte("hello")
	digest := storage.Sum(raw)
	if err := s.Put(digest, raw); err != nil {
		t.Fatalf("Put(): %v", err)
	}

	p := filepath.Join(root, digest[:2], digest+".zst")
	if _, err := os.Stat(p); err != nil {
		t.Errorf("document not at %s: %v", p, err)
	}

	// No stray temp files after a successful put.
	entries, err := os.ReadDir(filepath.Join(root, digest[:2]))
	if err != nil {
		t.Fatalf("ReadDir(): %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("shard has %d entries, want 1", len(entries))
	}
}

func TestStoreGetMissing(t *testing.T) {
	s, err := fs.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open(): %v", err)
	}
	defer s.Close() //nolint:errcheck

	if _, err := s.Get(storage.Sum([]byte("nothing"))); err == nil {
		t.Error("Get() of a missing digest did not error")
	}
}

func TestSum(t *testing.T) {
	// sha256 of the empty string, the canonical fixed point.
	const want = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := storage.Sum(nil); got != want {
		t.Errorf("Sum(nil) = %q, want %q", got, want)
	}
}
