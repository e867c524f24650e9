package fs

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/crsche/trustify/pkg/model"
)

// Store lays documents out as <root>/<digest[:2]>/<digest>.zst, one zstd
// compressed file per document.
type Store struct {
	root string
}

func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, &model.StorageUnavailableError{Op: "mkdir document store", Err: err}
	}
	return &Store{root: root}, nil
}

func (s *Store) path(digest string) string {
	return filepath.Join(s.root, digest[:2], digest+".zst")
}

func (s *Store) Put(digest string, raw []byte) error {
	if len(digest) < 2 {
		return errors.Errorf("invalid digest %q", digest)
	}

	p := s.path(digest)
	if _, err := os.Stat(p); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return &model.StorageUnavailableError{Op: "stat document", Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return &model.StorageUnavailableError{Op: "mkdir document shard", Err: err}
	}

	zw, err := zstd.NewWriter(nil)
	if err != nil {
		return errors.Wrap(err, "new zstd writer")
	}
	compressed := zw.EncodeAll(raw, make([]byte, 0, len(raw)))

	// Write to a temp file in the same directory and rename, so readers
	// never observe a partial document.
	f, err := os.CreateTemp(filepath.Dir(p), "."+digest+".*")
	if err != nil {
		return &model.StorageUnavailableError{Op: "create document", Err: err}
	}
	tmp := f.Name()
	if _, err := f.Write(compressed); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return &model.StorageUnavailableError{Op: "write document", Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return &model.StorageUnavailableError{Op: "close document", Err: err}
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return &model.StorageUnavailableError{Op: "rename document", Err: err}
	}
	return nil
}

func (s *Store) Get(digest string) ([]byte, error) {
	if len(digest) < 2 {
		return nil, errors.Errorf("invalid digest %q", digest)
	}

	bs, err := os.ReadFile(s.path(digest))
	if err != nil {
		return nil, &model.StorageUnavailableError{Op: "read document", Err: err}
	}

	zr, err := zstd.NewReader(bytes.NewReader(bs))
	if err != nil {
		return nil, errors.Wrap(err, "new zstd reader")
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(err, "decompress document")
	}
	return raw, nil
}

func (s *Store) Exists(digest string) (bool, error) {
	if len(digest) < 2 {
		return false, errors.Errorf("invalid digest %q", digest)
	}
	if _, err := os.Stat(s.path(digest)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &model.StorageUnavailableError{Op: "stat document", Err: err}
	}
	return true, nil
}

func (s *Store) Close() error {
	return nil
}
