package util

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

func Marshal(v any, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	je := json.NewEncoder(&buf)
	je.SetEscapeHTML(false)
	if err := je.Encode(v); err != nil {
		return nil, errors.Wrap(err, "json encode")
	}

	if compress {
		zw, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, errors.Wrap(err, "new zstd writer")
		}
		return zw.EncodeAll(buf.Bytes(), make([]byte, 0, buf.Len())), nil
	}
	return buf.Bytes(), nil
}

func Unmarshal(data []byte, compress bool, v any) error {
	if compress {
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return errors.Wrap(err, "new zstd reader")
		}
		defer zr.Close()

		if err := json.NewDecoder(zr).Decode(v); err != nil {
			return errors.Wrap(err, "json decode")
		}

		return nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, "json unmarshal")
	}

	return nil
}

// U64Key encodes a surrogate key big-endian so byte order matches numeric
// order under cursor iteration.
func U64Key(k uint64) []byte {
	bs := make([]byte, 8)
	binary.BigEndian.PutUint64(bs, k)
	return bs
}

func ParseU64Key(bs []byte) (uint64, error) {
	if len(bs) != 8 {
		return 0, errors.Errorf("key length %d, want 8", len(bs))
	}
	return binary.BigEndian.Uint64(bs), nil
}
