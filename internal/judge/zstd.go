package judge

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

// Decompress expands one zstd-compressed payload (submission code, test
// input or expected output) fully into memory. The shared decoder is
// stateless for DecodeAll and safe for concurrent slots.
func Decompress(b []byte) ([]byte, error) {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil)
	})
	out, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("op=judge.decompress: %w", err)
	}
	return out, nil
}
