package s3util

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Decode returns data decompressed according to the object's Content-Encoding.
// When the encoding is empty or unknown, the payload's magic number decides.
// Plain payloads are returned unchanged.
func Decode(contentEncoding string, data []byte) ([]byte, error) {
	switch enc := strings.ToLower(strings.TrimSpace(contentEncoding)); {
	case enc == "gzip" || (enc != "zstd" && bytes.HasPrefix(data, gzipMagic)):
		return decodeGzip(data)
	case enc == "zstd" || bytes.HasPrefix(data, zstdMagic):
		return decodeZstd(data)
	default:
		return data, nil
	}
}

func decodeGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if int64(len(out)) > maxObjectSize {
		return nil, fmt.Errorf("gzip: decoded payload exceeds %d bytes", maxObjectSize)
	}
	return out, nil
}

func decodeZstd(data []byte) ([]byte, error) {
	d, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxObjectSize)))
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	defer d.Close()
	out, err := d.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}
