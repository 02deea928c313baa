package memberid

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// maxInflatedSize caps decompression of scanned input.
const maxInflatedSize = 64 << 10

// Encode compresses a signed record and renders it as a base45 scan string.
func Encode(record []byte) (string, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
	if err != nil {
		return "", newError(ErrCodeEncoding, err)
	}
	if _, err := w.Write(record); err != nil {
		return "", newError(ErrCodeEncoding, fmt.Errorf("compress: %w", err))
	}
	if err := w.Close(); err != nil {
		return "", newError(ErrCodeEncoding, fmt.Errorf("compress: %w", err))
	}
	return Base45Encode(buf.Bytes()), nil
}

// Decode reverses Encode and returns serialized_payload||signature.
func Decode(code string) ([]byte, error) {
	compressed, err := Base45Decode(code)
	if err != nil {
		return nil, err
	}
	return inflate(compressed)
}

func inflate(compressed []byte) ([]byte, error) {
	if len(compressed) == 0 {
		return nil, newErrorf(ErrCodeEncoding, "empty input")
	}
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, newError(ErrCodeEncoding, fmt.Errorf("inflate: %w", err))
	}
	defer r.Close()

	record, err := io.ReadAll(io.LimitReader(r, maxInflatedSize+1))
	if err != nil {
		return nil, newError(ErrCodeEncoding, fmt.Errorf("inflate: %w", err))
	}
	if len(record) > maxInflatedSize {
		return nil, newErrorf(ErrCodeEncoding, "inflated record exceeds %d bytes", maxInflatedSize)
	}
	if len(record) == 0 {
		return nil, newErrorf(ErrCodeEncoding, "inflated record is empty")
	}
	return record, nil
}
