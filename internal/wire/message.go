package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// EncodeMessage JSON-encodes v and zlib-compresses the result. The
// default policy is to always compress; callers that want the
// uncompressed optimization should use EncodeMessageRaw instead and
// propagate is_compressed=false into the preamble themselves.
func EncodeMessage(v any) (data []byte, isCompressed bool, err error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("%w: marshal: %v", ErrEncoding, err)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, false, fmt.Errorf("%w: compress: %v", ErrEncoding, err)
	}
	if err := zw.Close(); err != nil {
		return nil, false, fmt.Errorf("%w: compress: %v", ErrEncoding, err)
	}
	return buf.Bytes(), true, nil
}

// EncodeMessageRaw JSON-encodes v without compression.
func EncodeMessageRaw(v any) (data []byte, isCompressed bool, err error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("%w: marshal: %v", ErrEncoding, err)
	}
	return raw, false, nil
}

// DecodeMessage reverses EncodeMessage/EncodeMessageRaw: it
// zlib-decompresses data when isCompressed is set, then JSON-decodes the
// result into out.
func DecodeMessage(data []byte, isCompressed bool, out any) error {
	if isCompressed {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("%w: decompress: %v", ErrEncoding, err)
		}
		defer zr.Close()
		decompressed, err := io.ReadAll(zr)
		if err != nil {
			return fmt.Errorf("%w: decompress: %v", ErrEncoding, err)
		}
		data = decompressed
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty body", ErrEncoding)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: unmarshal: %v", ErrEncoding, err)
	}
	return nil
}
