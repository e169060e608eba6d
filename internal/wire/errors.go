// Package wire implements the LongerPull preamble and message codecs:
// the fixed 10-byte binary header and the JSON(+zlib) body that follows
// it on the wire.
package wire

import "errors"

// ErrBadVersion is returned when the handshake byte is not the supported
// protocol version.
var ErrBadVersion = errors.New("wire: unsupported protocol version")

// ErrChecksum is returned when a decoded preamble's checksum does not
// match the recomputed value.
var ErrChecksum = errors.New("wire: preamble checksum mismatch")

// ErrEncoding wraps JSON or zlib failures while decoding a message body.
var ErrEncoding = errors.New("wire: message encoding error")

// ErrBodyTooLarge is returned when a preamble's body_size exceeds the
// configured maximum, guarding against a corrupt or hostile preamble
// driving an unbounded allocation.
var ErrBodyTooLarge = errors.New("wire: body size exceeds maximum")
