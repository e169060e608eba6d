package wire

import (
	"encoding/binary"
	"fmt"
)

// ProtocolVersion is the single supported handshake byte value.
const ProtocolVersion byte = 1

// PreambleSize is the fixed length, in bytes, of the per-message preamble
// that follows the initial version handshake.
const PreambleSize = 10

// chksumMagic is XORed into the checksum formula. It is a fixed constant
// from the original protocol, not a secret; the checksum catches framing
// drift, not tampering.
const chksumMagic = 194

// checksum computes the single-byte checksum for a given body size and
// message id: 194 XOR ((low_byte(size + msg_id)) XOR 0xFF).
func checksum(bodySize, msgID uint32) byte {
	sum := bodySize + msgID
	return chksumMagic ^ (byte(sum) ^ 0xFF)
}

// EncodePreamble packs the 10-byte preamble for a message: checksum,
// body size, message id, and the compression flag, all in network byte
// order. The protocol version is not part of this preamble; it is sent
// exactly once, as the first byte of the connection (see Handshake).
func EncodePreamble(msgID, bodySize uint32, isCompressed bool) [PreambleSize]byte {
	var buf [PreambleSize]byte
	buf[0] = checksum(bodySize, msgID)
	binary.BigEndian.PutUint32(buf[1:5], bodySize)
	binary.BigEndian.PutUint32(buf[5:9], msgID)
	if isCompressed {
		buf[9] = 1
	}
	return buf
}

// DecodePreamble unpacks a 10-byte preamble and validates its checksum.
func DecodePreamble(buf []byte) (bodySize, msgID uint32, isCompressed bool, err error) {
	if len(buf) != PreambleSize {
		return 0, 0, false, fmt.Errorf("wire: preamble must be %d bytes, got %d", PreambleSize, len(buf))
	}
	chk := buf[0]
	bodySize = binary.BigEndian.Uint32(buf[1:5])
	msgID = binary.BigEndian.Uint32(buf[5:9])
	isCompressed = buf[9] != 0
	if chk != checksum(bodySize, msgID) {
		return 0, 0, false, ErrChecksum
	}
	return bodySize, msgID, isCompressed, nil
}

// Handshake returns the single byte a client must send as the first byte
// of a new connection.
func Handshake() byte {
	return ProtocolVersion
}
