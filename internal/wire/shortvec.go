package wire

import "fmt"

// EncodeShortVecLen appends the compact-u16 ("shortvec") encoding of n to
// dst. Solana's wire format uses this 1-3 byte varint for every vector
// length prefix in a versioned message.
func EncodeShortVecLen(dst []byte, n int) []byte {
	v := uint32(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// DecodeShortVecLen reads a compact-u16 length prefix from b, returning the
// decoded length and the number of bytes consumed.
func DecodeShortVecLen(b []byte) (n int, consumed int, err error) {
	var v uint32
	for shift := 0; ; shift += 7 {
		if consumed >= len(b) {
			return 0, 0, fmt.Errorf("wire: truncated shortvec")
		}
		if shift > 21 {
			return 0, 0, fmt.Errorf("wire: shortvec too long")
		}
		byt := b[consumed]
		consumed++
		v |= uint32(byt&0x7f) << shift
		if byt&0x80 == 0 {
			break
		}
	}
	return int(v), consumed, nil
}
