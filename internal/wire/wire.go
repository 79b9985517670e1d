// Package wire implements the SSH-2 primitive wire types: uint32,
// string, name-list, and mpint, per RFC 4251 section 5.
package wire

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/coinstash/tssh/internal/sshcore"
)

func malformed(detail string) error {
	return sshcore.New(sshcore.KindMalformedPacket, detail)
}

// AppendUint32 appends a big-endian uint32 to buf.
func AppendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// ExtractUint32 reads a big-endian uint32 from the front of buf.
func ExtractUint32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, malformed("uint32 truncated")
	}
	return binary.BigEndian.Uint32(buf), buf[4:], nil
}

// AppendString appends an SSH string (uint32 length + raw bytes) to buf.
func AppendString(buf []byte, s []byte) []byte {
	buf = AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// ExtractString reads an SSH string from the front of buf, returning
// its content and the unconsumed remainder.
func ExtractString(buf []byte) ([]byte, []byte, error) {
	n, rest, err := ExtractUint32(buf)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < uint64(n) {
		return nil, nil, malformed("string field overruns buffer")
	}
	return rest[:n], rest[n:], nil
}

// AppendNameList appends a comma-joined name-list (as an SSH string) to buf.
func AppendNameList(buf []byte, names []string) []byte {
	return AppendString(buf, []byte(strings.Join(names, ",")))
}

// ExtractNameList reads a name-list from the front of buf. An empty
// string decodes as a single-element list containing the empty name.
func ExtractNameList(buf []byte) ([]string, []byte, error) {
	s, rest, err := ExtractString(buf)
	if err != nil {
		return nil, nil, err
	}
	if len(s) == 0 {
		return []string{""}, rest, nil
	}
	return strings.Split(string(s), ","), rest, nil
}

// AppendMpint appends a signed arbitrary-precision integer as an SSH
// mpint: a string containing the minimum-length two's-complement
// big-endian encoding. magnitude is the absolute value; positive
// selects the sign. Zero always encodes as the empty string.
func AppendMpint(buf []byte, magnitude *big.Int, positive bool) []byte {
	if magnitude.Sign() == 0 {
		return AppendString(buf, nil)
	}

	b := magnitude.Bytes()
	if positive {
		if len(b) > 0 && b[0]&0x80 != 0 {
			b = append([]byte{0x00}, b...)
		}
		return AppendString(buf, b)
	}

	// Two's-complement negative encoding: invert and add one over the
	// minimum-length positive magnitude, sign-extending with 0xFF when
	// the top bit of the result is clear (-1 is the single octet ff,
	// -129 is ff 7f).
	b = invertAddOne(b)
	if b[0]&0x80 == 0 {
		b = append([]byte{0xFF}, b...)
	}
	return AppendString(buf, b)
}

// invertAddOne computes the two's complement (bitwise NOT then +1) of
// the big-endian magnitude b, returning a buffer the same length as b
// (a carry out of the top octet, which only an all-zero b produces, is
// dropped).
func invertAddOne(b []byte) []byte {
	out := make([]byte, len(b))
	carry := byte(1)
	for i := len(b) - 1; i >= 0; i-- {
		inv := ^b[i]
		sum := inv + carry
		if sum < inv {
			carry = 1
		} else {
			carry = 0
		}
		out[i] = sum
	}
	return out
}

// ExtractMpintUnsigned reads an mpint from the front of buf and
// returns its value as a non-negative big.Int, rejecting encodings
// whose high bit would make them negative (the core never receives
// negative mpints on the wire: shared secrets and moduli are always
// non-negative).
func ExtractMpintUnsigned(buf []byte) (*big.Int, []byte, error) {
	s, rest, err := ExtractString(buf)
	if err != nil {
		return nil, nil, err
	}
	if len(s) > 0 && s[0]&0x80 != 0 {
		return nil, nil, malformed("mpint is unexpectedly negative")
	}
	return new(big.Int).SetBytes(s), rest, nil
}

// ExtractBool reads a one-octet boolean from the front of buf.
func ExtractBool(buf []byte) (bool, []byte, error) {
	if len(buf) < 1 {
		return false, nil, malformed("boolean field truncated")
	}
	return buf[0] != 0, buf[1:], nil
}

// AppendBool appends a one-octet boolean to buf.
func AppendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// ExtractByte reads a single octet from the front of buf.
func ExtractByte(buf []byte) (byte, []byte, error) {
	if len(buf) < 1 {
		return 0, nil, malformed("byte field truncated")
	}
	return buf[0], buf[1:], nil
}

// Describe is a small debugging helper used by callers that log a
// decoded field count mismatch.
func Describe(field string, want, got int) error {
	return malformed(fmt.Sprintf("%s: expected at least %d bytes, got %d", field, want, got))
}
