package state

import (
	"github.com/holiman/uint256"

	fpmath "github.com/omxlabs/amx-sub001/internal/math"
)

// Canonical encoding helpers for state digests. Layouts are fixed-width or
// length-prefixed so two different records never encode to the same bytes.

func AppendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func AppendUint64LE(buf []byte, v uint64) []byte {
	return AppendInt64LE(buf, int64(v))
}

// AppendU256 appends the 32-byte big-endian form.
func AppendU256(buf []byte, v uint256.Int) []byte {
	b := v.Bytes32()
	return append(buf, b[:]...)
}

func AppendSigned(buf []byte, v fpmath.Signed) []byte {
	buf = AppendBool(buf, v.Neg)
	return AppendU256(buf, v.Abs)
}

func AppendString(buf []byte, s string) []byte {
	buf = AppendUint64LE(buf, uint64(len(s)))
	return append(buf, s...)
}

func AppendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}
