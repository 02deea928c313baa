package memberid

import (
	"fmt"
	"strings"
)

// base45Alphabet is the RFC 9285 alphabet; every symbol is valid in the QR
// alphanumeric mode.
const base45Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ $%*+-./:"

var base45Index = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(base45Alphabet); i++ {
		idx[base45Alphabet[i]] = int8(i)
	}
	return idx
}()

// Base45Encode encodes src per RFC 9285.
func Base45Encode(src []byte) string {
	var sb strings.Builder
	sb.Grow((len(src)/2)*3 + 2)
	for i := 0; i+1 < len(src); i += 2 {
		n := int(src[i])<<8 | int(src[i+1])
		sb.WriteByte(base45Alphabet[n%45])
		sb.WriteByte(base45Alphabet[(n/45)%45])
		sb.WriteByte(base45Alphabet[n/2025])
	}
	if len(src)%2 == 1 {
		n := int(src[len(src)-1])
		sb.WriteByte(base45Alphabet[n%45])
		sb.WriteByte(base45Alphabet[n/45])
	}
	return sb.String()
}

// Base45Decode decodes an RFC 9285 string.
func Base45Decode(s string) ([]byte, error) {
	if len(s)%3 == 1 {
		return nil, newErrorf(ErrCodeEncoding, "base45: invalid length %d", len(s))
	}
	out := make([]byte, 0, (len(s)/3)*2+1)
	for i := 0; i < len(s); i += 3 {
		chunk := len(s) - i
		if chunk > 3 {
			chunk = 3
		}
		n := 0
		mul := 1
		for j := 0; j < chunk; j++ {
			v := base45Index[s[i+j]]
			if v < 0 {
				return nil, newErrorf(ErrCodeEncoding, "base45: invalid symbol %q at %d", s[i+j], i+j)
			}
			n += int(v) * mul
			mul *= 45
		}
		if chunk == 3 {
			if n > 0xFFFF {
				return nil, newError(ErrCodeEncoding, fmt.Errorf("base45: triplet at %d out of range", i))
			}
			out = append(out, byte(n>>8), byte(n))
			continue
		}
		if n > 0xFF {
			return nil, newError(ErrCodeEncoding, fmt.Errorf("base45: trailing pair at %d out of range", i))
		}
		out = append(out, byte(n))
	}
	return out, nil
}
