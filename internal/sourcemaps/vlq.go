package sourcemaps

import "fmt"

// Base64 VLQ as used by the source map v3 "mappings" field: little-endian
// groups of 5 bits, bit 5 of each digit is the continuation flag, bit 0
// of the first group is the sign.

var base64Decode = func() [256]int8 {
	const chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	var table [256]int8
	for i := range table {
		table[i] = -1
	}
	for i := 0; i < len(chars); i++ {
		table[chars[i]] = int8(i)
	}
	return table
}()

// decodeVLQ reads one VLQ value from s starting at pos. It returns the
// value and the position of the next undecoded byte.
func decodeVLQ(s string, pos int) (value, next int, err error) {
	shift := uint(0)
	result := 0

	for {
		if pos >= len(s) {
			return 0, pos, fmt.Errorf("unexpected end of VLQ segment")
		}
		digit := base64Decode[s[pos]]
		if digit < 0 {
			return 0, pos, fmt.Errorf("invalid VLQ character %q", s[pos])
		}
		pos++

		result |= int(digit&0x1f) << shift
		if digit&0x20 == 0 {
			break
		}
		shift += 5
		if shift > 30 {
			return 0, pos, fmt.Errorf("VLQ value too large")
		}
	}

	// Lowest bit is the sign.
	if result&1 != 0 {
		return -(result >> 1), pos, nil
	}
	return result >> 1, pos, nil
}

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// encodeVLQ appends the VLQ encoding of value to dst.
func encodeVLQ(dst []byte, value int) []byte {
	v := value << 1
	if value < 0 {
		v = (-value << 1) | 1
	}
	for {
		digit := v & 0x1f
		v >>= 5
		if v != 0 {
			digit |= 0x20
		}
		dst = append(dst, base64Chars[digit])
		if v == 0 {
			return dst
		}
	}
}
