package blockdata

import (
	"unicode/utf16"
	"unicode/utf8"

	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

// CheckUTF 检查 s 是合法的 UTF-8。非法字节无法用改良 UTF-8 表示，写出后读回会变成 U+FFFD。
func CheckUTF(s string) error {
	if utf8.ValidString(s) {
		return nil
	}
	return merr.WrapErrParameterInvalidMsg("string is not valid UTF-8: %q", s)
}

// UTFLength 返回 s 按改良 UTF-8 编码后的字节数。
// 改良 UTF-8 以 UTF-16 码元为单位编码：0 占 2 字节，增补平面字符拆成代理对各占 3 字节。
func UTFLength(s string) int64 {
	var n int64
	for _, r := range s {
		switch {
		case r >= 0x0001 && r <= 0x007f:
			n++
		case r == 0 || r <= 0x07ff:
			n += 2
		case r <= 0xffff:
			n += 3
		default:
			n += 6
		}
	}
	return n
}

// AppendUTF 将 s 的改良 UTF-8 编码追加到 dst。
func AppendUTF(dst []byte, s string) []byte {
	for _, r := range s {
		if r > 0xffff {
			hi, lo := utf16.EncodeRune(r)
			dst = appendUnit(dst, uint16(hi))
			dst = appendUnit(dst, uint16(lo))
			continue
		}
		dst = appendUnit(dst, uint16(r))
	}
	return dst
}

func appendUnit(dst []byte, c uint16) []byte {
	switch {
	case c >= 0x0001 && c <= 0x007f:
		return append(dst, byte(c))
	case c <= 0x07ff:
		return append(dst, byte(0xc0|((c>>6)&0x1f)), byte(0x80|(c&0x3f)))
	default:
		return append(dst, byte(0xe0|((c>>12)&0x0f)), byte(0x80|((c>>6)&0x3f)), byte(0x80|(c&0x3f)))
	}
}

// DecodeUTF 解码改良 UTF-8 字节序列。
func DecodeUTF(b []byte) (string, error) {
	ascii := true
	for _, c := range b {
		if c == 0 || c > 0x7f {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b), nil
	}

	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch c >> 4 {
		case 0, 1, 2, 3, 4, 5, 6, 7:
			// 0xxxxxxx
			units = append(units, uint16(c))
			i++
		case 12, 13:
			// 110x xxxx   10xx xxxx
			if i+2 > len(b) {
				return "", merr.WrapErrStreamCorruptedf("malformed input: partial character at end")
			}
			c2 := b[i+1]
			if c2&0xc0 != 0x80 {
				return "", merr.WrapErrStreamCorruptedf("malformed input around byte %d", i+1)
			}
			units = append(units, uint16(c&0x1f)<<6|uint16(c2&0x3f))
			i += 2
		case 14:
			// 1110 xxxx  10xx xxxx  10xx xxxx
			if i+3 > len(b) {
				return "", merr.WrapErrStreamCorruptedf("malformed input: partial character at end")
			}
			c2, c3 := b[i+1], b[i+2]
			if c2&0xc0 != 0x80 || c3&0xc0 != 0x80 {
				return "", merr.WrapErrStreamCorruptedf("malformed input around byte %d", i+2)
			}
			units = append(units, uint16(c&0x0f)<<12|uint16(c2&0x3f)<<6|uint16(c3&0x3f))
			i += 3
		default:
			// 10xx xxxx, 1111 xxxx
			return "", merr.WrapErrStreamCorruptedf("malformed input around byte %d", i)
		}
	}
	return string(utf16.Decode(units)), nil
}
