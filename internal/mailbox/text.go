package mailbox

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"
)

// MaxTextLen is the largest message body in bytes. A body is packed into a
// single encrypted 64-bit integer.
const MaxTextLen = 8

// EncodeText packs text big-endian into a uint64, left aligned so the first
// byte is the most significant.
func EncodeText(text string) (uint64, error) {
	switch {
	case text == "":
		return 0, validationError("message is empty")

	case len(text) > MaxTextLen:
		return 0, validationError("message is %d bytes, limit is %d",
			len(text), MaxTextLen)

	case !utf8.ValidString(text):
		return 0, validationError("message is not valid UTF-8")

	case bytes.IndexByte([]byte(text), 0) >= 0:
		return 0, validationError("message contains a NUL byte")
	}

	var buf [8]byte
	copy(buf[:], text)

	return binary.BigEndian.Uint64(buf[:]), nil
}

// DecodeText reverses EncodeText, trimming the NUL padding.
func DecodeText(v uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)

	return string(bytes.TrimRight(buf[:], "\x00"))
}
