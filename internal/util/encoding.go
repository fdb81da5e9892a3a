package util

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// ErrInvalidUTF8 is returned by the strict utf-8 decoder.
var ErrInvalidUTF8 = errors.New("invalid utf-8 sequence")

// DecodeFunc turns one raw chunk read from the device into text.
type DecodeFunc func([]byte) (string, error)

// DefaultEncoding 网络设备回显默认按 GBK 解码
const DefaultEncoding = "gbk"

// NewDecoder returns the decoder registered under name. An empty name selects
// DefaultEncoding.
func NewDecoder(name string) (DecodeFunc, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		n = DefaultEncoding
	}
	switch n {
	case "gbk", "cp936":
		return legacyDecoder(simplifiedchinese.GBK), nil
	case "gb18030":
		return legacyDecoder(simplifiedchinese.GB18030), nil
	case "big5":
		return legacyDecoder(traditionalchinese.Big5), nil
	case "latin1", "iso-8859-1":
		return legacyDecoder(charmap.ISO8859_1), nil
	case "utf-8", "utf8":
		return decodeUTF8, nil
	case "auto":
		return func(b []byte) (string, error) { return EnsureUTF8Bytes(b), nil }, nil
	}
	return nil, fmt.Errorf("unsupported encoding: %s", name)
}

func legacyDecoder(enc encoding.Encoding) DecodeFunc {
	return func(b []byte) (string, error) {
		out, err := enc.NewDecoder().Bytes(b)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

func decodeUTF8(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// EnsureUTF8Bytes tries to decode non-UTF-8 bytes using common encodings
// and returns a UTF-8 string. If bytes are already valid UTF-8, it returns
// them as-is. If detection fails, it falls back to direct byte-to-string.
func EnsureUTF8Bytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	encs := []encoding.Encoding{
		simplifiedchinese.GB18030,
		simplifiedchinese.GBK,
		traditionalchinese.Big5,
		charmap.Windows1252,
		charmap.ISO8859_1,
	}
	for _, enc := range encs {
		if s, ok := tryDecode(enc, b); ok {
			return s
		}
	}
	return string(b)
}

func tryDecode(enc encoding.Encoding, b []byte) (string, bool) {
	reader := transform.NewReader(bytes.NewReader(b), enc.NewDecoder())
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", false
	}
	if utf8.Valid(decoded) {
		return string(decoded), true
	}
	return "", false
}
