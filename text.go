package msgsock

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// ErrUnknownTextEncoding is returned by LookupTextEncoding for unsupported names.
var ErrUnknownTextEncoding = errors.New("unknown text encoding")

// TextEncoding converts between application strings and payload bytes.
type TextEncoding struct {
	name string
	enc  encoding.Encoding
}

var (
	// UTF8 sends strings as their UTF-8 bytes. Invalid input bytes decode to U+FFFD.
	UTF8 = TextEncoding{name: "utf-8", enc: unicode.UTF8}
	// UTF16LE sends strings as little-endian UTF-16 without a byte order mark,
	// the layout used by Windows wide strings.
	UTF16LE = TextEncoding{name: "utf-16le", enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)}
)

// LookupTextEncoding returns the encoding registered under name.
// Matching is case-insensitive; "utf8" and "utf16le" are accepted as well.
func LookupTextEncoding(name string) (TextEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return UTF8, nil
	case "utf-16le", "utf16le":
		return UTF16LE, nil
	default:
		return TextEncoding{}, errors.Wrap(ErrUnknownTextEncoding, name)
	}
}

// Name returns the canonical name of the encoding.
func (t TextEncoding) Name() string {
	if t.enc == nil {
		return UTF8.name
	}
	return t.name
}

func (t TextEncoding) impl() encoding.Encoding {
	if t.enc == nil {
		return unicode.UTF8
	}
	return t.enc
}

// Encode converts text to payload bytes.
func (t TextEncoding) Encode(text string) ([]byte, error) {
	b, err := t.impl().NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", t.Name())
	}
	return b, nil
}

// Decode converts payload bytes to text.
func (t TextEncoding) Decode(payload []byte) (string, error) {
	b, err := t.impl().NewDecoder().Bytes(payload)
	if err != nil {
		return "", errors.Wrapf(err, "decode %s", t.Name())
	}
	return string(b), nil
}
