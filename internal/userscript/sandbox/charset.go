package sandbox

import (
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
)

// DecodeText converts data to a string. The explicit label wins, then the
// charset parameter of contentType, then valid UTF-8, then a chardet guess.
// Anything undecodable is read as Latin-1.
func DecodeText(data []byte, label, contentType string) string {
	if enc := lookupEncoding(label); enc != nil {
		return decodeWith(enc, data)
	}
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			if enc := lookupEncoding(params["charset"]); enc != nil {
				return decodeWith(enc, data)
			}
		}
	}
	if utf8.Valid(data) {
		return string(data)
	}
	if res, err := chardet.NewTextDetector().DetectBest(data); err == nil {
		if enc := lookupEncoding(res.Charset); enc != nil {
			return decodeWith(enc, data)
		}
	}
	return binaryString(data)
}

func lookupEncoding(label string) encoding.Encoding {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil
	}
	enc, _ := charset.Lookup(label)
	return enc
}

func decodeWith(enc encoding.Encoding, data []byte) string {
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return binaryString(data)
	}
	return string(out)
}

// binaryString maps every byte to the code point of the same value, the
// representation JS uses for binary strings.
func binaryString(data []byte) string {
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}
