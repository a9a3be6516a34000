package loader

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// decodeUTF8 converts input bytes to UTF-8. A byte order mark decides the
// encoding when present (spreadsheet exports are often UTF-16). Without one,
// valid UTF-8 is kept as is and anything else is read with the detected
// fallback encoding (windows-1252).
func decodeUTF8(content []byte) ([]byte, error) {
	if len(content) == 0 {
		return content, nil
	}
	enc, name, certain := charset.DetermineEncoding(content, "text/plain")
	// Detection only samples a prefix of the input.
	if enc == nil || (!certain && utf8.Valid(content)) {
		return bytes.TrimPrefix(content, utf8BOM), nil
	}

	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(content), enc.NewDecoder()))
	if err != nil {
		return nil, fmt.Errorf("failed to convert from %q: %w", name, err)
	}
	return bytes.TrimPrefix(out, utf8BOM), nil
}
