package migrate

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// The tool prints a thumbs-up on success. Consoles with a legacy code page
// turn it into mojibake, so both forms become a plain check mark.
var glyphReplacer = strings.NewReplacer(
	"ðŸ‘\u008d", "✓",
	"ðŸ‘", "✓",
	"👍", "✓",
)

// NormalizeOutput converts raw tool output into displayable text
func NormalizeOutput(raw []byte) string {
	text := string(raw)
	if !utf8.Valid(raw) {
		if decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw); err == nil {
			text = string(decoded)
		}
	}
	return glyphReplacer.Replace(text)
}
