package textutil

import (
	"strings"
	"unicode"
)

const maxFileNameRunes = 120

var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName turns an item id into a single safe path segment.
// Separators become dashes, other unsafe characters and control runes are
// removed, and the result is capped at 120 runes. Empty or dot-only input
// returns "item".
func SanitizeFileName(name string) string {
	name = fileNameReplacer.Replace(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if runes := []rune(name); len(runes) > maxFileNameRunes {
		name = string(runes[:maxFileNameRunes])
	}
	if strings.Trim(name, ".") == "" {
		return "item"
	}
	return name
}
