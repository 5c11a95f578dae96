package record

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxBaseLen caps the sanitized file base name, leaving headroom for a
// collision suffix and the extension on length-limited filesystems.
const maxBaseLen = 120

// reservedChars are stripped from titles when deriving file names.
const reservedChars = `/\:*?"<>|`

// SanitizeTitle derives a file base name from a row title: NFC-normalize,
// strip filesystem-reserved and control characters, collapse whitespace,
// trim leading/trailing dots and spaces, and cap the length. Returns
// "Untitled" when nothing survives.
func SanitizeTitle(title string) string {
	title = norm.NFC.String(title)

	var b strings.Builder

	for _, r := range title {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteRune(' ')
		case strings.ContainsRune(reservedChars, r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}

	base := strings.Join(strings.Fields(b.String()), " ")
	base = strings.Trim(base, ". ")

	if base == "" {
		return "Untitled"
	}

	runes := []rune(base)
	if len(runes) > maxBaseLen {
		base = strings.TrimRight(string(runes[:maxBaseLen]), ". ")
	}

	return base
}

// SuffixedName renders "base (n).txt" for n > 1 and "base.txt" for n <= 1.
func SuffixedName(base string, n int) string {
	if n <= 1 {
		return base + Extension
	}

	return fmt.Sprintf("%s (%d)%s", base, n, Extension)
}
