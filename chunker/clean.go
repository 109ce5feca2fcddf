package chunker

import (
	"strings"
	"unicode"
)

// Clean collapses whitespace runs into a single space, drops control and
// format characters and page-break markers. With keepParagraphs a run that
// contains two or more newlines becomes a "\n\n" paragraph break instead.
func Clean(text string, keepParagraphs bool) string {
	var b strings.Builder
	b.Grow(len(text))

	pending := false
	newlines := 0

	for _, r := range text {
		if unicode.IsSpace(r) {
			pending = true
			if r == '\n' {
				newlines++
			}
			continue
		}

		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			continue
		}

		if pending && b.Len() > 0 {
			if keepParagraphs && newlines >= 2 {
				b.WriteString("\n\n")
			} else {
				b.WriteByte(' ')
			}
		}

		pending = false
		newlines = 0
		b.WriteRune(r)
	}

	return b.String()
}
