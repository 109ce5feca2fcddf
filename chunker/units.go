package chunker

import (
	"iter"
	"unicode"
)

// span is a half-open range of rune offsets into cleaned text.
type span struct {
	start int
	end   int
}

func (s span) len() int {
	return s.end - s.start
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '»', '“', '”', '’':
		return true
	}

	return false
}

// sentences yields sentence spans of cleaned text. A sentence ends at a run
// of terminal punctuation (plus closing quotes or brackets) followed by
// whitespace, at a paragraph break, or at the end of the text.
func sentences(text []rune) iter.Seq[span] {
	return func(yield func(span) bool) {
		n := len(text)
		start := 0
		i := 0

		skip := func(j int) int {
			for j < n && unicode.IsSpace(text[j]) {
				j++
			}
			return j
		}

		for i < n {
			switch {
			case isTerminal(text[i]):
				j := i + 1
				for j < n && isTerminal(text[j]) {
					j++
				}
				for j < n && isCloser(text[j]) {
					j++
				}

				if j < n && !unicode.IsSpace(text[j]) {
					i = j
					continue
				}

				if !yield(span{start, j}) {
					return
				}

				start = skip(j)
				i = start
			case text[i] == '\n':
				if i > start && !yield(span{start, i}) {
					return
				}

				start = skip(i)
				i = start
			default:
				i++
			}
		}

		if start < n {
			yield(span{start, n})
		}
	}
}

// words yields the whitespace-separated words inside s.
func words(text []rune, s span) iter.Seq[span] {
	return func(yield func(span) bool) {
		i := s.start
		for i < s.end {
			for i < s.end && unicode.IsSpace(text[i]) {
				i++
			}

			j := i
			for j < s.end && !unicode.IsSpace(text[j]) {
				j++
			}

			if j > i && !yield(span{i, j}) {
				return
			}

			i = j
		}
	}
}

func trim(text []rune, s span) span {
	for s.start < s.end && unicode.IsSpace(text[s.start]) {
		s.start++
	}

	for s.end > s.start && unicode.IsSpace(text[s.end-1]) {
		s.end--
	}

	return s
}
