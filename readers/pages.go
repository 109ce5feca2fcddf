// Package readers extracts page text from documents on disk.
package readers

import (
	"path/filepath"
	"slices"
	"strings"
)

// Page is the raw text of one page. Numbers start at 1.
type Page struct {
	Number int
	Text   string
}

type Reader interface {
	CanRead(path string) bool
	ReadPages(path string) ([]Page, error)
}

// SplitPages splits extracted text on form feeds. Blank pages are dropped but
// still advance the page number.
func SplitPages(body string) []Page {
	var pages []Page
	for i, p := range strings.Split(body, "\f") {
		if strings.TrimSpace(p) == "" {
			continue
		}

		pages = append(pages, Page{Number: i + 1, Text: p})
	}

	return pages
}

// SupportedExtensions lists every file type the package can read.
func SupportedExtensions() []string {
	var res []string
	for _, e := range slices.Concat(TextExtensions, UniversalExtensions) {
		if !slices.Contains(res, e) {
			res = append(res, e)
		}
	}

	return res
}

// Find returns the first reader that accepts path, or nil.
func Find(path string, readers ...Reader) Reader {
	for _, r := range readers {
		if r.CanRead(path) {
			return r
		}
	}

	return nil
}

func hasExt(path string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}

	return false
}
