package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/gamma-omg/rag-search/apperr"
	"github.com/gamma-omg/rag-search/readers"
)

// ValidationResult is the outcome of every input check.
type ValidationResult struct {
	IsValid      bool
	ErrorMessage string
}

func valid() ValidationResult {
	return ValidationResult{IsValid: true}
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{ErrorMessage: fmt.Sprintf(format, args...)}
}

// Err converts a failed result into a validation error.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}

	return apperr.Validationf("%s", r.ErrorMessage)
}

type Validator struct {
	Extensions     []string `yaml:"extensions"`
	MaxFileSize    int64    `yaml:"max_file_size" validate:"gte=0"`
	MinQueryLength int      `yaml:"min_query_length" validate:"gte=1"`
	MaxQueryLength int      `yaml:"max_query_length" validate:"gtefield=MinQueryLength"`
	MaxTopK        int      `yaml:"max_top_k" validate:"gte=1"`
}

func DefaultValidator() Validator {
	return Validator{
		Extensions:     readers.SupportedExtensions(),
		MaxFileSize:    100 << 20,
		MinQueryLength: 1,
		MaxQueryLength: 500,
		MaxTopK:        100,
	}
}

// File checks that path names a readable, non-empty regular file with an
// allowed extension. A zero MaxFileSize disables the size check.
func (v Validator) File(path string) ValidationResult {
	if !v.Extension(path) {
		return invalid("unsupported file type %q", filepath.Ext(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return invalid("file %s does not exist", filepath.Base(path))
		}
		return invalid("cannot access file %s", filepath.Base(path))
	}

	if !info.Mode().IsRegular() {
		return invalid("%s is not a regular file", filepath.Base(path))
	}

	if info.Size() == 0 {
		return invalid("file %s is empty", filepath.Base(path))
	}

	if v.MaxFileSize > 0 && info.Size() > v.MaxFileSize {
		return invalid("file %s exceeds the maximum size of %d bytes", filepath.Base(path), v.MaxFileSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return invalid("file %s is not readable", filepath.Base(path))
	}
	f.Close()

	return valid()
}

// Extension reports whether the file type of path is allowed. An empty
// allow-list accepts everything.
func (v Validator) Extension(path string) bool {
	if len(v.Extensions) == 0 {
		return true
	}

	return slices.Contains(v.Extensions, strings.ToLower(filepath.Ext(path)))
}

func (v Validator) Query(query string) ValidationResult {
	q := strings.TrimSpace(query)
	if q == "" {
		return invalid("query must not be empty")
	}

	n := utf8.RuneCountInString(q)
	if n < v.MinQueryLength {
		return invalid("query must be at least %d characters long", v.MinQueryLength)
	}
	if v.MaxQueryLength > 0 && n > v.MaxQueryLength {
		return invalid("query must be at most %d characters long", v.MaxQueryLength)
	}

	return valid()
}

func (v Validator) SearchParams(topK int, minScore float64) ValidationResult {
	if topK < 1 {
		return invalid("top_k must be at least 1")
	}
	if v.MaxTopK > 0 && topK > v.MaxTopK {
		return invalid("top_k must be at most %d", v.MaxTopK)
	}

	// the negated form also rejects NaN
	if !(minScore >= 0 && minScore <= 1) {
		return invalid("min_score must be between 0 and 1")
	}

	return valid()
}
