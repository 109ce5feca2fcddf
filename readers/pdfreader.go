package readers

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/gamma-omg/rag-search/apperr"
)

// pdftotext runs poppler's pdftotext keeping the form feed it writes after
// every page. docconv calls the same tool with -nopgbrk, which loses them.
func pdftotext(path string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.Command("pdftotext", "-q", "-enc", "UTF-8", "-eol", "unix", path, "-")
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}

	return out, nil
}

type PdfFileReader struct {
	convert func(path string) ([]byte, error)
}

func (r *PdfFileReader) CanRead(path string) bool {
	return hasExt(path, ".pdf")
}

func (r *PdfFileReader) ReadPages(path string) ([]Page, error) {
	convert := r.convert
	if convert == nil {
		convert = pdftotext
	}

	body, err := convert(path)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, apperr.Extractionf(err, "pdftotext is not installed")
		}
		return nil, apperr.Extractionf(err, "failed to read pdf document %s", path)
	}

	return SplitPages(string(body)), nil
}
