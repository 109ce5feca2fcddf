package readers

import (
	"os"

	"github.com/gamma-omg/rag-search/apperr"
)

var TextExtensions = []string{".txt", ".md"}

type TxtFileReader struct{}

func (r *TxtFileReader) CanRead(path string) bool {
	return hasExt(path, TextExtensions...)
}

func (r *TxtFileReader) ReadPages(path string) ([]Page, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Extractionf(err, "reading text file %s", path)
	}

	return SplitPages(string(buf)), nil
}
