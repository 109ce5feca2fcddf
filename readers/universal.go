package readers

import (
	"code.sajari.com/docconv/v2"
	"github.com/gamma-omg/rag-search/apperr"
)

// UniversalExtensions lists the file types docconv can convert.
var UniversalExtensions = []string{".txt", ".docx", ".odt", ".pdf", ".xml", ".rtf", ".html"}

type UniversalFileReader struct {
	pdf PdfFileReader
}

func (r *UniversalFileReader) CanRead(path string) bool {
	return hasExt(path, UniversalExtensions...)
}

// ReadPages hands pdfs to the page-aware pdf reader. docconv output of other
// formats carries no page breaks beyond the form feeds some converters keep.
func (r *UniversalFileReader) ReadPages(path string) ([]Page, error) {
	if r.pdf.CanRead(path) {
		return r.pdf.ReadPages(path)
	}

	res, err := docconv.ConvertPath(path)
	if err != nil {
		return nil, apperr.Extractionf(err, "failed to read document %s", path)
	}

	return SplitPages(res.Body), nil
}
