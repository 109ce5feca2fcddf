package readers

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"testing"

	"github.com/gamma-omg/rag-search/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SplitPages(t *testing.T) {
	cases := []struct {
		body  string
		pages []Page
	}{
		{body: "", pages: nil},
		{body: "  \n", pages: nil},
		{body: "one", pages: []Page{{1, "one"}}},
		{body: "one\ftwo\f", pages: []Page{{1, "one"}, {2, "two"}}},
		{body: "\f\fthree", pages: []Page{{3, "three"}}},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			assert.Equal(t, c.pages, SplitPages(c.body))
		})
	}
}

func Test_CanRead(t *testing.T) {
	pdf := &PdfFileReader{}
	assert.True(t, pdf.CanRead("some/file.pdf"))
	assert.True(t, pdf.CanRead("some/FILE.PDF"))
	assert.False(t, pdf.CanRead("some/file.txt"))

	txt := &TxtFileReader{}
	assert.True(t, txt.CanRead("some/file.txt"))
	assert.False(t, txt.CanRead("some/file.pdf"))

	u := &UniversalFileReader{}
	for _, f := range []string{"a.docx", "a.odt", "a.pdf", "a.txt", "a.xml"} {
		assert.True(t, u.CanRead(f), f)
	}
	assert.False(t, u.CanRead("a.exe"))
}

func Test_SupportedExtensions(t *testing.T) {
	exts := SupportedExtensions()
	assert.ElementsMatch(t, []string{".txt", ".md", ".docx", ".odt", ".pdf", ".xml", ".rtf", ".html"}, exts)

	rs := []Reader{&TxtFileReader{}, &PdfFileReader{}, &UniversalFileReader{}}
	for _, e := range exts {
		assert.NotNil(t, Find("doc"+e, rs...), e)
	}
}

func Test_Find(t *testing.T) {
	txt := &TxtFileReader{}
	u := &UniversalFileReader{}

	assert.Same(t, txt, Find("a.txt", txt, u))
	assert.Same(t, u, Find("a.pdf", txt, u))
	assert.Nil(t, Find("a.exe", txt, u))
}

func Test_TxtFileReader_ReadPages(t *testing.T) {
	r := TxtFileReader{}

	pages, err := r.ReadPages("testdata/test.txt")
	require.NoError(t, err)
	assert.Equal(t, []Page{{1, "hello world"}}, pages)

	pages, err = r.ReadPages("testdata/pages.txt")
	require.NoError(t, err)
	assert.Equal(t, []Page{{1, "first page"}, {2, "second page"}, {4, "Fourth page.\n"}}, pages)
}

func Test_TxtFileReader_Missing(t *testing.T) {
	r := TxtFileReader{}
	_, err := r.ReadPages("testdata/missing.txt")
	assert.Equal(t, apperr.Extraction, apperr.KindOf(err))
}

func Test_PdfFileReader_KeepsPageNumbers(t *testing.T) {
	r := PdfFileReader{convert: func(path string) ([]byte, error) {
		return []byte("Intro.\n\f\fChapter two.\n\f"), nil
	}}

	pages, err := r.ReadPages("doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, []Page{{1, "Intro.\n"}, {3, "Chapter two.\n"}}, pages)
}

func Test_PdfFileReader_Errors(t *testing.T) {
	cases := []error{exec.ErrNotFound, errors.New("exit status 1: syntax error")}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			r := PdfFileReader{convert: func(path string) ([]byte, error) { return nil, c }}
			_, err := r.ReadPages("doc.pdf")
			assert.Equal(t, apperr.Extraction, apperr.KindOf(err))
			assert.ErrorIs(t, err, c)
		})
	}
}

func Test_PdfFileReader_TwoPages(t *testing.T) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		t.Skip("pdftotext not installed")
	}

	for _, r := range []Reader{&PdfFileReader{}, &UniversalFileReader{}} {
		pages, err := r.ReadPages("testdata/two_pages.pdf")
		require.NoError(t, err)
		require.Len(t, pages, 2)
		assert.Equal(t, 1, pages[0].Number)
		assert.Equal(t, "First page text.", strings.TrimSpace(pages[0].Text))
		assert.Equal(t, 2, pages[1].Number)
		assert.Equal(t, "Second page text.", strings.TrimSpace(pages[1].Text))
	}
}
