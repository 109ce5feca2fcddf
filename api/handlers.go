package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gamma-omg/rag-search/apperr"
	"github.com/gamma-omg/rag-search/docstore"
	"github.com/gamma-omg/rag-search/pipeline"
	"github.com/go-playground/validator/v10"
)

type searchBody struct {
	Query          string   `json:"query" validate:"required"`
	TopK           *int     `json:"top_k" validate:"omitempty,gte=1,lte=100"`
	MinScore       *float64 `json:"min_score" validate:"omitempty,gte=0,lte=1"`
	DocumentFilter string   `json:"document_filter"`
}

type searchReply struct {
	Query           string                  `json:"query"`
	Timestamp       time.Time               `json:"timestamp"`
	TotalResults    int                     `json:"total_results"`
	Results         []pipeline.SearchResult `json:"results"`
	ExecutionTimeMs float64                 `json:"execution_time_ms"`
	Message         string                  `json:"message,omitempty"`
}

type uploadReply struct {
	Message   string    `json:"message"`
	Filename  string    `json:"filename"`
	Chunks    int       `json:"chunks"`
	Pages     int       `json:"pages"`
	Timestamp time.Time `json:"timestamp"`
}

type documentReply struct {
	Name     string `json:"name"`
	Checksum uint32 `json:"file_crc"`
	Chunks   int    `json:"chunks"`
	Pages    int    `json:"pages"`
}

type errorReply struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorReply{Error: msg})
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.Extraction:
		return http.StatusUnprocessableEntity
	case apperr.Embedding, apperr.Database:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail reports err to the client. Internal errors are logged in full and
// answered with a generic message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	} else {
		s.log.Warn("request rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
	}

	writeError(w, status, apperr.Public(err))
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}

	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("field %s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("field %s failed %s", fe.Field(), fe.Tag())
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		s.fail(w, r, apperr.Validationf("invalid request body: %v", err))
		return
	}
	if err := s.validate.Struct(body); err != nil {
		s.fail(w, r, apperr.Validationf("%s", validationMessage(err)))
		return
	}

	req := s.searcher.Defaults(body.Query)
	if body.TopK != nil {
		req.TopK = *body.TopK
	}
	if body.MinScore != nil {
		req.MinScore = *body.MinScore
	}
	req.Document = body.DocumentFilter

	resp, err := s.searcher.Search(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, searchReply{
		Query:           resp.Query,
		Timestamp:       s.now().UTC(),
		TotalResults:    len(resp.Results),
		Results:         resp.Results,
		ExecutionTimeMs: float64(resp.Elapsed.Microseconds()) / 1000,
		Message:         resp.Message,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.fail(w, r, apperr.Validationf("file exceeds the maximum size of %d bytes", s.cfg.MaxUploadSize))
			return
		}
		s.fail(w, r, apperr.Validationf("missing file upload"))
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) || name == "" || strings.HasPrefix(name, ".") {
		s.fail(w, r, apperr.Validationf("invalid file name"))
		return
	}
	if !s.files.Extension(name) {
		s.fail(w, r, apperr.Validationf("unsupported file type %q", filepath.Ext(name)))
		return
	}
	if header.Size > s.cfg.MaxUploadSize {
		s.fail(w, r, apperr.Validationf("file exceeds the maximum size of %d bytes", s.cfg.MaxUploadSize))
		return
	}

	tmp, err := s.receive(name, file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer os.Remove(tmp)

	rep, err := s.ingester.IngestAs(r.Context(), tmp, name)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if err := os.Rename(tmp, filepath.Join(s.cfg.UploadDir, name)); err != nil {
		s.fail(w, r, fmt.Errorf("failed to store upload: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, uploadReply{
		Message:   "document processed",
		Filename:  name,
		Chunks:    rep.Chunks,
		Pages:     rep.Pages,
		Timestamp: s.now().UTC(),
	})
}

// receive writes the upload to a hidden file in the upload dir. It keeps the
// extension so readers accept it; the directory registry skips hidden files.
func (s *Server) receive(name string, src io.Reader) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.cfg.UploadDir, ".upload-*"+filepath.Ext(name))
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", apperr.Validationf("failed to receive file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}

	return tmp.Name(), nil
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.catalog.Documents(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res := make([]documentReply, 0, len(docs))
	for _, d := range docs {
		res = append(res, documentReply(d))
	}

	writeJSON(w, http.StatusOK, map[string]any{"documents": res, "total": len(res)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.catalog.DeleteDocument(r.Context(), name); err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "document deleted", "filename": name})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var _ Catalog = (*docstore.Index)(nil)
