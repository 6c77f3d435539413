package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/provzone/docchat/internal/admins"
	"github.com/provzone/docchat/internal/answer"
	"github.com/provzone/docchat/internal/ingest"
	"github.com/provzone/docchat/internal/storage"
)

const maxUploadBodySize = 50 << 20 // 50MB
const maxRequestBodySize = 1 << 20 // 1MB

// Ingester abstracts the ingestion pipeline for the API layer.
type Ingester interface {
	IngestNew(ctx context.Context, fileName string, upload io.Reader) (ingest.Result, error)
	IngestExisting(ctx context.Context, fileName string) (ingest.Result, error)
	Remove(ctx context.Context, fileName string) error
	Backfill(ctx context.Context) (int, error)
}

// Answerer abstracts the answer assembler.
type Answerer interface {
	Ask(ctx context.Context, question string) (answer.Answer, error)
}

// DocumentLister abstracts the document listing query.
type DocumentLister interface {
	ListDocuments(limit, offset int) ([]storage.DocumentInfo, error)
}

type AppDeps struct {
	Documents DocumentLister
	Pipeline  Ingester
	Assembler Answerer
	Admins    *admins.Manager
	Token     string
	Ready     func(ctx context.Context) bool // engine readiness probe; optional
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/documents", handleListDocuments(deps))
		r.Post("/ask", handleAsk(deps))

		// Corpus mutations and allowlist management are admin-only.
		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin(deps.Admins))

			r.Post("/documents", handleUploadDocument(deps))
			r.Post("/documents/{name}/reprocess", handleReprocessDocument(deps))
			r.Delete("/documents/{name}", handleRemoveDocument(deps))
			r.Post("/documents/backfill-embeddings", handleBackfill(deps))

			r.Get("/admins", handleListAdmins(deps))
			r.Post("/admins", handleAddAdmin(deps))
			r.Delete("/admins/{email}", handleRemoveAdmin(deps))
		})
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{"status": "ok"}
		if deps.Ready != nil {
			status["engine"] = deps.Ready(r.Context())
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}

func handleUploadDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file form field is required: %v", err)
			return
		}
		defer file.Close()

		fileName := r.FormValue("file_name")
		if fileName == "" {
			fileName = filepath.Base(header.Filename)
		}
		if fileName == "" || fileName == "." {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file name is required")
			return
		}

		res, err := deps.Pipeline.IngestNew(r.Context(), fileName, file)
		if err != nil {
			ingestError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

func handleReprocessDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		res, err := deps.Pipeline.IngestExisting(r.Context(), name)
		if errors.Is(err, ingest.ErrStagedFileNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no staged file for %s", name)
			return
		}
		if err != nil {
			ingestError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

func handleRemoveDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		if err := deps.Pipeline.Remove(r.Context(), name); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remove document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		docs, err := deps.Documents.ListDocuments(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.DocumentInfo{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(docs)
	}
}

func handleBackfill(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filled, err := deps.Pipeline.Backfill(r.Context())
		if err != nil {
			ingestError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"filled": filled})
	}
}

type askRequest struct {
	Question string `json:"question"`
}

func handleAsk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		ans, err := deps.Assembler.Ask(r.Context(), req.Question)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to answer: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ans)
	}
}

// ingestError maps pipeline failures to responses, surfacing the failing
// step when known.
func ingestError(w http.ResponseWriter, err error) {
	var stepError *ingest.StepError
	if errors.As(err, &stepError) {
		httpError(w, http.StatusBadGateway, "ingestion_error", "%s step failed: %v", stepError.Step, stepError.Err)
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
