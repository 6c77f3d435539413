package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/provzone/docchat/internal/admins"
	"github.com/provzone/docchat/internal/answer"
	"github.com/provzone/docchat/internal/ingest"
	"github.com/provzone/docchat/internal/storage"
)

const testToken = "test-token-12345"
const testAdmin = "root@example.com"

type mockPipeline struct {
	ingestNewFn      func(ctx context.Context, fileName string, upload io.Reader) (ingest.Result, error)
	ingestExistingFn func(ctx context.Context, fileName string) (ingest.Result, error)
	removeFn         func(ctx context.Context, fileName string) error
	backfillFn       func(ctx context.Context) (int, error)
}

func (m *mockPipeline) IngestNew(ctx context.Context, fileName string, upload io.Reader) (ingest.Result, error) {
	return m.ingestNewFn(ctx, fileName, upload)
}

func (m *mockPipeline) IngestExisting(ctx context.Context, fileName string) (ingest.Result, error) {
	return m.ingestExistingFn(ctx, fileName)
}

func (m *mockPipeline) Remove(ctx context.Context, fileName string) error {
	return m.removeFn(ctx, fileName)
}

func (m *mockPipeline) Backfill(ctx context.Context) (int, error) {
	return m.backfillFn(ctx)
}

type mockAssembler struct {
	askFn func(ctx context.Context, question string) (answer.Answer, error)
}

func (m *mockAssembler) Ask(ctx context.Context, question string) (answer.Answer, error) {
	return m.askFn(ctx, question)
}

type testApp struct {
	handler  http.Handler
	store    *storage.Store
	pipeline *mockPipeline
}

func setupAppHandler(t *testing.T) *testApp {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	adminMgr, err := admins.NewManager(store, testAdmin)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	pipeline := &mockPipeline{
		ingestNewFn: func(_ context.Context, fileName string, _ io.Reader) (ingest.Result, error) {
			return ingest.Result{FileName: fileName, Chunks: 3, Embedded: 3}, nil
		},
		ingestExistingFn: func(_ context.Context, fileName string) (ingest.Result, error) {
			return ingest.Result{FileName: fileName, Chunks: 3, Embedded: 3}, nil
		},
		removeFn:   func(_ context.Context, _ string) error { return nil },
		backfillFn: func(_ context.Context) (int, error) { return 0, nil },
	}

	assembler := &mockAssembler{
		askFn: func(_ context.Context, question string) (answer.Answer, error) {
			return answer.Answer{Question: question, Answer: "grounded answer", Sources: []string{"doc.pdf"}}, nil
		},
	}

	handler := NewAppHandler(AppDeps{
		Documents: store,
		Pipeline:  pipeline,
		Assembler: assembler,
		Admins:    adminMgr,
		Token:     testToken,
	})
	return &testApp{handler: handler, store: store, pipeline: pipeline}
}

func authReq(method, url, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("X-Admin-Email", testAdmin)
	return req
}

func multipartUpload(t *testing.T, fileName, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("X-Admin-Email", testAdmin)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadDocument(t *testing.T) {
	app := setupAppHandler(t)

	var gotName, gotContent string
	app.pipeline.ingestNewFn = func(_ context.Context, fileName string, upload io.Reader) (ingest.Result, error) {
		gotName = fileName
		b, _ := io.ReadAll(upload)
		gotContent = string(b)
		return ingest.Result{FileName: fileName, Chunks: 1, Embedded: 1}, nil
	}

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, multipartUpload(t, "report.txt", "some document text"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if gotName != "report.txt" {
		t.Errorf("ingested name = %q", gotName)
	}
	if gotContent != "some document text" {
		t.Errorf("ingested content = %q", gotContent)
	}

	var res ingest.Result
	json.NewDecoder(rr.Body).Decode(&res)
	if res.Chunks != 1 {
		t.Errorf("response chunks = %d", res.Chunks)
	}
}

func TestUploadDocumentMissingFile(t *testing.T) {
	app := setupAppHandler(t)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/documents", "")
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestReprocessStagedFileNotFound(t *testing.T) {
	app := setupAppHandler(t)
	app.pipeline.ingestExistingFn = func(_ context.Context, fileName string) (ingest.Result, error) {
		return ingest.Result{}, &ingest.StepError{Step: ingest.StepStage, Err: ingest.ErrStagedFileNotFound}
	}

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodPost, "/documents/gone.pdf/reprocess", ""))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body = %s", rr.Code, rr.Body.String())
	}
}

func TestIngestStepErrorSurfacesStep(t *testing.T) {
	app := setupAppHandler(t)
	app.pipeline.ingestNewFn = func(_ context.Context, _ string, _ io.Reader) (ingest.Result, error) {
		return ingest.Result{}, &ingest.StepError{Step: ingest.StepEmbed, Err: errors.New("gateway down")}
	}

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, multipartUpload(t, "report.txt", "text"))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "embed step failed") {
		t.Errorf("body does not identify the failing step: %s", rr.Body.String())
	}
}

func TestRemoveDocument(t *testing.T) {
	app := setupAppHandler(t)

	var removed string
	app.pipeline.removeFn = func(_ context.Context, fileName string) error {
		removed = fileName
		return nil
	}

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodDelete, "/documents/report.txt", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if removed != "report.txt" {
		t.Errorf("removed = %q", removed)
	}
}

func TestListDocuments(t *testing.T) {
	app := setupAppHandler(t)

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodGet, "/documents", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	// Empty store returns an empty array, not null.
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("body = %s, want []", body)
	}
}

func TestAsk(t *testing.T) {
	app := setupAppHandler(t)

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodPost, "/ask", `{"question":"what is the policy?"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var ans answer.Answer
	json.NewDecoder(rr.Body).Decode(&ans)
	if ans.Answer != "grounded answer" {
		t.Errorf("answer = %q", ans.Answer)
	}
	if len(ans.Sources) != 1 || ans.Sources[0] != "doc.pdf" {
		t.Errorf("sources = %v", ans.Sources)
	}
}

func TestAskEmptyQuestion(t *testing.T) {
	app := setupAppHandler(t)

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodPost, "/ask", `{"question":""}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestBackfill(t *testing.T) {
	app := setupAppHandler(t)
	app.pipeline.backfillFn = func(_ context.Context) (int, error) { return 7, nil }

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, authReq(http.MethodPost, "/documents/backfill-embeddings", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var res map[string]int
	json.NewDecoder(rr.Body).Decode(&res)
	if res["filled"] != 7 {
		t.Errorf("filled = %d, want 7", res["filled"])
	}
}

func TestAuthRequired(t *testing.T) {
	app := setupAppHandler(t)

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/documents", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestUploadRequiresAdmin(t *testing.T) {
	app := setupAppHandler(t)

	req := multipartUpload(t, "report.txt", "text")
	req.Header.Del("X-Admin-Email")
	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestListDocumentsSkipsAdminCheck(t *testing.T) {
	app := setupAppHandler(t)

	req := authReq(http.MethodGet, "/documents", "")
	req.Header.Del("X-Admin-Email")
	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	app := setupAppHandler(t)

	rr := httptest.NewRecorder()
	app.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}
