package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"findoc/internal/document"
	"findoc/internal/record"
	"findoc/internal/task"
)

type pipelineFunc func(ctx context.Context, query, filePath string) (string, error)

func (f pipelineFunc) Run(ctx context.Context, query, filePath string) (string, error) {
	return f(ctx, query, filePath)
}

func echoPipeline() pipelineFunc {
	return func(_ context.Context, query, _ string) (string, error) {
		return "## Verdict\n\nAnswer to: " + query, nil
	}
}

func newManager(t *testing.T, p task.Pipeline, opts task.Options) *task.Manager {
	t.Helper()
	db, err := record.Open(record.DriverSQLite, filepath.Join(t.TempDir(), "analysis.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	records := record.NewSQLStore(db)
	if err := records.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if opts.MaxConcurrentTasks == 0 {
		opts.MaxConcurrentTasks = 2
	}
	opts.AllowedExtensions = []string{".pdf"}
	m := task.NewManager(records, document.NewStore(t.TempDir()), p, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if !m.WaitAll(ctx) {
			t.Errorf("tasks still running at cleanup")
		}
	})
	return m
}

func setupRouter(svc TaskService, maxUpload int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	testRouter := gin.New()
	apiHandler := NewAPI(svc, maxUpload)
	apiHandler.RegisterRoutes(testRouter)
	apiHandler.RegisterUIRoutes(testRouter)
	return testRouter
}

func multipartBody(t *testing.T, fileName string, content []byte, query *string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if query != nil {
		if err := mw.WriteField("query", *query); err != nil {
			t.Fatalf("write query: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func postAnalyze(t *testing.T, router *gin.Engine, path, fileName string, content []byte, query *string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fileName, content, query)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func getJSON(t *testing.T, router *gin.Engine, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", w.Body.String(), err)
	}
	return w.Code, resp
}

func waitForStatus(t *testing.T, router *gin.Engine, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		code, resp := getJSON(t, router, "/status/"+id)
		if code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, code)
		}
		if resp["status"] != string(record.StatusProcessing) {
			return resp
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for task %s", id)
	return nil
}

func strPtr(s string) *string { return &s }

func TestRoot(t *testing.T) {
	router := setupRouter(newManager(t, echoPipeline(), task.Options{}), 0)
	code, resp := getJSON(t, router, "/")
	if code != http.StatusOK || resp["message"] != "Financial Document Analyzer API is running" {
		t.Fatalf("unexpected root response %d %v", code, resp)
	}
}

func TestAnalyzeAndStatus(t *testing.T) {
	router := setupRouter(newManager(t, echoPipeline(), task.Options{}), 0)

	w := postAnalyze(t, router, "/analyze", "q3.pdf", []byte("%PDF-1.4"), strPtr("Is it a buy?"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp["status"] != "success" || resp["message"] != "Task added to queue successfully" {
		t.Fatalf("unexpected analyze response %v", resp)
	}
	id, _ := resp["task_id"].(string)
	if id == "" {
		t.Fatalf("expected non-empty task_id")
	}

	final := waitForStatus(t, router, id)
	if final["status"] != string(record.StatusCompleted) {
		t.Fatalf("expected completed, got %v", final)
	}
	if final["task_id"] != id || final["file_name"] != "q3.pdf" || final["query"] != "Is it a buy?" {
		t.Fatalf("unexpected status body %v", final)
	}
	if final["result"] != "## Verdict\n\nAnswer to: Is it a buy?" {
		t.Fatalf("unexpected result %v", final["result"])
	}
	if v, ok := final["error"]; !ok || v != nil {
		t.Fatalf("expected error: null, got %v (present=%v)", v, ok)
	}
}

func TestStatusWhileProcessing(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	router := setupRouter(newManager(t, pipelineFunc(func(context.Context, string, string) (string, error) {
		<-release
		return "late", nil
	}), task.Options{}), 0)

	w := postAnalyze(t, router, "/analyze", "q3.pdf", []byte("%PDF"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)

	code, status := getJSON(t, router, "/status/"+resp["task_id"].(string))
	if code != http.StatusOK || status["status"] != "processing" {
		t.Fatalf("expected processing, got %d %v", code, status)
	}
	if status["result"] != nil || status["error"] != nil {
		t.Fatalf("expected null result and error, got %v", status)
	}
	if status["query"] != task.DefaultQuery {
		t.Fatalf("expected default query, got %v", status["query"])
	}
}

func TestAnalyzeFailureIsReported(t *testing.T) {
	router := setupRouter(newManager(t, pipelineFunc(func(context.Context, string, string) (string, error) {
		return "", fmt.Errorf("verification stage: error reading PDF: no readable text found in PDF")
	}), task.Options{}), 0)

	w := postAnalyze(t, router, "/analyze", "scan.pdf", []byte("%PDF"), strPtr("q"))
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)

	final := waitForStatus(t, router, resp["task_id"].(string))
	if final["status"] != "failed" || final["result"] != nil {
		t.Fatalf("expected failed without result, got %v", final)
	}
	if !strings.Contains(final["error"].(string), "no readable text") {
		t.Fatalf("unexpected error message %v", final["error"])
	}
}

func TestAnalyzeValidation(t *testing.T) {
	router := setupRouter(newManager(t, echoPipeline(), task.Options{}), 0)

	cases := []struct {
		name     string
		fileName string
		content  []byte
	}{
		{name: "missing file"},
		{name: "wrong extension", fileName: "notes.txt", content: []byte("hello")},
		{name: "empty file", fileName: "empty.pdf", content: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postAnalyze(t, router, "/analyze", tc.fileName, tc.content, strPtr("q"))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status %d, got %d: %s", http.StatusBadRequest, w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), `"error"`) {
				t.Fatalf("expected error body, got %s", w.Body.String())
			}
		})
	}
}

func TestAnalyzeTooLarge(t *testing.T) {
	router := setupRouter(newManager(t, echoPipeline(), task.Options{}), 1024)

	w := postAnalyze(t, router, "/analyze", "big.pdf", bytes.Repeat([]byte("x"), 4096), nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, w.Code)
	}
}

func TestAnalyzeBusy(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	router := setupRouter(newManager(t, pipelineFunc(func(context.Context, string, string) (string, error) {
		<-release
		return "ok", nil
	}), task.Options{MaxConcurrentTasks: 1}), 0)

	if w := postAnalyze(t, router, "/analyze", "a.pdf", []byte("%PDF"), nil); w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w := postAnalyze(t, router, "/analyze", "b.pdf", []byte("%PDF"), nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

type failingService struct{}

func (failingService) Submit(context.Context, task.Submission) (string, error) {
	return "", fmt.Errorf("%w: create record: database is locked", task.ErrStorage)
}

func (failingService) GetStatus(context.Context, string) (*record.Record, error) {
	return nil, fmt.Errorf("get record: connection refused")
}

func (failingService) IsBusy() bool { return false }

func TestAnalyzeStorageError(t *testing.T) {
	router := setupRouter(failingService{}, 0)

	w := postAnalyze(t, router, "/analyze", "a.pdf", []byte("%PDF"), nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if !strings.Contains(w.Body.String(), "Error processing request: storage error: create record") {
		t.Fatalf("unexpected body %s", w.Body.String())
	}

	code, _ := getJSON(t, router, "/status/any")
	if code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, code)
	}
}

func TestStatusNotFound(t *testing.T) {
	router := setupRouter(newManager(t, echoPipeline(), task.Options{}), 0)
	code, resp := getJSON(t, router, "/status/does-not-exist")
	if code != http.StatusNotFound || resp["error"] != "task not found" {
		t.Fatalf("unexpected response %d %v", code, resp)
	}
}

func TestReport(t *testing.T) {
	release := make(chan struct{})
	m := newManager(t, pipelineFunc(func(_ context.Context, query, _ string) (string, error) {
		if query == "slow" {
			<-release
		}
		return "## Verdict\n\n**Hold**", nil
	}), task.Options{})
	defer close(release)
	router := setupRouter(m, 0)

	w := postAnalyze(t, router, "/analyze", "a.pdf", []byte("%PDF"), strPtr("fast"))
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	done := resp["task_id"].(string)
	waitForStatus(t, router, done)

	req := httptest.NewRequest(http.MethodGet, "/report/"+done, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("expected pdf, got %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("body is not a pdf")
	}

	w = postAnalyze(t, router, "/analyze", "b.pdf", []byte("%PDF"), strPtr("slow"))
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if code, _ := getJSON(t, router, "/report/"+resp["task_id"].(string)); code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, code)
	}
	if code, _ := getJSON(t, router, "/report/unknown"); code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, code)
	}
}

func TestUIFlow(t *testing.T) {
	router := setupRouter(newManager(t, echoPipeline(), task.Options{}), 0)

	req := httptest.NewRequest(http.MethodGet, "/ui", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `action="/ui/analyze"`) {
		t.Fatalf("unexpected home page %d", w.Code)
	}

	w = postAnalyze(t, router, "/ui/analyze", "q3.pdf", []byte("%PDF"), strPtr("<b>bold</b> question"))
	if w.Code != http.StatusFound {
		t.Fatalf("expected status %d, got %d", http.StatusFound, w.Code)
	}
	location := w.Header().Get("Location")
	if !strings.HasPrefix(location, "/ui/tasks/") {
		t.Fatalf("unexpected redirect %q", location)
	}
	waitForStatus(t, router, strings.TrimPrefix(location, "/ui/tasks/"))

	req = httptest.NewRequest(http.MethodGet, location, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	body := w.Body.String()
	if w.Code != http.StatusOK || !strings.Contains(body, "<h2>Verdict</h2>") {
		t.Fatalf("expected rendered markdown, got %d", w.Code)
	}
	if strings.Contains(body, "<b>bold</b>") {
		t.Fatalf("raw html from the result must not be rendered")
	}

	req = httptest.NewRequest(http.MethodGet, "/ui/tasks/unknown", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestUIRejectsInvalidUpload(t *testing.T) {
	router := setupRouter(newManager(t, echoPipeline(), task.Options{}), 0)
	w := postAnalyze(t, router, "/ui/analyze", "notes.txt", []byte("x"), nil)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "extension not allowed") {
		t.Fatalf("expected error page, got %d", w.Code)
	}
}

func TestZerologLoggerSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ZerologLogger())
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestUITaskStorageError(t *testing.T) {
	router := setupRouter(failingService{}, 0)

	req := httptest.NewRequest(http.MethodGet, "/ui/tasks/any", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if strings.Contains(w.Body.String(), "task not found") {
		t.Fatalf("storage failure must not be reported as a missing task")
	}
}

func TestHandlerLogsCarryRequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ZerologLogger())
	NewAPI(newManager(t, echoPipeline(), task.Options{}), 0).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/status/does-not-exist", nil)
	req.Header.Set(requestIDHeader, "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["message"] == "task not found on status" {
			found = true
			if entry["request_id"] != "req-42" {
				t.Fatalf("handler log line lacks request id: %s", line)
			}
		}
	}
	if !found {
		t.Fatalf("handler log line not found in %q", buf.String())
	}
}
