package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"findoc/internal/record"
	"findoc/internal/report"
	"findoc/internal/task"
)

const defaultMaxUploadBytes = 20 << 20

// TaskService is the part of task.Manager the handlers need.
type TaskService interface {
	Submit(ctx context.Context, sub task.Submission) (string, error)
	GetStatus(ctx context.Context, taskID string) (*record.Record, error)
	IsBusy() bool
}

type analyzeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

type statusResponse struct {
	TaskID   string  `json:"task_id"`
	Status   string  `json:"status"`
	FileName string  `json:"file_name"`
	Query    string  `json:"query"`
	Result   *string `json:"result"`
	Error    *string `json:"error"`
}

type API struct {
	tasks          TaskService
	maxUploadBytes int64
}

func NewAPI(tasks TaskService, maxUploadBytes int64) *API {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &API{tasks: tasks, maxUploadBytes: maxUploadBytes}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/", a.Root)
	router.POST("/analyze", a.Analyze)
	router.GET("/status/:task_id", a.Status)
	router.GET("/report/:task_id", a.Report)
}

// Root is the liveness endpoint.
func (a *API) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Financial Document Analyzer API is running"})
}

// Analyze accepts a multipart upload and schedules its analysis.
func (a *API) Analyze(c *gin.Context) {
	taskID, status, err := a.submitUpload(c)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, analyzeResponse{
		Status:  "success",
		Message: "Task added to queue successfully",
		TaskID:  taskID,
	})
}

// Status returns the current state of a task.
func (a *API) Status(c *gin.Context) {
	id := c.Param("task_id")
	logger := requestLogger(c)
	rec, err := a.tasks.GetStatus(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			logger.Warn().Str("task_id", id).Msg("task not found on status")
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		logger.Error().Str("task_id", id).Err(err).Msg("status lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error processing request: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, toStatusResponse(rec))
}

// Report serves a completed analysis as a PDF attachment.
func (a *API) Report(c *gin.Context) {
	id := c.Param("task_id")
	logger := requestLogger(c)
	rec, err := a.tasks.GetStatus(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		logger.Error().Str("task_id", id).Err(err).Msg("report lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error processing request: " + err.Error()})
		return
	}
	if rec.Status != record.StatusCompleted || rec.Result == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "analysis not completed", "status": string(rec.Status)})
		return
	}
	out, err := report.Render(report.Meta{
		Title:    "Financial Document Analysis",
		TaskID:   rec.TaskID,
		FileName: rec.FileName,
		Query:    rec.Query,
	}, *rec.Result)
	if err != nil {
		logger.Error().Str("task_id", id).Err(err).Msg("render report failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error processing request: " + err.Error()})
		return
	}
	logger.Info().Str("task_id", id).Int("bytes", len(out)).Msg("serving report")
	c.Header("Content-Disposition", `attachment; filename="analysis-`+rec.TaskID+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", out)
}

// submitUpload is shared by the JSON and HTML endpoints. It returns the HTTP
// status to use on error.
func (a *API) submitUpload(c *gin.Context) (string, int, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUploadBytes)
	logger := requestLogger(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			logger.Warn().Int64("limit", a.maxUploadBytes).Msg("upload rejected: too large")
			return "", http.StatusRequestEntityTooLarge, errors.New("file too large")
		}
		logger.Warn().Err(err).Msg("invalid analyze request")
		return "", http.StatusBadRequest, errors.New("file is required")
	}
	if fileHeader.Size == 0 {
		return "", http.StatusBadRequest, errors.New("uploaded file is empty")
	}

	f, err := fileHeader.Open()
	if err != nil {
		logger.Error().Err(err).Msg("open uploaded file")
		return "", http.StatusInternalServerError, errors.New("Error processing request: " + err.Error()) //nolint:stylecheck
	}
	defer func() { _ = f.Close() }()

	taskID, err := a.tasks.Submit(c.Request.Context(), task.Submission{
		FileName: fileHeader.Filename,
		Content:  f,
		Query:    c.PostForm("query"),
	})
	switch {
	case err == nil:
		return taskID, http.StatusOK, nil
	case errors.Is(err, task.ErrValidation):
		logger.Warn().Err(err).Str("file_name", fileHeader.Filename).Msg("submission rejected")
		return "", http.StatusBadRequest, err
	case errors.Is(err, task.ErrBusy):
		logger.Warn().Msg("rejecting submission: server is at max concurrency")
		return "", http.StatusServiceUnavailable, errors.New("server busy")
	default:
		logger.Error().Err(err).Str("file_name", fileHeader.Filename).Msg("submission failed")
		return "", http.StatusInternalServerError, errors.New("Error processing request: " + err.Error()) //nolint:stylecheck
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

func toStatusResponse(rec *record.Record) statusResponse {
	return statusResponse{
		TaskID:   rec.TaskID,
		Status:   string(rec.Status),
		FileName: rec.FileName,
		Query:    rec.Query,
		Result:   rec.Result,
		Error:    rec.Error,
	}
}
