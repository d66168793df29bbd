package task

import (
	"context"
	"io"

	"findoc/internal/record"
)

// RecordStore persists task records. Terminal updates must only apply to
// records still processing.
type RecordStore interface {
	Create(ctx context.Context, rec record.Record) error
	Get(ctx context.Context, taskID string) (*record.Record, error)
	Complete(ctx context.Context, taskID, result string) error
	Fail(ctx context.Context, taskID, message string) error
	Delete(ctx context.Context, taskID string) error
	FailProcessing(ctx context.Context, message string) (int64, error)
}

// DocumentStore keeps uploaded files until their task finishes.
type DocumentStore interface {
	Save(taskID, ext string, content io.Reader) (string, error)
	Delete(path string) error
}

// Pipeline produces the analysis for one document.
type Pipeline interface {
	Run(ctx context.Context, query, filePath string) (string, error)
}

// Dispatcher hands a job to an external queue. Without one the manager runs
// jobs in its own bounded pool.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}
