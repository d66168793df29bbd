package task

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"findoc/internal/record"
)

// Manager accepts submissions, schedules their analysis and answers status
// queries. Records live in the RecordStore; the manager keeps no task state
// of its own besides the pool counters.
type Manager struct {
	mu                sync.RWMutex
	records           RecordStore
	documents         DocumentStore
	pipeline          Pipeline
	dispatcher        Dispatcher
	allowedExtensions map[string]struct{}
	admission         chan struct{}
	semaphore         chan struct{}
	workersWG         sync.WaitGroup
	baseCtx           context.Context
	newID             func() string
	metrics           counters
}

// NewManager creates a manager running jobs locally with the given options.
func NewManager(records RecordStore, documents DocumentStore, pipeline Pipeline, opts Options) *Manager {
	allowed := make(map[string]struct{}, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	if len(allowed) == 0 {
		allowed[".pdf"] = struct{}{}
	}
	if opts.MaxConcurrentTasks <= 0 {
		opts.MaxConcurrentTasks = defaultMaxConcurrent
	}
	if opts.QueueDepth < 0 {
		opts.QueueDepth = 0
	}
	return &Manager{
		records:           records,
		documents:         documents,
		pipeline:          pipeline,
		allowedExtensions: allowed,
		admission:         make(chan struct{}, opts.MaxConcurrentTasks+opts.QueueDepth),
		semaphore:         make(chan struct{}, opts.MaxConcurrentTasks),
		baseCtx:           context.Background(),
		newID:             uuid.NewString,
		metrics:           newCounters(),
	}
}

// Submit validates the upload, stores the document, creates the processing
// record and schedules the analysis. It returns as soon as the job is
// scheduled. On error nothing created along the way is left behind.
func (m *Manager) Submit(ctx context.Context, sub Submission) (string, error) {
	ext, err := m.validate(sub)
	if err != nil {
		return "", err
	}
	query := strings.TrimSpace(sub.Query)
	if query == "" {
		query = DefaultQuery
	}

	dispatcher := m.currentDispatcher()
	if dispatcher == nil && !m.tryAdmit() {
		return "", ErrBusy
	}
	admitted := dispatcher == nil
	release := func() {
		if admitted {
			<-m.admission
		}
	}

	taskID := m.newID()
	logger := log.With().Str("task_id", taskID).Logger()

	path, err := m.documents.Save(taskID, ext, sub.Content)
	if err != nil {
		release()
		return "", fmt.Errorf("%w: save document: %w", ErrStorage, err)
	}

	rec := record.Record{
		TaskID:   taskID,
		Status:   record.StatusProcessing,
		FileName: sub.FileName,
		Query:    query,
	}
	if err := m.records.Create(ctx, rec); err != nil {
		m.removeDocument(path)
		release()
		return "", fmt.Errorf("%w: create record: %w", ErrStorage, err)
	}

	job := Job{TaskID: taskID, Query: query, FilePath: path}
	if dispatcher == nil {
		m.startLocal(job)
	} else if err := dispatcher.Dispatch(ctx, job); err != nil {
		if delErr := m.records.Delete(context.WithoutCancel(ctx), taskID); delErr != nil {
			logger.Error().Err(delErr).Msg("rollback record failed")
		}
		m.removeDocument(path)
		return "", fmt.Errorf("%w: enqueue job: %w", ErrStorage, err)
	}

	m.metrics.add(ctx, m.metrics.submitted)
	logger.Info().Str("file_name", sub.FileName).Str("path", path).Msg("task submitted")
	return taskID, nil
}

// GetStatus returns the current record snapshot.
func (m *Manager) GetStatus(ctx context.Context, taskID string) (*record.Record, error) {
	rec, err := m.records.Get(ctx, taskID)
	if errors.Is(err, record.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// IsBusy reports whether the local pool would refuse a new submission.
func (m *Manager) IsBusy() bool {
	if m.currentDispatcher() != nil {
		return false
	}
	return len(m.admission) >= cap(m.admission)
}

// SetBaseContext sets the context jobs run under. Intended to be set at
// process startup and cancelled during shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// WaitAll blocks until all in-flight local jobs finish or the context is done.
// Returns true if all jobs finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// UseDispatcher routes new jobs to an external queue instead of the local
// pool. Call before serving requests.
func (m *Manager) UseDispatcher(d Dispatcher) {
	m.mu.Lock()
	m.dispatcher = d
	m.mu.Unlock()
}

// UsePipeline allows tests to inject a fake pipeline.
// Not safe for concurrent mutation with running tasks; intended for test setup only.
func (m *Manager) UsePipeline(p Pipeline) {
	m.mu.Lock()
	m.pipeline = p
	m.mu.Unlock()
}

func (m *Manager) validate(sub Submission) (string, error) {
	if sub.Content == nil {
		return "", fmt.Errorf("%w: missing file content", ErrValidation)
	}
	name := strings.TrimSpace(sub.FileName)
	if name == "" {
		return "", fmt.Errorf("%w: missing file name", ErrValidation)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := m.allowedExtensions[ext]; !ok {
		return "", newErrExtNotAllowed(ext)
	}
	return ext, nil
}

func (m *Manager) tryAdmit() bool {
	select {
	case m.admission <- struct{}{}:
		return true
	default:
		return false
	}
}

func (m *Manager) currentDispatcher() Dispatcher { //nolint:ireturn
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dispatcher
}

func (m *Manager) currentPipeline() Pipeline { //nolint:ireturn
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pipeline
}

func (m *Manager) baseContext() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.baseCtx == nil {
		return context.Background()
	}
	return m.baseCtx
}
