package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"findoc/internal/record"
)

// startLocal runs the job in the local pool. The admission slot is already
// held and is released when the job ends.
func (m *Manager) startLocal(job Job) {
	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		defer func() { <-m.admission }()

		m.semaphore <- struct{}{}
		defer func() { <-m.semaphore }()

		m.Run(m.baseContext(), job)
	}()
}

// Run executes the pipeline for one job and records the outcome. It never
// returns an error: failures end up in the record. The stored document is
// removed afterwards in every case.
func (m *Manager) Run(ctx context.Context, job Job) {
	logger := log.With().Str("task_id", job.TaskID).Logger()
	ctx = logger.WithContext(ctx)
	defer m.removeDocument(job.FilePath)

	logger.Info().Msg("analysis started")
	result, err := m.runPipeline(ctx, job)

	// the outcome must be written even when ctx was cancelled by shutdown
	finishCtx := context.WithoutCancel(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("analysis failed")
		m.finish(finishCtx, logger, record.StatusFailed,
			m.records.Fail(finishCtx, job.TaskID, err.Error()))
		return
	}
	m.finish(finishCtx, logger, record.StatusCompleted,
		m.records.Complete(finishCtx, job.TaskID, result))
}

func (m *Manager) runPipeline(ctx context.Context, job Job) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panicked: %v", r)
		}
	}()
	p := m.currentPipeline()
	if p == nil {
		return "", errors.New("no analysis pipeline configured")
	}
	return p.Run(ctx, job.Query, job.FilePath) //nolint:wrapcheck
}

func (m *Manager) finish(ctx context.Context, logger zerolog.Logger, to record.Status, err error) {
	switch {
	case err == nil:
		if to == record.StatusCompleted {
			m.metrics.add(ctx, m.metrics.completed)
		} else {
			m.metrics.add(ctx, m.metrics.failed)
		}
		logger.Info().Str("status", string(to)).Msg("analysis finished")
	case errors.Is(err, record.ErrNotFound):
		logger.Error().Err(err).Str("status", string(to)).Msg("record missing for finished task")
	case errors.Is(err, record.ErrAlreadyFinal):
		logger.Warn().Err(err).Str("status", string(to)).Msg("task already finished, outcome dropped")
	default:
		logger.Error().Err(err).Str("status", string(to)).Msg("write task outcome failed")
	}
}

func (m *Manager) removeDocument(path string) {
	if err := m.documents.Delete(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("remove document failed")
	}
}
