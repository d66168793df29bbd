package task

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// InterruptedMessage is stored on records whose job died with a previous process.
const InterruptedMessage = "interrupted: service restarted before analysis finished"

// RecoverInterrupted marks records left processing by a previous process as
// failed. Only meaningful with the local pool: those jobs are gone for good.
// With an external queue the jobs survive the restart and nothing is changed.
func (m *Manager) RecoverInterrupted(ctx context.Context) (int64, error) {
	if m.currentDispatcher() != nil {
		return 0, nil
	}
	n, err := m.records.FailProcessing(ctx, InterruptedMessage)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted tasks: %w", err)
	}
	if n > 0 {
		log.Warn().Int64("count", n).Msg("marked interrupted tasks as failed")
	}
	return n, nil
}
