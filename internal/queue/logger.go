package queue

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// zerologAdapter sends asynq's internal logs to the global zerolog logger.
type zerologAdapter struct{}

func (zerologAdapter) Debug(args ...interface{}) {
	log.Debug().Str("component", "asynq").Msg(fmt.Sprint(args...))
}

func (zerologAdapter) Info(args ...interface{}) {
	log.Info().Str("component", "asynq").Msg(fmt.Sprint(args...))
}

func (zerologAdapter) Warn(args ...interface{}) {
	log.Warn().Str("component", "asynq").Msg(fmt.Sprint(args...))
}

func (zerologAdapter) Error(args ...interface{}) {
	log.Error().Str("component", "asynq").Msg(fmt.Sprint(args...))
}

func (zerologAdapter) Fatal(args ...interface{}) {
	log.Fatal().Str("component", "asynq").Msg(fmt.Sprint(args...))
}
