package task

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type counters struct {
	submitted metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
}

func newCounters() counters {
	meter := otel.Meter("findoc/task")
	return counters{
		submitted: mustCounter(meter, "findoc.tasks.submitted", "Tasks accepted for analysis"),
		completed: mustCounter(meter, "findoc.tasks.completed", "Tasks that finished with a result"),
		failed:    mustCounter(meter, "findoc.tasks.failed", "Tasks that finished with an error"),
	}
}

// mustCounter never fails: a broken instrument degrades to a no-op one.
func mustCounter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		log.Warn().Err(err).Str("instrument", name).Msg("create counter failed")
		return noop.Int64Counter{}
	}
	return c
}

func (c counters) add(ctx context.Context, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(ctx, 1)
	}
}
