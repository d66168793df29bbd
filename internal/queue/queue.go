package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"findoc/internal/task"
)

// TypeAnalyze is the asynq task type carrying one analysis job.
const TypeAnalyze = "analysis:run"

var ErrNilClient = errors.New("nil asynq client")

// Producer enqueues analysis jobs on Redis. Each job is keyed by its task id
// and never retried: a failed run is already recorded on the task.
type Producer struct {
	client *asynq.Client
	queue  string
}

func NewProducer(redisOpt asynq.RedisClientOpt, queue string) *Producer {
	if queue == "" {
		queue = "default"
	}
	return &Producer{client: asynq.NewClient(redisOpt), queue: queue}
}

// Dispatch implements task.Dispatcher.
func (p *Producer) Dispatch(ctx context.Context, job task.Job) error {
	if p.client == nil {
		return ErrNilClient
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	t := asynq.NewTask(TypeAnalyze, payload)
	if _, err := p.client.EnqueueContext(ctx, t,
		asynq.Queue(p.queue),
		asynq.TaskID(job.TaskID),
		asynq.MaxRetry(0),
	); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.TaskID, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close() //nolint:wrapcheck
}

// Runner executes a job. Implemented by task.Manager.
type Runner interface {
	Run(ctx context.Context, job task.Job)
}

// Consumer runs queued jobs with a bounded number of workers.
type Consumer struct {
	server *asynq.Server
	runner Runner
}

func NewConsumer(redisOpt asynq.RedisClientOpt, queue string, concurrency int, runner Runner) *Consumer {
	if queue == "" {
		queue = "default"
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      zerologAdapter{},
	})
	return &Consumer{server: server, runner: runner}
}

// Handler routes analysis tasks to the runner.
func (c *Consumer) Handler() asynq.Handler { //nolint:ireturn
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAnalyze, c.handleAnalyze)
	return mux
}

func (c *Consumer) handleAnalyze(ctx context.Context, t *asynq.Task) error {
	var job task.Job
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return fmt.Errorf("decode job: %w: %w", err, asynq.SkipRetry)
	}
	if job.TaskID == "" || job.FilePath == "" {
		return fmt.Errorf("incomplete job payload: %w", asynq.SkipRetry)
	}
	c.runner.Run(ctx, job)
	return nil
}

// Start begins processing in background goroutines.
func (c *Consumer) Start() error {
	if err := c.server.Start(c.Handler()); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	return nil
}

// Shutdown waits for active jobs, bounded by asynq's shutdown timeout.
func (c *Consumer) Shutdown() { c.server.Shutdown() }
