package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"findoc/internal/llm"
)

var (
	ErrNoStages     = errors.New("pipeline has no stages")
	ErrEmptyOutput  = errors.New("stage produced no output")
	ErrUnknownStage = errors.New("unknown context stage")
)

// DocumentReader turns a stored file into the text block handed to stages.
type DocumentReader interface {
	ReadDocument(ctx context.Context, path string) (string, error)
}

// Pipeline runs its stages in order over one document. Each stage sees the
// document, the keyword tool findings and the outputs of the stages named in
// its Context. The last stage's output is the result.
type Pipeline struct {
	reader DocumentReader
	client llm.Client
	stages []Stage
	search Searcher
	tracer trace.Tracer
}

func New(reader DocumentReader, client llm.Client) *Pipeline {
	return NewWithStages(reader, client, DefaultStages())
}

func NewWithStages(reader DocumentReader, client llm.Client, stages []Stage) *Pipeline {
	return &Pipeline{
		reader: reader,
		client: client,
		stages: stages,
		tracer: otel.Tracer("findoc/pipeline"),
	}
}

// UseSearch adds web results for the query to the tool findings. A failed
// search is logged and the run continues without it.
func (p *Pipeline) UseSearch(s Searcher) {
	p.search = s
}

// Run executes every stage. A failing stage stops the run and the error is
// prefixed with the stage name.
func (p *Pipeline) Run(ctx context.Context, query, filePath string) (string, error) {
	if len(p.stages) == 0 {
		return "", ErrNoStages
	}
	logger := zerolog.Ctx(ctx)

	document, err := p.reader.ReadDocument(ctx, filePath)
	if err != nil {
		return "", fmt.Errorf("%s stage: error reading PDF: %w", p.stages[0].Name, err)
	}
	tools := InvestmentInsights(document) + "\n\n" + RiskAssessment(document)
	if p.search != nil {
		results, err := p.search.Search(ctx, query)
		if err != nil {
			logger.Warn().Err(err).Msg("web search failed, continuing without it")
		} else {
			tools += "\n\n" + WebSearch(results)
		}
	}

	outputs := make(map[string]string, len(p.stages))
	var last string
	for _, stage := range p.stages {
		start := time.Now()
		out, err := p.runStage(ctx, stage, query, filePath, document, tools, outputs)
		if err != nil {
			logger.Warn().Err(err).Str("stage", stage.Name).Msg("stage failed")
			return "", fmt.Errorf("%s stage: %w", stage.Name, err)
		}
		logger.Debug().
			Str("stage", stage.Name).
			Int("output_length", len(out)).
			Dur("duration", time.Since(start)).
			Msg("stage completed")
		outputs[stage.Name] = out
		last = out
	}
	return last, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, query, filePath, document, tools string, outputs map[string]string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("stage", stage.Name),
		attribute.String("agent", stage.Agent.Role),
	))
	defer span.End()

	messages, err := buildMessages(stage, query, filePath, document, tools, outputs)
	if err == nil {
		var out string
		out, err = p.client.Chat(ctx, messages)
		if err == nil && strings.TrimSpace(out) == "" {
			err = ErrEmptyOutput
		}
		if err == nil {
			return out, nil
		}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return "", err //nolint:wrapcheck
}

func buildMessages(stage Stage, query, filePath, document, tools string, outputs map[string]string) ([]llm.Message, error) {
	var system strings.Builder
	fmt.Fprintf(&system, "%s\nGoal: %s\n%s", stage.Agent.Role, stage.Agent.Goal, stage.Agent.Backstory)

	desc := strings.NewReplacer("{file_path}", filePath, "{query}", query).Replace(stage.Description)

	var user strings.Builder
	user.WriteString(desc)
	user.WriteString("\n\nExpected output: ")
	user.WriteString(stage.ExpectedOutput)
	for _, name := range stage.Context {
		out, ok := outputs[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStage, name)
		}
		fmt.Fprintf(&user, "\n\n## Context from %s\n%s", name, out)
	}
	user.WriteString("\n\n## Tool findings\n")
	user.WriteString(tools)
	user.WriteString("\n\n")
	user.WriteString(document)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: system.String()},
		{Role: llm.RoleUser, Content: user.String()},
	}, nil
}
