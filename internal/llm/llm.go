package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	ProviderOffline   = "offline"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

var (
	ErrNoMessages      = errors.New("messages cannot be empty")
	ErrNoUserMessage   = errors.New("at least one message must have role user")
	ErrEmptyResponse   = errors.New("empty response from model")
	ErrMissingAPIKey   = errors.New("api key is required")
	ErrUnknownProvider = errors.New("unknown llm provider")
)

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Client produces a completion for a conversation.
type Client interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Options configures the client returned by New.
type Options struct {
	Provider          string
	Model             string
	APIKey            string
	BaseURL           string
	// Temperature is sent as given, zero included; nil keeps the provider default.
	Temperature       *float64
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerSecond float64
}

// New builds a provider client and wraps it with the optional timeout and
// rate limit.
func New(ctx context.Context, opts Options) (Client, error) { //nolint:ireturn
	var (
		client Client
		err    error
	)
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case ProviderOffline, "":
		client = NewOfflineClient()
	case ProviderAnthropic:
		client, err = NewAnthropicClient(opts)
	case ProviderGemini:
		client, err = NewGeminiClient(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		client = WithTimeout(client, opts.Timeout)
	}
	if opts.RequestsPerSecond > 0 {
		client = WithRateLimit(client, opts.RequestsPerSecond)
	}
	return client, nil
}

// splitSystem separates the first system message from the conversation turns.
func splitSystem(messages []Message) (string, []Message, error) {
	if len(messages) == 0 {
		return "", nil, ErrNoMessages
	}
	var (
		system  string
		turns   = make([]Message, 0, len(messages))
		hasUser bool
	)
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if system == "" {
				system = msg.Content
			}
			continue
		case RoleUser:
			hasUser = true
		}
		turns = append(turns, msg)
	}
	if !hasUser {
		return "", nil, ErrNoUserMessage
	}
	return system, turns, nil
}
