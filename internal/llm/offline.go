package llm

import (
	"context"
	"fmt"
	"strings"
)

const offlineExcerptLen = 400

// OfflineClient answers without calling a model. The reply is derived from
// the prompt so runs are reproducible in development and tests.
type OfflineClient struct{}

func NewOfflineClient() *OfflineClient { return &OfflineClient{} }

func (c *OfflineClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("offline: %w", err)
	}
	system, turns, err := splitSystem(messages)
	if err != nil {
		return "", err
	}
	var prompt string
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			prompt = turns[i].Content
			break
		}
	}

	var b strings.Builder
	if role := firstLine(system); role != "" {
		fmt.Fprintf(&b, "## %s\n\n", role)
	}
	fmt.Fprintf(&b, "Offline analysis of: %s\n\n", firstLine(prompt))
	excerpt := strings.Join(strings.Fields(prompt), " ")
	if runes := []rune(excerpt); len(runes) > offlineExcerptLen {
		excerpt = string(runes[:offlineExcerptLen]) + "..."
	}
	b.WriteString("> ")
	b.WriteString(excerpt)
	b.WriteString("\n")
	return b.String(), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
