// Package llm wraps a one-shot text completion call against Anthropic's
// API, with the response-parsing tolerance the pipeline's extractors
// need: a JSON envelope around an expected array, or plain text in one
// of a few documented formats.
package llm

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentops-ai/ao/internal/pipelineerrors"
)

const (
	defaultModel     = anthropic.ModelClaude3_7SonnetLatest
	defaultMaxTokens = int64(2048)
	defaultTimeout   = 120 * time.Second
)

// Client is a one-shot completion adapter. The zero value is not usable;
// construct with New.
type Client struct {
	api       anthropic.Client
	model     anthropic.Model
	maxTokens int64
	timeout   time.Duration
}

// New builds a Client from an API key (ANTHROPIC_API_KEY by convention;
// the caller resolves the key before calling New).
func New(apiKey string) *Client {
	return &Client{
		api:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
		timeout:   defaultTimeout,
	}
}

// Complete issues one system+user completion call and returns the
// concatenated text of the response's content blocks. Every failure
// (transport, API, empty response) is wrapped as an LLMError.
func (c *Client) Complete(ctx context.Context, op, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", &pipelineerrors.LLMError{Op: op, Err: err}
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", &pipelineerrors.LLMError{Op: op, Err: errEmptyResponse}
	}
	return text, nil
}

var errEmptyResponse = emptyResponseError{}

type emptyResponseError struct{}

func (emptyResponseError) Error() string { return "llm returned no text content" }

var jsonArray = regexp.MustCompile(`\[[^\[\]]*\]`)

// ExtractIntArray pulls the first bracketed array with no nested brackets
// out of a possibly-wrapped response (e.g. "Here are the scores: [3, 7, 5]"
// or {"scores": [3, 7, 5]}). It tolerates any surrounding prose or
// envelope object. It reports false when no bracketed array is present,
// or when that array's contents are not all integers.
func ExtractIntArray(text string) ([]int, bool) {
	loc := jsonArray.FindString(text)
	if loc == "" {
		return nil, false
	}

	inner := strings.Trim(loc, "[]")
	if strings.TrimSpace(inner) == "" {
		return []int{}, true
	}

	parts := strings.Split(inner, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, ok := parseInt(strings.TrimSpace(p))
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

func parseInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	neg := false
	i := 0
	if s[0] == '-' {
		neg = true
		i = 1
	}
	if i >= len(s) {
		return 0, false
	}
	n := 0
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		n = n*10 + int(s[i]-'0')
	}
	if neg {
		n = -n
	}
	return n, true
}

// ExtractField pulls a "KEY: value" line's value out of text, stopping
// at a blank line, the next recognized field label, or end of text. Used for the
// ROOT_CAUSE / REFLECTION / PREVENTION_RULE extraction format.
func ExtractField(text, key string) (string, bool) {
	lines := strings.Split(text, "\n")
	prefix := key + ":"
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, prefix) {
			continue
		}
		value := strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
		for j := i + 1; j < len(lines); j++ {
			next := strings.TrimSpace(lines[j])
			if next == "" || isFieldLabel(next) {
				break
			}
			value = strings.TrimSpace(value + " " + next)
		}
		if value != "" {
			return value, true
		}
	}
	return "", false
}

var fieldLabels = []string{"ROOT_CAUSE:", "REFLECTION:", "PREVENTION_RULE:"}

func isFieldLabel(line string) bool {
	for _, l := range fieldLabels {
		if strings.HasPrefix(line, l) {
			return true
		}
	}
	return false
}
