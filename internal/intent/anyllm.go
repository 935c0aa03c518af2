package intent

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

// AnyLLMCompleter implements [Completer] over
// github.com/mozilla-ai/any-llm-go, the same multi-backend dispatch library
// the teacher's pkg/provider/llm/anyllm package wraps, narrowed here to a
// single non-streaming completion call per turn — the intent oracle never
// needs partial tokens or tool calls, only the finished reply text.
type AnyLLMCompleter struct {
	backend anyllmlib.Provider
	model   string
}

// NewAnyLLMCompleter constructs a completer backed by providerName (one of
// "openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq",
// "llamacpp") and model. Without an explicit API-key option, each backend
// falls back to its provider-specific environment variable.
func NewAnyLLMCompleter(providerName, model string, opts ...anyllmlib.Option) (*AnyLLMCompleter, error) {
	if model == "" {
		return nil, fmt.Errorf("intent: model must not be empty")
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("intent: create %q backend: %w", providerName, err)
	}
	return &AnyLLMCompleter{backend: backend, model: model}, nil
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai", "":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", providerName)
	}
}

// Complete implements [Completer].
func (c *AnyLLMCompleter) Complete(ctx context.Context, systemPrompt, utterance string) (string, error) {
	params := anyllmlib.CompletionParams{
		Model: c.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: utterance},
		},
	}

	resp, err := c.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("intent: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("intent: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}
