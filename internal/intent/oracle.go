// Package intent implements the Intent Oracle (C11): classifying a
// transcribed user utterance as Affirmative, Negative, or Unclear, backed
// by an LLM with a deterministic keyword fallback when the model is
// unreachable, times out, or returns an unparseable reply.
package intent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/biosentry/biosentry/internal/observe"
	"github.com/biosentry/biosentry/internal/resilience"
)

// Label is the three-way classification an Oracle returns.
type Label int

const (
	Unclear Label = iota
	Affirmative
	Negative
)

func (l Label) String() string {
	switch l {
	case Affirmative:
		return "affirmative"
	case Negative:
		return "negative"
	default:
		return "unclear"
	}
}

// Completer sends a single system-instruction-plus-utterance prompt to an
// LLM and returns its raw text reply. Grounded on llm.Provider.Complete
// (pkg/provider/llm), narrowed to the one-shot yes/no/unclear classification
// C11 needs instead of the full streaming/tool-calling surface.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, utterance string) (string, error)
}

const defaultSystemPrompt = "You are a yes/no intent classifier for a voice assistant. " +
	"Given the user's utterance, respond with exactly one word: " +
	"\"yes\" if they are affirming or agreeing, \"no\" if they are declining or " +
	"disagreeing, or \"unclear\" if neither applies. Do not explain your answer."

// Options configures [New].
type Options struct {
	Completer   Completer
	Timeout     time.Duration // default 5s
	YesKeywords []string
	NoKeywords  []string
	Breaker     *resilience.CircuitBreaker // optional; created with defaults if nil
}

// Oracle classifies utterances per spec §4.11: primary LLM path with a
// circuit breaker, falling back to keyword matching on any failure.
type Oracle struct {
	completer   Completer
	timeout     time.Duration
	yesKeywords []string
	noKeywords  []string
	breaker     *resilience.CircuitBreaker
}

// New constructs an Oracle. opts.Completer may be nil, in which case Ask
// always falls back to keyword matching (useful when no LLM endpoint is
// configured).
func New(opts Options) *Oracle {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "intent-oracle-llm"})
	}
	return &Oracle{
		completer:   opts.Completer,
		timeout:     timeout,
		yesKeywords: opts.YesKeywords,
		noKeywords:  opts.NoKeywords,
		breaker:     breaker,
	}
}

// Ask classifies utterance and returns Unclear as is. Destructive flows
// (deletion, final confirmations) use [Oracle.AskDestructive] instead,
// which maps Unclear to Negative. The error is always nil.
func (o *Oracle) Ask(ctx context.Context, utterance string) (Label, error) {
	label := o.ask(ctx, utterance)
	return label, nil
}

// AskDestructive is Ask with the Unclear→Negative safety rule applied.
func (o *Oracle) AskDestructive(ctx context.Context, utterance string) Label {
	label := o.ask(ctx, utterance)
	if label == Unclear {
		return Negative
	}
	return label
}

func (o *Oracle) ask(ctx context.Context, utterance string) Label {
	if label, ok := o.askLLM(ctx, utterance); ok {
		return label
	}
	return o.askKeywords(utterance)
}

// askLLM attempts the primary LLM path. The second return value is false
// if the breaker is open, the call errors or times out, or the reply is
// unparseable — in all of those cases the caller falls back to keywords.
func (o *Oracle) askLLM(ctx context.Context, utterance string) (Label, bool) {
	if o.completer == nil {
		return Unclear, false
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var reply string
	start := time.Now()
	err := o.breaker.Execute(func() error {
		r, err := o.completer.Complete(callCtx, defaultSystemPrompt, utterance)
		if err != nil {
			return fmt.Errorf("intent: llm completion: %w", err)
		}
		reply = r
		return nil
	})
	observe.DefaultMetrics().LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		observe.DefaultMetrics().RecordProviderError(ctx, "intent-oracle-llm", "completion")
		observe.DefaultMetrics().RecordProviderRequest(ctx, "intent-oracle-llm", "completion", "error")
		return Unclear, false
	}

	label, ok := parseReply(reply)
	status := "ok"
	if !ok {
		status = "unparseable"
	}
	observe.DefaultMetrics().RecordProviderRequest(ctx, "intent-oracle-llm", "completion", status)
	return label, ok
}

// parseReply maps the model's free-text reply to a label by taking the
// first recognized token; anything unrecognized (including empty replies)
// is treated as unparseable.
func parseReply(reply string) (Label, bool) {
	for _, word := range strings.Fields(reply) {
		w := strings.ToLower(strings.Trim(word, ".,!?\"'"))
		switch w {
		case "yes", "affirmative":
			return Affirmative, true
		case "no", "negative":
			return Negative, true
		case "unclear":
			return Unclear, true
		}
	}
	return Unclear, false
}

// askKeywords matches utterance against the configured keyword sets.
// Anything else, including an empty utterance, maps to Unclear.
func (o *Oracle) askKeywords(utterance string) Label {
	lower := strings.ToLower(utterance)
	for _, kw := range o.yesKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return Affirmative
		}
	}
	for _, kw := range o.noKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return Negative
		}
	}
	return Unclear
}
