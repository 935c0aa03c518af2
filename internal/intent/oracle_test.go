package intent_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/biosentry/biosentry/internal/intent"
	"github.com/biosentry/biosentry/internal/resilience"
)

// fakeCompleter is a mock implementation of [intent.Completer]. Set Reply or
// Err before use; CallCount records invocations.
type fakeCompleter struct {
	mu sync.Mutex

	Reply string
	Err   error
	Delay time.Duration

	CallCount int
}

func (f *fakeCompleter) Complete(ctx context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	f.CallCount++
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.Reply, f.Err
}

func newOracle(completer intent.Completer) *intent.Oracle {
	return intent.New(intent.Options{
		Completer:   completer,
		Timeout:     50 * time.Millisecond,
		YesKeywords: []string{"yes", "yeah", "sure"},
		NoKeywords:  []string{"no", "nope", "cancel"},
	})
}

func TestAskUsesLLMReplyWhenParseable(t *testing.T) {
	c := &fakeCompleter{Reply: "Yes, that is correct."}
	o := newOracle(c)

	label, err := o.Ask(context.Background(), "mhm sounds right")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if label != intent.Affirmative {
		t.Errorf("label = %v, want affirmative", label)
	}
	if c.CallCount != 1 {
		t.Errorf("CallCount = %d, want 1", c.CallCount)
	}
}

func TestAskFallsBackToKeywordsOnLLMError(t *testing.T) {
	c := &fakeCompleter{Err: errors.New("connection refused")}
	o := newOracle(c)

	label, err := o.Ask(context.Background(), "yeah let's do it")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if label != intent.Affirmative {
		t.Errorf("label = %v, want affirmative from keyword fallback", label)
	}
}

func TestAskFallsBackToKeywordsOnTimeout(t *testing.T) {
	c := &fakeCompleter{Reply: "yes", Delay: 200 * time.Millisecond}
	o := newOracle(c)

	label, err := o.Ask(context.Background(), "nope, cancel that")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if label != intent.Negative {
		t.Errorf("label = %v, want negative from keyword fallback", label)
	}
}

func TestAskFallsBackToKeywordsOnUnparseableReply(t *testing.T) {
	c := &fakeCompleter{Reply: "I'm not sure what you mean by that question."}
	o := newOracle(c)

	label, err := o.Ask(context.Background(), "whatever you think is fine")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if label != intent.Unclear {
		t.Errorf("label = %v, want unclear (no keyword match either)", label)
	}
}

func TestAskNoCompleterConfiguredUsesKeywordsOnly(t *testing.T) {
	o := newOracle(nil)

	label, err := o.Ask(context.Background(), "sure, go ahead")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if label != intent.Affirmative {
		t.Errorf("label = %v, want affirmative", label)
	}
}

func TestAskDestructiveMapsUnclearToNegative(t *testing.T) {
	c := &fakeCompleter{Reply: "maybe, hard to say"}
	o := newOracle(c)

	if got := o.AskDestructive(context.Background(), "I dunno"); got != intent.Negative {
		t.Errorf("AskDestructive = %v, want negative (Unclear→Negative safety rule)", got)
	}
}

func TestAskDestructivePreservesAffirmative(t *testing.T) {
	c := &fakeCompleter{Reply: "yes"}
	o := newOracle(c)

	if got := o.AskDestructive(context.Background(), "confirmed"); got != intent.Affirmative {
		t.Errorf("AskDestructive = %v, want affirmative", got)
	}
}

func TestAskFallsBackWhenBreakerOpen(t *testing.T) {
	c := &fakeCompleter{Err: errors.New("llm down")}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	o := intent.New(intent.Options{
		Completer:   c,
		Timeout:     50 * time.Millisecond,
		YesKeywords: []string{"yes"},
		NoKeywords:  []string{"no"},
		Breaker:     breaker,
	})

	// First call trips the breaker via one failure (MaxFailures=1).
	if _, err := o.Ask(context.Background(), "no"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if c.CallCount != 1 {
		t.Fatalf("CallCount after first Ask = %d, want 1", c.CallCount)
	}

	// Second call should short-circuit on the open breaker without invoking
	// the completer again, still resolving via keyword fallback.
	label, err := o.Ask(context.Background(), "no thanks")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if label != intent.Negative {
		t.Errorf("label = %v, want negative", label)
	}
	if c.CallCount != 1 {
		t.Errorf("CallCount after second Ask = %d, want still 1 (breaker open)", c.CallCount)
	}
}
