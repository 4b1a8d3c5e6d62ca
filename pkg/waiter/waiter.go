// Package waiter resolves wait requests against the remote page: a fixed
// delay, a predicate expression becoming truthy, or a selector target
// appearing. Every remote evaluation attempt is itself deadline-bounded so a
// single stuck evaluation degrades to "try again" instead of stalling the
// whole wait.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/anton-kulagin/chromy/pkg/deadline"
	"github.com/anton-kulagin/chromy/pkg/jsinject"
)

// selectorTemplate is the lookup expression built for target-presence waits.
// The selector is substituted as a JSON-encoded literal, so untrusted
// selector text cannot break out of the expression.
const selectorTemplate = `document.querySelector({{selector}}) !== null`

// attemptTimeout bounds each individual predicate evaluation.
const attemptTimeout = 1 * time.Second

// Kind discriminates the wait request variants.
type Kind int

const (
	KindDelay Kind = iota
	KindPredicate
	KindSelector
)

// Spec is the tagged union over the accepted wait arguments. Construct it
// with Delay, Predicate, or Selector; it is immutable afterwards.
type Spec struct {
	kind     Kind
	delay    time.Duration
	expr     string
	selector string
}

// Delay waits for a fixed duration. It always succeeds.
func Delay(d time.Duration) Spec { return Spec{kind: KindDelay, delay: d} }

// Predicate waits until the expression evaluates truthy in the remote page.
func Predicate(expr string) Spec { return Spec{kind: KindPredicate, expr: expr} }

// Selector waits until the selector matches an element in the remote page.
func Selector(sel string) Spec { return Spec{kind: KindSelector, selector: sel} }

// Kind reports which variant this spec is.
func (s Spec) Kind() Kind { return s.kind }

func (s Spec) describe() string {
	switch s.kind {
	case KindDelay:
		return fmt.Sprintf("delay %v", s.delay)
	case KindPredicate:
		return fmt.Sprintf("predicate %q", s.expr)
	case KindSelector:
		return fmt.Sprintf("selector %q", s.selector)
	default:
		return "unknown"
	}
}

// WaitTimeoutError reports that a wait did not resolve within its timeout.
type WaitTimeoutError struct {
	Spec    string
	Timeout time.Duration
	Cause   error
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("wait for %s timed out after %v", e.Spec, e.Timeout)
}

// Unwrap exposes the underlying generic timeout, if any, for errors.As.
func (e *WaitTimeoutError) Unwrap() error { return e.Cause }

// EvalFunc evaluates an expression in the remote page and returns its value.
type EvalFunc func(ctx context.Context, expr string) (interface{}, error)

// Waiter resolves Specs against the remote page.
type Waiter struct {
	eval   EvalFunc
	exec   *deadline.Executor
	poll   time.Duration
	logger *zap.Logger
}

// New builds a Waiter polling at the given interval. A non-positive interval
// falls back to deadline.DefaultTick.
func New(eval EvalFunc, exec *deadline.Executor, poll time.Duration, logger *zap.Logger) *Waiter {
	if poll <= 0 {
		poll = deadline.DefaultTick
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Waiter{eval: eval, exec: exec, poll: poll, logger: logger}
}

// Wait resolves the spec, bounded by timeout. The bound applies uniformly to
// predicate and selector waits; a zero timeout opts into an unbounded loop
// that only ends when the condition holds or ctx is done. Exceeding the bound
// fails with *WaitTimeoutError no later than timeout plus one poll interval.
func (w *Waiter) Wait(ctx context.Context, spec Spec, timeout time.Duration) error {
	switch spec.kind {
	case KindDelay:
		return w.sleep(ctx, spec.delay)
	case KindPredicate:
		return w.pollUntil(ctx, spec, spec.expr, timeout, true)
	case KindSelector:
		expr, err := jsinject.ExpandTemplate(selectorTemplate, map[string]interface{}{
			"selector": spec.selector,
		})
		if err != nil {
			return fmt.Errorf("failed to build selector expression: %w", err)
		}
		return w.pollUntil(ctx, spec, expr, timeout, false)
	default:
		return fmt.Errorf("unknown wait spec kind %d", spec.kind)
	}
}

// sleep is a context-aware fixed delay.
func (w *Waiter) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pollUntil repeatedly evaluates expr until it is truthy. With boundAttempts each
// evaluation runs under the executor's 1 s attempt deadline; an attempt that
// times out counts as "not yet", any other evaluation error propagates
// unchanged.
func (w *Waiter) pollUntil(ctx context.Context, spec Spec, expr string, timeout time.Duration, boundAttempts bool) error {
	start := time.Now()

	for {
		value, err := w.attempt(ctx, expr, boundAttempts)
		switch {
		case err == nil:
			if truthy(value) {
				return nil
			}
		case isAttemptTimeout(err):
			w.logger.Debug("Evaluation attempt timed out; retrying.", zap.String("spec", spec.describe()))
		default:
			return err
		}

		if timeout > 0 && time.Since(start) >= timeout {
			return &WaitTimeoutError{Spec: spec.describe(), Timeout: timeout}
		}

		if err := w.sleep(ctx, w.poll); err != nil {
			return err
		}
	}
}

func (w *Waiter) attempt(ctx context.Context, expr string, bound bool) (interface{}, error) {
	if !bound {
		return w.eval(ctx, expr)
	}
	return w.exec.Run(ctx, "wait-evaluate", attemptTimeout, func(ctx context.Context) (interface{}, error) {
		return w.eval(ctx, expr)
	})
}

func isAttemptTimeout(err error) bool {
	var te *deadline.TimeoutError
	return errors.As(err, &te)
}

// truthy follows JavaScript truthiness for the value shapes the evaluate
// call can produce.
func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	default:
		// Objects and arrays are truthy regardless of contents.
		return true
	}
}
