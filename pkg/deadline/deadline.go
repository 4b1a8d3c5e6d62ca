// Package deadline runs a single asynchronous unit of work bounded by a
// timeout. The work is started without blocking and its terminal state is
// polled on a fixed tick; once the deadline passes the caller gets a
// TimeoutError immediately and the work is abandoned, not cancelled. Its
// eventual result, if any, is discarded.
package deadline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTick is the polling granularity for completion and deadline checks.
// Worst-case timeout detection lags the deadline by one tick.
const DefaultTick = 50 * time.Millisecond

// State tracks the lifecycle of one bounded operation.
type State int

const (
	StatePending State = iota
	StateCompleted
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// TimeoutError reports that an operation exceeded its deadline. Higher-level
// operations re-label it with an operation-specific error type at their
// boundary, keeping this one as the wrapped cause.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %q timed out after %v", e.Op, e.Timeout)
}

// Work is one asynchronous unit of work. It receives the context the
// operation was started with; cancellation of that context is advisory only.
type Work func(ctx context.Context) (interface{}, error)

// pendingOperation holds the mutable state of one in-flight bounded call.
// It is mutated only by the goroutine running the work and read by the
// executor's polling loop; once a terminal state is observed by the single
// caller it is dropped and becomes garbage.
type pendingOperation struct {
	mu     sync.Mutex
	state  State
	result interface{}
	err    error
}

// complete records the work's own outcome. It is a no-op if the operation
// already reached a terminal state.
func (p *pendingOperation) complete(result interface{}, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePending {
		return
	}
	if err != nil {
		p.state = StateFailed
		p.err = err
		return
	}
	p.state = StateCompleted
	p.result = result
}

func (p *pendingOperation) snapshot() (State, interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.result, p.err
}

// markTimedOut flips the operation to TimedOut unless the work already
// finished. Exactly one of {result, error, timeout} holds at completion.
func (p *pendingOperation) markTimedOut() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePending {
		return false
	}
	p.state = StateTimedOut
	return true
}

// Executor runs deadline-bounded operations.
type Executor struct {
	tick   time.Duration
	logger *zap.Logger
}

// NewExecutor builds an Executor polling at the given tick. A non-positive
// tick falls back to DefaultTick.
func NewExecutor(tick time.Duration, logger *zap.Logger) *Executor {
	if tick <= 0 {
		tick = DefaultTick
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{tick: tick, logger: logger}
}

// Run starts work and polls its terminal state every tick. It returns the
// work's own result or failure if it finishes before the deadline, and a
// *TimeoutError once the deadline has passed otherwise. op names the
// operation for diagnostics. The underlying work keeps running after a
// timeout; callers must treat its eventual side effects as still possible.
func (e *Executor) Run(ctx context.Context, op string, timeout time.Duration, work Work) (interface{}, error) {
	pending := &pendingOperation{}
	start := time.Now()

	go func() {
		result, err := work(ctx)
		pending.complete(result, err)
	}()

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		state, result, err := pending.snapshot()
		switch state {
		case StateCompleted:
			return result, nil
		case StateFailed:
			return nil, err
		}

		if time.Since(start) >= timeout {
			if pending.markTimedOut() {
				e.logger.Debug("Operation exceeded deadline; abandoning work.",
					zap.String("op", op),
					zap.Duration("timeout", timeout))
				return nil, &TimeoutError{Op: op, Timeout: timeout}
			}
			// The work finished between the snapshot and the deadline check.
			continue
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
