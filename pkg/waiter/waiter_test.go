package waiter_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anton-kulagin/chromy/pkg/deadline"
	"github.com/anton-kulagin/chromy/pkg/waiter"
)

// fakeEval records evaluated expressions and plays back scripted results.
type fakeEval struct {
	mu      sync.Mutex
	exprs   []string
	results []interface{}
	err     error
	calls   int
}

func (f *fakeEval) eval(ctx context.Context, expr string) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exprs = append(f.exprs, expr)
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx], nil
}

func (f *fakeEval) evaluated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.exprs))
	copy(out, f.exprs)
	return out
}

func newTestWaiter(eval waiter.EvalFunc) *waiter.Waiter {
	exec := deadline.NewExecutor(10*time.Millisecond, zap.NewNop())
	return waiter.New(eval, exec, 10*time.Millisecond, zap.NewNop())
}

func TestWait_Delay(t *testing.T) {
	w := newTestWaiter(nil)

	start := time.Now()
	err := w.Wait(context.Background(), waiter.Delay(50*time.Millisecond), 0)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWait_DelayRespectsContext(t *testing.T) {
	w := newTestWaiter(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := w.Wait(ctx, waiter.Delay(5*time.Second), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWait_PredicateResolvesWhenTruthy(t *testing.T) {
	eval := &fakeEval{results: []interface{}{false, false, true}}
	w := newTestWaiter(eval.eval)

	err := w.Wait(context.Background(), waiter.Predicate("window.ready"), time.Second)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(eval.evaluated()), 3)
	assert.Equal(t, "window.ready", eval.evaluated()[0])
}

func TestWait_PredicateTimesOut(t *testing.T) {
	eval := &fakeEval{results: []interface{}{false}}
	w := newTestWaiter(eval.eval)

	err := w.Wait(context.Background(), waiter.Predicate("window.never"), 100*time.Millisecond)
	require.Error(t, err)

	var wte *waiter.WaitTimeoutError
	require.ErrorAs(t, err, &wte)
	assert.Equal(t, 100*time.Millisecond, wte.Timeout)
}

func TestWait_PredicateErrorPropagatesUnchanged(t *testing.T) {
	boom := fmt.Errorf("websocket torn down")
	eval := &fakeEval{err: boom}
	w := newTestWaiter(eval.eval)

	err := w.Wait(context.Background(), waiter.Predicate("x"), time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var wte *waiter.WaitTimeoutError
	assert.False(t, errors.As(err, &wte), "collaborator errors are not timeouts")
}

func TestWait_SelectorResolves(t *testing.T) {
	eval := &fakeEval{results: []interface{}{false, true}}
	w := newTestWaiter(eval.eval)

	err := w.Wait(context.Background(), waiter.Selector("#login"), time.Second)
	require.NoError(t, err)

	// The lookup expression embeds the selector as a JSON-encoded literal.
	require.NotEmpty(t, eval.evaluated())
	assert.Equal(t, `document.querySelector("#login") !== null`, eval.evaluated()[0])
}

func TestWait_SelectorEscapesQuotes(t *testing.T) {
	eval := &fakeEval{results: []interface{}{true}}
	w := newTestWaiter(eval.eval)

	err := w.Wait(context.Background(), waiter.Selector(`input[name="q"]`), time.Second)
	require.NoError(t, err)

	require.NotEmpty(t, eval.evaluated())
	assert.Equal(t, `document.querySelector("input[name=\"q\"]") !== null`, eval.evaluated()[0])
}

func TestWait_SelectorNeverPresentTimesOutWithinOneTick(t *testing.T) {
	eval := &fakeEval{results: []interface{}{false}}
	w := newTestWaiter(eval.eval)
	timeout := 100 * time.Millisecond

	start := time.Now()
	err := w.Wait(context.Background(), waiter.Selector("#ghost"), timeout)
	elapsed := time.Since(start)

	var wte *waiter.WaitTimeoutError
	require.ErrorAs(t, err, &wte)

	// No earlier than the timeout and no later than timeout plus a couple of
	// poll intervals.
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+100*time.Millisecond)
}

func TestWait_HangingEvaluationDegradesToRetry(t *testing.T) {
	// The first attempt hangs well past the 1 s attempt bound; subsequent
	// attempts answer promptly. The wait must survive the hang and resolve.
	var calls int
	var mu sync.Mutex
	eval := func(ctx context.Context, expr string) (interface{}, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			select {
			case <-time.After(10 * time.Second):
			case <-ctx.Done():
			}
			return nil, ctx.Err()
		}
		return true, nil
	}
	w := newTestWaiter(eval)

	err := w.Wait(context.Background(), waiter.Predicate("window.flag"), 5*time.Second)
	require.NoError(t, err)
}

func TestSpec_Kind(t *testing.T) {
	assert.Equal(t, waiter.KindDelay, waiter.Delay(time.Second).Kind())
	assert.Equal(t, waiter.KindPredicate, waiter.Predicate("x").Kind())
	assert.Equal(t, waiter.KindSelector, waiter.Selector("#x").Kind())
}
