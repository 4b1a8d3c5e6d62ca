// File: pkg/chromy/errors.go
package chromy

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/anton-kulagin/chromy/pkg/deadline"
	"github.com/anton-kulagin/chromy/pkg/waiter"
)

// Typed errors let callers classify failures with errors.As instead of
// string matching. A generic deadline timeout surfacing from an internal
// bounded call is always re-raised as the operation-specific type at the
// goto/evaluate/wait boundary, with the generic one kept as the cause.

// GotoTimeoutError reports that a navigation did not reach its load event
// within the configured goto timeout.
type GotoTimeoutError struct {
	URL     string
	Timeout time.Duration
	Cause   error
}

func (e *GotoTimeoutError) Error() string {
	return fmt.Sprintf("navigation to %q timed out after %v", e.URL, e.Timeout)
}

// Unwrap exposes the underlying generic timeout for errors.As.
func (e *GotoTimeoutError) Unwrap() error { return e.Cause }

// EvaluateTimeoutError reports that a script evaluation exceeded the
// configured evaluate timeout.
type EvaluateTimeoutError struct {
	Expression string
	Timeout    time.Duration
	Cause      error
}

func (e *EvaluateTimeoutError) Error() string {
	return fmt.Sprintf("evaluation of %q timed out after %v", truncate(e.Expression, 80), e.Timeout)
}

// Unwrap exposes the underlying generic timeout for errors.As.
func (e *EvaluateTimeoutError) Unwrap() error { return e.Cause }

// WaitTimeoutError reports that a condition wait exceeded its timeout.
type WaitTimeoutError = waiter.WaitTimeoutError

// IsTimeout reports whether err is any of the client's timeout kinds.
func IsTimeout(err error) bool {
	var (
		generic *deadline.TimeoutError
		gotoErr *GotoTimeoutError
		evalErr *EvaluateTimeoutError
		waitErr *WaitTimeoutError
	)
	return errors.As(err, &generic) ||
		errors.As(err, &gotoErr) ||
		errors.As(err, &evalErr) ||
		errors.As(err, &waitErr)
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
