// File: pkg/chromy/client.go

// Package chromy is a host-side automation client for a Chrome-family
// rendering engine reached over its remote debugging protocol. The Client
// issues commands (navigate, evaluate, dispatch input) and waits for
// asynchronous conditions, bounding every wait by a timeout. Timeouts are
// advisory: a timed-out operation is abandoned on the host side, the remote
// work is not aborted and its eventual side effects remain possible.
package chromy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/anton-kulagin/chromy/pkg/deadline"
	"github.com/anton-kulagin/chromy/pkg/jsinject"
	"github.com/anton-kulagin/chromy/pkg/tagchan"
	"github.com/anton-kulagin/chromy/pkg/waiter"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// receiverFunction is the name under which Receive installs the remote
// reporting function. Page code calls it to send values back to the host.
const receiverFunction = "sendToHost"

// Options bound the client's asynchronous operations.
type Options struct {
	GotoTimeout     time.Duration
	EvaluateTimeout time.Duration
	// WaitTimeout bounds predicate and selector waits uniformly. Zero opts
	// into an unbounded loop that only ends when the condition holds.
	WaitTimeout  time.Duration
	PollInterval time.Duration
	Logger       *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.GotoTimeout <= 0 {
		o.GotoTimeout = 30 * time.Second
	}
	if o.EvaluateTimeout <= 0 {
		o.EvaluateTimeout = 20 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = deadline.DefaultTick
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Client drives one remote target. All commands and the single line listener
// multiplex over the session's one connection handle.
type Client struct {
	id     string
	sess   Session
	opts   Options
	logger *zap.Logger

	exec     *deadline.Executor
	waiter   *waiter.Waiter
	injector *jsinject.Injector
	tags     *tagchan.Channel

	closeOnce sync.Once
}

// New wires a Client around an established session.
func New(sess Session, opts Options) *Client {
	opts.applyDefaults()

	id := uuid.NewString()
	c := &Client{
		id:     id,
		sess:   sess,
		opts:   opts,
		logger: opts.Logger.With(zap.String("client_id", id)),
	}
	c.exec = deadline.NewExecutor(opts.PollInterval, c.logger.Named("deadline"))
	c.injector = jsinject.New(c.runSource, c.logger.Named("inject"))
	c.waiter = waiter.New(c.evalValue, c.exec, opts.PollInterval, c.logger.Named("waiter"))
	c.tags = tagchan.New(c.injector, c.logger.Named("tagchan"))

	// One listener multiplexes every stream; the transport broadcasts to all
	// listeners, so a concurrent raw subscriber elsewhere still sees lines.
	sess.SubscribeLogLines(c.tags.HandleLine)

	return c
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// -- Navigation --

// Goto navigates to url and waits for the page's load event, bounded by the
// goto timeout. Exceeding it fails with *GotoTimeoutError; the navigation
// itself is not aborted and may still complete afterwards.
func (c *Client) Goto(ctx context.Context, url string) error {
	c.logger.Info("Navigating.", zap.String("url", url))

	_, err := c.exec.Run(ctx, "goto", c.opts.GotoTimeout, func(ctx context.Context) (interface{}, error) {
		if err := c.sess.Navigate(ctx, url); err != nil {
			return nil, fmt.Errorf("navigation to %q failed: %w", url, err)
		}
		return nil, c.sess.AwaitLoadEvent(ctx)
	})

	var timedOut *deadline.TimeoutError
	if errors.As(err, &timedOut) {
		return &GotoTimeoutError{URL: url, Timeout: c.opts.GotoTimeout, Cause: err}
	}
	return err
}

// -- Evaluation --

// Evaluate runs an expression in the page context, bounded by the evaluate
// timeout. String results that look like JSON (leading '{' or '"') are
// opportunistically decoded; everything else passes through as-is.
func (c *Client) Evaluate(ctx context.Context, expression string) (interface{}, error) {
	result, err := c.exec.Run(ctx, "evaluate", c.opts.EvaluateTimeout, func(ctx context.Context) (interface{}, error) {
		return c.evalValue(ctx, expression)
	})

	var timedOut *deadline.TimeoutError
	if errors.As(err, &timedOut) {
		return nil, &EvaluateTimeoutError{Expression: expression, Timeout: c.opts.EvaluateTimeout, Cause: err}
	}
	return result, err
}

// evalValue evaluates without a deadline wrapper and decodes the remote
// value. The waiter uses it directly so its own attempt bounding applies.
func (c *Client) evalValue(ctx context.Context, expression string) (interface{}, error) {
	rv, err := c.sess.Evaluate(ctx, expression)
	if err != nil {
		return nil, err
	}
	return decodeRemote(rv), nil
}

// runSource submits injected source for execution, discarding the result.
func (c *Client) runSource(ctx context.Context, source string) error {
	_, err := c.sess.Evaluate(ctx, source)
	return err
}

// decodeRemote applies the opportunistic JSON decode to string results.
func decodeRemote(rv *RemoteValue) interface{} {
	if rv == nil || rv.Value == nil {
		return nil
	}
	s, ok := rv.Value.(string)
	if !ok || rv.Type != "string" {
		return rv.Value
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, `"`) {
		var decoded interface{}
		if err := json.UnmarshalFromString(s, &decoded); err == nil {
			return decoded
		}
	}
	return s
}

// -- Waiting --

// Sleep waits a fixed duration. It always succeeds unless ctx ends first.
func (c *Client) Sleep(ctx context.Context, d time.Duration) error {
	return c.waiter.Wait(ctx, waiter.Delay(d), 0)
}

// WaitFor polls the predicate expression until it evaluates truthy, bounded
// by the wait timeout.
func (c *Client) WaitFor(ctx context.Context, expression string) error {
	return c.waiter.Wait(ctx, waiter.Predicate(expression), c.opts.WaitTimeout)
}

// WaitSelector polls until the selector matches an element, bounded by the
// wait timeout. Selector text is escaped before substitution, so untrusted
// input cannot break the generated expression.
func (c *Client) WaitSelector(ctx context.Context, selector string) error {
	return c.waiter.Wait(ctx, waiter.Selector(selector), c.opts.WaitTimeout)
}

// -- Script injection --

// Define declares a function in the remote page.
func (c *Client) Define(ctx context.Context, fn jsinject.Function) error {
	return c.injector.InstallFunctions(ctx, fn)
}

// DefineAll declares every entry of a named collection, in sorted name
// order, awaiting each declaration before the next.
func (c *Client) DefineAll(ctx context.Context, fns jsinject.Collection) error {
	return c.injector.InstallCollection(ctx, fns)
}

// InjectSource submits raw source snippets in the order given.
func (c *Client) InjectSource(ctx context.Context, sources ...string) error {
	return c.injector.Install(ctx, sources...)
}

// -- Message side-channel --

// Receive installs a "sendToHost" function in the page and routes its
// invocations back to handler, decoded from JSON. It returns the stream's
// tag for EndReceive. Concurrent streams route independently.
func (c *Client) Receive(ctx context.Context, handler tagchan.Handler) (string, error) {
	return c.tags.Subscribe(ctx, receiverFunction, handler)
}

// ReceiveAs is Receive with a caller-chosen remote function name.
func (c *Client) ReceiveAs(ctx context.Context, fnName string, handler tagchan.Handler) (string, error) {
	return c.tags.Subscribe(ctx, fnName, handler)
}

// EndReceive retires the stream identified by tag.
func (c *Client) EndReceive(tag string) {
	c.tags.Unsubscribe(tag)
}

// Console registers an observer for console output that belongs to no
// active message stream.
func (c *Client) Console(obs tagchan.Observer) {
	c.tags.Observe(obs)
}

// -- Pass-throughs --

// SendKeys dispatches keystrokes to the focused element.
func (c *Client) SendKeys(ctx context.Context, keys string) error {
	return c.sess.DispatchKeyEvent(ctx, keys)
}

// Screenshot captures the current viewport.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	return c.sess.CaptureScreenshot(ctx)
}

// PDF renders the current page to PDF.
func (c *Client) PDF(ctx context.Context) ([]byte, error) {
	return c.sess.PrintToPDF(ctx)
}

// Emulate applies a device preset: viewport metrics plus, when the preset
// carries one, the user agent.
func (c *Client) Emulate(ctx context.Context, d Device) error {
	if err := c.sess.SetDeviceMetrics(ctx, d.Width, d.Height, d.Scale, d.Mobile); err != nil {
		return fmt.Errorf("failed to apply device metrics for %q: %w", d.Name, err)
	}
	if d.UserAgent != "" {
		if err := c.sess.SetUserAgent(ctx, d.UserAgent); err != nil {
			return fmt.Errorf("failed to apply user agent for %q: %w", d.Name, err)
		}
	}
	return nil
}

// SetUserAgent overrides the user agent string.
func (c *Client) SetUserAgent(ctx context.Context, ua string) error {
	return c.sess.SetUserAgent(ctx, ua)
}

// SetExtraHeaders attaches headers to every outgoing request.
func (c *Client) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	return c.sess.SetExtraHeaders(ctx, headers)
}

// Close releases the underlying session. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.logger.Debug("Closing client.")
		err = c.sess.Close(ctx)
	})
	return err
}
