// File: pkg/browser/browser.go

// Package browser binds chromy.Session to a real Chrome-family engine over
// the DevTools protocol using chromedp. It either launches a browser process
// or attaches to a running one's remote debugging endpoint.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/anton-kulagin/chromy/pkg/chromy"
)

// Options control how the engine is launched or attached to.
type Options struct {
	// RemoteURL attaches to an already-running engine's debugging endpoint
	// (ws:// or http://host:port) instead of launching one.
	RemoteURL   string
	ExecPath    string
	UserDataDir string
	Headless    bool
	NoSandbox   bool
	Logger      *zap.Logger
}

// Session is the chromedp-backed implementation of chromy.Session.
type Session struct {
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger

	mu       sync.Mutex
	subs     []func(line string)
	lines    chan string
	closed   bool
	dispatch sync.WaitGroup
}

var _ chromy.Session = (*Session)(nil)

// Connect establishes a session against one remote target: a fresh tab of a
// launched or attached engine, with the protocol connection up.
func Connect(ctx context.Context, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc

	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, opts.RemoteURL)
	} else {
		allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		allocOpts = append(allocOpts, chromedp.Flag("headless", opts.Headless))
		if opts.ExecPath != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
		}
		if opts.UserDataDir != "" {
			allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
		}
		if opts.NoSandbox {
			allocOpts = append(allocOpts, chromedp.NoSandbox)
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, allocOpts...)
	}

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Force target creation and protocol attachment now, not lazily.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to connect to browser target: %w", err)
	}

	s := &Session{
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
		logger:      opts.Logger.Named("browser"),
		lines:       make(chan string, 256),
	}

	// Console lines are rendered on the protocol event goroutine and handed
	// to a single dispatcher, preserving emission order for every listener.
	s.dispatch.Add(1)
	go s.dispatchLines()
	chromedp.ListenTarget(tabCtx, s.handleEvent)

	return s, nil
}

// run executes chromedp actions respecting both the session lifetime and the
// incoming request context.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate starts loading url. Waiting for the load event is the caller's
// concern (AwaitLoadEvent), not part of this call.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errText != "" {
			return fmt.Errorf("navigation to %q failed: %s", url, errText)
		}
		return nil
	}))
}

// AwaitLoadEvent blocks until the page fires its load event or ctx is done.
func (s *Session) AwaitLoadEvent(ctx context.Context) error {
	fired := make(chan struct{}, 1)
	listenCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			select {
			case fired <- struct{}{}:
			default:
			}
		}
	})

	select {
	case <-fired:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// Evaluate runs an expression in the page context with promises awaited and
// the value returned by value. An absent result yields a nil Value, not an
// error; a thrown exception is an error.
func (s *Session) Evaluate(ctx context.Context, expression string) (*chromy.RemoteValue, error) {
	var remote *runtime.RemoteObject
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, exc, err := runtime.Evaluate(expression).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("evaluation exception: %s", exceptionText(exc))
		}
		remote = obj
		return nil
	}))
	if err != nil {
		return nil, err
	}

	rv := &chromy.RemoteValue{}
	if remote == nil {
		return rv, nil
	}
	rv.Type = string(remote.Type)
	if len(remote.Value) == 0 || string(remote.Value) == "null" {
		return rv, nil
	}
	if err := json.Unmarshal(remote.Value, &rv.Value); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation result: %w", err)
	}
	return rv, nil
}

func exceptionText(exc *runtime.ExceptionDetails) string {
	if exc.Exception != nil && exc.Exception.Description != "" {
		return exc.Exception.Description
	}
	return exc.Text
}

// SubscribeLogLines registers a console-line listener. Every line reaches
// every listener, in emission order.
func (s *Session) SubscribeLogLines(handler func(line string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, handler)
}

// handleEvent renders console API calls into text lines for the dispatcher.
// It runs on chromedp's event goroutine and must not block: when the line
// buffer is full the line is dropped, matching the transport's best-effort
// delivery contract.
func (s *Session) handleEvent(ev interface{}) {
	e, ok := ev.(*runtime.EventConsoleAPICalled)
	if !ok {
		return
	}
	line := renderConsoleArgs(e.Args)

	// The mutex spans the send so Close cannot close the channel between the
	// closed check and the send.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.lines <- line:
	default:
		s.logger.Warn("Console line buffer full; dropping line.")
	}
}

func (s *Session) dispatchLines() {
	defer s.dispatch.Done()
	for line := range s.lines {
		s.mu.Lock()
		subs := make([]func(string), len(s.subs))
		copy(subs, s.subs)
		s.mu.Unlock()

		for _, sub := range subs {
			sub(line)
		}
	}
}

// renderConsoleArgs joins a console call's arguments the way the terminal
// shows them: string arguments bare, everything else as its JSON form.
func renderConsoleArgs(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		if arg.Type == runtime.TypeString {
			var str string
			if err := json.Unmarshal(arg.Value, &str); err == nil {
				parts = append(parts, str)
				continue
			}
		}
		parts = append(parts, string(arg.Value))
	}
	return strings.Join(parts, " ")
}

// DispatchKeyEvent sends keystrokes to the focused element.
func (s *Session) DispatchKeyEvent(ctx context.Context, keys string) error {
	return s.run(ctx, chromedp.KeyEvent(keys))
}

// CaptureScreenshot returns the current viewport as PNG bytes.
func (s *Session) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// PrintToPDF renders the current page as PDF bytes.
func (s *Session) PrintToPDF(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// SetDeviceMetrics overrides the viewport geometry.
func (s *Session) SetDeviceMetrics(ctx context.Context, width, height int64, scale float64, mobile bool) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return emulation.SetDeviceMetricsOverride(width, height, scale, mobile).Do(ctx)
	}))
}

// SetUserAgent overrides the user agent string.
func (s *Session) SetUserAgent(ctx context.Context, userAgent string) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return emulation.SetUserAgentOverride(userAgent).Do(ctx)
	}))
}

// SetExtraHeaders attaches headers to every outgoing request.
func (s *Session) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return s.run(ctx, network.Enable(), network.SetExtraHTTPHeaders(h))
}

// Close detaches from the target and shuts the line dispatcher down. Safe to
// call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.lines)
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	s.cancel()
	s.allocCancel()
	s.dispatch.Wait()
	return nil
}

// combineContext cancels the derived context when either input ends. The
// chromedp calls need s.ctx's values; the request context contributes its
// deadline and cancellation.
func combineContext(parent, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
