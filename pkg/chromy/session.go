// File: pkg/chromy/session.go
package chromy

import "context"

// RemoteValue is the typed result of a remote evaluation. Type carries the
// remote runtime's type name ("string", "number", "boolean", "object",
// "undefined"); Value is the decoded Go representation, nil when the remote
// side produced no usable result.
type RemoteValue struct {
	Type  string
	Value interface{}
}

// Session is the collaborator interface the client consumes: the remote
// rendering engine reached over its debugging protocol. Implementations
// carry no coordination logic of their own; every call is a thin protocol
// pass-through. pkg/browser provides the production binding.
type Session interface {
	// Navigate starts loading url in the remote page.
	Navigate(ctx context.Context, url string) error

	// AwaitLoadEvent blocks until the page fires its load event or ctx is
	// done.
	AwaitLoadEvent(ctx context.Context) error

	// Evaluate runs an expression in the page context. Absence of a usable
	// result yields a RemoteValue with a nil Value, not an error.
	Evaluate(ctx context.Context, expression string) (*RemoteValue, error)

	// SubscribeLogLines registers a console-line listener. The transport has
	// broadcast semantics: every emitted line reaches every active listener,
	// in emission order.
	SubscribeLogLines(handler func(line string))

	// DispatchKeyEvent sends keystrokes to the focused element.
	DispatchKeyEvent(ctx context.Context, keys string) error

	// CaptureScreenshot returns the current viewport as encoded image bytes.
	CaptureScreenshot(ctx context.Context) ([]byte, error)

	// PrintToPDF renders the current page as PDF bytes.
	PrintToPDF(ctx context.Context) ([]byte, error)

	// SetDeviceMetrics overrides the viewport geometry.
	SetDeviceMetrics(ctx context.Context, width, height int64, scale float64, mobile bool) error

	// SetUserAgent overrides the user agent string.
	SetUserAgent(ctx context.Context, userAgent string) error

	// SetExtraHeaders attaches headers to every outgoing request.
	SetExtraHeaders(ctx context.Context, headers map[string]string) error

	// Close detaches from the remote target and releases its resources.
	Close(ctx context.Context) error
}
