// Package tagchan establishes logically private message streams over a
// transport that only broadcasts free-form console text lines. Each stream is
// scoped by a high-entropy tag; the remote side emits lines of the form
// "<tag>:<json-payload>" and the channel routes them by exact prefix match.
// Lines matching no active tag stay visible to the raw console observers.
package tagchan

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/anton-kulagin/chromy/pkg/jsinject"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// reporterTemplate is the remote reporting function installed per stream. It
// serializes its arguments to JSON and funnels them through the console
// transport under the stream's tag. A single argument is reported bare, more
// than one as an array.
const reporterTemplate = `
var payload = [];
for (var i = 0; i < arguments.length; i++) { payload.push(arguments[i]); }
console.info({{tag}} + ":" + JSON.stringify(payload.length === 1 ? payload[0] : payload));`

// Handler receives one decoded payload from a stream.
type Handler func(payload interface{})

// Observer receives raw console lines that belong to no active stream.
type Observer func(line string)

// Channel multiplexes tagged message streams over the shared line transport.
// Multiple concurrent streams are supported with independent routing; tags
// are uuid-sized so two streams can never collide.
type Channel struct {
	injector *jsinject.Injector
	logger   *zap.Logger

	mu        sync.RWMutex
	streams   map[string]Handler
	observers []Observer
}

// New builds a Channel that installs reporters through injector. The caller
// must wire HandleLine into the transport's line broadcast.
func New(injector *jsinject.Injector, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		injector: injector,
		logger:   logger,
		streams:  make(map[string]Handler),
	}
}

// Subscribe opens a new stream: it generates a fresh tag, installs a remote
// reporting function under fnName whose invocations are funneled through the
// console transport, and routes matching lines to handler. It returns the
// tag, which retires the stream when passed to Unsubscribe.
func (c *Channel) Subscribe(ctx context.Context, fnName string, handler Handler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler must not be nil")
	}

	tag := uuid.NewString()
	body, err := jsinject.ExpandTemplate(reporterTemplate, map[string]interface{}{"tag": tag})
	if err != nil {
		return "", fmt.Errorf("failed to build reporter body: %w", err)
	}

	reporter := jsinject.Function{Name: fnName, Body: body}
	if err := c.injector.InstallFunctions(ctx, reporter); err != nil {
		return "", fmt.Errorf("failed to install reporter %q: %w", fnName, err)
	}

	c.mu.Lock()
	c.streams[tag] = handler
	c.mu.Unlock()

	c.logger.Debug("Stream subscribed.", zap.String("tag", tag), zap.String("function", fnName))
	return tag, nil
}

// Unsubscribe retires a stream. Lines still emitted under the tag fall
// through to the raw observers afterwards. The remote reporter function is
// left in place; the host holds no record of what is installed.
func (c *Channel) Unsubscribe(tag string) {
	c.mu.Lock()
	delete(c.streams, tag)
	c.mu.Unlock()
}

// Observe registers a raw console observer. Observers see every line that
// matches no active stream's tag prefix.
func (c *Channel) Observe(obs Observer) {
	if obs == nil {
		return
	}
	c.mu.Lock()
	c.observers = append(c.observers, obs)
	c.mu.Unlock()
}

// HandleLine routes one console line. Decoding failures and handler panics
// are diverted to the diagnostic log and never propagate into the transport
// listener; subsequent lines keep flowing.
func (c *Channel) HandleLine(line string) {
	c.mu.RLock()
	var handler Handler
	var tag string
	for t, h := range c.streams {
		if strings.HasPrefix(line, t+":") {
			tag, handler = t, h
			break
		}
	}
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.mu.RUnlock()

	if handler == nil {
		for _, obs := range observers {
			c.deliverRaw(obs, line)
		}
		return
	}

	payload := strings.TrimPrefix(line, tag+":")
	var decoded interface{}
	if err := json.UnmarshalFromString(payload, &decoded); err != nil {
		c.logger.Warn("Discarding malformed stream payload.",
			zap.String("tag", tag),
			zap.String("payload", payload),
			zap.Error(err))
		return
	}
	c.deliver(handler, tag, decoded)
}

func (c *Channel) deliver(handler Handler, tag string, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Stream handler panicked.",
				zap.String("tag", tag),
				zap.Any("panic", r))
		}
	}()
	handler(payload)
}

func (c *Channel) deliverRaw(obs Observer, line string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Console observer panicked.", zap.Any("panic", r))
		}
	}()
	obs(line)
}

// ActiveStreams reports how many streams are currently routed.
func (c *Channel) ActiveStreams() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.streams)
}
