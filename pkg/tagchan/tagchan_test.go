package tagchan_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/anton-kulagin/chromy/pkg/jsinject"
	"github.com/anton-kulagin/chromy/pkg/tagchan"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTransport captures installed source and lets tests emit console lines.
type fakeTransport struct {
	mu        sync.Mutex
	installed []string
}

func (f *fakeTransport) run(ctx context.Context, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installed = append(f.installed, source)
	return nil
}

func (f *fakeTransport) installedSource() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.installed))
	copy(out, f.installed)
	return out
}

func newTestChannel(t *testing.T) (*tagchan.Channel, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	injector := jsinject.New(transport.run, zap.NewNop())
	return tagchan.New(injector, zap.NewNop()), transport
}

func TestSubscribe_InstallsReporterWithTag(t *testing.T) {
	c, transport := newTestChannel(t)

	tag, err := c.Subscribe(context.Background(), "sendToHost", func(payload interface{}) {})
	require.NoError(t, err)
	require.NotEmpty(t, tag)

	installed := transport.installedSource()
	require.Len(t, installed, 1)
	assert.Contains(t, installed[0], "function sendToHost()")
	// The tag is embedded as a quoted literal, keeping the stream private to
	// holders of the tag.
	assert.Contains(t, installed[0], fmt.Sprintf("%q", tag))
	assert.Contains(t, installed[0], "console.info")
	assert.Contains(t, installed[0], "JSON.stringify")
}

func TestHandleLine_RoundTrip(t *testing.T) {
	c, _ := newTestChannel(t)

	var got interface{}
	tag, err := c.Subscribe(context.Background(), "sendToHost", func(payload interface{}) {
		got = payload
	})
	require.NoError(t, err)

	c.HandleLine(tag + `:{"a":1}`)

	require.NotNil(t, got)
	decoded, ok := got.(map[string]interface{})
	require.True(t, ok, "payload should decode to a map")
	assert.Equal(t, float64(1), decoded["a"])
}

func TestHandleLine_IndependentStreams(t *testing.T) {
	c, _ := newTestChannel(t)

	var gotX, gotY []interface{}
	tagX, err := c.Subscribe(context.Background(), "reportX", func(p interface{}) { gotX = append(gotX, p) })
	require.NoError(t, err)
	tagY, err := c.Subscribe(context.Background(), "reportY", func(p interface{}) { gotY = append(gotY, p) })
	require.NoError(t, err)
	require.NotEqual(t, tagX, tagY)

	c.HandleLine(tagX + `:{"a":1}`)

	// Delivered to X's subscriber only, never to Y's.
	require.Len(t, gotX, 1)
	assert.Empty(t, gotY)
}

func TestHandleLine_MalformedPayloadIsSkipped(t *testing.T) {
	c, _ := newTestChannel(t)

	var got []interface{}
	tag, err := c.Subscribe(context.Background(), "sendToHost", func(p interface{}) { got = append(got, p) })
	require.NoError(t, err)

	// Malformed payload: no callback, no crash.
	c.HandleLine(tag + `:not-json`)
	assert.Empty(t, got)

	// A subsequent well-formed message on the same tag is still delivered.
	c.HandleLine(tag + `:"ok"`)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0])
}

func TestHandleLine_HandlerPanicDoesNotCrashListener(t *testing.T) {
	c, _ := newTestChannel(t)

	calls := 0
	tag, err := c.Subscribe(context.Background(), "sendToHost", func(p interface{}) {
		calls++
		if calls == 1 {
			panic("handler bug")
		}
	})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		c.HandleLine(tag + `:1`)
		c.HandleLine(tag + `:2`)
	})
	assert.Equal(t, 2, calls)
}

func TestObserve_SeesOnlyUntaggedLines(t *testing.T) {
	c, _ := newTestChannel(t)

	var raw []string
	c.Observe(func(line string) { raw = append(raw, line) })

	var tagged []interface{}
	tag, err := c.Subscribe(context.Background(), "sendToHost", func(p interface{}) { tagged = append(tagged, p) })
	require.NoError(t, err)

	c.HandleLine("plain diagnostic output")
	c.HandleLine(tag + `:{"a":1}`)
	c.HandleLine("another log line")

	assert.Equal(t, []string{"plain diagnostic output", "another log line"}, raw)
	assert.Len(t, tagged, 1)
}

func TestUnsubscribe_RetiresStream(t *testing.T) {
	c, _ := newTestChannel(t)

	var got []interface{}
	tag, err := c.Subscribe(context.Background(), "sendToHost", func(p interface{}) { got = append(got, p) })
	require.NoError(t, err)
	require.Equal(t, 1, c.ActiveStreams())

	c.Unsubscribe(tag)
	assert.Equal(t, 0, c.ActiveStreams())

	// Lines under a retired tag fall through to the raw view.
	var raw []string
	c.Observe(func(line string) { raw = append(raw, line) })
	c.HandleLine(tag + `:{"a":1}`)

	assert.Empty(t, got)
	assert.Len(t, raw, 1)
}

func TestSubscribe_NilHandlerRejected(t *testing.T) {
	c, _ := newTestChannel(t)

	_, err := c.Subscribe(context.Background(), "sendToHost", nil)
	require.Error(t, err)
}
