package transport

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeListener is a minimal Listener that blocks until its context is
// cancelled, letting tests assert Bind/Shutdown wiring without a real
// network server.
type fakeListener struct {
	addr    string
	started chan struct{}
}

func (f *fakeListener) Start(ctx context.Context) error {
	close(f.started)
	<-ctx.Done()
	return nil
}

func (f *fakeListener) Stop() error { return nil }

func TestBindUsesPreferredPortWhenFree(t *testing.T) {
	m := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := freeTCPPort(t)
	var got *fakeListener
	m.Bind(ctx, Binding{Kind: "sse", Host: "127.0.0.1", PreferredPort: port, ScanRange: 3, Enabled: true},
		func(addr string) Listener {
			got = &fakeListener{addr: addr, started: make(chan struct{})}
			return got
		})

	require.Eventually(t, func() bool { return got != nil }, time.Second, 5*time.Millisecond)
	<-got.started
	assert.True(t, m.IsStarted())
	bound := m.Bound()
	require.Len(t, bound, 1)
	assert.Equal(t, "sse", bound[0].Kind)

	m.Shutdown()
}

func TestBindScansForwardWhenPreferredPortTaken(t *testing.T) {
	port := freeTCPPort(t)
	occupied, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer occupied.Close()

	m := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var gotAddr string
	m.Bind(ctx, Binding{Kind: "ws", Host: "127.0.0.1", PreferredPort: port, ScanRange: 5, Enabled: true},
		func(addr string) Listener {
			gotAddr = addr
			return &fakeListener{addr: addr, started: make(chan struct{})}
		})

	require.Eventually(t, func() bool { return gotAddr != "" }, time.Second, 5*time.Millisecond)
	assert.NotEqual(t, "127.0.0.1:"+strconv.Itoa(port), gotAddr)
	m.Shutdown()
}

func TestBindSkipsExhaustedScanRangeWithoutFailingTheRest(t *testing.T) {
	port := freeTCPPort(t)
	occupied, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer occupied.Close()

	m := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	m.Bind(ctx, Binding{Kind: "ws", Host: "127.0.0.1", PreferredPort: port, ScanRange: 1, Enabled: true},
		func(addr string) Listener {
			calls++
			return &fakeListener{addr: addr, started: make(chan struct{})}
		})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, calls)
	assert.False(t, m.IsStarted())
}

func TestBindSkipsDisabledTransport(t *testing.T) {
	m := New(nil)
	ctx := context.Background()
	calls := 0
	m.Bind(ctx, Binding{Kind: "ws", Enabled: false}, func(addr string) Listener {
		calls++
		return &fakeListener{addr: addr, started: make(chan struct{})}
	})
	assert.Equal(t, 0, calls)
	assert.False(t, m.IsStarted())
}

func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
