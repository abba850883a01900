package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/vibeorch/engine/internal/obslog"
)

// Binding is one transport listener's desired configuration (spec.md
// §4.10): a kind, an address, an enabled flag, and a port-scan range used
// when the preferred port is already taken.
type Binding struct {
	Kind          string // "sse" | "websocket" | "admin"
	Host          string
	PreferredPort int
	ScanRange     int // number of ports to try, starting at PreferredPort, before giving up
	Enabled       bool
}

// Listener is anything the Multiplexer can Start/Stop: each concrete
// transport (sse.Server, ws.Server, AdminServer) already satisfies this.
type Listener interface {
	Start(ctx context.Context) error
	Stop() error
}

// ListenerFactory builds a Listener bound to addr for one binding.
type ListenerFactory func(addr string) Listener

// BoundTransport records where a transport actually ended up listening,
// which may differ from its preferred port after a scan.
type BoundTransport struct {
	Kind string
	Addr string
}

// Multiplexer binds N transport listeners per spec.md §4.10's port
// allocation and graceful-degradation rules: a transport whose preferred
// port is taken scans forward for a free one; a transport that still can't
// bind is logged and skipped, never fatal. Grounded on the teacher's
// cmd/gateway/main.go multi-listener startup, generalized from one HTTP
// router to several independently-failing transport bindings.
type Multiplexer struct {
	log *obslog.Logger

	mu      sync.Mutex
	active  map[string]Listener
	bound   []BoundTransport
	cancel  map[string]context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds an empty Multiplexer.
func New(log *obslog.Logger) *Multiplexer {
	return &Multiplexer{
		active: make(map[string]Listener),
		cancel: make(map[string]context.CancelFunc),
		log:    log,
	}
}

// Bind attempts to start one transport built by factory according to
// binding's port preferences. A disabled binding is skipped silently. A
// binding whose entire scan range is occupied is logged and skipped,
// matching spec.md §4.10's "server continues with the remaining
// transports" contract (S6: the system still reports isStarted=true).
func (m *Multiplexer) Bind(ctx context.Context, binding Binding, factory ListenerFactory) {
	if !binding.Enabled {
		return
	}

	scanRange := binding.ScanRange
	if scanRange <= 0 {
		scanRange = 1
	}

	port, err := firstFreePort(binding.Host, binding.PreferredPort, scanRange)
	if err != nil {
		if m.log != nil {
			m.log.WithContext(ctx).WithField("transport", binding.Kind).WithError(err).
				Warn("transport disabled: no free port in scan range")
		}
		return
	}

	addr := fmt.Sprintf("%s:%d", binding.Host, port)
	listener := factory(addr)

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.active[binding.Kind] = listener
	m.cancel[binding.Kind] = cancel
	m.bound = append(m.bound, BoundTransport{Kind: binding.Kind, Addr: addr})
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := listener.Start(runCtx); err != nil {
			if m.log != nil {
				m.log.WithContext(ctx).WithField("transport", binding.Kind).WithError(err).Warn("transport stopped with error")
			}
		}
	}()
}

// firstFreePort returns the first free port in [preferred,
// preferred+scanRange), so preferred itself is tried first. A port is "free" if this process can
// momentarily bind and immediately release it; a genuine race with another
// process landing on the same port between the probe and the real listener
// binding is possible but rare enough that the probe-then-bind idiom
// (matching the teacher's own startup scripts) is an acceptable trade for
// avoiding a full reservation protocol.
func firstFreePort(host string, preferred, scanRange int) (int, error) {
	for p := preferred; p < preferred+scanRange; p++ {
		addr := fmt.Sprintf("%s:%d", host, p)
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			_ = ln.Close()
			return p, nil
		}
	}
	return 0, fmt.Errorf("no free port in [%d, %d) on %s", preferred, preferred+scanRange, host)
}

// Bound returns where every successfully started transport ended up
// listening.
func (m *Multiplexer) Bound() []BoundTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BoundTransport, len(m.bound))
	copy(out, m.bound)
	return out
}

// IsStarted reports whether at least one Bind call found a free port and
// started its listener. The stdio transport is not bound through the
// Multiplexer and does not affect this value.
func (m *Multiplexer) IsStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Shutdown stops every bound transport and waits for their goroutines to
// return.
func (m *Multiplexer) Shutdown() {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.cancel))
	for _, c := range m.cancel {
		cancels = append(cancels, c)
	}
	m.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	m.wg.Wait()
}
