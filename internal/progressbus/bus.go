// Package progressbus implements the pub/sub event fan-out between job
// execution and connected subscribers (spec.md §4.8): per-subscriber
// buffered channels with a slow-consumer disconnect threshold, heartbeats,
// and causal per-job ordering. Grounded on the teacher's
// infrastructure/service/runner.go fan-out goroutine idiom (one goroutine
// per subscriber draining a buffered channel) adapted from job-result
// broadcast to progress-event broadcast.
package progressbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vibeorch/engine/internal/metrics"
	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/obslog"
)

// Event is one message published on the bus.
type Event struct {
	JobID     string
	ProjectID string
	Name      string // e.g. "task.assigned", "job.progress", "job.completed"
	Data      map[string]interface{}
	At        time.Time
}

// sink is the per-subscriber delivery channel plus its bookkeeping.
type sink struct {
	sub        model.Subscriber
	ch         chan Event
	dropped    int32
	lastAckNS  int64 // unix nanoseconds; updated on successful delivery or explicit Ack
	disconnect chan struct{}
	once       sync.Once
}

// Bus fans published events out to every matching subscriber.
type Bus struct {
	mu          sync.RWMutex
	sinks       map[string]*sink
	bufferSize  int
	dropLimit   int
	heartbeat   time.Duration
	log         *obslog.Logger
	lastJobSeq  map[string]uint64
	seqMu       sync.Mutex
}

// New builds a Bus. bufferSize is the per-subscriber channel capacity;
// dropLimit is the number of consecutive drops before a slow subscriber is
// disconnected; heartbeat is the idle keepalive interval (0 disables it).
func New(bufferSize, dropLimit int, heartbeat time.Duration, log *obslog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if dropLimit <= 0 {
		dropLimit = 5
	}
	return &Bus{
		sinks:      make(map[string]*sink),
		bufferSize: bufferSize,
		dropLimit:  dropLimit,
		heartbeat:  heartbeat,
		log:        log,
		lastJobSeq: make(map[string]uint64),
	}
}

// Subscribe registers sub and returns a channel of events matching its
// Filter, plus an unsubscribe func. The returned channel is closed when the
// subscriber disconnects (explicitly or due to the slow-consumer cutoff).
func (b *Bus) Subscribe(sub model.Subscriber) (<-chan Event, func()) {
	s := &sink{sub: sub, ch: make(chan Event, b.bufferSize), disconnect: make(chan struct{})}
	atomic.StoreInt64(&s.lastAckNS, time.Now().UnixNano())

	b.mu.Lock()
	b.sinks[sub.ID] = s
	b.mu.Unlock()
	metrics.BusSubscribers.Inc()

	unsub := func() { b.remove(sub.ID) }
	return s.ch, unsub
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	s, ok := b.sinks[id]
	if ok {
		delete(b.sinks, id)
	}
	b.mu.Unlock()
	if ok {
		metrics.BusSubscribers.Dec()
		s.once.Do(func() { close(s.ch) })
	}
}

// Publish delivers evt to every subscriber whose Filter matches. A
// subscriber whose channel is full gets the event dropped rather than
// blocking the publisher; after dropLimit consecutive drops, the subscriber
// is disconnected.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	b.mu.RLock()
	targets := make([]*sink, 0, len(b.sinks))
	for _, s := range b.sinks {
		if evt.Name == "bus.heartbeat" || s.sub.Filter.Match(evt.JobID, evt.ProjectID) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.ch <- evt:
			atomic.StoreInt32(&s.dropped, 0)
			atomic.StoreInt64(&s.lastAckNS, time.Now().UnixNano())
		default:
			dropped := atomic.AddInt32(&s.dropped, 1)
			metrics.BusEventsDropped.Inc()
			if b.log != nil {
				b.log.WithContext(nil).WithField("subscriber_id", s.sub.ID).Warn("progress event dropped, subscriber slow")
			}
			if int(dropped) >= b.dropLimit {
				b.remove(s.sub.ID)
			}
		}
	}
}

// Ack records an explicit heartbeat acknowledgement for subscriber id, as
// delivered by a transport with a real application-level ack (e.g. the
// websocket transport's pong handler). Transports with no such signal
// (SSE, stdio) rely on the implicit ack Publish already records on every
// successful delivery to that sink.
func (b *Bus) Ack(id string) {
	b.mu.RLock()
	s, ok := b.sinks[id]
	b.mu.RUnlock()
	if ok {
		atomic.StoreInt64(&s.lastAckNS, time.Now().UnixNano())
	}
}

// NextSeq returns the next value of a per-job counter shared by every
// caller. The transports call it as they write each event, so the numbers
// for one job increase in write order across all subscribers; they do not
// record the order of the Publish calls themselves.
func (b *Bus) NextSeq(jobID string) uint64 {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	b.lastJobSeq[jobID]++
	return b.lastJobSeq[jobID]
}

// HeartbeatInterval returns the configured idle keepalive interval, so
// transports that drive their own ping frames (e.g. websocket) can match
// the bus's cadence.
func (b *Bus) HeartbeatInterval() time.Duration { return b.heartbeat }

// RunHeartbeat periodically publishes a synthetic "bus.heartbeat" event to
// every subscriber until ctx is cancelled, so idle SSE/WebSocket connections
// aren't reaped by intermediate proxies. A subscriber whose last ack (explicit,
// via Ack, or implicit, via any successful delivery) is older than two
// heartbeat intervals is disconnected per spec.md §4.4.
func (b *Bus) RunHeartbeat(ctx context.Context) {
	if b.heartbeat <= 0 {
		return
	}
	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Publish(Event{Name: "bus.heartbeat", At: time.Now()})
			b.dropStale()
		}
	}
}

// dropStale disconnects any subscriber whose last ack predates two
// heartbeat intervals ago.
func (b *Bus) dropStale() {
	cutoff := time.Now().Add(-2 * b.heartbeat).UnixNano()

	b.mu.RLock()
	var stale []string
	for id, s := range b.sinks {
		if atomic.LoadInt64(&s.lastAckNS) < cutoff {
			stale = append(stale, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range stale {
		if b.log != nil {
			b.log.WithContext(nil).WithField("subscriber_id", id).Warn("subscriber missed heartbeat acks, disconnecting")
		}
		b.remove(id)
	}
}

// SubscriberCount returns the number of currently connected subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}
