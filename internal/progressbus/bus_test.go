package progressbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeorch/engine/internal/model"
)

func TestPublishDeliversToMatchingSubscriber(t *testing.T) {
	b := New(4, 2, 0, nil)
	ch, unsub := b.Subscribe(model.Subscriber{ID: "s1", Filter: model.Filter{JobID: "job_1"}})
	defer unsub()

	b.Publish(Event{JobID: "job_1", Name: "job.progress"})

	select {
	case evt := <-ch:
		assert.Equal(t, "job.progress", evt.Name)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
}

func TestPublishSkipsNonMatchingSubscriber(t *testing.T) {
	b := New(4, 2, 0, nil)
	ch, unsub := b.Subscribe(model.Subscriber{ID: "s1", Filter: model.Filter{JobID: "job_1"}})
	defer unsub()

	b.Publish(Event{JobID: "job_2", Name: "job.progress"})

	select {
	case <-ch:
		t.Fatal("unexpected event delivered to non-matching subscriber")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberIsDisconnectedAfterDropLimit(t *testing.T) {
	b := New(1, 2, 0, nil)
	ch, _ := b.Subscribe(model.Subscriber{ID: "slow"})

	for i := 0; i < 10; i++ {
		b.Publish(Event{Name: "job.progress"})
	}

	_, open := <-ch
	// Channel drains whatever made it into the buffer, then closes once the
	// subscriber is removed.
	for open {
		_, open = <-ch
	}
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(4, 2, 0, nil)
	ch, unsub := b.Subscribe(model.Subscriber{ID: "s1"})
	unsub()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestHeartbeatReachesFilteredSubscribers(t *testing.T) {
	b := New(4, 2, 0, nil)
	ch, unsub := b.Subscribe(model.Subscriber{ID: "s1", Filter: model.Filter{JobID: "job_1"}})
	defer unsub()

	b.Publish(Event{Name: "bus.heartbeat"})
	select {
	case evt := <-ch:
		assert.Equal(t, "bus.heartbeat", evt.Name)
	case <-time.After(time.Second):
		t.Fatal("expected heartbeat")
	}
}

func TestRunHeartbeatStopsOnCancel(t *testing.T) {
	b := New(4, 2, 10*time.Millisecond, nil)
	ch, unsub := b.Subscribe(model.Subscriber{ID: "s1"})
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.RunHeartbeat(ctx)
		close(done)
	}()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected at least one heartbeat")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunHeartbeat did not stop on cancel")
	}
}

func TestNextSeqIsMonotonic(t *testing.T) {
	b := New(4, 2, 0, nil)
	require.Equal(t, uint64(1), b.NextSeq("job_1"))
	require.Equal(t, uint64(2), b.NextSeq("job_1"))
	require.Equal(t, uint64(1), b.NextSeq("job_2"))
}
