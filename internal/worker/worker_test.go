package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu       sync.Mutex
	got      []models.Event
	failures int32
	calls    int32
	block    chan struct{}
}

func (p *fakePublisher) Publish(ctx context.Context, event models.Event) error {
	atomic.AddInt32(&p.calls, 1)
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if atomic.AddInt32(&p.failures, -1) >= 0 {
		return errors.New("transient")
	}
	p.mu.Lock()
	p.got = append(p.got, event)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) delivered() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.got...)
}

func statusEvent(id string) *models.OrderStatusUpdateEvent {
	return &models.OrderStatusUpdateEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderStatusUpdate),
		OrderID:   id,
		OldStatus: models.OrderStatusPending,
		NewStatus: models.OrderStatusConfirmed,
	}
}

func fastOptions() Options {
	return Options{
		Workers:         2,
		QueueSize:       8,
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestDispatcherDeliversAndDrainsOnStop(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(pub, fastOptions())
	d.Start(context.Background())

	for i := 0; i < 5; i++ {
		assert.True(t, d.Enqueue(statusEvent("o")))
	}
	d.Stop(context.Background())

	assert.Len(t, pub.delivered(), 5)
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	pub := &fakePublisher{failures: 2}
	d := NewDispatcher(pub, fastOptions())
	d.Start(context.Background())

	require.True(t, d.Enqueue(statusEvent("o-1")))
	d.Stop(context.Background())

	require.Len(t, pub.delivered(), 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&pub.calls))
}

func TestDispatcherGivesUpAfterMaxRetries(t *testing.T) {
	pub := &fakePublisher{failures: 100}
	opts := fastOptions()
	opts.MaxRetries = 2
	d := NewDispatcher(pub, opts)
	d.Start(context.Background())

	require.True(t, d.Enqueue(statusEvent("o-1")))
	d.Stop(context.Background())

	assert.Empty(t, pub.delivered())
	assert.Equal(t, int32(3), atomic.LoadInt32(&pub.calls))
}

func TestDispatcherEnqueueNeverBlocks(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	opts := fastOptions()
	opts.Workers = 1
	opts.QueueSize = 1
	d := NewDispatcher(pub, opts)
	d.Start(context.Background())

	accepted := 0
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			if d.Enqueue(statusEvent("o")) {
				accepted++
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
	assert.Less(t, accepted, 10)

	close(pub.block)
	d.Stop(context.Background())
	assert.Len(t, pub.delivered(), accepted)
}

func TestDispatcherRejectsAfterStop(t *testing.T) {
	d := NewDispatcher(&fakePublisher{}, fastOptions())
	d.Start(context.Background())
	d.Stop(context.Background())
	d.Stop(context.Background())

	assert.False(t, d.Enqueue(statusEvent("o")))
}

func TestDispatcherStopGivesUpAtDeadline(t *testing.T) {
	pub := &fakePublisher{failures: 1000}
	opts := fastOptions()
	opts.Workers = 1
	opts.MaxRetries = 1000
	opts.InitialInterval = 50 * time.Millisecond
	opts.MaxInterval = 50 * time.Millisecond
	d := NewDispatcher(pub, opts)
	d.Start(context.Background())

	for i := 0; i < 4; i++ {
		require.True(t, d.Enqueue(statusEvent("o")))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	d.Stop(ctx)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Empty(t, pub.delivered())
	assert.False(t, d.Enqueue(statusEvent("o")))
}
