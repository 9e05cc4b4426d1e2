package worker

import (
	"context"
	"sync"
	"time"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type Options struct {
	Workers         int
	QueueSize       int
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	AttemptTimeout  time.Duration
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 30 * time.Second
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 10 * time.Second
	}
}

// Dispatcher delivers notification events in the background. Delivery is best
// effort: a failed or dropped event never affects the operation that raised it.
type Dispatcher struct {
	publisher broker.Publisher
	opts      Options
	logger    *zap.Logger

	queue  chan models.Event
	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Start before enqueueing.
func NewDispatcher(publisher broker.Publisher, opts Options) *Dispatcher {
	opts.setDefaults()
	return &Dispatcher{
		publisher: publisher,
		opts:      opts,
		logger:    util.GetLogger(),
		queue:     make(chan models.Event, opts.QueueSize),
	}
}

// Start launches the worker goroutines. ctx bounds in-flight retries.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.logger.Info("Starting notification dispatcher", zap.Int("workers", d.opts.Workers))
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.run(ctx)
	}
}

// Enqueue hands event to the workers without blocking. It returns false when
// the event was dropped.
func (d *Dispatcher) Enqueue(event models.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	meta := event.Meta()
	if d.closed {
		d.logger.Warn("Dispatcher stopped, dropping event",
			zap.String("event_id", meta.EventID), zap.String("event_type", meta.EventType))
		util.NotificationsTotal.WithLabelValues(meta.EventType, "dropped").Inc()
		return false
	}

	select {
	case d.queue <- event:
		return true
	default:
		d.logger.Warn("Notification queue full, dropping event",
			zap.String("event_id", meta.EventID),
			zap.String("event_type", meta.EventType),
			zap.String("subject_id", event.SubjectID()))
		util.NotificationsTotal.WithLabelValues(meta.EventType, "dropped").Inc()
		return false
	}
}

// Stop refuses new events and waits for queued ones to be delivered. When ctx
// ends first, retries are abandoned and whatever is still queued is dropped.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		d.logger.Info("Notification dispatcher stopped")
	case <-ctx.Done():
		d.logger.Warn("Notification drain timed out, dropping remaining events",
			zap.Int("queued", len(d.queue)))
		if d.cancel != nil {
			d.cancel()
		}
		<-drained
	}
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for event := range d.queue {
		if ctx.Err() != nil {
			meta := event.Meta()
			d.logger.Warn("Dispatcher stopped, dropping event",
				zap.String("event_id", meta.EventID), zap.String("event_type", meta.EventType))
			util.NotificationsTotal.WithLabelValues(meta.EventType, "dropped").Inc()
			continue
		}
		d.deliver(ctx, event)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event models.Event) {
	meta := event.Meta()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.opts.InitialInterval
	exp.MaxInterval = d.opts.MaxInterval
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(d.opts.MaxRetries)), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, d.opts.AttemptTimeout)
		defer cancel()
		return d.publisher.Publish(attemptCtx, event)
	}, policy)

	if err == nil {
		util.NotificationsTotal.WithLabelValues(meta.EventType, "sent").Inc()
		return
	}

	fields := []zap.Field{
		zap.String("event_id", meta.EventID),
		zap.String("event_type", meta.EventType),
		zap.String("subject_id", event.SubjectID()),
		zap.Time("timestamp", meta.Timestamp),
		zap.Int("attempts", attempts),
		zap.Error(err),
	}
	if sc, ok := event.(models.StatusChange); ok {
		oldStatus, newStatus := sc.Transition()
		fields = append(fields, zap.String("old_status", oldStatus), zap.String("new_status", newStatus))
	}
	d.logger.Error("Notification delivery failed", fields...)
	util.NotificationsTotal.WithLabelValues(meta.EventType, "failed").Inc()
}
