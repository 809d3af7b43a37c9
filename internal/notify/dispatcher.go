package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sandeepkv93/gov-coordination-portal/internal/observability"
)

var ErrDispatcherClosed = errors.New("notification dispatcher closed")

// Dispatcher hands messages to a Sender either synchronously (Deliver) or as
// best-effort background work (Dispatch).
type Dispatcher struct {
	sender       Sender
	logger       *slog.Logger
	slots        *semaphore.Weighted
	asyncTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sender Sender, logger *slog.Logger, maxInFlight int64, asyncTimeout time.Duration) *Dispatcher {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	if asyncTimeout <= 0 {
		asyncTimeout = 30 * time.Second
	}
	return &Dispatcher{
		sender:       sender,
		logger:       logger,
		slots:        semaphore.NewWeighted(maxInFlight),
		asyncTimeout: asyncTimeout,
	}
}

// Deliver sends msg and returns the sender error.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) error {
	start := time.Now()
	err := d.sender.Send(ctx, msg)
	observability.RecordNotificationDuration(ctx, msg.Kind, time.Since(start))
	if err != nil {
		observability.RecordNotification(ctx, msg.Kind, "sync", "failed")
		d.logger.ErrorContext(ctx, "email delivery failed", "kind", msg.Kind, "to", msg.To, "error", err)
		return err
	}
	observability.RecordNotification(ctx, msg.Kind, "sync", "sent")
	return nil
}

// Dispatch sends msg in the background and never reports failure to the caller.
// The send outlives ctx cancellation but keeps its values for tracing. When all
// slots are busy the message is dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		observability.RecordNotification(ctx, msg.Kind, "async", "closed")
		d.logger.WarnContext(ctx, "email dropped after shutdown", "kind", msg.Kind, "to", msg.To)
		return
	}
	if !d.slots.TryAcquire(1) {
		observability.RecordNotification(ctx, msg.Kind, "async", "dropped")
		d.logger.WarnContext(ctx, "email dropped, dispatcher saturated", "kind", msg.Kind, "to", msg.To)
		return
	}

	d.wg.Add(1)
	bg := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		defer d.slots.Release(1)

		sendCtx, cancel := context.WithTimeout(bg, d.asyncTimeout)
		defer cancel()
		start := time.Now()
		err := d.sender.Send(sendCtx, msg)
		observability.RecordNotificationDuration(sendCtx, msg.Kind, time.Since(start))
		if err != nil {
			observability.RecordNotification(sendCtx, msg.Kind, "async", "failed")
			d.logger.WarnContext(sendCtx, "best-effort email failed", "kind", msg.Kind, "to", msg.To, "error", err)
			return
		}
		observability.RecordNotification(sendCtx, msg.Kind, "async", "sent")
	}()
}

// Close stops accepting background work and waits for in-flight sends or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
