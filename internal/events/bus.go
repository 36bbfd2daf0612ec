// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/chaincrawlr/internal/cache"
	"github.com/rovshanmuradov/chaincrawlr/internal/retry"
	"github.com/rovshanmuradov/chaincrawlr/internal/utils/metrics"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notifier is shut down")
)

const (
	DefaultQueueSize    = 1000
	DefaultMaxPerMinute = 30
)

// Options tunes a Notifier. Zero values fall back to defaults.
type Options struct {
	QueueSize    int
	MaxPerMinute int
	Retry        retry.Policy
}

// Notifier is a bounded, single-consumer delivery queue. Notify never
// blocks the caller; the consumer applies the rate limit, deduplicates
// through the store and fans each message out to every sink.
type Notifier struct {
	mu      sync.RWMutex
	closed  bool
	urgent  chan Notification
	normal  chan Notification
	sinks   []Sink
	store   cache.Store
	limiter *rate.Limiter
	policy  retry.Policy
	metrics *metrics.Collector
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotifier starts the consumer goroutine. store may be nil to disable
// deduplication.
func NewNotifier(opts Options, sinks []Sink, store cache.Store, m *metrics.Collector, logger *zap.Logger) *Notifier {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.MaxPerMinute <= 0 {
		opts.MaxPerMinute = DefaultMaxPerMinute
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = retry.Exponential(3, 2*time.Second, 2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		urgent:  make(chan Notification, opts.QueueSize),
		normal:  make(chan Notification, opts.QueueSize),
		sinks:   sinks,
		store:   store,
		limiter: newLimiter(opts.MaxPerMinute),
		policy:  opts.Retry,
		metrics: m,
		logger:  logger.Named("notifier"),
		ctx:     ctx,
		cancel:  cancel,
	}

	n.wg.Add(1)
	go n.process()

	return n
}

// Notify enqueues a notification without blocking.
func (n *Notifier) Notify(note Notification) error {
	if err := note.Validate(); err != nil {
		return err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrClosed
	}

	queue := n.normal
	if note.Urgent() {
		queue = n.urgent
	}

	select {
	case queue <- note:
		return nil
	default:
		n.logger.Warn("Notification queue full, dropping",
			zap.String("kind", string(note.Kind)),
			zap.String("subject", note.Subject()))
		n.metrics.RecordNotification(string(note.Kind), "dropped")
		return ErrQueueFull
	}
}

// Shutdown stops accepting notifications and waits for the queue to drain.
// When ctx expires first, pending notifications are abandoned.
func (n *Notifier) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.urgent)
		close(n.normal)
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.cancel()
		n.logger.Info("Notifier drained")
		return nil
	case <-ctx.Done():
		n.cancel()
		<-done
		n.logger.Warn("Notifier shutdown timed out")
		return ctx.Err()
	}
}

// Pending returns the number of queued notifications.
func (n *Notifier) Pending() int {
	return len(n.urgent) + len(n.normal)
}

func (n *Notifier) process() {
	defer n.wg.Done()

	urgent, normal := n.urgent, n.normal
	for urgent != nil || normal != nil {
		// Urgent messages first when both queues hold work.
		select {
		case note, ok := <-urgent:
			if !ok {
				urgent = nil
				continue
			}
			n.deliver(note)
			continue
		default:
		}

		select {
		case note, ok := <-urgent:
			if !ok {
				urgent = nil
				continue
			}
			n.deliver(note)
		case note, ok := <-normal:
			if !ok {
				normal = nil
				continue
			}
			n.deliver(note)
		}
	}
}

func (n *Notifier) deliver(note Notification) {
	ctx := n.ctx
	if ctx.Err() != nil {
		n.metrics.RecordNotification(string(note.Kind), "dropped")
		return
	}

	key := cache.NotificationKey(string(note.Kind), note.Time, note.Subject())
	if n.store != nil {
		var seen bool
		found, err := n.store.Get(ctx, key, &seen)
		if err != nil {
			n.logger.Debug("Dedupe lookup failed", zap.Error(err))
		}
		if found {
			n.metrics.RecordNotification(string(note.Kind), "duplicate")
			return
		}
	}

	if err := n.limiter.Wait(ctx); err != nil {
		n.metrics.RecordNotification(string(note.Kind), "dropped")
		return
	}

	text := Format(note)
	var errs error
	for _, sink := range n.sinks {
		_, err := retry.Do(ctx, n.policy, func(ctx context.Context, _ int) (struct{}, error) {
			return struct{}{}, sink.Send(ctx, note, text)
		}, retry.WithNotify(func(err error, attempt int, wait time.Duration) {
			n.logger.Debug("Notification send failed, retrying",
				zap.String("sink", sink.Name()),
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
				zap.Error(err))
		}))
		if err != nil {
			n.logger.Error("Notification delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("id", note.ID),
				zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}

	if errs != nil && len(multierr.Errors(errs)) == len(n.sinks) {
		n.metrics.RecordNotification(string(note.Kind), "failed")
		return
	}

	if n.store != nil {
		if err := n.store.Set(ctx, key, true); err != nil {
			n.logger.Debug("Dedupe store failed", zap.Error(err))
		}
	}
	n.metrics.RecordNotification(string(note.Kind), "sent")
}

// newLimiter spreads max sends over a minute with a burst of max.
func newLimiter(max int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(max)), max)
}
