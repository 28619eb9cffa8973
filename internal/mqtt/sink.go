package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sweeney/thermostat/internal/logger"
)

// ErrDropped is returned when a status record could neither be sent nor queued.
var ErrDropped = errors.New("status record dropped")

// Publisher publishes status records and lifecycle events.
type Publisher interface {
	// Publish sends a status record, or queues it when the broker is unreachable.
	Publish(ctx context.Context, rec Record) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// SinkOptions configure a StatusSink.
type SinkOptions struct {
	Depth      int           // backlog depth
	MaxItemLen int           // largest record kept in the backlog, in bytes
	Policy     Policy        // what a full backlog does with a new record
	Pace       time.Duration // minimum spacing between sends; 0 = unpaced
}

// DefaultSinkOptions returns the backlog settings used on the device.
func DefaultSinkOptions() SinkOptions {
	return SinkOptions{
		Depth:      8,
		MaxItemLen: 1024,
		Policy:     EvictOldest,
		Pace:       time.Second,
	}
}

// StatusSink publishes status records through a bounded backlog. Records
// that cannot be delivered are queued and replayed, oldest first, before
// any newer record is sent.
type StatusSink struct {
	mu      sync.Mutex
	link    Link
	topics  Topics
	queue   *fixedQueue
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewStatusSink creates a StatusSink publishing over link.
func NewStatusSink(link Link, topics Topics, opts SinkOptions, log *logger.Logger) *StatusSink {
	limit := rate.Inf
	if opts.Pace > 0 {
		limit = rate.Every(opts.Pace)
	}
	return &StatusSink{
		link:    link,
		topics:  topics,
		queue:   newFixedQueue(opts.Depth, opts.MaxItemLen, opts.Policy),
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

// Publish implements Publisher.
func (s *StatusSink) Publish(ctx context.Context, rec Record) error {
	payload, err := FormatStatus(rec)
	if err != nil {
		return fmt.Errorf("format status: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.flush(ctx)

	if !s.queue.empty() {
		return s.enqueue(payload)
	}
	if err := s.send(ctx, payload); err != nil {
		s.log.Warnw("status publish failed, queueing", "serial", rec.Serial, "err", err)
		return s.enqueue(payload)
	}
	s.log.Debugw("status published", "serial", rec.Serial)
	return nil
}

// flush sends backlog items while the link is up, stopping at the first failure.
func (s *StatusSink) flush(ctx context.Context) {
	for s.link.IsConnected() && !s.queue.empty() {
		item, _ := s.queue.front()
		if err := s.send(ctx, item); err != nil {
			s.log.Warnw("backlog flush stopped", "remaining", s.queue.len(), "err", err)
			return
		}
		s.queue.pop()
	}
}

func (s *StatusSink) send(ctx context.Context, payload []byte) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.link.Send(s.topics.Status, payload, 0, false)
}

func (s *StatusSink) enqueue(payload []byte) error {
	if !s.queue.push(payload) {
		if len(payload) > s.queue.maxItemLen {
			return fmt.Errorf("%w: %d bytes exceeds backlog item limit", ErrDropped, len(payload))
		}
		s.log.Warnw("status backlog full, dropping newest record", "depth", s.queue.depth)
		s.queue.takeDropped()
		return ErrDropped
	}
	if n := s.queue.takeDropped(); n > 0 {
		s.log.Warnw("status backlog full, dropped oldest record", "depth", s.queue.depth)
	}
	return nil
}

// Backlog returns the number of queued records.
func (s *StatusSink) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}

// PublishSystem implements Publisher. System events bypass the backlog and
// are sent at QoS 1.
func (s *StatusSink) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	if err := s.link.Send(s.topics.System, payload, 1, event.Retained); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// Close implements Publisher.
func (s *StatusSink) Close() error {
	return s.link.Close()
}
