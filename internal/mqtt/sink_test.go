package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/thermostat/internal/logger"
)

func unpacedOptions(depth int, policy Policy) SinkOptions {
	return SinkOptions{Depth: depth, MaxItemLen: 1024, Policy: policy}
}

func serials(t *testing.T, payloads [][]byte) []uint32 {
	t.Helper()
	var out []uint32
	for _, p := range payloads {
		var parsed struct {
			Serial uint32 `json:"ser"`
		}
		if err := json.Unmarshal(p, &parsed); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		out = append(out, parsed.Serial)
	}
	return out
}

func record(serial uint32) Record {
	rec := sampleRecord()
	rec.Serial = serial
	return rec
}

func equalSerials(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSinkPublishesDirectly(t *testing.T) {
	link := NewFakeLink()
	topics := NewTopics(DefaultPrefix, "dev")
	s := NewStatusSink(link, topics, unpacedOptions(4, EvictOldest), logger.Nop())

	if err := s.Publish(context.Background(), record(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sent := link.SentTo(topics.Status)
	if got := serials(t, sent); !equalSerials(got, []uint32{1}) {
		t.Errorf("sent: got %v, want [1]", got)
	}
	if s.Backlog() != 0 {
		t.Errorf("backlog: got %d, want 0", s.Backlog())
	}
}

func TestSinkQueuesWhileDisconnectedAndReplaysInOrder(t *testing.T) {
	link := NewFakeLink()
	link.SetConnected(false)
	topics := NewTopics(DefaultPrefix, "dev")
	s := NewStatusSink(link, topics, unpacedOptions(4, EvictOldest), logger.Nop())

	for i := uint32(1); i <= 3; i++ {
		if err := s.Publish(context.Background(), record(i)); err != nil {
			t.Fatalf("publish %d: unexpected error: %v", i, err)
		}
	}
	if s.Backlog() != 3 {
		t.Fatalf("backlog: got %d, want 3", s.Backlog())
	}

	link.SetConnected(true)
	if err := s.Publish(context.Background(), record(4)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := serials(t, link.SentTo(topics.Status)); !equalSerials(got, []uint32{1, 2, 3, 4}) {
		t.Errorf("sent: got %v, want [1 2 3 4]", got)
	}
	if s.Backlog() != 0 {
		t.Errorf("backlog: got %d, want 0", s.Backlog())
	}
}

func TestSinkEnqueuesNewestWhenBacklogRemains(t *testing.T) {
	link := NewFakeLink()
	link.SetConnected(false)
	topics := NewTopics(DefaultPrefix, "dev")
	s := NewStatusSink(link, topics, unpacedOptions(4, EvictOldest), logger.Nop())

	_ = s.Publish(context.Background(), record(1))

	// Connected but every send fails: the backlog cannot drain, so the
	// newest record must go behind it rather than jump the queue.
	link.SetConnected(true)
	link.SendError = errors.New("rate limited")
	if err := s.Publish(context.Background(), record(2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Backlog() != 2 {
		t.Errorf("backlog: got %d, want 2", s.Backlog())
	}

	link.SendError = nil
	_ = s.Publish(context.Background(), record(3))
	if got := serials(t, link.SentTo(topics.Status)); !equalSerials(got, []uint32{1, 2, 3}) {
		t.Errorf("sent: got %v, want [1 2 3]", got)
	}
}

func TestSinkEvictsOldest(t *testing.T) {
	link := NewFakeLink()
	link.SetConnected(false)
	topics := NewTopics(DefaultPrefix, "dev")
	s := NewStatusSink(link, topics, unpacedOptions(2, EvictOldest), logger.Nop())

	for i := uint32(1); i <= 3; i++ {
		if err := s.Publish(context.Background(), record(i)); err != nil {
			t.Fatalf("publish %d: unexpected error: %v", i, err)
		}
	}

	link.SetConnected(true)
	_ = s.Publish(context.Background(), record(4))
	if got := serials(t, link.SentTo(topics.Status)); !equalSerials(got, []uint32{2, 3, 4}) {
		t.Errorf("sent: got %v, want [2 3 4]", got)
	}
}

func TestSinkRejectNew(t *testing.T) {
	link := NewFakeLink()
	link.SetConnected(false)
	topics := NewTopics(DefaultPrefix, "dev")
	s := NewStatusSink(link, topics, unpacedOptions(2, RejectNew), logger.Nop())

	_ = s.Publish(context.Background(), record(1))
	_ = s.Publish(context.Background(), record(2))
	err := s.Publish(context.Background(), record(3))
	if !errors.Is(err, ErrDropped) {
		t.Errorf("expected ErrDropped, got %v", err)
	}

	link.SetConnected(true)
	_ = s.Publish(context.Background(), record(4))
	if got := serials(t, link.SentTo(topics.Status)); !equalSerials(got, []uint32{1, 2, 4}) {
		t.Errorf("sent: got %v, want [1 2 4]", got)
	}
}

func TestSinkDropsOversizeRecord(t *testing.T) {
	link := NewFakeLink()
	link.SetConnected(false)
	s := NewStatusSink(link, NewTopics(DefaultPrefix, "dev"), SinkOptions{Depth: 2, MaxItemLen: 16}, logger.Nop())

	err := s.Publish(context.Background(), record(1))
	if !errors.Is(err, ErrDropped) {
		t.Errorf("expected ErrDropped, got %v", err)
	}
	if s.Backlog() != 0 {
		t.Errorf("backlog: got %d, want 0", s.Backlog())
	}
}

func TestSinkPacesBacklog(t *testing.T) {
	link := NewFakeLink()
	link.SetConnected(false)
	topics := NewTopics(DefaultPrefix, "dev")
	opts := unpacedOptions(4, EvictOldest)
	opts.Pace = 20 * time.Millisecond
	s := NewStatusSink(link, topics, opts, logger.Nop())

	_ = s.Publish(context.Background(), record(1))
	_ = s.Publish(context.Background(), record(2))
	link.SetConnected(true)

	start := time.Now()
	_ = s.Publish(context.Background(), record(3))
	elapsed := time.Since(start)

	if len(link.SentTo(topics.Status)) != 3 {
		t.Fatalf("sent: got %d, want 3", len(link.SentTo(topics.Status)))
	}
	// The first send of the burst is immediate; the next two wait one interval each.
	if elapsed < 30*time.Millisecond {
		t.Errorf("backlog was not paced: %v", elapsed)
	}
}

func TestSinkCancelledContextStopsFlush(t *testing.T) {
	link := NewFakeLink()
	link.SetConnected(false)
	topics := NewTopics(DefaultPrefix, "dev")
	opts := unpacedOptions(4, EvictOldest)
	opts.Pace = time.Hour
	s := NewStatusSink(link, topics, opts, logger.Nop())

	_ = s.Publish(context.Background(), record(1))
	_ = s.Publish(context.Background(), record(2))
	link.SetConnected(true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = s.Publish(ctx, record(3))

	// The limiter cannot grant a send before the deadline, so nothing is
	// sent and the newest record joins the backlog.
	if n := len(link.SentTo(topics.Status)); n != 0 {
		t.Errorf("sent: got %d, want 0", n)
	}
	if s.Backlog() != 3 {
		t.Errorf("backlog: got %d, want 3", s.Backlog())
	}
}

func TestSinkPublishSystem(t *testing.T) {
	link := NewFakeLink()
	topics := NewTopics(DefaultPrefix, "dev")
	s := NewStatusSink(link, topics, DefaultSinkOptions(), logger.Nop())

	if err := s.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(link.Sent) != 1 {
		t.Fatalf("sent: got %d, want 1", len(link.Sent))
	}
	m := link.Sent[0]
	if m.Topic != topics.System || m.QoS != 1 || !m.Retained {
		t.Errorf("system message: got %+v", m)
	}

	link.SendError = errors.New("down")
	if err := s.PublishSystem(SystemEvent{Event: "SHUTDOWN"}); err == nil {
		t.Error("expected error when link fails")
	}
	if s.Backlog() != 0 {
		t.Error("system events must not be queued")
	}

	if err := s.Close(); err != nil || !link.Closed {
		t.Errorf("close: err %v closed %v", err, link.Closed)
	}
}
