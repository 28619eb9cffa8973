package mqtt

import (
	"context"
	"errors"
	"sync"
)

// SentMessage is one message passed to FakeLink.Send.
type SentMessage struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// FakeLink is a Link that records sent messages and lets tests deliver
// messages to subscribers.
type FakeLink struct {
	mu sync.Mutex

	// Sent contains all successfully sent messages.
	Sent []SentMessage

	// Connected controls IsConnected and whether Send succeeds.
	Connected bool

	// SendError, if set, is returned by Send regardless of Connected.
	SendError error

	// SubscribeError, if set, is returned by Subscribe.
	SubscribeError error

	// Closed tracks if Close was called.
	Closed bool

	subs map[string]func([]byte)
}

// NewFakeLink creates a connected FakeLink.
func NewFakeLink() *FakeLink {
	return &FakeLink{Connected: true, subs: make(map[string]func([]byte))}
}

// Send implements Link.
func (f *FakeLink) Send(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendError != nil {
		return f.SendError
	}
	if !f.Connected {
		return errors.New("not connected")
	}
	f.Sent = append(f.Sent, SentMessage{
		Topic:    topic,
		Payload:  append([]byte(nil), payload...),
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

// Subscribe implements Link.
func (f *FakeLink) Subscribe(topic string, handler func(payload []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.subs[topic] = handler
	return nil
}

// Deliver simulates an incoming message. Returns false if nothing is subscribed.
func (f *FakeLink) Deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h, ok := f.subs[topic]
	f.mu.Unlock()
	if ok {
		h(payload)
	}
	return ok
}

// SetConnected changes the simulated connection state.
func (f *FakeLink) SetConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Connected = connected
}

// IsConnected implements Link.
func (f *FakeLink) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Close implements Link.
func (f *FakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// SentTo returns the payloads sent to topic, in order.
func (f *FakeLink) SentTo(topic string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, m := range f.Sent {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

// FakePublisher records published records and events for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Records contains all status records that were published.
	Records []Record

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the status record.
func (f *FakePublisher) Publish(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Records = append(f.Records, rec)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// RecordCount returns the number of published records.
func (f *FakePublisher) RecordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Records)
}

// LastRecord returns the most recent status record.
func (f *FakePublisher) LastRecord() (Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Records) == 0 {
		return Record{}, false
	}
	return f.Records[len(f.Records)-1], true
}
