// Package config implements the thermostat configuration store: a versioned
// binary record on non-volatile storage, a staged pending update that only
// the control loop may commit, and compiled-in defaults for when the record
// is missing or unusable.
package config

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/logic"
	"github.com/sweeney/thermostat/internal/store"
)

// Record layout constants.
const (
	Signature  uint16 = 0x8233
	Version    uint16 = 3
	HeaderSize        = 6
	RecordSize        = HeaderSize + MaxPayloadSize
)

// ErrDefaultsTooLarge is returned when the compiled-in defaults cannot be
// encoded into the record. There is no way to continue from this.
var ErrDefaultsTooLarge = errors.New("default configuration does not fit the record")

// Header is the fixed prefix of the stored record.
type Header struct {
	Signature     uint16
	Version       uint16
	PayloadLength uint16
}

// Configuration is one committed configuration. It is never modified after
// construction.
type Configuration struct {
	Header   Header
	Payload  []byte
	Settings logic.Settings
}

// UpdateResult is the outcome of submitting a configuration update.
type UpdateResult int

const (
	// Accepted means the update was staged and will be committed by the control loop.
	Accepted UpdateResult = iota
	// Retained means the update matches the committed configuration.
	Retained
	// Invalid means the update was rejected and nothing changed.
	Invalid
)

func (r UpdateResult) String() string {
	switch r {
	case Accepted:
		return "Accepted"
	case Retained:
		return "Retained"
	case Invalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// DefaultSettings returns the compiled-in configuration.
func DefaultSettings() logic.Settings {
	return logic.Settings{
		Threshold:             1.0,
		Cadence:               60,
		DefaultAllowedActions: logic.ActionNone,
		DefaultHeat:           18.0,
		DefaultCool:           20.0,
	}
}

// Store holds the committed configuration and at most one pending update.
//
// SubmitUpdate and SubmitText may be called from any goroutine. Only the
// control loop calls AcceptPendingUpdates, Flush and Reset.
type Store struct {
	bs       store.ByteStore
	log      *logger.Logger
	defaults func() logic.Settings

	current atomic.Pointer[Configuration]
	dirty   atomic.Bool

	mu      sync.Mutex
	pending *Configuration

	updates chan struct{}
}

// New creates a Store over bs. Call Initialize before use.
func New(bs store.ByteStore, log *logger.Logger) *Store {
	return &Store{
		bs:       bs,
		log:      log,
		defaults: DefaultSettings,
		updates:  make(chan struct{}, 1),
	}
}

// Initialize loads the stored record. A record that is missing, from another
// version, or fails verification is replaced in memory by the defaults and
// marked dirty; it is not written back until the next commit or Flush.
func (s *Store) Initialize() error {
	raw, err := s.bs.Load(0, RecordSize)
	if err != nil {
		return fmt.Errorf("read configuration record: %w", err)
	}

	cfg, err := decodeRecord(raw)
	if err != nil {
		s.log.Warnw("stored configuration unusable, using defaults", "err", err)
		return s.loadDefaults()
	}

	s.current.Store(cfg)
	s.dirty.Store(false)
	s.log.Infow("configuration loaded",
		"payload_bytes", cfg.Header.PayloadLength,
		"settings", len(cfg.Settings.ThermostatSettings))
	return nil
}

func (s *Store) loadDefaults() error {
	settings := s.defaults()
	payload, err := MarshalSettings(&settings)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDefaultsTooLarge, err)
	}
	s.current.Store(newConfiguration(payload, settings))
	s.dirty.Store(true)
	return nil
}

// SubmitUpdate verifies payload and stages it. It never changes the
// committed configuration.
func (s *Store) SubmitUpdate(payload []byte) UpdateResult {
	settings, err := UnmarshalSettings(payload)
	if err != nil {
		s.log.Warnw("rejected configuration update", "err", err, "payload", hex.EncodeToString(payload))
		return Invalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.current.Load(); cur != nil && bytes.Equal(cur.Payload, payload) {
		if s.pending != nil {
			s.log.Infow("configuration update matches committed, dropping pending update")
		}
		s.pending = nil
		return Retained
	}

	s.pending = newConfiguration(bytes.Clone(payload), settings)
	select {
	case s.updates <- struct{}{}:
	default:
	}
	s.log.Infow("configuration update staged", "payload_bytes", len(payload))
	return Accepted
}

// SubmitText decodes a transport-encoded update and submits it.
func (s *Store) SubmitText(text, source string) UpdateResult {
	payload, err := DecodeTransport(text)
	if err != nil {
		s.log.Warnw("rejected configuration text", "source", source, "err", err, "text", text)
		return Invalid
	}
	result := s.SubmitUpdate(payload)
	s.log.Debugw("configuration text submitted", "source", source, "result", result.String())
	return result
}

// HasPendingUpdates reports whether an update is staged.
func (s *Store) HasPendingUpdates() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// AcceptPendingUpdates commits the staged update, if any, and persists it.
// When persisting fails the commit still stands and the error is returned
// with true; the store stays dirty so a later Flush can retry.
func (s *Store) AcceptPendingUpdates() (bool, error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending == nil {
		return false, nil
	}

	s.current.Store(pending)
	s.dirty.Store(true)
	s.log.Infow("configuration committed",
		"payload_bytes", pending.Header.PayloadLength,
		"settings", len(pending.Settings.ThermostatSettings))

	if err := s.Flush(); err != nil {
		return true, err
	}
	return true, nil
}

// Flush writes the committed configuration if it has not been persisted.
func (s *Store) Flush() error {
	if !s.dirty.Load() {
		return nil
	}
	cfg := s.current.Load()
	if err := s.bs.Store(0, encodeRecord(cfg)); err != nil {
		return fmt.Errorf("write configuration record: %w", err)
	}
	s.dirty.Store(false)
	return nil
}

// Reset replaces the committed configuration with the defaults and persists it.
func (s *Store) Reset() error {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()

	if err := s.loadDefaults(); err != nil {
		return err
	}
	s.log.Warnw("configuration reset to defaults")
	return s.Flush()
}

// IsDirty reports whether the committed configuration differs from storage.
func (s *Store) IsDirty() bool {
	return s.dirty.Load()
}

// Current returns the committed configuration. Callers must not modify it.
func (s *Store) Current() *Configuration {
	return s.current.Load()
}

// Updates signals when an update has been staged.
func (s *Store) Updates() <-chan struct{} {
	return s.updates
}

func newConfiguration(payload []byte, settings logic.Settings) *Configuration {
	return &Configuration{
		Header: Header{
			Signature:     Signature,
			Version:       Version,
			PayloadLength: uint16(len(payload)),
		},
		Payload:  payload,
		Settings: settings,
	}
}

func encodeRecord(cfg *Configuration) []byte {
	rec := make([]byte, RecordSize)
	binary.LittleEndian.PutUint16(rec[0:], cfg.Header.Signature)
	binary.LittleEndian.PutUint16(rec[2:], cfg.Header.Version)
	binary.LittleEndian.PutUint16(rec[4:], cfg.Header.PayloadLength)
	copy(rec[HeaderSize:], cfg.Payload)
	return rec
}

func decodeRecord(rec []byte) (*Configuration, error) {
	if len(rec) < HeaderSize {
		return nil, fmt.Errorf("short record: %d bytes", len(rec))
	}
	h := Header{
		Signature:     binary.LittleEndian.Uint16(rec[0:]),
		Version:       binary.LittleEndian.Uint16(rec[2:]),
		PayloadLength: binary.LittleEndian.Uint16(rec[4:]),
	}
	if h.Signature != Signature {
		return nil, fmt.Errorf("signature %#04x, want %#04x", h.Signature, Signature)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("version %d, want %d", h.Version, Version)
	}
	if h.PayloadLength > MaxPayloadSize || HeaderSize+int(h.PayloadLength) > len(rec) {
		return nil, fmt.Errorf("payload length %d out of range", h.PayloadLength)
	}

	payload := bytes.Clone(rec[HeaderSize : HeaderSize+int(h.PayloadLength)])
	settings, err := UnmarshalSettings(payload)
	if err != nil {
		return nil, err
	}
	return &Configuration{Header: h, Payload: payload, Settings: settings}, nil
}
