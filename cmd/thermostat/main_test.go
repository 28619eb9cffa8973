package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/thermostat/internal/config"
	"github.com/sweeney/thermostat/internal/gpio"
	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/logic"
	"github.com/sweeney/thermostat/internal/mqtt"
	"github.com/sweeney/thermostat/internal/sensor"
	"github.com/sweeney/thermostat/internal/status"
	"github.com/sweeney/thermostat/internal/store"
)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type harness struct {
	d       *daemon
	src     *sensor.FakeSource
	relays  *gpio.FakeRelays
	pub     *mqtt.FakePublisher
	link    *mqtt.FakeLink
	store   *config.Store
	mem     *store.Memory
	tracker *status.Tracker

	tick chan time.Time

	// waits records each cadence wait requested by runLoop.
	waits []time.Duration

	// onCycle runs on the loop goroutine after cycle n (1-based) completes.
	onCycle func(n int)
}

func newHarness(t *testing.T, onboard logic.Temperature) *harness {
	t.Helper()
	h := &harness{
		src:     sensor.NewFakeSource(onboard, 40),
		relays:  gpio.NewFakeRelays(),
		pub:     mqtt.NewFakePublisher(),
		link:    mqtt.NewFakeLink(),
		mem:     store.NewMemory(store.DefaultSize),
		tracker: status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Options{}),
		tick:    make(chan time.Time),
	}
	h.store = config.New(h.mem, logger.Nop())
	if err := h.store.Initialize(); err != nil {
		t.Fatalf("initialize config: %v", err)
	}
	controller := logic.NewController(h.relays, logger.Nop())
	if err := controller.Initialize(); err != nil {
		t.Fatalf("initialize controller: %v", err)
	}

	h.d = &daemon{
		store:      h.store,
		sampler:    sensor.NewSampler(h.src, logger.Nop()),
		scheduler:  logic.NewScheduler(),
		controller: controller,
		publisher:  h.pub,
		link:       h.link,
		backlog:    func() int { return 0 },
		tracker:    h.tracker,
		log:        logger.Nop(),
		now:        fakeClock(time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC), time.Minute),
	}
	cycles := 0
	h.d.after = func(d time.Duration) <-chan time.Time {
		cycles++
		h.waits = append(h.waits, d)
		if h.onCycle != nil {
			h.onCycle(cycles)
		}
		return h.tick
	}
	return h
}

// stage submits settings and consumes the wake-up signal so the loop's
// first cycle commits them.
func (h *harness) stage(t *testing.T, s logic.Settings) {
	t.Helper()
	payload, err := config.MarshalSettings(&s)
	if err != nil {
		t.Fatalf("marshal settings: %v", err)
	}
	if got := h.store.SubmitUpdate(payload); got != config.Accepted {
		t.Fatalf("submit: got %v, want Accepted", got)
	}
	<-h.store.Updates()
}

// run drives runLoop for the initial cycle plus nTicks more, then delivers signal.
func (h *harness) run(t *testing.T, nTicks int, signal os.Signal) error {
	t.Helper()
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(h.d, sig)
	}()

	for i := 0; i < nTicks; i++ {
		h.tick <- time.Time{}
	}
	sig <- signal

	return <-errCh
}

func heatingSettings() logic.Settings {
	s := config.DefaultSettings()
	s.Threshold = 0.5
	s.DefaultAllowedActions = logic.ActionHeat
	s.DefaultHeat = 20
	s.DefaultCool = 25
	return s
}

func TestRunLoopDefaultsDriveNothing(t *testing.T) {
	h := newHarness(t, 10)

	if err := h.run(t, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.Records) != 3 {
		t.Fatalf("records: got %d, want 3", len(h.pub.Records))
	}
	for i, rec := range h.pub.Records {
		if rec.Serial != uint32(i+1) {
			t.Errorf("record %d serial: got %d, want %d", i, rec.Serial, i+1)
		}
		if rec.Actions != logic.ActionNone {
			t.Errorf("record %d actions: got %v, want none", i, rec.Actions)
		}
	}
	for i, w := range h.waits {
		if w != 60*time.Second {
			t.Errorf("wait %d: got %v, want 60s", i, w)
		}
	}
	if !h.store.IsDirty() {
		t.Error("defaults must not be persisted by the control loop")
	}
	if h.mem.Written != 0 {
		t.Errorf("bytes written: got %d, want 0", h.mem.Written)
	}
}

func TestRunLoopHeatHysteresis(t *testing.T) {
	h := newHarness(t, 18)
	h.stage(t, heatingSettings())
	h.onCycle = func(n int) {
		switch n {
		case 1:
			h.src.Set(20.4) // inside the band: keep heating
		case 2:
			h.src.Set(20.6) // above heat+threshold: stop
		}
	}

	if err := h.run(t, 2, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	want := []logic.ActionSet{logic.ActionHeat, logic.ActionHeat, logic.ActionNone}
	if len(h.pub.Records) != len(want) {
		t.Fatalf("records: got %d, want %d", len(h.pub.Records), len(want))
	}
	for i, rec := range h.pub.Records {
		if rec.Actions != want[i] {
			t.Errorf("record %d actions: got %v, want %v", i, rec.Actions, want[i])
		}
		if rec.Setpoint.Heat != 20 {
			t.Errorf("record %d heat setpoint: got %v, want 20", i, rec.Setpoint.Heat)
		}
	}
	if last, _ := h.relays.Last(); last != logic.ActionNone {
		t.Errorf("relays: got %v, want none", last)
	}
	if h.store.IsDirty() {
		t.Error("committed configuration should be persisted")
	}
}

func TestRunLoopConfigUpdateWakesEarly(t *testing.T) {
	h := newHarness(t, 19)
	sig := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(h.d, sig)
	}()

	waitForRecords(t, h.pub, 1)

	s := heatingSettings()
	s.Cadence = 30
	payload, err := config.MarshalSettings(&s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	text, err := config.EncodeTransport(payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := h.store.SubmitText(text, mqtt.SourcePush); got != config.Accepted {
		t.Fatalf("submit: got %v, want Accepted", got)
	}

	// No tick is sent: the second cycle runs because of the update.
	waitForRecords(t, h.pub, 2)
	sig <- syscall.SIGTERM
	if err := <-errCh; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.waits) < 2 || h.waits[1] != 30*time.Second {
		t.Errorf("waits: got %v, want second wait of 30s", h.waits)
	}
	if h.pub.Records[1].Actions != logic.ActionHeat {
		t.Errorf("actions after update: got %v, want H", h.pub.Records[1].Actions)
	}
	if h.store.HasPendingUpdates() {
		t.Error("update should have been committed")
	}
}

func waitForRecords(t *testing.T, pub *mqtt.FakePublisher, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for pub.RecordCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d records, got %d", n, pub.RecordCount())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunLoopExternalSensor(t *testing.T) {
	h := newHarness(t, 19)
	ext, _ := logic.ParseSensorID("2851861f0b000033")
	other, _ := logic.ParseSensorID("2802000000000000")
	h.src.SetExternal(ext, 22)
	h.src.SetExternal(other, 15)

	s := heatingSettings()
	s.ExternalSensorID = ext
	h.stage(t, s)

	if err := h.run(t, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	rec, ok := h.pub.LastRecord()
	if !ok {
		t.Fatal("expected a record")
	}
	if !rec.UsedExternal || rec.Temperature != 22 || rec.OnboardTemperature != 19 {
		t.Errorf("temperatures: got used=%v t=%v onboard=%v", rec.UsedExternal, rec.Temperature, rec.OnboardTemperature)
	}
	if rec.ExternalID != ext {
		t.Errorf("external id: got %v, want %v", rec.ExternalID, ext)
	}
	if rec.Actions != logic.ActionNone {
		t.Errorf("actions: got %v, want none at 22 with heat setpoint 20", rec.Actions)
	}
	if len(rec.Sensors) != 2 {
		t.Errorf("sensors: got %d, want 2", len(rec.Sensors))
	}
}

func TestRunLoopNoTemperatureHoldsActions(t *testing.T) {
	h := newHarness(t, 15)
	h.stage(t, heatingSettings())
	h.onCycle = func(n int) {
		if n == 1 {
			h.src.OnboardErr = errors.New("dht22 timeout")
		}
	}

	if err := h.run(t, 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.Records) != 2 {
		t.Fatalf("records: got %d, want 2", len(h.pub.Records))
	}
	second := h.pub.Records[1]
	if second.Temperature.IsValid() {
		t.Errorf("temperature: got %v, want no reading", second.Temperature)
	}
	if second.Actions != logic.ActionHeat {
		t.Errorf("actions: got %v, want H held", second.Actions)
	}
}

func TestRunLoopPublishErrorContinues(t *testing.T) {
	h := newHarness(t, 15)
	h.stage(t, heatingSettings())
	h.pub.PublishError = errors.New("broker down")

	if err := h.run(t, 3, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if got := h.tracker.Snapshot().Cycles; got != 4 {
		t.Errorf("cycles: got %d, want 4", got)
	}
	if last, _ := h.relays.Last(); last != logic.ActionHeat {
		t.Errorf("relays: got %v, want H", last)
	}
	if len(h.pub.SystemEvents) != 1 {
		t.Errorf("system events: got %d, want 1", len(h.pub.SystemEvents))
	}
}

func TestRunLoopCommitWriteErrorRetries(t *testing.T) {
	h := newHarness(t, 19)
	h.stage(t, heatingSettings())
	h.mem.StoreErr = errors.New("write protect")
	h.onCycle = func(n int) {
		if n == 1 {
			if !h.store.IsDirty() {
				t.Error("expected dirty after failed write")
			}
			h.mem.StoreErr = nil
		}
	}

	if err := h.run(t, 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if h.store.IsDirty() {
		t.Error("expected the retry to persist the configuration")
	}
	if h.store.Current().Settings.DefaultHeat != 20 {
		t.Errorf("committed heat: got %v, want 20", h.store.Current().Settings.DefaultHeat)
	}
}

func TestRunLoopTrackerReflectsCycle(t *testing.T) {
	h := newHarness(t, 15)
	h.stage(t, heatingSettings())
	h.link.SetConnected(true)

	if err := h.run(t, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	snap := h.tracker.Snapshot()
	if snap.LastCycle.Actions != logic.ActionHeat {
		t.Errorf("tracker actions: got %v, want H", snap.LastCycle.Actions)
	}
	if snap.LastCycle.Serial != 1 {
		t.Errorf("tracker serial: got %d, want 1", snap.LastCycle.Serial)
	}
	if !snap.MQTTConnected {
		t.Error("expected MQTT connected")
	}
	if snap.Config.Dirty {
		t.Error("expected committed configuration to be clean")
	}
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	h := newHarness(t, 19)

	if err := h.run(t, 0, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(h.pub.SystemEvents) != 1 {
		t.Fatalf("system events: got %d, want 1", len(h.pub.SystemEvents))
	}
	ev := h.pub.SystemEvents[0]
	if ev.Event != "SHUTDOWN" || ev.Reason != "SIGINT" || !ev.Retained {
		t.Errorf("event: got %+v", ev)
	}

	var payload status.StatusJSON
	if err := json.Unmarshal(h.pub.SystemPayloads[0], &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Status.Event != "SHUTDOWN" || payload.Status.Reason != "SIGINT" {
		t.Errorf("payload: got %+v", payload.Status)
	}
	if !payload.Status.Ready {
		t.Error("expected ready after one cycle")
	}
}

func TestRunLoopShutdownPublishFailure(t *testing.T) {
	h := newHarness(t, 19)
	h.pub.PublishSystemError = errors.New("broker down")

	if err := h.run(t, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(h.pub.SystemEvents) != 0 {
		t.Errorf("system events: got %d, want 0", len(h.pub.SystemEvents))
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func TestPrintConfig(t *testing.T) {
	cs := config.New(store.NewMemory(store.DefaultSize), logger.Nop())
	if err := cs.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	var buf bytes.Buffer
	if err := printConfig(&buf, cs.Current()); err != nil {
		t.Fatalf("printConfig: %v", err)
	}

	var out struct {
		Transport string `json:"transport"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.HasPrefix(out.Transport, config.TransportMagic) {
		t.Errorf("transport: got %q, want prefix %q", out.Transport, config.TransportMagic)
	}
}
