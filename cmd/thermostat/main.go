// Command thermostat reads temperature sensors, drives heat, cool and
// circulation relays, and reports status and accepts configuration over MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/thermostat/internal/appconfig"
	"github.com/sweeney/thermostat/internal/config"
	"github.com/sweeney/thermostat/internal/gpio"
	"github.com/sweeney/thermostat/internal/logger"
	"github.com/sweeney/thermostat/internal/logic"
	"github.com/sweeney/thermostat/internal/mqtt"
	"github.com/sweeney/thermostat/internal/sensor"
	"github.com/sweeney/thermostat/internal/status"
	"github.com/sweeney/thermostat/internal/store"
	"github.com/sweeney/thermostat/internal/web"
)

func main() {
	opts, err := appconfig.Load(os.Args[1:])
	if errors.Is(err, appconfig.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "thermostat: %v\n", err)
		os.Exit(2)
	}

	log := logger.New(opts.LogLevel)
	defer log.Sync()

	if err := run(opts, log); err != nil {
		log.Fatalw("fatal", "err", err)
	}
}

func run(opts appconfig.Options, log *logger.Logger) error {
	// Configuration storage
	db, err := store.InitDB(opts.DBPath)
	if err != nil {
		return fmt.Errorf("open configuration storage: %w", err)
	}
	defer db.Close()

	cfgStore := config.New(store.NewSQLite(db, store.DefaultSize), log.Named("config"))
	if err := cfgStore.Initialize(); err != nil {
		return err
	}

	if opts.ResetConfig {
		if err := cfgStore.Reset(); err != nil {
			return fmt.Errorf("reset configuration: %w", err)
		}
		log.Infow("configuration reset to defaults")
		return printConfig(os.Stdout, cfgStore.Current())
	}
	if opts.PrintConfig {
		return printConfig(os.Stdout, cfgStore.Current())
	}

	// Relays
	relays, err := gpio.NewRealRelays(opts.GPIOChip, opts.Pins, opts.ActiveLow)
	if err != nil {
		return fmt.Errorf("init relays: %w", err)
	}
	defer relays.Close()

	controller := logic.NewController(relays, log.Named("control"))
	if err := controller.Initialize(); err != nil {
		return fmt.Errorf("init relays: %w", err)
	}

	sampler := sensor.NewSampler(sensor.NewSysfs(opts.IIODevice, opts.W1Devices), log.Named("sensor"))

	// MQTT
	topics := opts.Topics()
	will, _ := mqtt.FormatSystemPayload(mqtt.SystemEvent{Timestamp: time.Now(), Event: "OFFLINE", Retained: true})
	link, err := mqtt.NewPahoLink(mqtt.LinkOptions{
		Broker:      opts.Broker,
		Username:    opts.Username,
		Password:    opts.Password,
		WillTopic:   topics.System,
		WillPayload: will,
	}, log.Named("mqtt"))
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	sink := mqtt.NewStatusSink(link, topics, opts.Sink, log.Named("mqtt"))
	defer sink.Close()

	if err := mqtt.SubscribeConfig(link, topics, cfgStore, log.Named("mqtt")); err != nil {
		// Subscriptions are restored on the next reconnect.
		log.Warnw("config subscription failed", "err", err)
	}

	// Status tracker (before STARTUP so a snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Options{
		DeviceID:    opts.DeviceID,
		Broker:      opts.Broker,
		HTTPAddr:    opts.HTTPAddr,
		QueueDepth:  opts.Sink.Depth,
		QueuePolicy: opts.Sink.Policy.String(),
	})
	tracker.SetConfig(cfgStore.Current(), cfgStore.IsDirty())
	tracker.SetMQTT(link.IsConnected(), 0)

	publishLifecycle(sink, tracker, "STARTUP", "", log)

	// HTTP status server
	if opts.HTTPAddr != "" {
		srv := web.New(opts.HTTPAddr, tracker, cfgStore, log.Named("http"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("http server error", "err", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		log.Infow("http status server listening", "addr", opts.HTTPAddr)
	}

	log.Infow("started",
		"device", opts.DeviceID,
		"broker", opts.Broker,
		"cadence", cfgStore.Current().Settings.CadenceDuration(),
		"queue_depth", opts.Sink.Depth,
		"queue_policy", opts.Sink.Policy.String())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d := &daemon{
		store:      cfgStore,
		sampler:    sampler,
		scheduler:  logic.NewScheduler(),
		controller: controller,
		publisher:  sink,
		link:       link,
		backlog:    sink.Backlog,
		tracker:    tracker,
		log:        log,
		now:        time.Now,
		after:      time.After,
	}
	return runLoop(d, sigCh)
}

// daemon holds the collaborators of the control loop.
type daemon struct {
	store      *config.Store
	sampler    *sensor.Sampler
	scheduler  *logic.Scheduler
	controller *logic.Controller
	publisher  mqtt.Publisher
	link       mqtt.Link  // connectivity for the status page; may be nil
	backlog    func() int // status backlog length; may be nil
	tracker    *status.Tracker
	log        *logger.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	serial       uint32
	flushPending bool
}

// runLoop runs a control cycle, then waits for the configured cadence, an
// accepted configuration update, or a signal.
func runLoop(d *daemon, sig <-chan os.Signal) error {
	for {
		d.cycle()

		wait := d.after(d.store.Current().Settings.CadenceDuration())
		select {
		case s := <-sig:
			d.log.Infow("shutting down", "signal", s.String())
			publishLifecycle(d.publisher, d.tracker, "SHUTDOWN", signalName(s), d.log)
			return nil
		case <-wait:
		case <-d.store.Updates():
			d.log.Debugw("configuration update staged, running early")
		}
	}
}

// cycle commits any staged configuration, samples the sensors, resolves the
// setpoint, drives the relays and publishes a status record.
func (d *daemon) cycle() {
	committed, err := d.store.AcceptPendingUpdates()
	if err != nil {
		d.log.Errorw("configuration commit not persisted", "err", err)
		d.flushPending = true
	} else if d.flushPending {
		if err := d.store.Flush(); err != nil {
			d.log.Warnw("configuration flush retry failed", "err", err)
		} else {
			d.flushPending = false
		}
	}

	cfg := d.store.Current()
	settings := &cfg.Settings
	if committed {
		d.log.Infow("configuration applied",
			"cadence", settings.CadenceDuration(),
			"settings", len(settings.ThermostatSettings))
	}

	now := d.now()
	cadence := settings.CadenceDuration()
	sample := d.sampler.Sample(settings.ExternalSensorID, 2*cadence)
	sp := d.scheduler.CurrentSetpoint(settings, now)
	actions := d.controller.Apply(settings.Threshold, sp, sample.Temperature)

	d.serial++
	rec := mqtt.Record{
		Timestamp:          now,
		Serial:             d.serial,
		Actions:            actions,
		Setpoint:           sp,
		Threshold:          settings.Threshold,
		Temperature:        sample.Temperature,
		UsedExternal:       sample.UsedExternal,
		OnboardTemperature: sample.Onboard,
		Humidity:           sample.Humidity,
		Sensors:            sample.Sensors,
		ExternalID:         settings.ExternalSensorID,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cadence)
	if err := d.publisher.Publish(ctx, rec); err != nil {
		d.log.Warnw("status record not delivered", "serial", rec.Serial, "err", err)
	}
	cancel()

	if d.tracker != nil {
		d.tracker.Update(status.Cycle{
			At:        now,
			Serial:    d.serial,
			Actions:   actions,
			Setpoint:  sp,
			Threshold: settings.Threshold,
			Sample:    sample,
		})
		d.tracker.SetConfig(cfg, d.store.IsDirty())
		d.refreshMQTT()
	}
}

func (d *daemon) refreshMQTT() {
	connected := d.link != nil && d.link.IsConnected()
	backlog := 0
	if d.backlog != nil {
		backlog = d.backlog()
	}
	d.tracker.SetMQTT(connected, backlog)
}

// publishLifecycle publishes a retained system event carrying a status snapshot.
func publishLifecycle(pub mqtt.Publisher, tracker *status.Tracker, event, reason string, log *logger.Logger) {
	ev := mqtt.SystemEvent{
		Timestamp: time.Now(),
		Event:     event,
		Reason:    reason,
		Retained:  true,
	}
	if tracker != nil {
		snap := tracker.Snapshot()
		ev.Timestamp = snap.Now
		ev.RawPayload = status.FormatStatusEvent(snap, event, reason)
	}
	if err := pub.PublishSystem(ev); err != nil {
		log.Warnw("failed to publish system event", "event", event, "err", err)
		return
	}
	log.Infow("published system event", "event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

func printConfig(w io.Writer, cfg *config.Configuration) error {
	data, err := web.FormatConfigJSON(cfg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
