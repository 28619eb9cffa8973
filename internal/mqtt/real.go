package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sweeney/thermostat/internal/logger"
)

// LinkOptions configure a PahoLink.
type LinkOptions struct {
	Broker   string
	ClientID string // random when empty
	Username string
	Password string

	// Will is published retained on WillTopic if the connection drops uncleanly.
	WillTopic   string
	WillPayload []byte
}

// PahoLink is a Link to an actual MQTT broker.
type PahoLink struct {
	client paho.Client
	log    *logger.Logger

	mu   sync.Mutex
	subs map[string]paho.MessageHandler
}

// NewPahoLink connects to the broker. The client reconnects on its own; a
// broker that is down at startup is retried in the background.
func NewPahoLink(opts LinkOptions, log *logger.Logger) (*PahoLink, error) {
	clientID := opts.ClientID
	if clientID == "" {
		clientID = "thermostat-" + uuid.NewString()
	}

	l := &PahoLink{log: log, subs: make(map[string]paho.MessageHandler)}

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(clientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(l.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnw("mqtt connection lost", "err", err)
		})
	if opts.WillTopic != "" {
		po.SetBinaryWill(opts.WillTopic, opts.WillPayload, 1, true)
	}

	l.client = paho.NewClient(po)
	token := l.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Warnw("mqtt broker not reachable yet, retrying in background", "broker", opts.Broker)
		return l, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return l, nil
}

// onConnect restores subscriptions after every (re)connect.
func (l *PahoLink) onConnect(c paho.Client) {
	l.mu.Lock()
	subs := make(map[string]paho.MessageHandler, len(l.subs))
	for topic, h := range l.subs {
		subs[topic] = h
	}
	l.mu.Unlock()

	l.log.Infow("mqtt connected", "subscriptions", len(subs))
	for topic, h := range subs {
		token := c.Subscribe(topic, 1, h)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			l.log.Errorw("mqtt resubscribe failed", "topic", topic, "err", token.Error())
		}
	}
}

// Send implements Link.
func (l *PahoLink) Send(topic string, payload []byte, qos byte, retained bool) error {
	token := l.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Subscribe implements Link.
func (l *PahoLink) Subscribe(topic string, handler func(payload []byte)) error {
	h := func(_ paho.Client, m paho.Message) {
		handler(m.Payload())
	}

	l.mu.Lock()
	l.subs[topic] = h
	l.mu.Unlock()

	if !l.client.IsConnectionOpen() {
		// Subscribed by onConnect once the connection comes up.
		return nil
	}
	token := l.client.Subscribe(topic, 1, h)
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("subscribe timeout")
	}
	return token.Error()
}

// IsConnected implements Link.
func (l *PahoLink) IsConnected() bool {
	return l.client.IsConnectionOpen()
}

// Close implements Link.
func (l *PahoLink) Close() error {
	l.client.Disconnect(1000) // 1 second timeout
	return nil
}
