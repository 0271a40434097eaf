// Package mqtt carries the fleet's event bus over an MQTT broker using
// Eclipse Paho. Envelopes are published as JSON on the fleet topics and fanned
// out to local subscriptions.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/taxifleet/core/bus"
	"github.com/kilianp07/taxifleet/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string `json:"broker"`
	ClientID   string `json:"client_id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	UseTLS     bool   `json:"use_tls"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
	CABundle   string `json:"ca_bundle"`
	AuthMethod string `json:"auth_method"`
	// QoS maps a topic to its quality of service; "default" applies to
	// the others.
	QoS        map[string]byte `json:"qos"`
	LWTTopic   string          `json:"lwt_topic"`
	LWTPayload string          `json:"lwt_payload"`
	LWTQoS     byte            `json:"lwt_qos"`
	LWTRetain  bool            `json:"lwt_retain"`
	MaxRetries int             `json:"max_retries"`
	BackoffMS  int             `json:"backoff_ms"`
	// Buffer is the channel capacity of each subscription.
	Buffer    int         `json:"buffer"`
	TLSConfig *tls.Config `json:"-"`
}

// pahoClient is the subset of paho.Client the bus relies on.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

// DefaultBuffer is the subscription capacity used when Config.Buffer is unset.
const DefaultBuffer = 1024

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Bus implements bus.Bus on an MQTT broker.
type Bus struct {
	cli        pahoClient
	qos        map[string]byte
	log        logger.Logger
	maxRetries int
	backoff    time.Duration
	buffer     int

	mu     sync.Mutex
	subs   map[string][]*subscription
	closed bool
}

// New connects to the broker. Subscriptions are restored after every
// reconnection.
func New(cfg Config) (*Bus, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	b := &Bus{
		qos:        cfg.QoS,
		log:        logger.New("mqtt_bus"),
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		buffer:     cfg.Buffer,
		subs:       make(map[string][]*subscription),
	}
	if b.maxRetries <= 0 {
		b.maxRetries = 3
	}
	if b.backoff <= 0 {
		b.backoff = 100 * time.Millisecond
	}
	if b.buffer <= 0 {
		b.buffer = DefaultBuffer
	}

	opts.OnConnect = func(c paho.Client) {
		b.log.Infof("MQTT connected")
		b.resubscribe(c)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		b.log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		b.log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	b.cli = c
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, token.Error())
	}
	return b, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func (b *Bus) qosFor(topic string) byte {
	if q, ok := b.qos[topic]; ok {
		return q
	}
	return b.qos["default"]
}

// Publish encodes e and sends it, retrying with exponential backoff.
func (b *Bus) Publish(ctx context.Context, topic string, e bus.Envelope) error {
	payload, err := bus.Encode(e)
	if err != nil {
		return err
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return bus.ErrClosed
	}

	qos := b.qosFor(topic)
	var publishErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		token := b.cli.Publish(topic, qos, false, payload)
		select {
		case <-token.Done():
			publishErr = token.Error()
		case <-ctx.Done():
			return ctx.Err()
		}
		if publishErr == nil {
			return nil
		}
		b.log.Errorf("publish %s to %s attempt %d failed: %v", e.Subject, topic, attempt+1, publishErr)
		select {
		case <-time.After(b.backoff * time.Duration(1<<attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("publish %s to %s: %w", e.Subject, topic, publishErr)
}

// Subscribe opens a subscription on topic. The broker subscription is
// shared by every local subscriber of the same topic.
func (b *Bus) Subscribe(topic string) (bus.Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, bus.ErrClosed
	}
	s := &subscription{bus: b, topic: topic, ch: make(chan bus.Envelope, b.buffer)}
	first := len(b.subs[topic]) == 0
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	if first {
		token := b.cli.Subscribe(topic, b.qosFor(topic), b.onMessage)
		if token.Wait() && token.Error() != nil {
			_ = s.Close()
			return nil, fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
	}
	return s, nil
}

func (b *Bus) resubscribe(c paho.Client) {
	b.mu.Lock()
	topics := make([]string, 0, len(b.subs))
	for t := range b.subs {
		topics = append(topics, t)
	}
	b.mu.Unlock()
	for _, t := range topics {
		if token := c.Subscribe(t, b.qosFor(t), b.onMessage); token.Wait() && token.Error() != nil {
			b.log.Errorf("resubscribe %s: %v", t, token.Error())
		}
	}
}

func (b *Bus) onMessage(_ paho.Client, msg paho.Message) {
	e, err := bus.Decode(msg.Payload())
	if err != nil {
		b.log.Warnf("dropping message on %s: %v", msg.Topic(), err)
		messagesDropped.WithLabelValues(msg.Topic(), "decode").Inc()
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[msg.Topic()] {
		select {
		case s.ch <- e:
		default:
			b.log.Errorf("subscriber on %s is full, dropping %s for %s", msg.Topic(), e.Subject, e.ID)
			messagesDropped.WithLabelValues(msg.Topic(), "buffer_full").Inc()
		}
	}
}

func (b *Bus) unsubscribe(s *subscription) {
	b.mu.Lock()
	list := b.subs[s.topic]
	found := false
	for i, x := range list {
		if x == s {
			list = append(list[:i], list[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		b.mu.Unlock()
		return
	}
	close(s.ch)
	last := len(list) == 0
	if last {
		delete(b.subs, s.topic)
	} else {
		b.subs[s.topic] = list
	}
	closed := b.closed
	b.mu.Unlock()

	if last && !closed {
		if token := b.cli.Unsubscribe(s.topic); token.Wait() && token.Error() != nil {
			b.log.Warnf("unsubscribe %s: %v", s.topic, token.Error())
		}
	}
}

// Close ends every subscription and disconnects from the broker.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for t, list := range b.subs {
		for _, s := range list {
			close(s.ch)
		}
		delete(b.subs, t)
	}
	b.mu.Unlock()
	if b.cli != nil && b.cli.IsConnected() {
		b.cli.Disconnect(250)
	}
	return nil
}

type subscription struct {
	bus   *Bus
	topic string
	ch    chan bus.Envelope
	once  sync.Once
}

func (s *subscription) C() <-chan bus.Envelope { return s.ch }

func (s *subscription) Close() error {
	s.once.Do(func() { s.bus.unsubscribe(s) })
	return nil
}

var _ bus.Bus = (*Bus)(nil)
