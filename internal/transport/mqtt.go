package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	DefaultMQTTKeepAlive      = 60 * time.Second
	DefaultMQTTConnectTimeout = 10 * time.Second
	mqttDisconnectQuiesce     = 250 // ms
)

// MQTTConfig configures an MQTT subscriber source.
type MQTTConfig struct {
	ID             string
	Broker         string
	Port           int
	Topic          string
	QoS            byte
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	InboxSize      int
}

// BrokerURL returns the tcp:// URL the client dials.
func (c MQTTConfig) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Broker, c.Port)
}

// MQTTSource subscribes to one topic over MQTT 3.1.1. The client never
// reconnects on its own; the controller's state machine calls Open again.
type MQTTSource struct {
	cfg     MQTTConfig
	handoff *Handoff
	inbox   *inbox
	logger  *slog.Logger

	// gen is bumped on every Open and on Close; callbacks from older
	// clients compare against it and go quiet.
	gen atomic.Uint64

	mu     sync.Mutex
	client mqtt.Client
	closed bool

	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewMQTTSource validates cfg and returns an unopened source that posts its
// client callbacks to h.
func NewMQTTSource(cfg MQTTConfig, h *Handoff, logger *slog.Logger) (*MQTTSource, error) {
	if cfg.ID == "" {
		return nil, errors.New("mqtt source id is empty")
	}
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt source %s: broker is empty", cfg.ID)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt source %s: topic is empty", cfg.ID)
	}
	if h == nil {
		return nil, fmt.Errorf("mqtt source %s: handoff is nil", cfg.ID)
	}
	if cfg.Port <= 0 {
		cfg.Port = 1883
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt source %s: invalid qos %d", cfg.ID, cfg.QoS)
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultMQTTKeepAlive
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultMQTTConnectTimeout
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "medkiosk-" + cfg.ID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTSource{
		cfg:       cfg,
		handoff:   h,
		inbox:     newInbox(cfg.ID, h, cfg.InboxSize),
		logger:    logger.With("source_id", cfg.ID),
		newClient: mqtt.NewClient,
	}, nil
}

func (s *MQTTSource) ID() string         { return s.cfg.ID }
func (s *MQTTSource) Encoding() Encoding { return EncodingJSON }
func (s *MQTTSource) Delivery() Delivery { return DeliveryPushed }

// Dropped returns how many frames were discarded because the inbox was full.
func (s *MQTTSource) Dropped() uint64 { return s.inbox.droppedCount() }

// Open starts a connect attempt and returns immediately. The outcome arrives
// later as NoticeConnected or NoticeConnectFailed.
func (s *MQTTSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &OpenError{SourceID: s.cfg.ID, Target: s.cfg.BrokerURL(), Err: errors.New("source closed")}
	}
	if err := ctx.Err(); err != nil {
		return &OpenError{SourceID: s.cfg.ID, Target: s.cfg.BrokerURL(), Err: err}
	}
	if s.client != nil {
		s.client.Disconnect(mqttDisconnectQuiesce)
		s.client = nil
	}

	gen := s.gen.Add(1)
	client := s.newClient(s.clientOptions(gen))
	s.client = client

	token := client.Connect()
	go func() {
		select {
		case <-token.Done():
		case <-s.handoff.Done():
			return
		}
		if err := token.Error(); err != nil {
			s.post(gen, NoticeConnectFailed, err)
		}
	}()
	return nil
}

func (s *MQTTSource) clientOptions(gen uint64) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL()).
		SetClientID(s.cfg.ClientID).
		SetProtocolVersion(4).
		SetCleanSession(true).
		SetKeepAlive(s.cfg.KeepAlive).
		SetConnectTimeout(s.cfg.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOnConnectHandler(func(c mqtt.Client) { s.onConnect(gen, c) }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) { s.post(gen, NoticeLost, err) })
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	return opts
}

func (s *MQTTSource) onConnect(gen uint64, c mqtt.Client) {
	token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		s.onMessage(gen, msg.Payload())
	})
	// Handlers must not block the client's router.
	go func() {
		select {
		case <-token.Done():
		case <-s.handoff.Done():
			return
		}
		if err := token.Error(); err != nil {
			s.post(gen, NoticeConnectFailed, fmt.Errorf("subscribe %s: %w", s.cfg.Topic, err))
			return
		}
		s.post(gen, NoticeConnected, nil)
	}()
}

func (s *MQTTSource) onMessage(gen uint64, payload []byte) {
	if s.gen.Load() != gen {
		return
	}
	s.inbox.push(payload)
}

func (s *MQTTSource) post(gen uint64, typ NoticeType, err error) {
	if s.gen.Load() != gen {
		s.logger.Debug("dropping stale mqtt notice", "type", string(typ))
		return
	}
	s.handoff.Post(Notice{SourceID: s.cfg.ID, Type: typ, Err: err})
}

// Poll drains frames received since the last call.
func (s *MQTTSource) Poll() ([]Frame, error) {
	return s.inbox.drain(), nil
}

func (s *MQTTSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.gen.Add(1)
	if s.client != nil {
		s.client.Disconnect(mqttDisconnectQuiesce)
		s.client = nil
	}
	return nil
}
