package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

const DefaultNATSConnectTimeout = 5 * time.Second

// NATSConfig configures a NATS subscriber source.
type NATSConfig struct {
	ID             string
	URL            string
	Subject        string
	Name           string
	Token          string
	ConnectTimeout time.Duration
	InboxSize      int
}

// NATSSource subscribes to one subject. Like MQTTSource it never reconnects
// by itself.
type NATSSource struct {
	cfg     NATSConfig
	handoff *Handoff
	inbox   *inbox
	logger  *slog.Logger

	gen atomic.Uint64

	mu     sync.Mutex
	nc     *nats.Conn
	closed bool

	connect func(url string, opts ...nats.Option) (*nats.Conn, error)
}

// NewNATSSource validates cfg and returns an unopened source that posts its
// client callbacks to h.
func NewNATSSource(cfg NATSConfig, h *Handoff, logger *slog.Logger) (*NATSSource, error) {
	if cfg.ID == "" {
		return nil, errors.New("nats source id is empty")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats source %s: url is empty", cfg.ID)
	}
	if cfg.Subject == "" {
		return nil, fmt.Errorf("nats source %s: subject is empty", cfg.ID)
	}
	if h == nil {
		return nil, fmt.Errorf("nats source %s: handoff is nil", cfg.ID)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultNATSConnectTimeout
	}
	if cfg.Name == "" {
		cfg.Name = "medkiosk-" + cfg.ID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSource{
		cfg:     cfg,
		handoff: h,
		inbox:   newInbox(cfg.ID, h, cfg.InboxSize),
		logger:  logger.With("source_id", cfg.ID),
		connect: nats.Connect,
	}, nil
}

func (s *NATSSource) ID() string         { return s.cfg.ID }
func (s *NATSSource) Encoding() Encoding { return EncodingJSON }
func (s *NATSSource) Delivery() Delivery { return DeliveryPushed }

// Dropped returns how many frames were discarded because the inbox was full.
func (s *NATSSource) Dropped() uint64 { return s.inbox.droppedCount() }

func (s *NATSSource) options(gen uint64) []nats.Option {
	opts := []nats.Option{
		nats.Name(s.cfg.Name),
		nats.NoReconnect(),
		nats.Timeout(s.cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = nats.ErrConnectionClosed
			}
			s.post(gen, NoticeLost, err)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			s.logger.Warn("nats async error", "error", err)
		}),
	}
	if s.cfg.Token != "" {
		opts = append(opts, nats.Token(s.cfg.Token))
	}
	return opts
}

// Open dials in the background and returns immediately.
func (s *NATSSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &OpenError{SourceID: s.cfg.ID, Target: s.cfg.URL, Err: errors.New("source closed")}
	}
	if err := ctx.Err(); err != nil {
		return &OpenError{SourceID: s.cfg.ID, Target: s.cfg.URL, Err: err}
	}
	gen := s.gen.Add(1)
	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}

	go s.dial(gen)
	return nil
}

func (s *NATSSource) dial(gen uint64) {
	nc, err := s.connect(s.cfg.URL, s.options(gen)...)
	if err != nil {
		s.post(gen, NoticeConnectFailed, err)
		return
	}

	_, err = nc.Subscribe(s.cfg.Subject, func(msg *nats.Msg) {
		if s.gen.Load() == gen {
			s.inbox.push(msg.Data)
		}
	})
	if err == nil {
		err = nc.Flush()
	}
	if err != nil {
		nc.Close()
		s.post(gen, NoticeConnectFailed, fmt.Errorf("subscribe %s: %w", s.cfg.Subject, err))
		return
	}

	s.mu.Lock()
	if s.closed || s.gen.Load() != gen {
		s.mu.Unlock()
		nc.Close()
		return
	}
	s.nc = nc
	s.mu.Unlock()

	s.post(gen, NoticeConnected, nil)
}

func (s *NATSSource) post(gen uint64, typ NoticeType, err error) {
	if s.gen.Load() != gen {
		s.logger.Debug("dropping stale nats notice", "type", string(typ))
		return
	}
	s.handoff.Post(Notice{SourceID: s.cfg.ID, Type: typ, Err: err})
}

// Poll drains frames received since the last call.
func (s *NATSSource) Poll() ([]Frame, error) {
	return s.inbox.drain(), nil
}

func (s *NATSSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.gen.Add(1)
	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
	}
	return nil
}
