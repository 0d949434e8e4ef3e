package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultSerialReadTimeout = 100 * time.Millisecond
	serialReadSize           = 4096
)

// Port is the slice of a serial port the source uses.
type Port interface {
	Read(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// PortOpener opens a device at a baud rate.
type PortOpener func(device string, baud int) (Port, error)

// OpenSerialPort opens a real device with 8N1 framing.
func OpenSerialPort(device string, baud int) (Port, error) {
	return serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// SerialConfig configures a serial line source.
type SerialConfig struct {
	ID          string
	Device      string
	Baud        int
	ReadTimeout time.Duration
	// Open defaults to OpenSerialPort.
	Open PortOpener
}

// SerialSource reads text lines from a serial device. Each Poll returns the
// bytes of one bounded read as a single frame; nothing is carried over
// between polls.
type SerialSource struct {
	cfg SerialConfig

	mu     sync.Mutex
	port   Port
	closed bool
	buf    []byte
}

// NewSerialSource validates cfg and returns an unopened source.
func NewSerialSource(cfg SerialConfig) (*SerialSource, error) {
	if cfg.ID == "" {
		return nil, errors.New("serial source id is empty")
	}
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial source %s: device is empty", cfg.ID)
	}
	if cfg.Baud <= 0 {
		return nil, fmt.Errorf("serial source %s: invalid baud %d", cfg.ID, cfg.Baud)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultSerialReadTimeout
	}
	if cfg.Open == nil {
		cfg.Open = OpenSerialPort
	}
	return &SerialSource{cfg: cfg, buf: make([]byte, serialReadSize)}, nil
}

func (s *SerialSource) ID() string         { return s.cfg.ID }
func (s *SerialSource) Encoding() Encoding { return EncodingLines }
func (s *SerialSource) Delivery() Delivery { return DeliveryPolled }

// Device returns the configured device node.
func (s *SerialSource) Device() string { return s.cfg.Device }

func (s *SerialSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := fmt.Sprintf("%s@%d", s.cfg.Device, s.cfg.Baud)
	if s.closed {
		return &OpenError{SourceID: s.cfg.ID, Target: target, Err: errors.New("source closed")}
	}
	if err := ctx.Err(); err != nil {
		return &OpenError{SourceID: s.cfg.ID, Target: target, Err: err}
	}
	if s.port != nil {
		_ = s.port.Close()
		s.port = nil
	}

	p, err := s.cfg.Open(s.cfg.Device, s.cfg.Baud)
	if err != nil {
		return &OpenError{SourceID: s.cfg.ID, Target: target, Err: err}
	}
	if err := p.SetReadTimeout(s.cfg.ReadTimeout); err != nil {
		_ = p.Close()
		return &OpenError{SourceID: s.cfg.ID, Target: target, Err: fmt.Errorf("set read timeout: %w", err)}
	}
	s.port = p
	return nil
}

func (s *SerialSource) Poll() ([]Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil, fmt.Errorf("serial source %s: not open", s.cfg.ID)
	}
	n, err := s.port.Read(s.buf)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.cfg.Device, err)
	}
	if n == 0 {
		return nil, nil
	}
	data := append([]byte(nil), s.buf[:n]...)
	return []Frame{{SourceID: s.cfg.ID, Data: data, At: time.Now()}}, nil
}

func (s *SerialSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
