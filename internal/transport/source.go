// Package transport acquires raw frames from live reading sources.
//
// Two delivery styles share one ReadingSource contract. Polled sources (serial
// devices) are read on the controller's tick. Pushed sources (MQTT, NATS) run
// their network client on its own goroutines and reach the controller only
// through a Handoff; their Poll drains frames the client already received.
package transport

import (
	"context"
	"fmt"
	"time"
)

// Encoding names the wire format of a source's frames.
type Encoding string

const (
	EncodingLines Encoding = "lines"
	EncodingJSON  Encoding = "json"
)

// Delivery says how frames become available.
type Delivery string

const (
	DeliveryPolled Delivery = "polled"
	DeliveryPushed Delivery = "pushed"
)

// Frame is one chunk of raw transport data.
type Frame struct {
	SourceID string
	Data     []byte
	At       time.Time
}

// ReadingSource is a live source of raw frames.
type ReadingSource interface {
	ID() string
	Encoding() Encoding
	Delivery() Delivery
	// Open acquires the underlying handle. It may be called again after a
	// failure or a lost connection and releases any previous handle first.
	// Errors are *OpenError.
	Open(ctx context.Context) error
	// Poll returns frames available now. It never blocks longer than the
	// source's read timeout.
	Poll() ([]Frame, error)
	// Close releases the handle. It is idempotent and terminal.
	Close() error
}

// OpenError reports a source that could not be opened.
type OpenError struct {
	SourceID string
	Target   string
	Err      error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open source %s (%s): %v", e.SourceID, e.Target, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }
