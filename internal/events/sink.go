// Package events delivers readings, connection status, dispatch results and
// notices to whatever presents them.
package events

import (
	"time"

	"github.com/mattjoyce/medkiosk/internal/conn"
	"github.com/mattjoyce/medkiosk/internal/reading"
	"github.com/mattjoyce/medkiosk/internal/station"
)

// Event types published on the hub.
const (
	TypeReading    = "reading"
	TypeConnection = "connection"
	TypeDispatch   = "dispatch"
	TypeNotice     = "notice"
)

// Severity of a notice.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// Notice classes.
const (
	ClassFrameParse   = "frame_parse"
	ClassOutOfRange   = "value_out_of_range"
	ClassUnitMismatch = "unit_mismatch"
	ClassTransport    = "transport"
	ClassOverflow     = "inbox_overflow"
	ClassDispatch     = "dispatch"
)

// Notice is a status message for the operator.
type Notice struct {
	SourceID string    `json:"source_id,omitempty"`
	Severity Severity  `json:"severity"`
	Class    string    `json:"class"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Sink receives everything the core produces. Calls come from a single
// goroutine and must not block.
type Sink interface {
	Reading(r reading.Reading)
	Status(s conn.Status)
	Dispatch(r station.Result)
	Notice(n Notice)
}

func (h *Hub) Reading(r reading.Reading) { h.Publish(TypeReading, r) }
func (h *Hub) Status(s conn.Status) { h.Publish(TypeConnection, s) }
func (h *Hub) Dispatch(r station.Result) { h.Publish(TypeDispatch, r) }
func (h *Hub) Notice(n Notice) { h.Publish(TypeNotice, n) }

// Multi fans every call out to each sink in order.
type Multi []Sink

func (m Multi) Reading(r reading.Reading) {
	for _, s := range m {
		s.Reading(r)
	}
}

func (m Multi) Status(st conn.Status) {
	for _, s := range m {
		s.Status(st)
	}
}

func (m Multi) Dispatch(r station.Result) {
	for _, s := range m {
		s.Dispatch(r)
	}
}

func (m Multi) Notice(n Notice) {
	for _, s := range m {
		s.Notice(n)
	}
}

// Discard drops everything.
type Discard struct{}

func (Discard) Reading(reading.Reading) {}
func (Discard) Status(conn.Status) {}
func (Discard) Dispatch(station.Result) {}
func (Discard) Notice(Notice) {}
