package api

import (
	"github.com/mattjoyce/medkiosk/internal/conn"
	"github.com/mattjoyce/medkiosk/internal/journal"
	"github.com/mattjoyce/medkiosk/internal/station"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	Sources          int    `json:"sources"`
	SourcesConnected int    `json:"sources_connected"`
	Stations         int    `json:"stations"`
}

// SourcesResponse is returned by GET /sources.
type SourcesResponse struct {
	Sources []conn.Status `json:"sources"`
}

// TransitionsResponse is returned by GET /sources/{id}/transitions.
type TransitionsResponse struct {
	SourceID    string               `json:"source_id"`
	Transitions []journal.Transition `json:"transitions"`
}

// StationSummary is one row of GET /stations.
type StationSummary struct {
	Title string       `json:"title"`
	Kind  station.Kind `json:"kind"`
	Path  string       `json:"path"`
	// Ready is true when every pre-launch check passes.
	Ready   bool            `json:"ready"`
	Outcome station.Outcome `json:"outcome,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// StationsResponse is returned by GET /stations.
type StationsResponse struct {
	Stations []StationSummary `json:"stations"`
}

// ReadingsResponse is returned by GET /readings.
type ReadingsResponse struct {
	Readings []journal.Entry `json:"readings"`
}
