package api

import (
	"fmt"

	"github.com/mattjoyce/medkiosk/internal/reading"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the kiosk API, with one
// dispatch operation per configured station.
func buildOpenAPIDoc(stations StationTable) map[string]any {
	paths := map[string]any{
		"/healthz": map[string]any{
			"get": operation("healthz", "Service health", false, "200"),
		},
		"/sources": map[string]any{
			"get": operation("listSources", "Connection status of every source", true, "200"),
		},
		"/sources/{id}/transitions": map[string]any{
			"get": operation("listTransitions", "Journaled connection transitions", true, "200", "503"),
		},
		"/stations": map[string]any{
			"get": operation("listStations", "Configured stations with pre-launch checks", true, "200"),
		},
		"/stations/{title}/dispatch": map[string]any{
			"post": operation("dispatchStation", "Launch a station by title", true, "200", "403", "404", "500"),
		},
		"/readings": map[string]any{
			"get": operation("listReadings", "Journaled readings, newest first", true, "200", "400", "503"),
		},
		"/events": map[string]any{
			"get": operation("streamEvents", "Server-sent reading, connection, dispatch and notice events", true, "200"),
		},
	}

	var titles []string
	if stations != nil {
		titles = stations.Titles()
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "medkiosk",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
			"schemas": map[string]any{
				"StationTitle": map[string]any{
					"type": "string",
					"enum": titles,
				},
				"Reading": readingSchema(),
			},
		},
	}
}

// readingSchema describes a published reading. Each kind's plausible window
// is listed under x-plausible-ranges.
func readingSchema() map[string]any {
	kinds := reading.Kinds()
	names := make([]string, 0, len(kinds))
	ranges := make(map[string]any, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
		r, ok := k.PlausibleRange()
		if !ok {
			continue
		}
		ranges[string(k)] = map[string]any{
			"min":  r.Min,
			"max":  r.Max,
			"unit": k.CanonicalUnit(),
		}
	}
	return map[string]any{
		"type":     "object",
		"required": []string{"kind", "value", "unit", "source_id", "timestamp"},
		"properties": map[string]any{
			"kind":      map[string]any{"type": "string", "enum": names},
			"value":     map[string]any{"type": "number"},
			"unit":      map[string]any{"type": "string"},
			"source_id": map[string]any{"type": "string"},
			"timestamp": map[string]any{"type": "string", "format": "date-time"},
		},
		"x-plausible-ranges": ranges,
	}
}

func operation(id, summary string, secured bool, codes ...string) map[string]any {
	responses := map[string]any{}
	for _, code := range codes {
		responses[code] = map[string]any{"description": describe(code)}
	}
	op := map[string]any{
		"operationId": id,
		"summary":     summary,
		"responses":   responses,
	}
	if secured {
		op["security"] = []any{map[string]any{"BearerAuth": []string{}}}
	}
	return op
}

func describe(code string) string {
	switch code {
	case "200":
		return "OK"
	case "400":
		return "Bad request"
	case "403":
		return "Permission denied"
	case "404":
		return "Not found"
	case "500":
		return "Launch failed"
	case "503":
		return "Unavailable"
	default:
		return fmt.Sprintf("HTTP %s", code)
	}
}
