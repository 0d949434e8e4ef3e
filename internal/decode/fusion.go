package decode

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/mattjoyce/medkiosk/internal/reading"
)

const (
	fieldSpO2 = "spo2"
	fieldTemp = "temp"

	placeholderUnknown = "unknown"
)

// Field is one optional numeric field of a fusion payload.
type Field struct {
	Value     float64
	Available bool
}

// FusionFrame is a decoded sensor-fusion payload.
type FusionFrame struct {
	SpO2 Field
	Temp Field
	// FieldErrors lists fields that were present but not numeric. Such fields
	// decode as unavailable rather than failing the whole payload.
	FieldErrors []*FrameParseError
}

// Complete reports whether both vital fields are available.
func (f FusionFrame) Complete() bool {
	return f.SpO2.Available && f.Temp.Available
}

// DecodeFusion parses one complete fusion payload. Only a payload that is
// not a JSON object fails outright.
func DecodeFusion(payload []byte) (FusionFrame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(payload), &fields); err != nil || fields == nil {
		return FusionFrame{}, &FrameParseError{Reason: ReasonUnknownFormat, Input: truncate(string(payload), 128), Detail: "payload is not a JSON object"}
	}

	var frame FusionFrame
	var err *FrameParseError
	if frame.SpO2, err = decodeField(fieldSpO2, fields[fieldSpO2]); err != nil {
		frame.FieldErrors = append(frame.FieldErrors, err)
	}
	if frame.Temp, err = decodeField(fieldTemp, fields[fieldTemp]); err != nil {
		frame.FieldErrors = append(frame.FieldErrors, err)
	}
	return frame, nil
}

func decodeField(name string, raw json.RawMessage) (Field, *FrameParseError) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return Field{}, nil
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return finiteField(name, n, string(raw))
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if strings.EqualFold(s, placeholderUnknown) || s == "" || s == "--" {
			return Field{}, nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return finiteField(name, n, s)
		}
		return Field{}, &FrameParseError{Reason: ReasonNotNumeric, Input: name, Detail: "value " + strconv.Quote(s)}
	}

	return Field{}, &FrameParseError{Reason: ReasonNotNumeric, Input: name, Detail: "value " + truncate(string(raw), 64)}
}

func finiteField(name string, n float64, raw string) (Field, *FrameParseError) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return Field{}, &FrameParseError{Reason: ReasonNotNumeric, Input: name, Detail: "value " + raw}
	}
	return Field{Value: n, Available: true}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// FusionDecoder decodes fusion payloads and carries the heart-rate
// synthesizer between calls. It is not safe for concurrent use; the
// controller owns one per source.
type FusionDecoder struct {
	heart *HeartRate
}

// NewFusionDecoder returns a decoder whose heart rate walks by steps.
func NewFusionDecoder(steps StepSource) *FusionDecoder {
	return &FusionDecoder{heart: NewHeartRate(steps)}
}

// Decode returns the values carried by payload plus a synthesized heart rate
// when the payload has both vitals in plausible range, and any field-level
// errors.
func (d *FusionDecoder) Decode(payload []byte) ([]Value, []*FrameParseError, error) {
	frame, err := DecodeFusion(payload)
	if err != nil {
		return nil, nil, err
	}

	var values []Value
	if frame.SpO2.Available {
		values = append(values, Value{Kind: reading.KindSpO2, Value: frame.SpO2.Value, Unit: reading.KindSpO2.CanonicalUnit()})
	}
	if frame.Temp.Available {
		values = append(values, Value{Kind: reading.KindTemperature, Value: frame.Temp.Value, Unit: reading.KindTemperature.CanonicalUnit()})
	}
	if frame.Complete() && plausible(frame) {
		bpm := d.heart.Next()
		values = append(values, Value{Kind: reading.KindHeartRate, Value: float64(bpm), Unit: reading.KindHeartRate.CanonicalUnit()})
	}
	return values, frame.FieldErrors, nil
}

func plausible(f FusionFrame) bool {
	return reading.Validate(reading.KindSpO2, f.SpO2.Value) == nil &&
		reading.Validate(reading.KindTemperature, f.Temp.Value) == nil
}
