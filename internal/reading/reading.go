// Package reading defines validated physiological measurements and the
// plausibility rules every value must pass before it is published.
package reading

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Kind identifies what a reading measures.
type Kind string

const (
	KindHeight      Kind = "height"
	KindWeight      Kind = "weight"
	KindSpO2        Kind = "spo2"
	KindTemperature Kind = "temperature"
	KindHeartRate   Kind = "heart_rate"
)

// Reading is a validated, typed measurement ready for presentation.
type Reading struct {
	Kind      Kind      `json:"kind"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	SourceID  string    `json:"source_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Range is an inclusive plausibility window.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

type rule struct {
	unit  string
	valid Range
}

// Weight is reported by the load cell in grams, so the window spans a
// 1 kg infant to a 300 kg adult.
var rules = map[Kind]rule{
	KindHeight:      {unit: "cm", valid: Range{Min: 30, Max: 250}},
	KindWeight:      {unit: "g", valid: Range{Min: 1000, Max: 300000}},
	KindSpO2:        {unit: "%", valid: Range{Min: 0, Max: 100}},
	KindTemperature: {unit: "°c", valid: Range{Min: 30, Max: 45}},
	KindHeartRate:   {unit: "bpm", valid: Range{Min: 30, Max: 220}},
}

// canonicalUnits keeps the display spelling of each unit.
var canonicalUnits = map[Kind]string{
	KindHeight:      "cm",
	KindWeight:      "g",
	KindSpO2:        "%",
	KindTemperature: "°C",
	KindHeartRate:   "bpm",
}

// Kinds returns every known kind in stable order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(rules))
	for k := range rules {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := rules[k]
	return ok
}

// CanonicalUnit returns the unit readings of this kind are published in.
func (k Kind) CanonicalUnit() string {
	return canonicalUnits[k]
}

// PlausibleRange returns the accepted value window for k.
func (k Kind) PlausibleRange() (Range, bool) {
	r, ok := rules[k]
	return r.valid, ok
}

// ValueOutOfRangeError is returned when a value falls outside its kind's
// plausible range, or is not a finite number.
type ValueOutOfRangeError struct {
	Kind  Kind
	Value float64
	Range Range
}

func (e *ValueOutOfRangeError) Error() string {
	return fmt.Sprintf("%s value %g outside plausible range [%g, %g]", e.Kind, e.Value, e.Range.Min, e.Range.Max)
}

// UnitMismatchError is returned when a decoded unit does not match the
// kind's canonical unit.
type UnitMismatchError struct {
	Kind Kind
	Got  string
	Want string
}

func (e *UnitMismatchError) Error() string {
	return fmt.Sprintf("%s unit %q does not match canonical unit %q", e.Kind, e.Got, e.Want)
}

// UnknownKindError is returned for kinds without validation rules.
type UnknownKindError struct {
	Kind Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown reading kind %q", e.Kind)
}

// Validate checks value against the plausible range for kind.
func Validate(kind Kind, value float64) error {
	r, ok := rules[kind]
	if !ok {
		return &UnknownKindError{Kind: kind}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || !r.valid.Contains(value) {
		return &ValueOutOfRangeError{Kind: kind, Value: value, Range: r.valid}
	}
	return nil
}

// Normalize verifies the declared unit and the value range, and returns the
// reading with its unit spelled canonically. It performs no unit conversion.
func Normalize(r Reading) (Reading, error) {
	rl, ok := rules[r.Kind]
	if !ok {
		return Reading{}, &UnknownKindError{Kind: r.Kind}
	}

	unit := strings.ToLower(strings.TrimSpace(r.Unit))
	if unit != rl.unit {
		return Reading{}, &UnitMismatchError{Kind: r.Kind, Got: r.Unit, Want: canonicalUnits[r.Kind]}
	}
	if err := Validate(r.Kind, r.Value); err != nil {
		return Reading{}, err
	}

	r.Unit = canonicalUnits[r.Kind]
	return r, nil
}
