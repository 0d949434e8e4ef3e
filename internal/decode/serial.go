// Package decode turns raw transport frames into typed measurement values.
//
// Serial decoding is stateless: every line of a chunk is decoded on its own,
// so one malformed line never hides its well-formed siblings. Chunks are not
// reassembled across reads; a line split between two polls decodes as two
// independent (and usually failing) fragments.
//
// Structured decoding parses sensor-fusion JSON payloads and synthesizes a
// heart rate locally, see FusionDecoder.
package decode

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mattjoyce/medkiosk/internal/reading"
)

// LineFormat describes one "<keyword>: <number> <unit>" line grammar.
type LineFormat struct {
	Keyword string
	Unit    string
	Kind    reading.Kind
}

var (
	HeightFormat = LineFormat{Keyword: "height", Unit: "cm", Kind: reading.KindHeight}
	WeightFormat = LineFormat{Keyword: "weight", Unit: "g", Kind: reading.KindWeight}
)

// LineFormats returns the formats known to the decoder, keyed by keyword.
func LineFormats() map[string]LineFormat {
	return map[string]LineFormat{
		HeightFormat.Keyword: HeightFormat,
		WeightFormat.Keyword: WeightFormat,
	}
}

// Value is a decoded but not yet validated measurement.
type Value struct {
	Kind  reading.Kind
	Value float64
	Unit  string
}

// Batch is the outcome of decoding one chunk.
type Batch struct {
	Values []Value
	Errors []*FrameParseError
}

// DecodeLines decodes every non-empty line in chunk against formats. With no
// formats, all known formats are accepted.
func DecodeLines(chunk string, formats ...LineFormat) Batch {
	if len(formats) == 0 {
		formats = []LineFormat{HeightFormat, WeightFormat}
	}

	var b Batch
	for _, raw := range strings.Split(chunk, "\n") {
		line := strings.TrimSpace(strings.TrimRight(raw, "\r"))
		if line == "" {
			continue
		}
		v, err := DecodeLine(line, formats...)
		if err != nil {
			b.Errors = append(b.Errors, err)
			continue
		}
		b.Values = append(b.Values, v)
	}
	return b
}

// DecodeLine decodes a single line.
func DecodeLine(line string, formats ...LineFormat) (Value, *FrameParseError) {
	lower := strings.ToLower(line)

	var (
		format LineFormat
		kwAt   = -1
	)
	for _, f := range formats {
		if i := strings.Index(lower, f.Keyword); i >= 0 && (kwAt < 0 || i < kwAt) {
			format, kwAt = f, i
		}
	}
	if kwAt < 0 {
		return Value{}, &FrameParseError{Reason: ReasonUnknownFormat, Input: line}
	}

	afterKeyword := kwAt + len(format.Keyword)
	colon := strings.Index(lower[afterKeyword:], ":")
	if colon < 0 {
		return Value{}, &FrameParseError{Reason: ReasonMissingDelimiter, Input: line, Detail: "no ':' after " + format.Keyword}
	}
	start := afterKeyword + colon + 1

	unitAt := strings.Index(lower[start:], format.Unit)
	if unitAt < 0 {
		return Value{}, &FrameParseError{Reason: ReasonMissingDelimiter, Input: line, Detail: fmt.Sprintf("no %q unit marker", format.Unit)}
	}

	// Offsets come from the lowered text; numbers are unaffected by case.
	token := strings.TrimSpace(lower[start : start+unitAt])
	if token == "" {
		return Value{}, &FrameParseError{Reason: ReasonNotNumeric, Input: line, Detail: "empty value"}
	}
	f, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, &FrameParseError{Reason: ReasonNotNumeric, Input: line, Detail: fmt.Sprintf("%q is not a finite number", token)}
	}

	return Value{Kind: format.Kind, Value: f, Unit: format.Unit}, nil
}
