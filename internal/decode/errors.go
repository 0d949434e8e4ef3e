package decode

import "fmt"

// Reason classifies why a frame could not be decoded.
type Reason string

const (
	ReasonMissingDelimiter Reason = "missing_delimiter"
	ReasonNotNumeric       Reason = "not_numeric"
	ReasonUnknownFormat    Reason = "unknown_format"
)

// FrameParseError reports a single undecodable line or payload field.
type FrameParseError struct {
	Reason Reason
	// Input is the offending line, or the field name for structured payloads.
	Input  string
	Detail string
}

func (e *FrameParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("frame parse error (%s): %q", e.Reason, e.Input)
	}
	return fmt.Sprintf("frame parse error (%s): %q: %s", e.Reason, e.Input, e.Detail)
}
