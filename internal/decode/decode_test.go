package decode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/medkiosk/internal/reading"
)

func TestDecodeLine(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantKind   reading.Kind
		wantValue  float64
		wantReason Reason
	}{
		{name: "height", line: "Height: 172.5 cm", wantKind: reading.KindHeight, wantValue: 172.5},
		{name: "weight", line: "weight: 68500 g", wantKind: reading.KindWeight, wantValue: 68500},
		{name: "prefixed noise", line: ">> HEIGHT:170CM", wantKind: reading.KindHeight, wantValue: 170},
		{name: "missing colon", line: "height 30 cm", wantReason: ReasonMissingDelimiter},
		{name: "no separator at all", line: "heightcm", wantReason: ReasonMissingDelimiter},
		{name: "missing unit", line: "height: 170", wantReason: ReasonMissingDelimiter},
		{name: "not numeric", line: "height: abc cm", wantReason: ReasonNotNumeric},
		{name: "empty value", line: "weight: g", wantReason: ReasonNotNumeric},
		{name: "unknown keyword", line: "pressure: 120 mmHg", wantReason: ReasonUnknownFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := DecodeLine(tt.line, HeightFormat, WeightFormat)
			if tt.wantReason != "" {
				require.NotNil(t, err)
				assert.Equal(t, tt.wantReason, err.Reason)
				assert.Equal(t, tt.line, err.Input)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tt.wantKind, v.Kind)
			assert.InDelta(t, tt.wantValue, v.Value, 1e-9)
		})
	}
}

func TestDecodeLinesKeepsGoodSiblings(t *testing.T) {
	chunk := "height: 170 cm\r\nheight 30 cm\n\n  weight: 70500 g  \nheight: x cm\n"

	b := DecodeLines(chunk)
	require.Len(t, b.Values, 2)
	assert.Equal(t, reading.KindHeight, b.Values[0].Kind)
	assert.Equal(t, 170.0, b.Values[0].Value)
	assert.Equal(t, reading.KindWeight, b.Values[1].Kind)
	assert.Equal(t, 70500.0, b.Values[1].Value)

	require.Len(t, b.Errors, 2)
	assert.Equal(t, ReasonMissingDelimiter, b.Errors[0].Reason)
	assert.Equal(t, ReasonNotNumeric, b.Errors[1].Reason)
}

func TestDecodeLinesRestrictedFormat(t *testing.T) {
	b := DecodeLines("weight: 70000 g\nheight: 160 cm", HeightFormat)
	require.Len(t, b.Values, 1)
	assert.Equal(t, reading.KindHeight, b.Values[0].Kind)
	require.Len(t, b.Errors, 1)
	assert.Equal(t, ReasonUnknownFormat, b.Errors[0].Reason)
}

func TestDecodeLinesSplitFrameNotReassembled(t *testing.T) {
	first := DecodeLines("height: 17")
	second := DecodeLines("0 cm\n")
	assert.Empty(t, first.Values)
	assert.Empty(t, second.Values)
	assert.Len(t, first.Errors, 1)
	assert.Len(t, second.Errors, 1)
}

func TestDecodeFusion(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		spo2        Field
		temp        Field
		fieldErrors int
	}{
		{name: "numbers", payload: `{"spo2": 97, "temp": 36.6}`, spo2: Field{97, true}, temp: Field{36.6, true}},
		{name: "numeric strings", payload: `{"spo2": "98", "temp": " 36.9 "}`, spo2: Field{98, true}, temp: Field{36.9, true}},
		{name: "unknown placeholder", payload: `{"spo2": "unknown", "temp": 37}`, temp: Field{37, true}},
		{name: "absent field", payload: `{"temp": 37}`, temp: Field{37, true}},
		{name: "null field", payload: `{"spo2": null, "temp": null}`},
		{name: "bogus string", payload: `{"spo2": "high", "temp": 36}`, temp: Field{36, true}, fieldErrors: 1},
		{name: "wrong type", payload: `{"spo2": [1], "temp": {"c": 1}}`, fieldErrors: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := DecodeFusion([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.spo2, f.SpO2)
			assert.Equal(t, tt.temp, f.Temp)
			assert.Len(t, f.FieldErrors, tt.fieldErrors)
			for _, fe := range f.FieldErrors {
				assert.Equal(t, ReasonNotNumeric, fe.Reason)
			}
		})
	}
}

func TestDecodeFusionRejectsNonObject(t *testing.T) {
	for _, payload := range []string{"", "not json", "[1,2]", "42", "null"} {
		_, err := DecodeFusion([]byte(payload))
		var fpe *FrameParseError
		require.True(t, errors.As(err, &fpe), "payload %q", payload)
		assert.Equal(t, ReasonUnknownFormat, fpe.Reason)
	}
}

func TestHeartRateWalk(t *testing.T) {
	h := NewHeartRate(NewFixedSteps(1, 1, -1, 0))
	var got []int
	for i := 0; i < 5; i++ {
		got = append(got, h.Next())
	}
	assert.Equal(t, []int{70, 71, 72, 71, 71}, got)
}

func TestHeartRateClamped(t *testing.T) {
	up := NewHeartRate(NewFixedSteps(1))
	for i := 0; i < 20; i++ {
		up.Next()
	}
	assert.Equal(t, HeartRateMax, up.Next())

	down := NewHeartRate(NewFixedSteps(-5))
	for i := 0; i < 20; i++ {
		down.Next()
	}
	assert.Equal(t, HeartRateMin, down.Next())
}

func TestRandomStepsInBand(t *testing.T) {
	h := NewHeartRate(RandomSteps(42))
	prev := h.Next()
	for i := 0; i < 500; i++ {
		bpm := h.Next()
		assert.GreaterOrEqual(t, bpm, HeartRateMin)
		assert.LessOrEqual(t, bpm, HeartRateMax)
		assert.LessOrEqual(t, abs(bpm-prev), 1)
		prev = bpm
	}
}

func TestFusionDecoderSynthesizesOnlyOnCompletePayloads(t *testing.T) {
	d := NewFusionDecoder(NewFixedSteps(1))

	values, fieldErrs, err := d.Decode([]byte(`{"spo2": "unknown", "temp": 36.5}`))
	require.NoError(t, err)
	assert.Empty(t, fieldErrs)
	require.Len(t, values, 1)
	assert.Equal(t, reading.KindTemperature, values[0].Kind)
	assert.Equal(t, "°C", values[0].Unit)

	values, _, err = d.Decode([]byte(`{"spo2": 97, "temp": 36.5}`))
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, reading.KindHeartRate, values[2].Kind)
	assert.Equal(t, 70.0, values[2].Value)
	assert.Equal(t, "bpm", values[2].Unit)

	values, _, err = d.Decode([]byte(`{"spo2": 96, "temp": 36.4}`))
	require.NoError(t, err)
	assert.Equal(t, 71.0, values[2].Value)

	_, _, err = d.Decode([]byte(`garbage`))
	assert.Error(t, err)
}

func TestFusionDecoderSkipsHeartRateOnImplausibleVitals(t *testing.T) {
	d := NewFusionDecoder(NewFixedSteps(1))

	for _, payload := range []string{
		`{"spo2": 150, "temp": 36.5}`,
		`{"spo2": 97, "temp": 99}`,
	} {
		values, _, err := d.Decode([]byte(payload))
		require.NoError(t, err)
		require.Len(t, values, 2, payload)
		for _, v := range values {
			assert.NotEqual(t, reading.KindHeartRate, v.Kind, payload)
		}
	}

	values, _, err := d.Decode([]byte(`{"spo2": 97, "temp": 36.5}`))
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, 70.0, values[2].Value, "rejected payloads must not advance the walk")
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
