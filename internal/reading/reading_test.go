package reading

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		value   float64
		wantErr bool
	}{
		{"spo2 accepted", KindSpO2, 97, false},
		{"spo2 above range", KindSpO2, 150, true},
		{"spo2 lower bound", KindSpO2, 0, false},
		{"height in range", KindHeight, 172.5, false},
		{"height too short", KindHeight, 29.9, true},
		{"height upper bound", KindHeight, 250, false},
		{"temperature in range", KindTemperature, 36.6, false},
		{"temperature too hot", KindTemperature, 45.1, true},
		{"heart rate in range", KindHeartRate, 70, false},
		{"weight in grams", KindWeight, 68500, false},
		{"weight empty scale", KindWeight, 0, true},
		{"nan rejected", KindSpO2, math.NaN(), true},
		{"inf rejected", KindHeight, math.Inf(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.kind, tt.value)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var oor *ValueOutOfRangeError
			require.True(t, errors.As(err, &oor), "want ValueOutOfRangeError, got %v", err)
			assert.Equal(t, tt.kind, oor.Kind)
		})
	}
}

func TestValidateUnknownKind(t *testing.T) {
	var uk *UnknownKindError
	assert.True(t, errors.As(Validate(Kind("bmi"), 20), &uk))
}

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("canonical unit spelling", func(t *testing.T) {
		got, err := Normalize(Reading{Kind: KindHeight, Value: 170, Unit: " CM ", SourceID: "height", Timestamp: now})
		require.NoError(t, err)
		assert.Equal(t, "cm", got.Unit)
		assert.Equal(t, 170.0, got.Value)
		assert.Equal(t, "height", got.SourceID)
		assert.Equal(t, now, got.Timestamp)
	})

	t.Run("temperature unit case folded", func(t *testing.T) {
		got, err := Normalize(Reading{Kind: KindTemperature, Value: 36.4, Unit: "°c"})
		require.NoError(t, err)
		assert.Equal(t, "°C", got.Unit)
	})

	t.Run("unit mismatch", func(t *testing.T) {
		_, err := Normalize(Reading{Kind: KindWeight, Value: 70, Unit: "kg"})
		var um *UnitMismatchError
		require.True(t, errors.As(err, &um))
		assert.Equal(t, "g", um.Want)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := Normalize(Reading{Kind: KindSpO2, Value: 150, Unit: "%"})
		var oor *ValueOutOfRangeError
		require.True(t, errors.As(err, &oor))
		assert.Contains(t, err.Error(), "outside plausible range")
	})
}

func TestKinds(t *testing.T) {
	kinds := Kinds()
	assert.Len(t, kinds, 5)
	for _, k := range kinds {
		assert.True(t, k.Valid())
		assert.NotEmpty(t, k.CanonicalUnit())
		_, ok := k.PlausibleRange()
		assert.True(t, ok)
	}
	assert.False(t, Kind("x").Valid())
}
