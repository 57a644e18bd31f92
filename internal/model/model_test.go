package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Amount
		wantErr bool
	}{
		{"whole dollars", "10", 1000, false},
		{"dollars and cents", "10.00", 1000, false},
		{"cents", "0.99", 99, false},
		{"large", "123456.78", 12345678, false},
		{"max representable", "92233720368547758.07", 9223372036854775807, false},
		{"overflows int64", "92233720368547758.08", 0, true},
		{"wraps positive", "368934881474191033.00", 0, true},
		{"far beyond range", "99999999999999999999.00", 0, true},
		{"zero", "0", 0, true},
		{"zero with cents", "0.00", 0, true},
		{"negative", "-1.00", 0, true},
		{"one decimal digit", "10.5", 0, true},
		{"three decimal digits", "10.555", 0, true},
		{"not a number", "ten", 0, true},
		{"empty", "", 0, true},
		{"trailing dot", "10.", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmountString(t *testing.T) {
	assert.Equal(t, "10.00", Amount(1000).String())
	assert.Equal(t, "0.99", Amount(99).String())
	assert.Equal(t, "0.05", Amount(5).String())
	assert.Equal(t, "1234.56", Amount(123456).String())
}

func TestAmountJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(Amount(1050))
	require.NoError(t, err)
	assert.Equal(t, `"10.50"`, string(data))

	var a Amount
	require.NoError(t, json.Unmarshal([]byte(`"42.07"`), &a))
	assert.Equal(t, Amount(4207), a)

	assert.Error(t, json.Unmarshal([]byte(`"42.007"`), &a))
}

func TestLogLevelSeverity(t *testing.T) {
	assert.Less(t, LevelDebug.Severity(), LevelInfo.Severity())
	assert.Less(t, LevelInfo.Severity(), LevelWarn.Severity())
	assert.Less(t, LevelWarn.Severity(), LevelError.Severity())
}
