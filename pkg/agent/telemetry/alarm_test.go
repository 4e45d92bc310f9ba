package telemetry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateInclusiveBounds(t *testing.T) {
	rule := AlarmThresholdRule{Type: "temp_high", Text: "too hot", MinValue: "25", MaxValue: "40"}

	tests := []struct {
		name  string
		value float32
		fires bool
	}{
		{"below lower bound", 24.9, false},
		{"at lower bound", 25, true},
		{"inside range", 28.5, true},
		{"at upper bound", 40, true},
		{"above upper bound", 40.1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fired := Evaluate(NewMeasurement("temperature", tt.value, "C"), []AlarmThresholdRule{rule})
			assert.Equal(t, tt.fires, len(fired) == 1)
		})
	}
}

func TestEvaluateMatchesRangeForAllValues(t *testing.T) {
	rule := AlarmThresholdRule{MinValue: "-10.5", MaxValue: "10.25"}
	for v := float32(-20); v <= 20; v += 0.25 {
		fired := Evaluate(Measurement{Value: v}, []AlarmThresholdRule{rule})
		expected := -10.5 <= float64(v) && float64(v) <= 10.25
		assert.Equal(t, expected, len(fired) == 1, "value %v", v)
	}
}

func TestEvaluateDefaultBoundsAlwaysFire(t *testing.T) {
	rule := AlarmThresholdRule{Type: "any", Text: "seen <value>"}
	for _, v := range []float32{-1e30, 0, 1e30, float32(math.Inf(1))} {
		fired := Evaluate(Measurement{Value: v}, []AlarmThresholdRule{rule})
		assert.Len(t, fired, 1)
	}
}

func TestEvaluateInvalidInputsFireNothing(t *testing.T) {
	rules := []AlarmThresholdRule{
		{MinValue: "abc"},
		{MaxValue: "1O"},
		{MinValue: "NaN"},
	}
	assert.Empty(t, Evaluate(Measurement{Value: 5}, rules))
	assert.Empty(t, Evaluate(Measurement{Value: float32(math.NaN())}, []AlarmThresholdRule{{}}))
	assert.Empty(t, Evaluate(Measurement{Value: 5}, nil))
}

func TestEvaluateSeverityAndText(t *testing.T) {
	rules := []AlarmThresholdRule{
		{Type: "a", Severity: "critical", Text: "Temperature <value> exceeds limit", MinValue: "25"},
		{Type: "b", Severity: "bogus", Text: "plain", MaxValue: "30"},
	}
	fired := Evaluate(NewMeasurement("temperature", 28.5, "C"), rules)
	require.Len(t, fired, 2)

	assert.Equal(t, SeverityCritical, fired[0].Severity)
	assert.Equal(t, "Temperature 28.5 C exceeds limit", fired[0].Text)
	assert.Equal(t, SeverityUndefined, fired[1].Severity)
	assert.Equal(t, "plain", fired[1].Text)
}

func TestRenderAlarmText(t *testing.T) {
	m := NewMeasurement("humidity", 61.25, "%")

	tests := []struct {
		text string
		want string
	}{
		{"<value>", "61.25 %"},
		{"from <value> to <value>", "from 61.25 % to 61.25 %"},
		{"keep <valueX> and <other>", "keep <valueX> and <other>"},
		{"unterminated <value", "unterminated <value"},
		{"<values dropping, now <value>", "<values dropping, now 61.25 %"},
		{"x <value <value>", "x <value 61.25 %"},
		{"<value<value>>", "<value61.25 %>"},
		{"no placeholder", "no placeholder"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RenderAlarmText(tt.text, m), tt.text)
	}
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityMajor, ParseSeverity(" major "))
	assert.Equal(t, SeverityMinor, ParseSeverity("MINOR"))
	assert.Equal(t, SeverityWarning, ParseSeverity("Warning"))
	assert.Equal(t, SeverityUndefined, ParseSeverity(""))
}
