package telemetry

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Measurement 一次传感器采样结果，创建后不再修改
type Measurement struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Value     float32   `json:"value"`
	Unit      string    `json:"unit"`
}

// NewMeasurement 创建测量值，时间戳取当前时间
func NewMeasurement(typ string, value float32, unit string) Measurement {
	return Measurement{
		Timestamp: time.Now(),
		Type:      typ,
		Value:     value,
		Unit:      unit,
	}
}

// Severity 告警级别
type Severity string

const (
	SeverityCritical  Severity = "CRITICAL"
	SeverityMajor     Severity = "MAJOR"
	SeverityMinor     Severity = "MINOR"
	SeverityWarning   Severity = "WARNING"
	SeverityUndefined Severity = "UNDEFINED"
)

// ParseSeverity 解析告警级别，无法识别时返回 UNDEFINED
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToUpper(strings.TrimSpace(s))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityMajor:
		return SeverityMajor
	case SeverityMinor:
		return SeverityMinor
	case SeverityWarning:
		return SeverityWarning
	default:
		return SeverityUndefined
	}
}

// AlarmThresholdRule 告警阈值规则，测量值落在 [MinValue, MaxValue] 闭区间内即触发
type AlarmThresholdRule struct {
	Type     string `yaml:"type" json:"type"`
	Text     string `yaml:"text" json:"text"`
	Severity string `yaml:"severity" json:"severity"`
	MinValue string `yaml:"minValue" json:"minValue,omitempty"` // 为空表示 -Inf
	MaxValue string `yaml:"maxValue" json:"maxValue,omitempty"` // 为空表示 +Inf
}

// Bounds 返回规则的上下界，缺省值为 ±Inf；任一边界无法解析时 ok 为 false
func (r AlarmThresholdRule) Bounds() (lower, upper float64, ok bool) {
	lower, ok = parseBound(r.MinValue, math.Inf(-1))
	if !ok {
		return 0, 0, false
	}
	upper, ok = parseBound(r.MaxValue, math.Inf(1))
	if !ok {
		return 0, 0, false
	}
	return lower, upper, true
}

func parseBound(raw string, def float64) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Level 返回规则的告警级别
func (r AlarmThresholdRule) Level() Severity {
	return ParseSeverity(r.Severity)
}

// SensorConfig 传感器采样配置
type SensorConfig struct {
	SampleIntervalSeconds int                  `yaml:"sampleIntervalSeconds" json:"sampleIntervalSeconds" validate:"gte=0"`
	Alarms                []AlarmThresholdRule `yaml:"alarms" json:"alarms"`
}

// SampleInterval 采样间隔
func (c *SensorConfig) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalSeconds) * time.Second
}

// DeliveryConfig 上报配置
type DeliveryConfig struct {
	SendIntervalSeconds int `yaml:"sendIntervalSeconds" json:"sendIntervalSeconds" validate:"gte=0"`
}

// SendInterval 上报间隔
func (c *DeliveryConfig) SendInterval() time.Duration {
	return time.Duration(c.SendIntervalSeconds) * time.Second
}
