package telemetry

import (
	"context"
	"time"
)

// Sampler 传感器采样接口，返回 nil, nil 表示本周期无数据
type Sampler interface {
	Sample(ctx context.Context) (*Measurement, error)
}

// Sink 测量值的接收方（Channel 或 DeliveryAggregator 缓冲区）
type Sink interface {
	Publish(m Measurement)
}

// AlarmStatusActive 新触发告警的状态
const AlarmStatusActive = "ACTIVE"

// Alarm 发往平台的告警
type Alarm struct {
	ID       string    `json:"id"`
	Source   string    `json:"source"`
	Type     string    `json:"type"`
	Severity Severity  `json:"severity"`
	Text     string    `json:"text"`
	Status   string    `json:"status"`
	Time     time.Time `json:"time"`
}

// AlarmSink 告警发送接口
type AlarmSink interface {
	CreateAlarm(ctx context.Context, alarm Alarm) error
}

// MeasurementGateway 批量上报接口，整批成功或整批失败
type MeasurementGateway interface {
	SendMeasurementBatch(ctx context.Context, batch []Measurement) error
}

// PlatformGateway 平台网关
type PlatformGateway interface {
	MeasurementGateway
	AlarmSink
}

// ConfigurationProvider 配置来源，缺失时返回 ErrConfigurationMissing
type ConfigurationProvider interface {
	SensorConfig(name string) (*SensorConfig, error)
	DeliveryConfig() (*DeliveryConfig, error)
}

// SensorHandle 一个已发现的传感器
type SensorHandle struct {
	Name    string
	Sampler Sampler
}

// ServiceDiscovery 传感器发现，没有传感器时可以返回 ErrNoSensorsFound
type ServiceDiscovery interface {
	FindSensors() ([]SensorHandle, error)
}

// waitFunc 等待 d 时长，被取消时返回 false
type waitFunc func(ctx context.Context, d time.Duration) bool

// sleepContext 可被取消的等待
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// awaitDone 等待循环退出，ctx 先结束时返回 false。
// 循环已经退出时总是返回 true，不受 ctx 状态影响
func awaitDone(ctx context.Context, done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
