package telemetry

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyStarted       = errors.New("telemetry: already started")
	ErrDependencyMissing    = errors.New("telemetry: dependency missing")
	ErrConfigurationMissing = errors.New("telemetry: configuration missing")
	ErrShutdownInterrupted  = errors.New("telemetry: shutdown interrupted")
	ErrNoSensorsFound       = errors.New("telemetry: no sensors found")
)

// SampleAcquisitionError 单次采样失败，采样循环记录后继续
type SampleAcquisitionError struct {
	Sensor string
	Err    error
}

func (e *SampleAcquisitionError) Error() string {
	return fmt.Sprintf("sample %s: %v", e.Sensor, e.Err)
}

func (e *SampleAcquisitionError) Unwrap() error { return e.Err }

// DispatchError 告警发送失败，不重试
type DispatchError struct {
	AlarmType string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch alarm %s: %v", e.AlarmType, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// DeliveryError 批量上报失败，下一周期重试
type DeliveryError struct {
	BatchSize int
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver batch of %d: %v", e.BatchSize, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
