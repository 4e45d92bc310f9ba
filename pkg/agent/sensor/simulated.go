package sensor

import (
	"context"
	"sync"

	"github.com/dushixiang/pika-edge/pkg/agent/telemetry"
)

// SimulatedSampler 按顺序循环返回预设值
type SimulatedSampler struct {
	typ    string
	unit   string
	values []float32

	mu   sync.Mutex
	next int
}

// NewSimulatedSampler 创建模拟采集器
func NewSimulatedSampler(typ, unit string, values []float32) *SimulatedSampler {
	return &SimulatedSampler{
		typ:    typ,
		unit:   unit,
		values: append([]float32(nil), values...),
	}
}

// Sample 返回下一个预设值
func (s *SimulatedSampler) Sample(_ context.Context) (*telemetry.Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.values) == 0 {
		return nil, nil
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	m := telemetry.NewMeasurement(s.typ, v, s.unit)
	return &m, nil
}
