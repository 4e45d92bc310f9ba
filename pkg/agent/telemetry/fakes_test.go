package telemetry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stepper 替换周期等待，由测试逐次放行
type stepper struct {
	ticks chan struct{}
}

func newStepper() *stepper {
	return &stepper{ticks: make(chan struct{})}
}

func (s *stepper) wait(ctx context.Context, _ time.Duration) bool {
	select {
	case <-s.ticks:
		return true
	case <-ctx.Done():
		return false
	}
}

// step 放行一次等待，阻塞到循环进入等待为止
func (s *stepper) step(t *testing.T) {
	t.Helper()
	select {
	case s.ticks <- struct{}{}:
	case <-time.After(2 * time.Second):
		t.Fatal("循环没有进入等待")
	}
}

type sampleResult struct {
	m   *Measurement
	err error
}

// scriptedSampler 按顺序循环返回预设结果
type scriptedSampler struct {
	mu      sync.Mutex
	results []sampleResult
	index   int
	calls   int
}

func cyclingSampler(typ, unit string, values ...float32) *scriptedSampler {
	s := &scriptedSampler{}
	for _, v := range values {
		m := NewMeasurement(typ, v, unit)
		s.results = append(s.results, sampleResult{m: &m})
	}
	return s
}

func (s *scriptedSampler) Sample(context.Context) (*Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	r := s.results[s.index%len(s.results)]
	s.index++
	return r.m, r.err
}

func (s *scriptedSampler) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingSink 记录收到的测量值，每次写入后发出信号
type recordingSink struct {
	mu        sync.Mutex
	items     []Measurement
	published chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{published: make(chan struct{}, 64)}
}

func (r *recordingSink) Publish(m Measurement) {
	r.mu.Lock()
	r.items = append(r.items, m)
	r.mu.Unlock()
	r.published <- struct{}{}
}

func (r *recordingSink) waitFor(t *testing.T, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		select {
		case <-r.published:
		case <-time.After(2 * time.Second):
			t.Fatalf("等待第 %d 条测量值超时", i+1)
		}
	}
}

func (r *recordingSink) snapshot() []Measurement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Measurement(nil), r.items...)
}

// fakeGateway 记录上报与告警调用，按 errorSeq 顺序返回错误
type fakeGateway struct {
	mu       sync.Mutex
	batches  [][]Measurement
	alarms   []Alarm
	errorSeq []error
	index    int
	alarmErr error
	sent     chan struct{}
}

func newFakeGateway(errorSeq ...error) *fakeGateway {
	return &fakeGateway{errorSeq: errorSeq, sent: make(chan struct{}, 64)}
}

func (f *fakeGateway) SendMeasurementBatch(_ context.Context, batch []Measurement) error {
	f.mu.Lock()
	f.batches = append(f.batches, append([]Measurement(nil), batch...))
	var err error
	if f.index < len(f.errorSeq) {
		err = f.errorSeq[f.index]
		f.index++
	}
	f.mu.Unlock()
	f.sent <- struct{}{}
	return err
}

func (f *fakeGateway) CreateAlarm(_ context.Context, alarm Alarm) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alarms = append(f.alarms, alarm)
	return f.alarmErr
}

func (f *fakeGateway) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeGateway) batch(i int) []Measurement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[i]
}

func (f *fakeGateway) alarmSnapshot() []Alarm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Alarm(nil), f.alarms...)
}

func values(ms []Measurement) []float32 {
	out := make([]float32, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Value)
	}
	return out
}
