package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/dushixiang/pika-edge/pkg/agent/metrics"
)

const (
	defaultMaxAlarmDispatch  = 4
	defaultAlarmTimeout      = 30 * time.Second
	defaultAlarmDrainTimeout = 5 * time.Second
)

type lifecycle int

const (
	stateNotStarted lifecycle = iota
	stateRunning
	stateStopped
)

func (s lifecycle) String() string {
	switch s {
	case stateRunning:
		return "running"
	case stateStopped:
		return "stopped"
	default:
		return "not_started"
	}
}

// WorkerOptions 采样 worker 的依赖与参数
type WorkerOptions struct {
	Name    string
	Sampler Sampler
	Config  *SensorConfig
	Sink    Sink
	Alarms  AlarmSink
	Logger  *slog.Logger
	Metrics *metrics.Pipeline

	MaxConcurrentAlarms int           // 告警并发上限，默认 4，已满时丢弃新的告警
	AlarmTimeout        time.Duration // 单条告警发送超时，默认 30s
	AlarmDrainTimeout   time.Duration // Stop 时等待未完成告警的时间，默认 5s
}

// SamplingWorker 单个传感器的周期采样循环
type SamplingWorker struct {
	opts   WorkerOptions
	logger *slog.Logger
	wait   waitFunc

	mu          sync.Mutex
	state       lifecycle
	cancel      context.CancelFunc
	done        chan struct{}
	alarms      *alarmDispatch
	alarmCancel context.CancelFunc
}

// alarmDispatch 告警发送的旁路，slots 满时不等待
type alarmDispatch struct {
	ctx   context.Context
	pool  *pool.Pool
	slots chan struct{}
}

// NewSamplingWorker 创建采样 worker
func NewSamplingWorker(opts WorkerOptions) *SamplingWorker {
	if opts.MaxConcurrentAlarms <= 0 {
		opts.MaxConcurrentAlarms = defaultMaxAlarmDispatch
	}
	if opts.AlarmTimeout <= 0 {
		opts.AlarmTimeout = defaultAlarmTimeout
	}
	if opts.AlarmDrainTimeout <= 0 {
		opts.AlarmDrainTimeout = defaultAlarmDrainTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SamplingWorker{
		opts:   opts,
		logger: logger.With("sensor", opts.Name),
		wait:   sleepContext,
	}
}

// Name 传感器名称
func (w *SamplingWorker) Name() string {
	return w.opts.Name
}

// State 当前生命周期状态
func (w *SamplingWorker) State() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.String()
}

// Start 启动采样循环
func (w *SamplingWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == stateRunning {
		return ErrAlreadyStarted
	}
	if w.opts.Alarms == nil {
		return fmt.Errorf("%w: alarm sink", ErrDependencyMissing)
	}
	if w.opts.Sink == nil {
		return fmt.Errorf("%w: measurement sink", ErrDependencyMissing)
	}
	if w.opts.Sampler == nil {
		return fmt.Errorf("%w: sampler", ErrDependencyMissing)
	}
	if w.opts.Config == nil {
		return fmt.Errorf("%w: sensor %s", ErrConfigurationMissing, w.opts.Name)
	}

	interval := w.opts.Config.SampleInterval()
	ctx, cancel := context.WithCancel(context.Background())
	alarmCtx, alarmCancel := context.WithCancel(context.Background())
	alarms := &alarmDispatch{
		ctx:   alarmCtx,
		pool:  pool.New(),
		slots: make(chan struct{}, w.opts.MaxConcurrentAlarms),
	}
	done := make(chan struct{})

	w.state = stateRunning
	w.cancel = cancel
	w.done = done
	w.alarms = alarms
	w.alarmCancel = alarmCancel

	w.opts.Metrics.WorkerStarted()
	w.logger.Info("采样已启动", "interval", interval)

	go w.run(ctx, alarms, interval, done)
	return nil
}

// Stop 停止采样循环并等待其退出，未运行时为空操作
func (w *SamplingWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.state != stateRunning {
		w.mu.Unlock()
		return nil
	}
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	if !awaitDone(ctx, done) {
		return fmt.Errorf("%w: sensor %s: %v", ErrShutdownInterrupted, w.opts.Name, ctx.Err())
	}

	w.mu.Lock()
	if w.state != stateRunning {
		// 并发的 Stop 已经完成收尾
		w.mu.Unlock()
		return nil
	}
	w.state = stateStopped
	alarms, alarmCancel := w.alarms, w.alarmCancel
	w.alarms, w.alarmCancel = nil, nil
	w.mu.Unlock()

	w.drainAlarms(alarms.pool, alarmCancel)
	w.opts.Metrics.WorkerStopped()
	w.logger.Info("采样已停止")
	return nil
}

// drainAlarms 等待未完成的告警发送，超时后取消
func (w *SamplingWorker) drainAlarms(p *pool.Pool, cancel context.CancelFunc) {
	defer cancel()

	drained := make(chan struct{})
	go func() {
		p.Wait()
		close(drained)
	}()

	timer := time.NewTimer(w.opts.AlarmDrainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		w.logger.Warn("等待告警发送超时，取消剩余告警", "timeout", w.opts.AlarmDrainTimeout)
		cancel()
		<-drained
	}
}

func (w *SamplingWorker) run(ctx context.Context, alarms *alarmDispatch, interval time.Duration, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		w.sampleOnce(ctx, alarms)

		if !w.wait(ctx, interval) {
			w.logger.Debug("采样等待被中断")
		}
	}
}

// sampleOnce 执行一次采样，错误只记录不退出
func (w *SamplingWorker) sampleOnce(ctx context.Context, alarms *alarmDispatch) {
	m, err := w.acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.opts.Metrics.SampleFailed(w.opts.Name)
		w.logger.Warn("采样失败", "error", &SampleAcquisitionError{Sensor: w.opts.Name, Err: err})
		return
	}
	if m == nil {
		w.logger.Debug("本周期无采样数据")
		return
	}

	measurement := *m
	w.opts.Metrics.SampleProduced(w.opts.Name)

	if len(w.opts.Config.Alarms) > 0 {
		w.submitAlarms(alarms, measurement)
	}

	w.opts.Sink.Publish(measurement)
}

// submitAlarms 把告警计算交给旁路，并发已满时丢弃本次告警，采样不等待
func (w *SamplingWorker) submitAlarms(alarms *alarmDispatch, m Measurement) {
	select {
	case alarms.slots <- struct{}{}:
	default:
		w.opts.Metrics.AlarmFailed(w.opts.Name)
		w.logger.Warn("告警发送并发已满，丢弃本次告警", "value", m.Value, "limit", cap(alarms.slots))
		return
	}
	alarms.pool.Go(func() {
		defer func() { <-alarms.slots }()
		w.dispatchAlarms(alarms.ctx, m)
	})
}

func (w *SamplingWorker) acquire(ctx context.Context) (m *Measurement, err error) {
	defer func() {
		if r := recover(); r != nil {
			wrapped := goerrors.Wrap(r, 2)
			w.logger.Error("采样时发生panic", "panic", r, "stack", wrapped.ErrorStack())
			m, err = nil, wrapped
		}
	}()
	return w.opts.Sampler.Sample(ctx)
}

// dispatchAlarms 计算并发送告警，失败只记录
func (w *SamplingWorker) dispatchAlarms(ctx context.Context, m Measurement) {
	defer func() {
		if r := recover(); r != nil {
			err := goerrors.Wrap(r, 2)
			w.logger.Error("发送告警时发生panic", "panic", r, "stack", err.ErrorStack())
		}
	}()

	for _, fired := range Evaluate(m, w.opts.Config.Alarms) {
		alarm := Alarm{
			ID:       uuid.NewString(),
			Source:   w.opts.Name,
			Type:     fired.Rule.Type,
			Severity: fired.Severity,
			Text:     fired.Text,
			Status:   AlarmStatusActive,
			Time:     m.Timestamp,
		}
		w.opts.Metrics.AlarmFired(w.opts.Name, string(alarm.Severity))
		w.logger.Info("触发告警",
			"type", alarm.Type,
			"severity", alarm.Severity,
			"value", m.Value,
			"text", alarm.Text)

		sendCtx, cancel := context.WithTimeout(ctx, w.opts.AlarmTimeout)
		err := w.opts.Alarms.CreateAlarm(sendCtx, alarm)
		cancel()
		if err != nil {
			w.opts.Metrics.AlarmFailed(w.opts.Name)
			w.logger.Error("发送告警失败", "error", &DispatchError{AlarmType: alarm.Type, Err: err})
		}
	}
}
