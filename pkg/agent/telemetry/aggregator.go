package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dushixiang/pika-edge/pkg/agent/metrics"
)

const defaultSendTimeout = 30 * time.Second

// AggregatorOptions 上报聚合器的依赖与参数
type AggregatorOptions struct {
	Gateway MeasurementGateway
	Config  *DeliveryConfig
	// Channel 可选的共享队列，每个周期与缓冲区一起取出
	Channel *Channel
	Logger  *slog.Logger
	Metrics *metrics.Pipeline

	SendTimeout time.Duration // 单次上报超时，默认 30s
}

// DeliveryAggregator 周期性批量上报测量值，失败的批次保留到下一周期（至少一次）
type DeliveryAggregator struct {
	opts   AggregatorOptions
	logger *slog.Logger
	wait   waitFunc

	// mu 保护 pending 与 retry，是与生产者之间唯一需要互斥的区域
	mu      sync.Mutex
	pending []Measurement
	retry   []Measurement

	stateMu sync.Mutex
	state   lifecycle
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDeliveryAggregator 创建上报聚合器
func NewDeliveryAggregator(opts AggregatorOptions) *DeliveryAggregator {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DeliveryAggregator{
		opts:   opts,
		logger: logger.With("component", "delivery"),
		wait:   sleepContext,
	}
}

// Publish 将测量值放入待发送缓冲区
func (a *DeliveryAggregator) Publish(m Measurement) {
	a.mu.Lock()
	a.pending = append(a.pending, m)
	a.opts.Metrics.SetPending(len(a.pending))
	a.mu.Unlock()
}

// Pending 待发送（含待重试）的测量值数量，不含共享队列
func (a *DeliveryAggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending) + len(a.retry)
}

// State 当前生命周期状态
func (a *DeliveryAggregator) State() string {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.state.String()
}

// Start 启动上报循环
func (a *DeliveryAggregator) Start() error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if a.state == stateRunning {
		return ErrAlreadyStarted
	}
	if a.opts.Config == nil {
		return fmt.Errorf("%w: delivery", ErrConfigurationMissing)
	}
	if a.opts.Gateway == nil {
		return fmt.Errorf("%w: platform gateway", ErrDependencyMissing)
	}

	interval := a.opts.Config.SendInterval()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.state = stateRunning
	a.cancel = cancel
	a.done = done

	a.logger.Info("上报已启动", "interval", interval)
	go a.run(ctx, interval, done)
	return nil
}

// Stop 停止上报循环，随后做一次最终上报
func (a *DeliveryAggregator) Stop(ctx context.Context) error {
	a.stateMu.Lock()
	if a.state != stateRunning {
		a.stateMu.Unlock()
		return nil
	}
	cancel, done := a.cancel, a.done
	a.stateMu.Unlock()

	cancel()
	if !awaitDone(ctx, done) {
		return fmt.Errorf("%w: delivery: %v", ErrShutdownInterrupted, ctx.Err())
	}

	a.stateMu.Lock()
	if a.state != stateRunning {
		a.stateMu.Unlock()
		return nil
	}
	a.state = stateStopped
	a.stateMu.Unlock()

	// 此后才写入缓冲区的数据不在最终上报范围内
	a.deliver()
	a.logger.Info("上报已停止", "undelivered", a.Pending())
	return nil
}

func (a *DeliveryAggregator) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	for {
		if !a.wait(ctx, interval) {
			return
		}
		a.deliver()
	}
}

// swap 取出待重试、缓冲区与共享队列中的全部数据，缓冲区留给新数据。
// 指标在锁内更新，与 Publish 的写入保持顺序一致
func (a *DeliveryAggregator) swap() []Measurement {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.opts.Metrics.SetPending(0)
	a.opts.Metrics.SetRetry(0)

	var queued []Measurement
	if a.opts.Channel != nil {
		queued = a.opts.Channel.Drain()
	}
	total := len(a.retry) + len(a.pending) + len(queued)
	if total == 0 {
		return nil
	}

	batch := make([]Measurement, 0, total)
	batch = append(batch, a.retry...)
	batch = append(batch, a.pending...)
	batch = append(batch, queued...)
	a.retry = nil
	a.pending = nil
	return batch
}

// requeue 失败的批次放回重试缓冲区，下一周期与新数据合并
func (a *DeliveryAggregator) requeue(batch []Measurement) {
	a.mu.Lock()
	a.retry = append(batch, a.retry...)
	a.opts.Metrics.SetRetry(len(a.retry))
	a.mu.Unlock()
}

// deliver 执行一次上报周期
func (a *DeliveryAggregator) deliver() {
	batch := a.swap()
	if len(batch) == 0 {
		a.logger.Debug("没有待发送的测量数据")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.opts.SendTimeout)
	defer cancel()

	started := time.Now()
	err := a.opts.Gateway.SendMeasurementBatch(ctx, batch)
	took := time.Since(started)
	if err != nil {
		a.requeue(batch)
		a.opts.Metrics.BatchFailed(took)
		a.logger.Warn("上报测量数据失败，下个周期重试", "error", &DeliveryError{BatchSize: len(batch), Err: err})
		return
	}

	a.opts.Metrics.BatchSent(len(batch), took)
	a.logger.Debug("上报测量数据成功", "count", len(batch), "took", took)
}
