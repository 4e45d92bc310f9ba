package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dushixiang/pika-edge/pkg/agent/metrics"
)

// OrchestratorOptions 管道编排器的依赖
type OrchestratorOptions struct {
	Discovery ServiceDiscovery
	Config    ConfigurationProvider
	Gateway   PlatformGateway
	Logger    *slog.Logger
	Metrics   *metrics.Pipeline

	// Direct 为 true 时 worker 直接写入聚合器缓冲区，否则经由共享 Channel
	Direct bool
}

// Orchestrator 发现传感器，管理 worker 与上报聚合器
type Orchestrator struct {
	opts   OrchestratorOptions
	logger *slog.Logger

	mu         sync.Mutex
	running    bool
	channel    *Channel
	aggregator *DeliveryAggregator
	workers    []*SamplingWorker
}

// NewOrchestrator 创建编排器
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		opts:   opts,
		logger: logger,
	}
}

// Start 启动上报聚合器和全部传感器；单个传感器失败不影响其它传感器
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return ErrAlreadyStarted
	}
	if o.opts.Discovery == nil || o.opts.Config == nil || o.opts.Gateway == nil {
		return fmt.Errorf("%w: orchestrator wiring", ErrDependencyMissing)
	}

	deliveryCfg, err := o.opts.Config.DeliveryConfig()
	if err != nil {
		return err
	}

	channel := NewChannel()
	aggregator := NewDeliveryAggregator(AggregatorOptions{
		Gateway: o.opts.Gateway,
		Config:  deliveryCfg,
		Channel: channel,
		Logger:  o.logger,
		Metrics: o.opts.Metrics,
	})
	if err := aggregator.Start(); err != nil {
		return err
	}

	var sink Sink = channel
	if o.opts.Direct {
		sink = aggregator
	}

	handles := o.findSensors()
	workers := make([]*SamplingWorker, 0, len(handles))
	for _, handle := range handles {
		worker, err := o.startWorker(handle, sink)
		if err != nil {
			o.logger.Error("启动传感器失败，已跳过", "sensor", handle.Name, "error", err)
			continue
		}
		workers = append(workers, worker)
	}

	o.channel = channel
	o.aggregator = aggregator
	o.workers = workers
	o.running = true

	o.logger.Info("采集管道已启动", "sensors", len(workers))
	return nil
}

func (o *Orchestrator) findSensors() []SensorHandle {
	handles, err := o.opts.Discovery.FindSensors()
	if err != nil && !errors.Is(err, ErrNoSensorsFound) {
		o.logger.Error("发现传感器失败", "error", err)
	}
	if len(handles) == 0 {
		o.logger.Warn("未发现任何传感器")
		return nil
	}
	return handles
}

func (o *Orchestrator) startWorker(handle SensorHandle, sink Sink) (*SamplingWorker, error) {
	cfg, err := o.opts.Config.SensorConfig(handle.Name)
	if err != nil {
		return nil, err
	}
	worker := NewSamplingWorker(WorkerOptions{
		Name:    handle.Name,
		Sampler: handle.Sampler,
		Config:  cfg,
		Sink:    sink,
		Alarms:  o.opts.Gateway,
		Logger:  o.logger,
		Metrics: o.opts.Metrics,
	})
	if err := worker.Start(); err != nil {
		return nil, err
	}
	return worker, nil
}

// Stop 先停止全部 worker，再停止聚合器，保证最终上报之后不再有新数据写入
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return nil
	}

	var errs []error
	for _, worker := range o.workers {
		if err := worker.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := o.aggregator.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	o.running = false
	o.workers = nil
	o.logger.Info("采集管道已停止")
	return nil
}

// SensorStatus 传感器运行状态
type SensorStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Sensors 已启动的传感器
func (o *Orchestrator) Sensors() []SensorStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]SensorStatus, 0, len(o.workers))
	for _, worker := range o.workers {
		out = append(out, SensorStatus{Name: worker.Name(), State: worker.State()})
	}
	return out
}

// Pending 尚未上报的测量值数量
func (o *Orchestrator) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.aggregator == nil {
		return 0
	}
	n := o.aggregator.Pending()
	if o.channel != nil {
		n += o.channel.Len()
	}
	return n
}
