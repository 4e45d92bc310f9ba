package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dushixiang/pika-edge/pkg/agent/metrics"
)

// syncBuffer 并发安全的日志缓冲
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestAggregator(gateway MeasurementGateway, channel *Channel, logger *slog.Logger) *DeliveryAggregator {
	if logger == nil {
		logger = discardLogger()
	}
	return NewDeliveryAggregator(AggregatorOptions{
		Gateway: gateway,
		Config:  &DeliveryConfig{SendIntervalSeconds: 1},
		Channel: channel,
		Logger:  logger,
	})
}

func waitSent(t *testing.T, gateway *fakeGateway) {
	t.Helper()
	select {
	case <-gateway.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("等待上报超时")
	}
}

func TestAggregatorSendsThenSkipsEmptyCycle(t *testing.T) {
	logs := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	channel := NewChannel()
	gateway := newFakeGateway()
	aggregator := newTestAggregator(gateway, channel, logger)
	steps := newStepper()
	aggregator.wait = steps.wait

	require.NoError(t, aggregator.Start())
	channel.Add(NewMeasurement("temperature", 21.5, "C"))

	steps.step(t)
	waitSent(t, gateway)
	require.Equal(t, 1, gateway.batchCount())
	assert.Len(t, gateway.batch(0), 1)

	steps.step(t)
	// 第三次放行保证第二个周期已经执行完
	steps.step(t)
	assert.Equal(t, 1, gateway.batchCount())
	assert.Contains(t, logs.String(), "没有待发送的测量数据")

	require.NoError(t, aggregator.Stop(context.Background()))
	assert.Equal(t, 1, gateway.batchCount(), "最终上报没有数据时不应调用网关")
}

func TestAggregatorRetriesFailedBatchWithNewArrivals(t *testing.T) {
	gateway := newFakeGateway(errors.New("link down"))
	aggregator := newTestAggregator(gateway, nil, nil)

	x := NewMeasurement("temperature", 1, "C")
	aggregator.Publish(x)
	aggregator.deliver()
	require.Equal(t, 1, gateway.batchCount())
	assert.Equal(t, 1, aggregator.Pending(), "失败的批次应保留")

	aggregator.Publish(NewMeasurement("temperature", 2, "C"))
	aggregator.Publish(NewMeasurement("temperature", 3, "C"))
	aggregator.deliver()

	require.Equal(t, 2, gateway.batchCount())
	assert.Equal(t, []float32{1, 2, 3}, values(gateway.batch(1)))
	assert.Equal(t, 0, aggregator.Pending())

	aggregator.deliver()
	assert.Equal(t, 2, gateway.batchCount())
}

func TestAggregatorRetryKeepsFailingBatches(t *testing.T) {
	failure := errors.New("timeout")
	gateway := newFakeGateway(failure, failure)
	channel := NewChannel()
	aggregator := newTestAggregator(gateway, channel, nil)

	channel.Add(NewMeasurement("t", 1, "C"))
	aggregator.deliver()
	channel.Add(NewMeasurement("t", 2, "C"))
	aggregator.deliver()
	aggregator.Publish(NewMeasurement("t", 3, "C"))
	aggregator.deliver()

	require.Equal(t, 3, gateway.batchCount())
	assert.Equal(t, []float32{1}, values(gateway.batch(0)))
	assert.Equal(t, []float32{1, 2}, values(gateway.batch(1)))
	assert.ElementsMatch(t, []float32{1, 2, 3}, values(gateway.batch(2)))
	assert.Equal(t, 0, aggregator.Pending())
}

func TestAggregatorStopFlushesPending(t *testing.T) {
	gateway := newFakeGateway()
	aggregator := NewDeliveryAggregator(AggregatorOptions{
		Gateway: gateway,
		Config:  &DeliveryConfig{SendIntervalSeconds: 3600},
		Logger:  discardLogger(),
	})

	require.NoError(t, aggregator.Start())
	aggregator.Publish(NewMeasurement("t", 7, "C"))
	aggregator.Publish(NewMeasurement("t", 8, "C"))

	started := time.Now()
	require.NoError(t, aggregator.Stop(context.Background()))
	assert.Less(t, time.Since(started), time.Second)

	require.Equal(t, 1, gateway.batchCount())
	assert.Equal(t, []float32{7, 8}, values(gateway.batch(0)))
	assert.NoError(t, aggregator.Stop(context.Background()))
	assert.Equal(t, 1, gateway.batchCount())
}

func TestAggregatorStopFlushFailureKeepsData(t *testing.T) {
	gateway := newFakeGateway(errors.New("offline"))
	aggregator := newTestAggregator(gateway, nil, nil)
	aggregator.wait = newStepper().wait

	require.NoError(t, aggregator.Start())
	aggregator.Publish(NewMeasurement("t", 1, "C"))
	require.NoError(t, aggregator.Stop(context.Background()))

	assert.Equal(t, 1, gateway.batchCount())
	assert.Equal(t, 1, aggregator.Pending())
}

func TestAggregatorStartValidation(t *testing.T) {
	noConfig := NewDeliveryAggregator(AggregatorOptions{Gateway: newFakeGateway(), Logger: discardLogger()})
	assert.ErrorIs(t, noConfig.Start(), ErrConfigurationMissing)

	noGateway := NewDeliveryAggregator(AggregatorOptions{Config: &DeliveryConfig{}, Logger: discardLogger()})
	assert.ErrorIs(t, noGateway.Start(), ErrDependencyMissing)

	aggregator := newTestAggregator(newFakeGateway(), nil, nil)
	aggregator.wait = newStepper().wait
	assert.NoError(t, aggregator.Stop(context.Background()))
	require.NoError(t, aggregator.Start())
	assert.ErrorIs(t, aggregator.Start(), ErrAlreadyStarted)
	require.NoError(t, aggregator.Stop(context.Background()))
	assert.Equal(t, "stopped", aggregator.State())
}

func TestAggregatorStopInterrupted(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	gateway := &blockingGateway{entered: entered, release: release}
	aggregator := newTestAggregator(gateway, nil, nil)
	steps := newStepper()
	aggregator.wait = steps.wait

	require.NoError(t, aggregator.Start())
	aggregator.Publish(NewMeasurement("t", 1, "C"))
	steps.step(t)
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, aggregator.Stop(ctx), ErrShutdownInterrupted)

	close(release)
	require.NoError(t, aggregator.Stop(context.Background()))
}

func TestAggregatorStopAfterLoopExitedIgnoresDoneContext(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 20; i++ {
		gateway := newFakeGateway()
		aggregator := newTestAggregator(gateway, nil, nil)
		aggregator.wait = newStepper().wait
		require.NoError(t, aggregator.Start())
		aggregator.Publish(NewMeasurement("t", float32(i), "C"))

		// 先让循环自行退出，模拟上一次 Stop 超时后的重试
		aggregator.stateMu.Lock()
		stop, done := aggregator.cancel, aggregator.done
		aggregator.stateMu.Unlock()
		stop()
		<-done

		require.NoError(t, aggregator.Stop(cancelled))
		assert.Equal(t, "stopped", aggregator.State())
		assert.Equal(t, 1, gateway.batchCount(), "最终上报应已执行")
	}
}

type gatewayFunc func(ctx context.Context, batch []Measurement) error

func (f gatewayFunc) SendMeasurementBatch(ctx context.Context, batch []Measurement) error {
	return f(ctx, batch)
}

// metricValue 读取注册表中无标签或首个序列的指标值
func metricValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name || len(f.GetMetric()) == 0 {
			continue
		}
		m := f.GetMetric()[0]
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	return 0
}

func TestAggregatorGaugesTrackBuffers(t *testing.T) {
	reg := prometheus.NewRegistry()
	gateway := newFakeGateway(errors.New("platform down"))
	aggregator := NewDeliveryAggregator(AggregatorOptions{
		Gateway: gateway,
		Config:  &DeliveryConfig{SendIntervalSeconds: 1},
		Logger:  discardLogger(),
		Metrics: metrics.NewPipeline(reg),
	})

	for i := 0; i < 3; i++ {
		aggregator.Publish(NewMeasurement("t", float32(i), "C"))
	}
	assert.Equal(t, 3.0, metricValue(t, reg, "pika_edge_pending_measurements"))

	aggregator.deliver()
	assert.Equal(t, 0.0, metricValue(t, reg, "pika_edge_pending_measurements"))
	assert.Equal(t, 3.0, metricValue(t, reg, "pika_edge_retry_measurements"))

	aggregator.deliver()
	assert.Equal(t, 0.0, metricValue(t, reg, "pika_edge_pending_measurements"))
	assert.Equal(t, 0.0, metricValue(t, reg, "pika_edge_retry_measurements"))
}

func TestAggregatorPendingGaugeMatchesBufferUnderConcurrency(t *testing.T) {
	reg := prometheus.NewRegistry()
	accept := gatewayFunc(func(context.Context, []Measurement) error { return nil })
	aggregator := NewDeliveryAggregator(AggregatorOptions{
		Gateway: accept,
		Config:  &DeliveryConfig{SendIntervalSeconds: 1},
		Logger:  discardLogger(),
		Metrics: metrics.NewPipeline(reg),
	})

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				aggregator.Publish(NewMeasurement("t", float32(i), "C"))
			}
		}()
	}
	stop := make(chan struct{})
	delivering := make(chan struct{})
	go func() {
		defer close(delivering)
		for {
			select {
			case <-stop:
				return
			default:
				aggregator.deliver()
			}
		}
	}()
	wg.Wait()
	close(stop)
	<-delivering

	assert.Equal(t, float64(aggregator.Pending()), metricValue(t, reg, "pika_edge_pending_measurements"))
}

type blockingGateway struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingGateway) SendMeasurementBatch(context.Context, []Measurement) error {
	b.entered <- struct{}{}
	<-b.release
	return nil
}

func TestAggregatorConcurrentProducersLoseNothing(t *testing.T) {
	gateway := newFakeGateway()
	channel := NewChannel()
	aggregator := newTestAggregator(gateway, channel, nil)

	const producers, perProducer = 4, 250
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if p%2 == 0 {
					channel.Add(NewMeasurement("t", float32(i), "C"))
				} else {
					aggregator.Publish(NewMeasurement("t", float32(i), "C"))
				}
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	total := 0
	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		default:
		}
		before := gateway.batchCount()
		aggregator.deliver()
		if gateway.batchCount() > before {
			<-gateway.sent
			total += len(gateway.batch(before))
		}
	}

	assert.Equal(t, producers*perProducer, total)
}
