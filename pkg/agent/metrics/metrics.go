package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline 采集管道指标，nil 接收者上的方法均为空操作
type Pipeline struct {
	samples        *prometheus.CounterVec
	sampleErrors   *prometheus.CounterVec
	alarmsFired    *prometheus.CounterVec
	alarmsFailed   *prometheus.CounterVec
	batchesSent    prometheus.Counter
	batchesFailed  prometheus.Counter
	delivered      prometheus.Counter
	pending        prometheus.Gauge
	retry          prometheus.Gauge
	sendLatency    prometheus.Histogram
	runningWorkers prometheus.Gauge
}

// NewPipeline 创建并注册指标
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pika_edge_samples_total",
			Help: "Measurements produced by sampling workers.",
		}, []string{"sensor"}),
		sampleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pika_edge_sample_errors_total",
			Help: "Failed sample acquisitions.",
		}, []string{"sensor"}),
		alarmsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pika_edge_alarms_fired_total",
			Help: "Alarms raised by threshold rules.",
		}, []string{"sensor", "severity"}),
		alarmsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pika_edge_alarms_failed_total",
			Help: "Alarms that could not be dispatched.",
		}, []string{"sensor"}),
		batchesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pika_edge_batches_sent_total",
			Help: "Measurement batches accepted by the platform.",
		}),
		batchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pika_edge_batches_failed_total",
			Help: "Measurement batches rejected or not delivered.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pika_edge_measurements_delivered_total",
			Help: "Measurements accepted by the platform.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pika_edge_pending_measurements",
			Help: "Measurements buffered and waiting for the next delivery cycle.",
		}),
		retry: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pika_edge_retry_measurements",
			Help: "Measurements kept from a failed delivery for the next attempt.",
		}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pika_edge_send_latency_seconds",
			Help:    "Latency of measurement batch sends.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		runningWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pika_edge_running_workers",
			Help: "Sampling workers currently running.",
		}),
	}
	if reg != nil {
		reg.MustRegister(p.samples, p.sampleErrors, p.alarmsFired, p.alarmsFailed,
			p.batchesSent, p.batchesFailed, p.delivered, p.pending, p.retry,
			p.sendLatency, p.runningWorkers)
	}
	return p
}

func (p *Pipeline) SampleProduced(sensor string) {
	if p == nil {
		return
	}
	p.samples.WithLabelValues(sensor).Inc()
}

func (p *Pipeline) SampleFailed(sensor string) {
	if p == nil {
		return
	}
	p.sampleErrors.WithLabelValues(sensor).Inc()
}

func (p *Pipeline) AlarmFired(sensor, severity string) {
	if p == nil {
		return
	}
	p.alarmsFired.WithLabelValues(sensor, severity).Inc()
}

func (p *Pipeline) AlarmFailed(sensor string) {
	if p == nil {
		return
	}
	p.alarmsFailed.WithLabelValues(sensor).Inc()
}

// BatchSent 记录一次成功上报
func (p *Pipeline) BatchSent(size int, took time.Duration) {
	if p == nil {
		return
	}
	p.batchesSent.Inc()
	p.delivered.Add(float64(size))
	p.sendLatency.Observe(took.Seconds())
}

// BatchFailed 记录一次失败上报
func (p *Pipeline) BatchFailed(took time.Duration) {
	if p == nil {
		return
	}
	p.batchesFailed.Inc()
	p.sendLatency.Observe(took.Seconds())
}

func (p *Pipeline) SetPending(n int) {
	if p == nil {
		return
	}
	p.pending.Set(float64(n))
}

func (p *Pipeline) SetRetry(n int) {
	if p == nil {
		return
	}
	p.retry.Set(float64(n))
}

func (p *Pipeline) WorkerStarted() {
	if p == nil {
		return
	}
	p.runningWorkers.Inc()
}

func (p *Pipeline) WorkerStopped() {
	if p == nil {
		return
	}
	p.runningWorkers.Dec()
}
