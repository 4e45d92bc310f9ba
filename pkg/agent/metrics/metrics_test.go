package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPipeline(reg)

	p.SampleProduced("temp")
	p.SampleProduced("temp")
	p.SampleFailed("temp")
	p.AlarmFired("temp", "CRITICAL")
	p.BatchSent(3, 10*time.Millisecond)
	p.BatchFailed(time.Millisecond)
	p.SetPending(7)
	p.SetRetry(2)
	p.WorkerStarted()

	assert.Equal(t, 2.0, testutil.ToFloat64(p.samples.WithLabelValues("temp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.sampleErrors.WithLabelValues("temp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.alarmsFired.WithLabelValues("temp", "CRITICAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.batchesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.batchesFailed))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.delivered))
	assert.Equal(t, 7.0, testutil.ToFloat64(p.pending))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.retry))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.runningWorkers))
	assert.Equal(t, 1, testutil.CollectAndCount(p.sendLatency))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilPipelineIsNoop(t *testing.T) {
	var p *Pipeline
	assert.NotPanics(t, func() {
		p.SampleProduced("x")
		p.SampleFailed("x")
		p.AlarmFired("x", "MAJOR")
		p.AlarmFailed("x")
		p.BatchSent(1, time.Second)
		p.BatchFailed(time.Second)
		p.SetPending(1)
		p.SetRetry(1)
		p.WorkerStarted()
		p.WorkerStopped()
	})
}
