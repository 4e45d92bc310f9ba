package telemetry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelPollEmpty(t *testing.T) {
	c := NewChannel()
	_, ok := c.Poll()
	assert.False(t, ok)
	assert.Nil(t, c.Drain())
}

func TestChannelSingleProducerFIFO(t *testing.T) {
	c := NewChannel()
	for i := 0; i < 10; i++ {
		c.Add(NewMeasurement("t", float32(i), "C"))
	}
	c.AddAll([]Measurement{NewMeasurement("t", 10, "C"), NewMeasurement("t", 11, "C")})

	for i := 0; i < 12; i++ {
		m, ok := c.Poll()
		require.True(t, ok)
		assert.Equal(t, float32(i), m.Value)
	}
	_, ok := c.Poll()
	assert.False(t, ok)
}

func TestChannelConcurrentProducers(t *testing.T) {
	c := NewChannel()
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				c.Publish(Measurement{Type: string(rune('a' + p)), Value: float32(i)})
			}
		}(p)
	}
	wg.Wait()

	require.Equal(t, producers*perProducer, c.Len())

	// 每个生产者内部保持顺序
	last := map[string]float32{}
	for _, m := range c.Drain() {
		if prev, ok := last[m.Type]; ok {
			assert.Greater(t, m.Value, prev)
		}
		last[m.Type] = m.Value
	}
	assert.Equal(t, 0, c.Len())
}
