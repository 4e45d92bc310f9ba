package telemetry

import "sync"

// Channel 线程安全的无界 FIFO 队列，Poll 不阻塞
type Channel struct {
	mu    sync.Mutex
	items []Measurement
}

// NewChannel 创建队列
func NewChannel() *Channel {
	return &Channel{}
}

// Add 追加一条测量值
func (c *Channel) Add(m Measurement) {
	c.mu.Lock()
	c.items = append(c.items, m)
	c.mu.Unlock()
}

// AddAll 按顺序追加多条测量值
func (c *Channel) AddAll(ms []Measurement) {
	if len(ms) == 0 {
		return
	}
	c.mu.Lock()
	c.items = append(c.items, ms...)
	c.mu.Unlock()
}

// Publish 实现 Sink
func (c *Channel) Publish(m Measurement) {
	c.Add(m)
}

// Poll 取出队首元素，队列为空时立即返回 false
func (c *Channel) Poll() (Measurement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return Measurement{}, false
	}
	m := c.items[0]
	c.items[0] = Measurement{}
	c.items = c.items[1:]
	return m, true
}

// Drain 一次性取出全部元素
func (c *Channel) Drain() []Measurement {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return nil
	}
	out := c.items
	c.items = nil
	return out
}

// Len 当前队列长度
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
