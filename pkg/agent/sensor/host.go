package sensor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-orz/cache"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"

	"github.com/dushixiang/pika-edge/pkg/agent/telemetry"
)

const temperatureCacheTTL = 5 * time.Second

// 同一周期内多个温度传感器共用一次读取
type temperatureCache = cache.Cache[string, []sensors.TemperatureStat]

func newTemperatureCache() temperatureCache {
	return cache.New[string, []sensors.TemperatureStat](temperatureCacheTTL)
}

// HostSampler 主机指标采集器
type HostSampler struct {
	typ    string
	unit   string
	metric string
	key    string
	temps  temperatureCache
}

// NewHostSampler 创建主机指标采集器，temps 由同一 Discovery 创建的采集器共享
func NewHostSampler(typ, unit, metric, key string, temps temperatureCache) *HostSampler {
	return &HostSampler{
		typ:    typ,
		unit:   unit,
		metric: metric,
		key:    key,
		temps:  temps,
	}
}

// Sample 采集一次主机指标
func (h *HostSampler) Sample(ctx context.Context) (*telemetry.Measurement, error) {
	var (
		value float64
		err   error
		ok    = true
	)
	switch h.metric {
	case "cpu":
		value, err = h.cpuPercent(ctx)
	case "memory":
		value, err = h.memoryPercent(ctx)
	case "load1":
		value, err = h.load1(ctx)
	case "temperature":
		value, ok, err = h.temperature(ctx)
	default:
		return nil, fmt.Errorf("unsupported host metric: %s", h.metric)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	m := telemetry.NewMeasurement(h.typ, float32(value), h.unit)
	return &m, nil
}

func (h *HostSampler) cpuPercent(ctx context.Context) (float64, error) {
	// interval 为 0 时与上一次调用比较
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("获取 CPU 使用率失败: %w", err)
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("获取 CPU 使用率失败: 无数据")
	}
	return percents[0], nil
}

func (h *HostSampler) memoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取内存信息失败: %w", err)
	}
	return vm.UsedPercent, nil
}

func (h *HostSampler) load1(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取系统负载失败: %w", err)
	}
	return avg.Load1, nil
}

// temperature 未找到匹配的温度传感器时视为无数据
func (h *HostSampler) temperature(ctx context.Context) (float64, bool, error) {
	temps, ok := h.temps.Get("all")
	if !ok {
		var err error
		temps, err = sensors.TemperaturesWithContext(ctx)
		if err != nil && len(temps) == 0 {
			return 0, false, fmt.Errorf("获取温度信息失败: %w", err)
		}
		h.temps.Set("all", temps, temperatureCacheTTL)
	}
	v, found := pickTemperature(temps, h.key)
	return v, found, nil
}

// pickTemperature key 为空时取最高温度
func pickTemperature(temps []sensors.TemperatureStat, key string) (float64, bool) {
	var (
		best  float64
		found bool
	)
	for _, t := range temps {
		if key != "" {
			if strings.EqualFold(t.SensorKey, key) {
				return t.Temperature, true
			}
			continue
		}
		if !found || t.Temperature > best {
			best = t.Temperature
			found = true
		}
	}
	return best, found
}
