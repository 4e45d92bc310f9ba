package sensor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/dushixiang/pika-edge/pkg/agent/config"
	"github.com/dushixiang/pika-edge/pkg/agent/telemetry"
)

// Discovery 根据配置文件中的传感器列表构建采集器
type Discovery struct {
	sensors []config.SensorConfig
	fs      afero.Fs
	logger  *slog.Logger
	temps   temperatureCache
}

// NewDiscovery 创建传感器发现器
func NewDiscovery(cfg *config.Config, fs afero.Fs, logger *slog.Logger) *Discovery {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Discovery{
		sensors: cfg.Sensors,
		fs:      fs,
		logger:  logger,
		temps:   newTemperatureCache(),
	}
}

// FindSensors 实现 telemetry.ServiceDiscovery
func (d *Discovery) FindSensors() ([]telemetry.SensorHandle, error) {
	handles := make([]telemetry.SensorHandle, 0, len(d.sensors))
	for i := range d.sensors {
		s := &d.sensors[i]
		if !s.IsEnabled() {
			d.logger.Debug("传感器已禁用", "sensor", s.Name)
			continue
		}
		sampler, err := d.build(s)
		if err != nil {
			d.logger.Warn("无法创建传感器采集器，已跳过", "sensor", s.Name, "kind", s.Kind, "error", err)
			continue
		}
		handles = append(handles, telemetry.SensorHandle{Name: s.Name, Sampler: sampler})
	}
	if len(handles) == 0 {
		return nil, telemetry.ErrNoSensorsFound
	}
	return handles, nil
}

func (d *Discovery) build(s *config.SensorConfig) (telemetry.Sampler, error) {
	typ := s.MeasurementType()
	switch s.Kind {
	case "host":
		return NewHostSampler(typ, s.Unit, s.Metric, s.Key, d.temps), nil
	case "file":
		return NewFileSampler(d.fs, s.Path, s.Scale, typ, s.Unit), nil
	case "probe":
		return NewProbeSampler(s.Protocol, s.Target, time.Duration(s.TimeoutSeconds)*time.Second, typ), nil
	case "simulated":
		return NewSimulatedSampler(typ, s.Unit, s.Values), nil
	default:
		return nil, fmt.Errorf("unknown sensor kind: %s", s.Kind)
	}
}
