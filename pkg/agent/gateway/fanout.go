package gateway

import (
	"context"
	"log/slog"

	"github.com/dushixiang/pika-edge/pkg/agent/telemetry"
)

// AlarmFanout 告警同时发往平台和本地通知渠道，以平台结果为准
type AlarmFanout struct {
	telemetry.PlatformGateway

	notifiers []telemetry.AlarmSink
	logger    *slog.Logger
}

// NewAlarmFanout 创建告警分发器，notifiers 中的 nil 会被忽略
func NewAlarmFanout(platform telemetry.PlatformGateway, logger *slog.Logger, notifiers ...telemetry.AlarmSink) *AlarmFanout {
	fanout := &AlarmFanout{
		PlatformGateway: platform,
		logger:          logger,
	}
	for _, n := range notifiers {
		if n != nil {
			fanout.notifiers = append(fanout.notifiers, n)
		}
	}
	return fanout
}

// CreateAlarm 通知渠道的失败只记录日志
func (f *AlarmFanout) CreateAlarm(ctx context.Context, alarm telemetry.Alarm) error {
	for _, n := range f.notifiers {
		if err := n.CreateAlarm(ctx, alarm); err != nil {
			f.logger.Warn("发送告警通知失败", "alarm_type", alarm.Type, "error", err)
		}
	}
	return f.PlatformGateway.CreateAlarm(ctx, alarm)
}
