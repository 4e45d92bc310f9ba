package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/dushixiang/pika-edge/pkg/agent/telemetry"
)

// GatewayRecorder 包装平台网关，把上报结果写入统计
type GatewayRecorder struct {
	telemetry.PlatformGateway

	store  *Store
	logger *slog.Logger
}

// NewGatewayRecorder 创建统计包装
func NewGatewayRecorder(gateway telemetry.PlatformGateway, store *Store, logger *slog.Logger) *GatewayRecorder {
	return &GatewayRecorder{
		PlatformGateway: gateway,
		store:           store,
		logger:          logger,
	}
}

// SendMeasurementBatch 统计写入失败不影响上报结果
func (r *GatewayRecorder) SendMeasurementBatch(ctx context.Context, batch []telemetry.Measurement) error {
	err := r.PlatformGateway.SendMeasurementBatch(ctx, batch)
	var recErr error
	if err != nil {
		recErr = r.store.RecordFailed()
	} else {
		recErr = r.store.RecordDelivered(len(batch), time.Now())
	}
	if recErr != nil {
		r.logger.Warn("写入上报统计失败", "error", recErr)
	}
	return err
}
