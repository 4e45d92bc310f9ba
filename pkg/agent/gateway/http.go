package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/dushixiang/pika-edge/pkg/agent/telemetry"
)

const (
	measurementsPath = "/api/agent/measurements"
	alarmsPath       = "/api/agent/alarms"
)

// HTTPOptions HTTP 网关配置
type HTTPOptions struct {
	Endpoint           string
	APIKey             string
	AgentID            string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// HTTPGateway 通过 REST 接口上报测量值和告警
type HTTPGateway struct {
	client  *resty.Client
	agentID string
}

// NewHTTPGateway 创建 HTTP 网关
func NewHTTPGateway(opts HTTPOptions) *HTTPGateway {
	client := resty.New().
		SetBaseURL(opts.Endpoint).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "pika-edge")
	if opts.APIKey != "" {
		client.SetHeader("X-Api-Key", opts.APIKey)
	}
	if opts.InsecureSkipVerify {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	return &HTTPGateway{
		client:  client,
		agentID: opts.AgentID,
	}
}

// SendMeasurementBatch 实现 telemetry.MeasurementGateway
func (g *HTTPGateway) SendMeasurementBatch(ctx context.Context, batch []telemetry.Measurement) error {
	payload := BatchPayload{
		AgentID:      g.agentID,
		BatchID:      uuid.NewString(),
		Measurements: batch,
	}
	return g.post(ctx, measurementsPath, payload)
}

// CreateAlarm 实现 telemetry.AlarmSink
func (g *HTTPGateway) CreateAlarm(ctx context.Context, alarm telemetry.Alarm) error {
	return g.post(ctx, alarmsPath, AlarmPayload{AgentID: g.agentID, Alarm: alarm})
}

func (g *HTTPGateway) post(ctx context.Context, path string, body any) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("请求 %s 失败: %w", path, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("请求 %s 失败: HTTP %d", path, resp.StatusCode())
	}
	return nil
}
