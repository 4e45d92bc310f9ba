package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/dushixiang/pika-edge/pkg/agent/telemetry"
)

const (
	wsPath           = "/api/agent/ws"
	defaultWriteWait = 10 * time.Second
)

// ErrReconnectBackoff 处于重连退避期内
var ErrReconnectBackoff = errors.New("websocket reconnect backoff")

// WebSocketGateway 通过单条 WebSocket 长连接上报；连接断开后按退避策略重连
type WebSocketGateway struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	agentID string
	logger  *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	backoff   *backoff.Backoff
	nextDial  time.Time
	writeWait time.Duration
}

// NewWebSocketGateway 创建 WebSocket 网关
func NewWebSocketGateway(opts HTTPOptions, logger *slog.Logger) *WebSocketGateway {
	header := http.Header{}
	if opts.APIKey != "" {
		header.Set("X-Api-Key", opts.APIKey)
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: opts.Timeout,
	}
	if opts.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &WebSocketGateway{
		url:     toWebSocketURL(opts.Endpoint) + wsPath,
		header:  header,
		dialer:  dialer,
		agentID: opts.AgentID,
		logger:  logger,
		backoff: &backoff.Backoff{
			Min:    time.Second,
			Max:    time.Minute,
			Factor: 2,
			Jitter: true,
		},
		writeWait: defaultWriteWait,
	}
}

func toWebSocketURL(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	default:
		return endpoint
	}
}

// SendMeasurementBatch 实现 telemetry.MeasurementGateway
func (g *WebSocketGateway) SendMeasurementBatch(ctx context.Context, batch []telemetry.Measurement) error {
	return g.send(ctx, MessageTypeMeasurements, BatchPayload{
		AgentID:      g.agentID,
		BatchID:      uuid.NewString(),
		Measurements: batch,
	})
}

// CreateAlarm 实现 telemetry.AlarmSink
func (g *WebSocketGateway) CreateAlarm(ctx context.Context, alarm telemetry.Alarm) error {
	return g.send(ctx, MessageTypeAlarm, AlarmPayload{AgentID: g.agentID, Alarm: alarm})
}

func (g *WebSocketGateway) send(ctx context.Context, typ MessageType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Message{Type: typ, Data: data})
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	conn, err := g.connect(ctx)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(g.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		// 写失败后丢弃连接，下次调用重新拨号
		_ = conn.Close()
		g.conn = nil
		return fmt.Errorf("发送 %s 消息失败: %w", typ, err)
	}
	return nil
}

// connect 调用方需持有 g.mu
func (g *WebSocketGateway) connect(ctx context.Context) (*websocket.Conn, error) {
	if g.conn != nil {
		return g.conn, nil
	}
	if time.Now().Before(g.nextDial) {
		return nil, ErrReconnectBackoff
	}

	conn, _, err := g.dialer.DialContext(ctx, g.url, g.header)
	if err != nil {
		wait := g.backoff.Duration()
		g.nextDial = time.Now().Add(wait)
		g.logger.Warn("连接服务端失败", "url", g.url, "retry_after", wait, "error", err)
		return nil, fmt.Errorf("连接服务端失败: %w", err)
	}
	g.backoff.Reset()
	g.nextDial = time.Time{}
	g.conn = conn
	g.logger.Info("已连接服务端", "url", g.url)
	go g.discardIncoming(conn)
	return conn, nil
}

// discardIncoming 读取并丢弃服务端消息，以便及时处理 ping/close 控制帧
func (g *WebSocketGateway) discardIncoming(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			g.mu.Lock()
			if g.conn == conn {
				_ = conn.Close()
				g.conn = nil
			}
			g.mu.Unlock()
			return
		}
	}
}

// Close 关闭连接
func (g *WebSocketGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		return nil
	}
	err := g.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = g.conn.Close()
	g.conn = nil
	return err
}
