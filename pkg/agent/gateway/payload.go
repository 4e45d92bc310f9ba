package gateway

import (
	"encoding/json"

	"github.com/dushixiang/pika-edge/pkg/agent/telemetry"
)

// MessageType WebSocket 消息类型
type MessageType string

const (
	MessageTypeMeasurements MessageType = "measurements"
	MessageTypeAlarm        MessageType = "alarm"
)

// Message WebSocket 消息信封
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// BatchPayload 一批测量值
type BatchPayload struct {
	AgentID      string                  `json:"agentId"`
	BatchID      string                  `json:"batchId"`
	Measurements []telemetry.Measurement `json:"measurements"`
}

// AlarmPayload 一条告警
type AlarmPayload struct {
	AgentID string `json:"agentId"`
	telemetry.Alarm
}
