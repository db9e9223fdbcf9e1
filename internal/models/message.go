package models

import (
	"encoding/json"
	"time"
)

// MessageType is the event name carried in the envelope
type MessageType string

// Inbound events (device or client -> hub)
const (
	MessageTypeRegisterDevice      MessageType = "register_device"
	MessageTypeRegisterClient      MessageType = "register_client"
	MessageTypeTelemetry           MessageType = "telemetry"
	MessageTypeControlDevice       MessageType = "control_device"
	MessageTypeGetTelemetryHistory MessageType = "get_telemetry_history"
	MessageTypeGetDeviceStats      MessageType = "get_device_stats"
	MessageTypeHeartbeat           MessageType = "heartbeat"
	MessageTypeDeviceOffline       MessageType = "device_offline"
)

// Outbound events (hub -> device or client). MessageTypeTelemetry is used in both directions.
const (
	MessageTypeDeviceList          MessageType = "device_list"
	MessageTypeDeviceUpdate        MessageType = "device_update"
	MessageTypeDeviceDisconnected  MessageType = "device_disconnected"
	MessageTypeRegistrationSuccess MessageType = "registration_success"
	MessageTypeRegistrationError   MessageType = "registration_error"
	MessageTypeTelemetryHistory    MessageType = "telemetry_history"
	MessageTypeDeviceStats         MessageType = "device_stats"
	MessageTypeControl             MessageType = "control"
)

// Message is the envelope for all WebSocket communications
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		Timestamp: time.Now(),
	}
	if payload == nil {
		return msg, nil
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	msg.Payload = payloadJSON
	return msg, nil
}

// UnmarshalPayload unmarshals the message payload into the provided struct
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// HasPayload reports whether the message carried a non-null payload
func (m *Message) HasPayload() bool {
	return len(m.Payload) > 0 && string(m.Payload) != "null"
}

// ErrorMessage is the payload for MessageTypeRegistrationError
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
