// internal/models/message_test.go
package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(MessageTypeRegistrationSuccess, RegistrationAck{DeviceID: "esp32-01"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != MessageTypeRegistrationSuccess {
		t.Errorf("Type = %v, want %v", msg.Type, MessageTypeRegistrationSuccess)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
	if string(msg.Payload) != `{"deviceId":"esp32-01"}` {
		t.Errorf("Payload = %s", msg.Payload)
	}
}

func TestNewMessage_NilPayload(t *testing.T) {
	msg, err := NewMessage(MessageTypeRegisterClient, nil)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if msg.HasPayload() {
		t.Error("HasPayload should be false for nil payload")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if _, ok := decoded["payload"]; ok {
		t.Error("payload should be omitted when empty")
	}
}

func TestMessage_UnmarshalPayload(t *testing.T) {
	raw := []byte(`{"type":"get_telemetry_history","payload":{"deviceId":"esp32-01","limit":5}}`)

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	var req HistoryRequest
	if err := msg.UnmarshalPayload(&req); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}
	if req.DeviceID != "esp32-01" || req.Limit != 5 {
		t.Errorf("HistoryRequest = %+v", req)
	}
}

func TestMessage_DeviceListShape(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	list := []DeviceSummary{{
		DeviceID:       "esp32-01",
		IsOnline:       true,
		LastSeen:       now,
		TelemetryCount: 3,
		ControlState:   true,
		RegisteredAt:   now,
	}}

	msg, err := NewMessage(MessageTypeDeviceList, list)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	var decoded []map[string]interface{}
	if err := msg.UnmarshalPayload(&decoded); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}
	for _, key := range []string{"deviceId", "isOnline", "lastSeen", "telemetryCount", "controlState", "registeredAt"} {
		if _, ok := decoded[0][key]; !ok {
			t.Errorf("device_list entry missing %q", key)
		}
	}
}

func TestParseControlCommand(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"on", `{"cmd":"on"}`, CommandOn},
		{"toggle with extra fields", `{"cmd":"toggle","pin":2}`, CommandToggle},
		{"unknown verb", `{"cmd":"blink"}`, "blink"},
		{"not an object", `"on"`, ""},
		{"cmd not a string", `{"cmd":1}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseControlCommand(json.RawMessage(tt.raw))
			if got.Cmd != tt.want {
				t.Errorf("Cmd = %q, want %q", got.Cmd, tt.want)
			}
		})
	}
}
