package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
)

func TestDecodeCBOR_Telemetry(t *testing.T) {
	frame, err := cbor.Marshal(map[string]interface{}{
		"type":    "telemetry",
		"payload": map[string]interface{}{"temp": 31, "hum": 50},
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	msg, err := DecodeCBOR(frame)
	if err != nil {
		t.Fatalf("DecodeCBOR failed: %v", err)
	}
	if msg.Type != MessageTypeTelemetry {
		t.Errorf("Type = %v, want telemetry", msg.Type)
	}

	data, err := ParseTelemetryData(msg.Payload)
	if err != nil {
		t.Fatalf("payload is not usable telemetry: %v", err)
	}
	if obj, _ := data.(map[string]interface{}); obj["temp"] != float64(31) {
		t.Errorf("data = %v, want temp 31", data)
	}
}

func TestDecodeCBOR_StringPayload(t *testing.T) {
	frame, err := cbor.Marshal(map[string]interface{}{
		"type":    "register_device",
		"payload": "esp32-07",
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	msg, err := DecodeCBOR(frame)
	if err != nil {
		t.Fatalf("DecodeCBOR failed: %v", err)
	}
	var id string
	if err := msg.UnmarshalPayload(&id); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}
	if id != "esp32-07" {
		t.Errorf("id = %q", id)
	}
}

func TestDecodeCBOR_Garbage(t *testing.T) {
	if _, err := DecodeCBOR([]byte{0xff, 0x00, 0x13}); err == nil {
		t.Error("expected error for invalid CBOR")
	}
}

func TestEncodeCBOR_Control(t *testing.T) {
	msg := &Message{
		Type:      MessageTypeControl,
		Payload:   json.RawMessage(`{"cmd":"toggle"}`),
		Timestamp: time.Now(),
	}

	frame, err := EncodeCBOR(msg)
	if err != nil {
		t.Fatalf("EncodeCBOR failed: %v", err)
	}

	decoded, err := DecodeCBOR(frame)
	if err != nil {
		t.Fatalf("DecodeCBOR failed: %v", err)
	}
	if decoded.Type != MessageTypeControl {
		t.Errorf("Type = %v", decoded.Type)
	}
	if ParseControlCommand(decoded.Payload).Cmd != CommandToggle {
		t.Errorf("Payload = %s", decoded.Payload)
	}
}
