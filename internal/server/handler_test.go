package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/afroash/device-hub/internal/hub"
	"github.com/afroash/device-hub/internal/models"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startHub runs a real router behind the WebSocket handler
func startHub(t *testing.T, allowedOrigins ...string) (*hub.Router, string) {
	t.Helper()

	logger := zerolog.Nop()
	groups := NewGroups(logger)
	router := hub.NewRouter(groups, hub.DefaultConfig(), logger)
	handler := NewHandler(router, groups, logger, allowedOrigins...)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return router, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msgType models.MessageType, payload interface{}) {
	t.Helper()
	msg, err := models.NewMessage(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(msg))
}

// expect reads JSON frames until one of type want arrives
func expect(t *testing.T, ws *websocket.Conn, want models.MessageType) *models.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg models.Message
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if msg.Type == want {
			return &msg
		}
	}
}

func TestHandler_TelemetryFanOut(t *testing.T) {
	_, url := startHub(t)

	client := dial(t, url)
	send(t, client, models.MessageTypeRegisterClient, nil)
	expect(t, client, models.MessageTypeDeviceList)

	device := dial(t, url)
	send(t, device, models.MessageTypeRegisterDevice, "esp32-01")
	ack := expect(t, device, models.MessageTypeRegistrationSuccess)
	var reg models.RegistrationAck
	require.NoError(t, ack.UnmarshalPayload(&reg))
	assert.Equal(t, "esp32-01", reg.DeviceID)

	send(t, device, models.MessageTypeTelemetry, map[string]interface{}{"temp": 31, "hum": 50})

	msg := expect(t, client, models.MessageTypeTelemetry)
	var evt models.TelemetryEvent
	require.NoError(t, msg.UnmarshalPayload(&evt))
	assert.Equal(t, "esp32-01", evt.DeviceID)
	assert.Equal(t, map[string]interface{}{"temp": float64(31), "hum": float64(50)}, evt.Data)
}

func TestHandler_TelemetryAsString(t *testing.T) {
	router, url := startHub(t)

	device := dial(t, url)
	send(t, device, models.MessageTypeRegisterDevice, "esp32-01")
	expect(t, device, models.MessageTypeRegistrationSuccess)
	send(t, device, models.MessageTypeTelemetry, `{"temp":22.5}`)

	assert.Eventually(t, func() bool {
		return len(router.History("esp32-01", 10)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_RegistrationError(t *testing.T) {
	router, url := startHub(t)

	device := dial(t, url)
	send(t, device, models.MessageTypeRegisterDevice, "")

	msg := expect(t, device, models.MessageTypeRegistrationError)
	var e models.ErrorMessage
	require.NoError(t, msg.UnmarshalPayload(&e))
	assert.Equal(t, "invalid_device_id", e.Code)
	assert.Equal(t, 0, router.Stats().DeviceCount)
}

func TestHandler_RegisterWithObjectPayload(t *testing.T) {
	_, url := startHub(t)

	device := dial(t, url)
	send(t, device, models.MessageTypeRegisterDevice, map[string]string{"deviceId": "esp32-02"})
	expect(t, device, models.MessageTypeRegistrationSuccess)
}

func TestHandler_ControlReachesDevice(t *testing.T) {
	_, url := startHub(t)

	device := dial(t, url)
	send(t, device, models.MessageTypeRegisterDevice, "relay-1")
	expect(t, device, models.MessageTypeRegistrationSuccess)

	client := dial(t, url)
	send(t, client, models.MessageTypeRegisterClient, nil)
	expect(t, client, models.MessageTypeDeviceList)

	send(t, client, models.MessageTypeControlDevice, map[string]interface{}{
		"deviceId": "relay-1",
		"command":  map[string]interface{}{"cmd": "toggle", "source": "ui"},
	})

	msg := expect(t, device, models.MessageTypeControl)
	assert.JSONEq(t, `{"cmd":"toggle","source":"ui"}`, string(msg.Payload))

	update := expect(t, client, models.MessageTypeDeviceUpdate)
	var du models.DeviceUpdate
	require.NoError(t, update.UnmarshalPayload(&du))
	assert.True(t, du.ControlState)
}

func TestHandler_HistoryAndStats(t *testing.T) {
	router, url := startHub(t)

	device := dial(t, url)
	send(t, device, models.MessageTypeRegisterDevice, "esp32-01")
	expect(t, device, models.MessageTypeRegistrationSuccess)
	for i := 0; i < 3; i++ {
		send(t, device, models.MessageTypeTelemetry, map[string]int{"seq": i})
	}
	require.Eventually(t, func() bool {
		return router.Stats().TotalTelemetryPoints == 3
	}, 2*time.Second, 10*time.Millisecond)

	client := dial(t, url)
	send(t, client, models.MessageTypeGetTelemetryHistory, models.HistoryRequest{DeviceID: "esp32-01", Limit: 2})
	msg := expect(t, client, models.MessageTypeTelemetryHistory)
	var reply models.HistoryReply
	require.NoError(t, msg.UnmarshalPayload(&reply))
	require.Len(t, reply.History, 2)
	assert.Equal(t, map[string]interface{}{"seq": float64(2)}, reply.History[1].Data)

	send(t, client, models.MessageTypeGetDeviceStats, nil)
	msg = expect(t, client, models.MessageTypeDeviceStats)
	var stats models.DeviceStats
	require.NoError(t, msg.UnmarshalPayload(&stats))
	assert.Equal(t, 1, stats.DeviceCount)
	assert.Equal(t, 3, stats.TotalTelemetryPoints)
}

func TestHandler_DisconnectNotifiesClients(t *testing.T) {
	router, url := startHub(t)

	client := dial(t, url)
	send(t, client, models.MessageTypeRegisterClient, nil)
	expect(t, client, models.MessageTypeDeviceList)

	device := dial(t, url)
	send(t, device, models.MessageTypeRegisterDevice, "esp32-01")
	expect(t, device, models.MessageTypeRegistrationSuccess)
	device.Close()

	msg := expect(t, client, models.MessageTypeDeviceDisconnected)
	var id string
	require.NoError(t, msg.UnmarshalPayload(&id))
	assert.Equal(t, "esp32-01", id)
	assert.Equal(t, 0, router.Stats().DeviceCount)
}

func TestHandler_CBORFrames(t *testing.T) {
	_, url := startHub(t)

	device := dial(t, url)
	msg, err := models.NewMessage(models.MessageTypeRegisterDevice, "esp32-cbor")
	require.NoError(t, err)
	data, err := models.EncodeCBOR(msg)
	require.NoError(t, err)
	require.NoError(t, device.WriteMessage(websocket.BinaryMessage, data))

	device.SetReadDeadline(time.Now().Add(2 * time.Second))
	frameType, reply, err := device.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, frameType)

	decoded, err := models.DecodeCBOR(reply)
	require.NoError(t, err)
	assert.Equal(t, models.MessageTypeRegistrationSuccess, decoded.Type)
	var ack models.RegistrationAck
	require.NoError(t, json.Unmarshal(decoded.Payload, &ack))
	assert.Equal(t, "esp32-cbor", ack.DeviceID)
}

func TestHandler_OriginAllowlist(t *testing.T) {
	_, url := startHub(t, "http://dashboard.local")

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://dashboard.local")
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	ws.Close()
}

func TestParseDeviceID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"string", `"esp32-01"`, "esp32-01"},
		{"object", `{"deviceId":"esp32-02"}`, "esp32-02"},
		{"missing", ``, ""},
		{"null", `null`, ""},
		{"number", `42`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &models.Message{Type: models.MessageTypeRegisterDevice, Payload: json.RawMessage(tt.payload)}
			assert.Equal(t, tt.want, parseDeviceID(msg))
		})
	}
}
