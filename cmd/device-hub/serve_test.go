package main

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/device-hub/internal/config"
	"github.com/afroash/device-hub/internal/models"
)

func testAppConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{}
	cfg.ApplyDefaults()
	cfg.Database.Enabled = true
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "hub.db")
	cfg.Database.FlushPeriod = 50 * time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

func sendEnvelope(t *testing.T, ws *websocket.Conn, msgType models.MessageType, payload interface{}) {
	t.Helper()
	msg, err := models.NewMessage(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(msg))
}

func TestApp_EndToEnd(t *testing.T) {
	cfg := testAppConfig(t)
	a, err := newApp(cfg, zerolog.Nop())
	require.NoError(t, err)

	srv := httptest.NewServer(a.mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + cfg.Server.WSPath
	device, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer device.Close()

	sendEnvelope(t, device, models.MessageTypeRegisterDevice, "esp32-01")
	sendEnvelope(t, device, models.MessageTypeTelemetry, map[string]float64{"temp": 31, "hum": 50})

	require.Eventually(t, func() bool {
		return a.router.Stats().TotalTelemetryPoints == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(srv.URL + "/api/devices")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var devices []models.DeviceSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&devices))
	require.Len(t, devices, 1)
	assert.Equal(t, "esp32-01", devices[0].DeviceID)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	var report struct {
		Components map[string]json.RawMessage `json:"components"`
	}
	require.NoError(t, json.NewDecoder(health.Body).Decode(&report))
	assert.Contains(t, report.Components, "archive_writer")
	assert.Contains(t, report.Components, "retention")
	assert.Contains(t, report.Components, "monitor")

	// Flush the archive before reading it back
	a.writer.Stop()
	records, err := a.store.GetTelemetrySince("esp32-01", time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.JSONEq(t, `{"temp":31,"hum":50}`, string(records[0].Data))

	a.close()
}

func TestApp_WithoutDatabase(t *testing.T) {
	cfg := &config.AppConfig{}
	cfg.ApplyDefaults()

	a, err := newApp(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.close()

	assert.Nil(t, a.store)
	assert.Nil(t, a.writer)
	assert.Nil(t, a.bridge)
	assert.Nil(t, a.advertiser)

	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archive/esp32-01", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	a.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), version)
	assert.Contains(t, rec.Body.String(), `"monitor"`)
	assert.NotContains(t, rec.Body.String(), `"archive_writer"`)
}

func TestApp_ShutdownDrainsRequestsBeforeClosingArchive(t *testing.T) {
	cfg := testAppConfig(t)
	a, err := newApp(cfg, zerolog.Nop())
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("hold") {
			close(entered)
			<-release
		}
		a.mux.ServeHTTP(w, r)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	base := "http://" + ln.Addr().String()

	device, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+cfg.Server.WSPath, nil)
	require.NoError(t, err)
	defer device.Close()
	sendEnvelope(t, device, models.MessageTypeRegisterDevice, "esp32-01")
	sendEnvelope(t, device, models.MessageTypeTelemetry, map[string]float64{"temp": 31})
	require.Eventually(t, func() bool {
		return a.writer.Stats().TotalWritten == 1
	}, 2*time.Second, 10*time.Millisecond)

	type result struct {
		code int
		body string
		err  error
	}
	held := make(chan result, 1)
	go func() {
		resp, err := http.Get(base + "/api/archive/esp32-01?hold=1")
		if err != nil {
			held <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		held <- result{code: resp.StatusCode, body: string(body)}
	}()
	<-entered

	done := make(chan error, 1)
	go func() { done <- a.shutdown(srv) }()

	// the device connection is closed right away
	device.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := device.ReadMessage(); err != nil {
			break
		}
	}

	time.Sleep(50 * time.Millisecond)
	close(release)

	res := <-held
	require.NoError(t, res.err)
	assert.Equal(t, http.StatusOK, res.code, "archive stays open while requests drain")
	assert.Contains(t, res.body, `"temp":31`)
	require.NoError(t, <-done)

	_, err = http.Get(base + "/health")
	assert.Error(t, err, "listener is closed")
	assert.Equal(t, int64(1), a.writer.Stats().TotalWritten)
}

func TestVersionCommand(t *testing.T) {
	var out strings.Builder
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, version+"\n", out.String())
}
