package wsbus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/kb5ft8/ft8d/pkg/audio"
	"github.com/kb5ft8/ft8d/pkg/config"
	"github.com/kb5ft8/ft8d/pkg/engine"
	"github.com/kb5ft8/ft8d/pkg/eventbus"
	"github.com/kb5ft8/ft8d/pkg/model"
)

func newTestServer(t *testing.T) (*Server, *engine.CoreEngine) {
	t.Helper()
	cfg := config.Default()
	cfg.Operators = []config.OperatorConfig{{
		ID: "op1", MyCallsign: "AA1AA", MyGrid: "FN42", AudioFreqHz: 1500,
		Mode: "FT8", TransmitCycles: []int{0},
	}}
	dev := audio.NewMockDevice()
	dev.SetSleeper(func(time.Duration) {})
	eng, err := engine.NewCoreEngine(cfg, engine.Options{Device: dev})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return NewServer(eng, nil), eng
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "idle", body["engine"])
}

func TestStatusReportsOperators(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/operators")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Operators []struct {
			ID       string `json:"id"`
			Callsign string `json:"callsign"`
			QSOState string `json:"qsoState"`
		} `json:"operators"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Empty(t, body.Operators, "operators are registered at engine start, not construction")

	// After start the configured operator shows up.
	require.NoError(t, srv.eng.Start(context.Background()))
	defer srv.eng.Stop()

	resp2, err := http.Get(ts.URL + "/api/v1/operators")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body))
	require.Len(t, body.Operators, 1)
	require.Equal(t, "AA1AA", body.Operators[0].Callsign)
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketFansOutSlotEvents(t *testing.T) {
	srv, eng := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.fanOut(ctx)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server's register path a beat, then publish.
	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.clients) == 1
	}, time.Second, 5*time.Millisecond)

	eng.Bus().Publish(eventbus.TopicSlot, model.SlotInfo{
		Mode: "FT8", Index: 100, Start: time.Unix(1500, 0).UTC(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&evt))
	require.Equal(t, "slotStart", evt.Type)
	require.Contains(t, string(evt.Payload), "FT8")
}
