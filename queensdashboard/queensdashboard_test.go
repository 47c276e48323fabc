package queensdashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTestDashboard(t *testing.T, d *Dashboard) (*httptest.Server, *websocket.Conn) {
	t.Helper()

	server := httptest.NewServer(d.Handler())
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		server.Close()
		t.Fatalf("websocket dial failed: %v", err)
	}
	return server, conn
}

func readEvents(t *testing.T, conn *websocket.Conn) []ProgressEvent {
	t.Helper()

	var events []ProgressEvent
	for {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed before terminal event: %v", err)
		}

		var event ProgressEvent
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("malformed event %q: %v", data, err)
		}
		events = append(events, event)

		if event.Type == "total" || event.Type == "error" {
			return events
		}
	}
}

func TestCountOverWebSocket(t *testing.T) {
	dashboard := NewDashboard(DashboardConfig{NumWorkers: 2})
	server, conn := dialTestDashboard(t, dashboard)
	defer server.Close()
	defer conn.Close()

	if err := conn.WriteJSON(CountRequest{Type: "count", N: 6}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	events := readEvents(t, conn)
	final := events[len(events)-1]

	if final.Type != "total" {
		t.Fatalf("expected total event, got %+v", final)
	}
	if final.Total != "4" {
		t.Errorf("expected total 4 for N=6, got %s", final.Total)
	}

	// N=6 fans out three half-column sub-searches, none central.
	taskEvents := events[:len(events)-1]
	if len(taskEvents) != 3 {
		t.Errorf("expected 3 task events, got %d", len(taskEvents))
	}
	for _, event := range taskEvents {
		if event.Type != "task" {
			t.Errorf("unexpected event type %q", event.Type)
		}
		if event.Central {
			t.Errorf("even board reported a central task: %+v", event)
		}
		if event.N != 6 {
			t.Errorf("task event for wrong board size: %+v", event)
		}
	}
}

func TestCentralTaskStreamed(t *testing.T) {
	dashboard := NewDashboard(DashboardConfig{NumWorkers: 2})
	server, conn := dialTestDashboard(t, dashboard)
	defer server.Close()
	defer conn.Close()

	if err := conn.WriteJSON(CountRequest{Type: "count", N: 5}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	events := readEvents(t, conn)
	final := events[len(events)-1]

	if final.Type != "total" || final.Total != "10" {
		t.Fatalf("expected total 10 for N=5, got %+v", final)
	}

	centralSeen := 0
	for _, event := range events[:len(events)-1] {
		if event.Central {
			centralSeen++
			if event.Col != 2 {
				t.Errorf("central task at column %d, want 2", event.Col)
			}
			if event.Count != "2" {
				t.Errorf("central task counted %s, want 2", event.Count)
			}
		}
	}
	if centralSeen != 1 {
		t.Errorf("expected exactly one central task event, got %d", centralSeen)
	}
}

func TestOversizedBoardRejected(t *testing.T) {
	dashboard := NewDashboard(DashboardConfig{MaxBoardSize: 12})
	server, conn := dialTestDashboard(t, dashboard)
	defer server.Close()
	defer conn.Close()

	if err := conn.WriteJSON(CountRequest{Type: "count", N: 13}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	events := readEvents(t, conn)
	if len(events) != 1 || events[0].Type != "error" {
		t.Fatalf("expected a single error event, got %+v", events)
	}
}

func TestNegativeBoardRejected(t *testing.T) {
	dashboard := NewDashboard(DashboardConfig{})
	server, conn := dialTestDashboard(t, dashboard)
	defer server.Close()
	defer conn.Close()

	if err := conn.WriteJSON(CountRequest{Type: "count", N: -3}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	events := readEvents(t, conn)
	if len(events) != 1 || events[0].Type != "error" {
		t.Fatalf("expected a single error event, got %+v", events)
	}
}

func TestStatsEndpoint(t *testing.T) {
	dashboard := NewDashboard(DashboardConfig{NumWorkers: 2})
	server, conn := dialTestDashboard(t, dashboard)
	defer server.Close()
	defer conn.Close()

	if err := conn.WriteJSON(CountRequest{Type: "count", N: 4}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	readEvents(t, conn)

	resp, err := http.Get(server.URL + "/stats")
	if err != nil {
		t.Fatalf("stats request failed: %v", err)
	}
	defer resp.Body.Close()

	var stats DashboardStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("stats decode failed: %v", err)
	}

	if stats.ActiveClients != 1 {
		t.Errorf("expected 1 active client, got %d", stats.ActiveClients)
	}
	if stats.CountsServed != 1 {
		t.Errorf("expected 1 count served, got %d", stats.CountsServed)
	}
	if stats.EventsSent == 0 {
		t.Error("expected events to have been sent")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	dashboard := NewDashboard(DashboardConfig{Addr: "127.0.0.1:0"})

	if err := dashboard.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := dashboard.Start(); err == nil {
		t.Error("second start should fail")
	}

	if err := dashboard.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := dashboard.Stop(); err == nil {
		t.Error("second stop should fail")
	}
}

func TestDefaultDashboardConfig(t *testing.T) {
	config := DefaultDashboardConfig()

	if config.Addr != ":8080" {
		t.Errorf("unexpected default addr %s", config.Addr)
	}
	if config.MaxBoardSize != 20 {
		t.Errorf("unexpected default max board size %d", config.MaxBoardSize)
	}
	if config.PingInterval != 30*time.Second {
		t.Errorf("unexpected default ping interval %v", config.PingInterval)
	}
	if config.SendQueueSize != 64 {
		t.Errorf("unexpected default send queue size %d", config.SendQueueSize)
	}
}
