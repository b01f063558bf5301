package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lockstep/pkg/interfaces"
	"lockstep/pkg/types"
)

// mockCoordinator records everything the handler feeds it.
type mockCoordinator struct {
	mu           sync.Mutex
	registered   []string
	unregistered []string
	envelopes    []types.Envelope
}

func (m *mockCoordinator) RegisterConnection(conn interfaces.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registered = append(m.registered, conn.ID())
	return nil
}

func (m *mockCoordinator) UnregisterConnection(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unregistered = append(m.unregistered, connID)
}

func (m *mockCoordinator) SendEnvelope(conn interfaces.Connection, env types.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envelopes = append(m.envelopes, env)
	return nil
}

func (m *mockCoordinator) envelopeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.envelopes)
}

func (m *mockCoordinator) registeredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.registered)
}

func (m *mockCoordinator) unregisteredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.unregistered)
}

func dialTestServer(t *testing.T, coordinator *mockCoordinator) *websocket.Conn {
	t.Helper()

	handler := NewHandler(coordinator, DefaultOptions())
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForCondition(t *testing.T, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHandler_DeliversValidEnvelopes(t *testing.T) {
	coordinator := &mockCoordinator{}
	conn := dialTestServer(t, coordinator)

	waitForCondition(t, func() bool { return coordinator.registeredCount() == 1 }, "connection never registered")

	env := types.Envelope{Type: types.MessageTypeHostRequest, Payload: json.RawMessage(`{"device_name":"alice"}`)}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	waitForCondition(t, func() bool { return coordinator.envelopeCount() == 1 }, "envelope never delivered")
}

func TestHandler_RejectsMalformedJSON(t *testing.T) {
	coordinator := &mockCoordinator{}
	conn := dialTestServer(t, coordinator)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var reply types.Envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if reply.Type != types.MessageTypeError {
		t.Errorf("expected error reply, got %q", reply.Type)
	}
	if coordinator.envelopeCount() != 0 {
		t.Error("malformed message must not reach the coordinator")
	}
}

func TestHandler_RejectsServerOnlyTypes(t *testing.T) {
	coordinator := &mockCoordinator{}
	conn := dialTestServer(t, coordinator)

	env := types.Envelope{Type: types.MessageTypeTickRelease}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var reply types.Envelope
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if reply.Type != types.MessageTypeError {
		t.Errorf("expected error reply, got %q", reply.Type)
	}
	if coordinator.envelopeCount() != 0 {
		t.Error("server-only message must not reach the coordinator")
	}
}

func TestHandler_ReportsDisconnect(t *testing.T) {
	coordinator := &mockCoordinator{}
	conn := dialTestServer(t, coordinator)

	waitForCondition(t, func() bool { return coordinator.registeredCount() == 1 }, "connection never registered")

	conn.Close()

	waitForCondition(t, func() bool { return coordinator.unregisteredCount() == 1 }, "disconnect never reported")
}
