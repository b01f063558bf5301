package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"lockstep/pkg/types"
)

// Mock DatabaseManager for testing.
type mockDatabaseManager struct {
	mu             sync.Mutex
	started        []types.SessionID
	ended          []types.SessionID
	devicesJoined  map[types.SessionID][]types.Device
	devicesDropped map[types.SessionID][]types.DeviceID
}

func newMockDatabaseManager() *mockDatabaseManager {
	return &mockDatabaseManager{
		devicesJoined:  make(map[types.SessionID][]types.Device),
		devicesDropped: make(map[types.SessionID][]types.DeviceID),
	}
}

func (m *mockDatabaseManager) RecordSessionStarted(ctx context.Context, session *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, session.ID)
	return nil
}

func (m *mockDatabaseManager) RecordSessionEnded(ctx context.Context, sessionID types.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, sessionID)
	return nil
}

func (m *mockDatabaseManager) RecordDeviceJoined(ctx context.Context, sessionID types.SessionID, device types.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devicesJoined[sessionID] = append(m.devicesJoined[sessionID], device)
	return nil
}

func (m *mockDatabaseManager) RecordDeviceLeft(ctx context.Context, sessionID types.SessionID, deviceID types.DeviceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devicesDropped[sessionID] = append(m.devicesDropped[sessionID], deviceID)
	return nil
}

func (m *mockDatabaseManager) ListRecentSessions(ctx context.Context, limit int) ([]*types.SessionRecord, error) {
	return nil, nil
}

func (m *mockDatabaseManager) HealthCheck(ctx context.Context) error { return nil }

func (m *mockDatabaseManager) Close() error { return nil }

func newTestManager(maxSessions, maxDevices int) (*Manager, *mockDatabaseManager) {
	db := newMockDatabaseManager()
	return NewManager(NewCodeRegistry(), db, maxSessions, maxDevices), db
}

func TestManager_CreateSession(t *testing.T) {
	manager, db := newTestManager(0, 0)

	sess, err := manager.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if !types.IsValidSessionCode(sess.Code) {
		t.Errorf("session code %q has invalid format", sess.Code)
	}
	if sess.ID == 0 {
		t.Error("session id must be nonzero")
	}

	resolved, found := manager.ResolveCode(sess.Code)
	if !found || resolved != sess.ID {
		t.Errorf("code %q did not resolve to session %d", sess.Code, sess.ID)
	}

	if len(db.started) != 1 || db.started[0] != sess.ID {
		t.Errorf("expected session start recorded, got %v", db.started)
	}
}

func TestManager_CreateSession_ServerFull(t *testing.T) {
	manager, _ := newTestManager(1, 0)

	if _, err := manager.CreateSession(context.Background()); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if _, err := manager.CreateSession(context.Background()); !errors.Is(err, ErrServerFull) {
		t.Errorf("expected ErrServerFull, got %v", err)
	}
}

func TestManager_AddDevice_HostGetsDeviceZero(t *testing.T) {
	manager, _ := newTestManager(0, 0)

	sess, err := manager.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	hostID, err := manager.AddDevice(context.Background(), sess.ID, "alice")
	if err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	if hostID != types.HostDeviceID {
		t.Errorf("first device must be the host id %d, got %d", types.HostDeviceID, hostID)
	}

	joinID, err := manager.AddDevice(context.Background(), sess.ID, "bob")
	if err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	if joinID != 1 {
		t.Errorf("second device must be id 1, got %d", joinID)
	}
}

func TestManager_AddDevice_RosterOrderedByJoin(t *testing.T) {
	manager, _ := newTestManager(0, 0)

	sess, _ := manager.CreateSession(context.Background())
	names := []string{"alice", "bob", "carol"}
	for _, name := range names {
		if _, err := manager.AddDevice(context.Background(), sess.ID, name); err != nil {
			t.Fatalf("AddDevice(%q) failed: %v", name, err)
		}
	}

	devices, err := manager.Devices(sess.ID)
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(devices))
	}
	for i, name := range names {
		if devices[i].ID != types.DeviceID(i) || devices[i].Name != name {
			t.Errorf("roster[%d] = %+v, want id=%d name=%q", i, devices[i], i, name)
		}
	}
}

func TestManager_AddDevice_Validation(t *testing.T) {
	manager, _ := newTestManager(0, 0)

	sess, _ := manager.CreateSession(context.Background())

	if _, err := manager.AddDevice(context.Background(), sess.ID, ""); !errors.Is(err, ErrInvalidDeviceName) {
		t.Errorf("expected ErrInvalidDeviceName, got %v", err)
	}

	if _, err := manager.AddDevice(context.Background(), types.SessionID(9999), "alice"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_AddDevice_SessionFull(t *testing.T) {
	manager, _ := newTestManager(0, 2)

	sess, _ := manager.CreateSession(context.Background())
	if _, err := manager.AddDevice(context.Background(), sess.ID, "alice"); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	if _, err := manager.AddDevice(context.Background(), sess.ID, "bob"); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}

	if _, err := manager.AddDevice(context.Background(), sess.ID, "carol"); !errors.Is(err, ErrSessionFull) {
		t.Errorf("expected ErrSessionFull, got %v", err)
	}
}

func TestManager_RemoveDevice_DeviceIDsNotReused(t *testing.T) {
	manager, _ := newTestManager(0, 0)

	sess, _ := manager.CreateSession(context.Background())
	manager.AddDevice(context.Background(), sess.ID, "alice")
	bobID, _ := manager.AddDevice(context.Background(), sess.ID, "bob")

	manager.RemoveDevice(context.Background(), sess.ID, bobID)

	carolID, err := manager.AddDevice(context.Background(), sess.ID, "carol")
	if err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	if carolID == bobID {
		t.Errorf("device id %d was reused after removal", bobID)
	}
}

func TestManager_RemoveDevice_LastLeaveDestroysSession(t *testing.T) {
	manager, db := newTestManager(0, 0)

	sess, _ := manager.CreateSession(context.Background())
	hostID, _ := manager.AddDevice(context.Background(), sess.ID, "alice")

	removed, ended := manager.RemoveDevice(context.Background(), sess.ID, hostID)
	if !removed || !ended {
		t.Fatalf("expected removed and ended, got removed=%t ended=%t", removed, ended)
	}

	if _, found := manager.ResolveCode(sess.Code); found {
		t.Errorf("code %q still resolves after session ended", sess.Code)
	}
	if _, err := manager.Session(sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	if len(db.ended) != 1 || db.ended[0] != sess.ID {
		t.Errorf("expected session end recorded, got %v", db.ended)
	}
}

func TestManager_RemoveDevice_Idempotent(t *testing.T) {
	manager, _ := newTestManager(0, 0)

	sess, _ := manager.CreateSession(context.Background())
	manager.AddDevice(context.Background(), sess.ID, "alice")
	bobID, _ := manager.AddDevice(context.Background(), sess.ID, "bob")

	if removed, _ := manager.RemoveDevice(context.Background(), sess.ID, bobID); !removed {
		t.Fatal("first removal should succeed")
	}
	if removed, _ := manager.RemoveDevice(context.Background(), sess.ID, bobID); removed {
		t.Error("duplicate removal must be a no-op")
	}
	if removed, _ := manager.RemoveDevice(context.Background(), types.SessionID(9999), 0); removed {
		t.Error("removal from unknown session must be a no-op")
	}
}

func TestManager_DestroySession(t *testing.T) {
	manager, db := newTestManager(0, 0)

	sess, _ := manager.CreateSession(context.Background())
	manager.DestroySession(context.Background(), sess.ID)

	if _, found := manager.ResolveCode(sess.Code); found {
		t.Error("code still resolves after destroy")
	}
	if len(db.ended) != 1 {
		t.Errorf("expected 1 session end record, got %d", len(db.ended))
	}

	// Idempotent; no second audit record.
	manager.DestroySession(context.Background(), sess.ID)
	if len(db.ended) != 1 {
		t.Errorf("duplicate destroy recorded again: %v", db.ended)
	}
}

func TestManager_CodeReleasedCodeCanAppearAgain(t *testing.T) {
	// After a session ends its code returns to the pool. A later session may
	// receive any free code; the registry only forbids two live sessions
	// sharing one.
	manager, _ := newTestManager(0, 0)

	sess, _ := manager.CreateSession(context.Background())
	hostID, _ := manager.AddDevice(context.Background(), sess.ID, "alice")
	manager.RemoveDevice(context.Background(), sess.ID, hostID)

	next, err := manager.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if next.ID == sess.ID {
		t.Error("session ids must never be reused")
	}
}

func TestManager_GetStats(t *testing.T) {
	manager, _ := newTestManager(0, 0)

	sess, _ := manager.CreateSession(context.Background())
	manager.AddDevice(context.Background(), sess.ID, "alice")
	manager.AddDevice(context.Background(), sess.ID, "bob")

	stats := manager.GetStats()
	if stats["live_sessions"] != 1 {
		t.Errorf("expected 1 live session, got %d", stats["live_sessions"])
	}
	if stats["live_devices"] != 2 {
		t.Errorf("expected 2 live devices, got %d", stats["live_devices"])
	}
}

func TestManager_NilDatabaseDisablesAudit(t *testing.T) {
	manager := NewManager(NewCodeRegistry(), nil, 0, 0)

	sess, err := manager.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession without database failed: %v", err)
	}
	hostID, err := manager.AddDevice(context.Background(), sess.ID, "alice")
	if err != nil {
		t.Fatalf("AddDevice without database failed: %v", err)
	}
	if removed, ended := manager.RemoveDevice(context.Background(), sess.ID, hostID); !removed || !ended {
		t.Error("lifecycle must work without a database")
	}
}
