package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/lockergrid/core/internal/auth"
	"github.com/lockergrid/core/internal/event"
	"github.com/lockergrid/core/internal/heartbeat"
	"github.com/lockergrid/core/internal/queue"
	"github.com/lockergrid/core/internal/schema"
	"github.com/lockergrid/core/internal/staffops"
	"github.com/lockergrid/core/internal/store"
)

type panelHarness struct {
	srv      *Server
	users    *auth.StaffUsers
	sessions *auth.StaffSessions
	st       *store.Store
}

func newPanelHarness(t *testing.T) *panelHarness {
	t.Helper()

	db, err := schema.Open(t.TempDir()+"/lockergrid.db", schema.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlite")

	bus := event.NewMemoryBus()
	events := event.New(sqlxDB, bus)
	st := store.New(db, events, event.NewChangeBusAdapter(bus))
	q := queue.NewManager(sqlxDB, events)
	hb := heartbeat.NewManager(db)
	ops := staffops.New(q, st, events, hb)

	users := auth.NewStaffUsers(db)
	sessions := auth.NewStaffSessions([]byte("test-staff-session-secret"))

	srv := NewServer(Config{
		Ops:            ops,
		Store:          st,
		Events:         events,
		Users:          users,
		Sessions:       sessions,
		AllowedOrigins: []string{"*"},
	})

	return &panelHarness{srv: srv, users: users, sessions: sessions, st: st}
}

func (h *panelHarness) createStaffUser(t *testing.T, username, password, role string) {
	t.Helper()
	require.NoError(t, h.users.Create(context.Background(), username, password, role))
}

func (h *panelHarness) authedRequest(t *testing.T, method, target string, body []byte) *http.Request {
	t.Helper()
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	token, err := h.sessions.Issue("alice")
	require.NoError(t, err)
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func TestLoginSucceedsWithValidCredentials(t *testing.T) {
	h := newPanelHarness(t)
	h.createStaffUser(t, "alice", "hunter2hunter2", "admin")

	body, _ := json.Marshal(map[string]string{"username": "alice", "password": "hunter2hunter2"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	h := newPanelHarness(t)
	h.createStaffUser(t, "alice", "hunter2hunter2", "admin")

	body, _ := json.Marshal(map[string]string{"username": "alice", "password": "wrong-password"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStaffOpenRequiresSession(t *testing.T) {
	h := newPanelHarness(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/lockers/kiosk-1/1/open", nil)
	h.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStaffOpenIssuesCommand(t *testing.T) {
	h := newPanelHarness(t)
	require.NoError(t, h.st.EnsureLocker(context.Background(), "kiosk-1", 1))

	body, _ := json.Marshal(map[string]string{"reason": "guest requested"})
	rec := httptest.NewRecorder()
	req := h.authedRequest(t, http.MethodPost, "/lockers/kiosk-1/1/open", body)
	h.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		CommandID string `json:"command_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.CommandID)
}

func TestStaffOpenRejectsInvalidLockerID(t *testing.T) {
	h := newPanelHarness(t)
	rec := httptest.NewRecorder()
	req := h.authedRequest(t, http.MethodPost, "/lockers/kiosk-1/not-a-number/open", nil)
	h.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkOpenReturnsCommandPerLocker(t *testing.T) {
	h := newPanelHarness(t)
	require.NoError(t, h.st.EnsureLocker(context.Background(), "kiosk-1", 1))
	require.NoError(t, h.st.EnsureLocker(context.Background(), "kiosk-1", 2))

	body, _ := json.Marshal(map[string]any{"locker_ids": []int{1, 2}, "reason": "end of day sweep"})
	rec := httptest.NewRecorder()
	req := h.authedRequest(t, http.MethodPost, "/lockers/kiosk-1/bulk-open", body)
	h.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		CommandIDs []string `json:"command_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.CommandIDs, 2)
}

func TestBlockThenUnblockLocker(t *testing.T) {
	h := newPanelHarness(t)
	require.NoError(t, h.st.EnsureLocker(context.Background(), "kiosk-1", 1))

	blockBody, _ := json.Marshal(map[string]string{"reason": "maintenance"})
	rec := httptest.NewRecorder()
	req := h.authedRequest(t, http.MethodPost, "/lockers/kiosk-1/1/block", blockBody)
	h.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	req = h.authedRequest(t, http.MethodPost, "/lockers/kiosk-1/1/unblock", nil)
	h.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestEmergencyOpenAllRequiresSession(t *testing.T) {
	h := newPanelHarness(t)
	body, _ := json.Marshal(map[string]string{"reason": "fire alarm"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/emergency-open-all", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateVipContract(t *testing.T) {
	h := newPanelHarness(t)
	require.NoError(t, h.st.EnsureLocker(context.Background(), "kiosk-1", 1))

	body, _ := json.Marshal(map[string]any{
		"kiosk_id": "kiosk-1", "locker_id": 1, "rfid_card": "CARD-1",
		"start_date": int64(0), "end_date": int64(4102444800000),
	})
	rec := httptest.NewRecorder()
	req := h.authedRequest(t, http.MethodPost, "/vip-contracts", body)
	h.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestEventsRequiresSessionAndReturnsList(t *testing.T) {
	h := newPanelHarness(t)
	require.NoError(t, h.st.EnsureLocker(context.Background(), "kiosk-1", 1))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	h.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = h.authedRequest(t, http.MethodGet, "/events?kiosk_id=kiosk-1", nil)
	h.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var records []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
}
