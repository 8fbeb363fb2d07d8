package gateway

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
	"github.com/lockergrid/core/internal/config"
	"github.com/lockergrid/core/internal/event"
	"github.com/lockergrid/core/internal/health"
	"github.com/lockergrid/core/internal/heartbeat"
	"github.com/lockergrid/core/internal/provisioning"
	"github.com/lockergrid/core/internal/queue"
	"github.com/lockergrid/core/internal/schema"
	"github.com/lockergrid/core/internal/staffops"
	"github.com/lockergrid/core/internal/store"
)

type testHarness struct {
	srv          *Server
	prov         *provisioning.Manager
	staffAuth    *auth.StaffSessions
	st           *store.Store
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	db, err := schema.Open(t.TempDir()+"/lockergrid.db", schema.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlite")

	bus := event.NewMemoryBus()
	events := event.New(sqlxDB, bus)
	st := store.New(db, events, event.NewChangeBusAdapter(bus))

	cfgMgr, err := config.NewManager(t.TempDir() + "/config.json")
	require.NoError(t, err)

	q := queue.NewManager(sqlxDB, events)
	hb := heartbeat.NewManager(db)
	prov := provisioning.NewManager(db, []byte("test-provisioning-secret"))
	staffAuth := auth.NewStaffSessions([]byte("test-staff-secret"))
	ops := staffops.New(q, st, events, hb)

	srv := NewServer(Config{
		ConfigManager:  cfgMgr,
		Store:          st,
		Queue:          q,
		Heartbeat:      hb,
		Provisioning:   prov,
		StaffOps:       ops,
		StaffAuth:      staffAuth,
		Health:         health.NewManager("test"),
		Version:        "test",
		AllowedOrigins: []string{"*"},
	})

	return &testHarness{srv: srv, prov: prov, staffAuth: staffAuth, st: st}
}

// registerKiosk walks a fake kiosk through the provisioning flow the way
// cmd/kiosk's one-time enrollment does, returning credentials usable for
// authenticated requests.
func (h *testHarness) registerKiosk(t *testing.T, hardwareID string) (kioskID, secret string) {
	t.Helper()
	token, _, err := h.prov.IssueToken(context.Background(), "kiosk-"+hardwareID, "zone-a")
	require.NoError(t, err)
	kioskID, secret, err = h.prov.Register(context.Background(), token, hardwareID, "1.0.0")
	require.NoError(t, err)
	return kioskID, secret
}

func (h *testHarness) kioskRequest(method, target string, body []byte, kioskID, hardwareID, secret string) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.Header.Set("X-Kiosk-Id", kioskID)
	r.Header.Set("X-Hardware-Id", hardwareID)
	r.Header.Set("X-Kiosk-Secret", secret)
	return r
}

func (h *testHarness) staffRequest(t *testing.T, method, target string, body []byte) *http.Request {
	t.Helper()
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	token, err := h.staffAuth.Issue("alice")
	require.NoError(t, err)
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func TestHealthEndpointIsUnauthenticated(t *testing.T) {
	h := newTestHarness(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterThenHeartbeatRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	router := h.srv.Router()

	kioskID, secret := h.registerKiosk(t, "hw-1")
	require.NotEmpty(t, kioskID)
	require.NotEmpty(t, secret)

	hbBody, _ := json.Marshal(map[string]any{
		"kiosk_id": kioskID, "version": "1.0.0", "config_hash": "abc", "restarted": false,
	})
	rec := httptest.NewRecorder()
	req := h.kioskRequest(http.MethodPost, "/heartbeat", hbBody, kioskID, "hw-1", secret)
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		ConfigHash      string `json:"config_hash"`
		CommandsPending int    `json:"commands_pending"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.CommandsPending)
}

func TestHeartbeatRejectsUnknownKiosk(t *testing.T) {
	h := newTestHarness(t)
	rec := httptest.NewRecorder()
	body, _ := json.Marshal(map[string]any{"kiosk_id": "kiosk-ghost", "version": "1.0.0"})
	req := h.kioskRequest(http.MethodPost, "/heartbeat", body, "kiosk-ghost", "hw-ghost", "bad-secret")
	h.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStaffCommandRequiresBearerToken(t *testing.T) {
	h := newTestHarness(t)
	rec := httptest.NewRecorder()
	body, _ := json.Marshal(map[string]any{"type": "open", "kiosk_id": "kiosk-1", "locker_id": 1})
	req := httptest.NewRequest(http.MethodPost, "/api/command", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStaffCommandEnqueuesOpenCommand(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.st.EnsureLocker(context.Background(), "kiosk-1", 1))

	body, _ := json.Marshal(map[string]any{"type": "open", "kiosk_id": "kiosk-1", "locker_id": 1, "issued_by": "alice"})
	rec := httptest.NewRecorder()
	req := h.staffRequest(t, http.MethodPost, "/api/command", body)
	h.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		CommandID string `json:"command_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.CommandID)
}

func TestStaffCommandRejectsUnknownType(t *testing.T) {
	h := newTestHarness(t)
	body, _ := json.Marshal(map[string]any{"type": "not-a-type", "kiosk_id": "kiosk-1"})
	rec := httptest.NewRecorder()
	req := h.staffRequest(t, http.MethodPost, "/api/command", body)
	h.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLockersAvailableRejectsUnknownZone(t *testing.T) {
	h := newTestHarness(t)
	require.NoError(t, h.st.EnsureLocker(context.Background(), "kiosk-1", 1))

	rec := httptest.NewRecorder()
	req := h.staffRequest(t, http.MethodGet, "/api/lockers/available?kiosk_id=kiosk-1&zone=unknown-zone", nil)
	h.srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
