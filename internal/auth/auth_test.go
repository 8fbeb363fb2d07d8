package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockergrid/core/internal/provisioning"
	"github.com/lockergrid/core/internal/schema"
)

func newTestProvisioning(t *testing.T) *provisioning.Manager {
	t.Helper()
	db, err := schema.Open(t.TempDir()+"/lockergrid.db", schema.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return provisioning.NewManager(db, []byte("test-secret-key"))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kioskID, _ := KioskIDFromContext(r.Context())
		w.Header().Set("X-Echo-Kiosk", kioskID)
		w.WriteHeader(http.StatusOK)
	})
}

func TestKioskAuthRejectsMissingHeaders(t *testing.T) {
	mgr := newTestProvisioning(t)
	h := KioskAuth(mgr)(okHandler())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestKioskAuthAcceptsRegisteredSecret(t *testing.T) {
	ctx := context.Background()
	mgr := newTestProvisioning(t)

	tok, _, err := mgr.IssueToken(ctx, "kiosk-1", "zone-a")
	require.NoError(t, err)
	kioskID, secret, err := mgr.Register(ctx, tok, "hw-123", "1.0.0")
	require.NoError(t, err)

	h := KioskAuth(mgr)(okHandler())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Kiosk-Id", kioskID)
	req.Header.Set("X-Hardware-Id", "hw-123")
	req.Header.Set("X-Kiosk-Secret", secret)
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, kioskID, rec.Header().Get("X-Echo-Kiosk"))
}

func TestKioskAuthRejectsWrongSecret(t *testing.T) {
	ctx := context.Background()
	mgr := newTestProvisioning(t)
	tok, _, err := mgr.IssueToken(ctx, "kiosk-1", "zone-a")
	require.NoError(t, err)
	kioskID, _, err := mgr.Register(ctx, tok, "hw-123", "1.0.0")
	require.NoError(t, err)

	h := KioskAuth(mgr)(okHandler())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Kiosk-Id", kioskID)
	req.Header.Set("X-Hardware-Id", "hw-123")
	req.Header.Set("X-Kiosk-Secret", "wrong")
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStaffSessionsIssueAndValidate(t *testing.T) {
	s := NewStaffSessions([]byte("staff-secret"))
	tok, err := s.Issue("alice")
	require.NoError(t, err)

	claims, err := s.Parse(tok)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Username)
}

func TestStaffMiddlewareRejectsMissingBearer(t *testing.T) {
	s := NewStaffSessions([]byte("staff-secret"))
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStaffMiddlewareAcceptsValidBearer(t *testing.T) {
	s := NewStaffSessions([]byte("staff-secret"))
	tok, err := s.Issue("alice")
	require.NoError(t, err)

	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := StaffUserFromContext(r.Context())
		w.Header().Set("X-Echo-User", user)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alice", rec.Header().Get("X-Echo-User"))
}

func TestStaffSessionsRejectsForeignSigningKey(t *testing.T) {
	a := NewStaffSessions([]byte("key-a"))
	b := NewStaffSessions([]byte("key-b"))
	tok, err := a.Issue("alice")
	require.NoError(t, err)

	_, err = b.Parse(tok)
	require.Error(t, err)
}
