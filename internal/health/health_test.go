package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	name   string
	typ    CheckType
	status Status
}

func (c *mockChecker) Name() string    { return c.name }
func (c *mockChecker) Type() CheckType { return c.typ }
func (c *mockChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: c.status}
}

func TestHealthNoCheckers(t *testing.T) {
	m := NewManager("v1.0.0")
	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Nil(t, resp.Checks)
}

func TestHealthAggregatesWorstStatus(t *testing.T) {
	m := NewManager("v1.0.0")
	m.Register(&mockChecker{name: "a", typ: CheckHealth, status: StatusHealthy})
	m.Register(&mockChecker{name: "b", typ: CheckHealth, status: StatusDegraded})

	resp := m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestReadyFailsUntilReadinessCheckersPass(t *testing.T) {
	m := NewManager("v1.0.0")
	m.Register(&mockChecker{name: "db", typ: CheckReadiness, status: StatusUnhealthy})

	resp := m.Ready(context.Background(), true)
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestReadyIgnoresHealthOnlyCheckers(t *testing.T) {
	m := NewManager("v1.0.0")
	m.Register(&mockChecker{name: "epg-like", typ: CheckHealth, status: StatusUnhealthy})

	resp := m.Ready(context.Background(), true)
	assert.True(t, resp.Ready)
}

func TestServeHealthAlwaysReturns200(t *testing.T) {
	m := NewManager("v1.0.0")
	m.Register(&mockChecker{name: "db", typ: CheckHealth, status: StatusUnhealthy})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	m.ServeHealth(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServeReadyReturns503WhenNotReady(t *testing.T) {
	m := NewManager("v1.0.0")
	m.Register(&mockChecker{name: "db", typ: CheckReadiness, status: StatusUnhealthy})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	m.ServeReady(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
