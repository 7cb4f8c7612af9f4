package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hiveguard-telemetry/internal/correlator"
	"hiveguard-telemetry/internal/models"
	"hiveguard-telemetry/internal/repository"
	"hiveguard-telemetry/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============================================
// 测试替身
// ============================================

type fakeHistory struct {
	records  []models.ActivationRecord
	listErr  error
	clearErr error
	cleared  bool
}

func (f *fakeHistory) ListRecent(ctx context.Context, tenantID, deviceID string, limit int) ([]models.ActivationRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if limit > 0 && len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *fakeHistory) ClearHistory(ctx context.Context, tenantID, deviceID string) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	f.cleared = true
	return nil
}

type fakeSessions struct {
	session models.ActivationSession
	open    bool
}

func (f *fakeSessions) Session(tenantID, deviceID string) (models.ActivationSession, bool) {
	return f.session, f.open
}

func (f *fakeSessions) OpenSessions() int {
	if f.open {
		return 1
	}
	return 0
}

type fakeLive struct {
	readings *models.LiveReadings
	err      error
}

func (f *fakeLive) FetchCurrentReadings(ctx context.Context, tenantSecret, deviceID string, timeout time.Duration) (*models.LiveReadings, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.readings, nil
}

type fakeReadings struct {
	readings []repository.SensorReading
}

func (f *fakeReadings) ListReadings(ctx context.Context, tenantID, deviceID, metric string, start, end time.Time) ([]repository.SensorReading, error) {
	return f.readings, nil
}

type handlerDeps struct {
	history  *fakeHistory
	sessions *fakeSessions
	live     *fakeLive
	readings *fakeReadings
	brokerUp bool
}

func newTestRouter(deps handlerDeps) *Router {
	if deps.history == nil {
		deps.history = &fakeHistory{}
	}
	if deps.sessions == nil {
		deps.sessions = &fakeSessions{}
	}
	if deps.live == nil {
		deps.live = &fakeLive{}
	}
	if deps.readings == nil {
		deps.readings = &fakeReadings{}
	}

	handler := NewTelemetryHandler(
		deps.history,
		deps.sessions,
		deps.live,
		deps.readings,
		func() bool { return deps.brokerUp },
		5*time.Second,
		zap.NewNop(),
	)
	router := NewRouter(zap.NewNop())
	router.RegisterTelemetryRoutes(handler)
	return router
}

func doRequest(t *testing.T, router *Router, method, target string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

// ============================================
// 激活历史
// ============================================

func TestGetActivations(t *testing.T) {
	history := &fakeHistory{records: []models.ActivationRecord{
		{TenantID: "tenant-1", DeviceID: "3", Date: "01/03/2026 10:02", Duration: "00:02:05"},
	}}
	router := newTestRouter(handlerDeps{history: history, brokerUp: true})

	rec, resp := doRequest(t, router, http.MethodGet, "/telemetry/api/v1/activations?tenant_id=tenant-1&device_id=3")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, resp.Code)

	data := resp.Data.(map[string]interface{})
	activations := data["activations"].([]interface{})
	require.Len(t, activations, 1)
	assert.NotContains(t, data, "current_session")
}

func TestGetActivationsIncludesCurrentSession(t *testing.T) {
	startedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sessions := &fakeSessions{
		session: models.ActivationSession{TenantID: "tenant-1", DeviceID: "3", OwnerName: "Alice", StartedAt: startedAt},
		open:    true,
	}
	router := newTestRouter(handlerDeps{sessions: sessions, brokerUp: true})

	rec, resp := doRequest(t, router, http.MethodGet, "/telemetry/api/v1/activations?tenant_id=tenant-1&device_id=3")

	assert.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	session := data["current_session"].(map[string]interface{})
	assert.Equal(t, "Alice", session["owner_name"])
}

func TestGetActivationsRequiresIdentifiers(t *testing.T) {
	router := newTestRouter(handlerDeps{})

	rec, _ := doRequest(t, router, http.MethodGet, "/telemetry/api/v1/activations?device_id=3")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearActivations(t *testing.T) {
	history := &fakeHistory{}
	router := newTestRouter(handlerDeps{history: history})

	rec, resp := doRequest(t, router, http.MethodDelete, "/telemetry/api/v1/activations?tenant_id=tenant-1&device_id=3")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, history.cleared)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, true, data["cleared"])
}

func TestClearActivationsNothingToClear(t *testing.T) {
	history := &fakeHistory{clearErr: service.ErrNothingCleared}
	router := newTestRouter(handlerDeps{history: history})

	rec, _ := doRequest(t, router, http.MethodDelete, "/telemetry/api/v1/activations?tenant_id=tenant-1&device_id=3")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================
// 实时读数
// ============================================

func TestGetCurrentReadings(t *testing.T) {
	live := &fakeLive{readings: &models.LiveReadings{Temperature: 21.5, Humidity: 63}}
	router := newTestRouter(handlerDeps{live: live, brokerUp: true})

	rec, resp := doRequest(t, router, http.MethodGet, "/telemetry/api/v1/readings/current?secret=secret-abc&device_id=3")

	assert.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, 21.5, data["temperature"])
	assert.Equal(t, 63.0, data["humidity"])
}

func TestGetCurrentReadingsTimeout(t *testing.T) {
	live := &fakeLive{err: correlator.ErrTimeout}
	router := newTestRouter(handlerDeps{live: live, brokerUp: true})

	rec, resp := doRequest(t, router, http.MethodGet, "/telemetry/api/v1/readings/current?secret=secret-abc&device_id=3")

	// 超时是 504 + 明确的提示语，绝不返回零值读数
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "unable to reach sensors", resp.Message)
}

func TestGetCurrentReadingsRequiresSecret(t *testing.T) {
	router := newTestRouter(handlerDeps{})

	rec, _ := doRequest(t, router, http.MethodGet, "/telemetry/api/v1/readings/current?device_id=3")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================
// 采样历史与健康探针
// ============================================

func TestGetReadingsHistory(t *testing.T) {
	readings := &fakeReadings{readings: []repository.SensorReading{
		{TenantID: "tenant-1", DeviceID: "3", Metric: "temp", Value: 20.1},
	}}
	router := newTestRouter(handlerDeps{readings: readings})

	rec, resp := doRequest(t, router, http.MethodGet,
		"/telemetry/api/v1/readings/history?tenant_id=tenant-1&device_id=3&metric=temp&start=2026-03-01T00:00:00Z")

	assert.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Len(t, data["readings"], 1)
}

func TestGetReadingsHistoryRejectsBadTimeRange(t *testing.T) {
	router := newTestRouter(handlerDeps{})

	rec, _ := doRequest(t, router, http.MethodGet,
		"/telemetry/api/v1/readings/history?tenant_id=tenant-1&device_id=3&start=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthzDegradedWhenBrokerDown(t *testing.T) {
	router := newTestRouter(handlerDeps{brokerUp: false})

	rec, resp := doRequest(t, router, http.MethodGet, "/healthz")

	// broker 断线是降级，不是进程故障
	assert.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "degraded", data["status"])
	assert.Equal(t, false, data["mqtt_connected"])
}

func TestHealthzOK(t *testing.T) {
	router := newTestRouter(handlerDeps{brokerUp: true, sessions: &fakeSessions{open: true}})

	rec, resp := doRequest(t, router, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, 1.0, data["open_sessions"])
}

func TestMethodNotAllowed(t *testing.T) {
	router := newTestRouter(handlerDeps{})

	req := httptest.NewRequest(http.MethodPost, "/telemetry/api/v1/activations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
