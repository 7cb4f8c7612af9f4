package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"hiveguard-telemetry/internal/correlator"
	"hiveguard-telemetry/internal/models"
	"hiveguard-telemetry/internal/repository"
	"hiveguard-telemetry/internal/service"

	"go.uber.org/zap"
)

// ActivationHistory 激活历史查询/清空接口
type ActivationHistory interface {
	ListRecent(ctx context.Context, tenantID, deviceID string, limit int) ([]models.ActivationRecord, error)
	ClearHistory(ctx context.Context, tenantID, deviceID string) error
}

// SessionReader 当前会话快照查询
type SessionReader interface {
	Session(tenantID, deviceID string) (models.ActivationSession, bool)
	OpenSessions() int
}

// LiveReader 一次性实时读数
type LiveReader interface {
	FetchCurrentReadings(ctx context.Context, tenantSecret, deviceID string, timeout time.Duration) (*models.LiveReadings, error)
}

// ReadingsHistory 传感器采样历史查询
type ReadingsHistory interface {
	ListReadings(ctx context.Context, tenantID, deviceID, metric string, start, end time.Time) ([]repository.SensorReading, error)
}

// TelemetryHandler 遥测 API 处理器
type TelemetryHandler struct {
	history     ActivationHistory
	sessions    SessionReader
	live        LiveReader
	readings    ReadingsHistory
	brokerUp    func() bool
	liveTimeout time.Duration
	logger      *zap.Logger
}

// NewTelemetryHandler 创建遥测 API 处理器
func NewTelemetryHandler(
	history ActivationHistory,
	sessions SessionReader,
	live LiveReader,
	readings ReadingsHistory,
	brokerUp func() bool,
	liveTimeout time.Duration,
	logger *zap.Logger,
) *TelemetryHandler {
	return &TelemetryHandler{
		history:     history,
		sessions:    sessions,
		live:        live,
		readings:    readings,
		brokerUp:    brokerUp,
		liveTimeout: liveTimeout,
		logger:      logger,
	}
}

// GET /telemetry/api/v1/activations
// params:
// - tenant_id string
// - device_id string
// - limit? number (默认 10)
func (h *TelemetryHandler) GetActivations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID := r.URL.Query().Get("tenant_id")
	deviceID := r.URL.Query().Get("device_id")
	if tenantID == "" || deviceID == "" {
		writeJSON(w, http.StatusBadRequest, Err(http.StatusBadRequest, "tenant_id and device_id are required"))
		return
	}
	limit := parseInt(r.URL.Query().Get("limit"), service.DefaultHistoryLimit)

	records, err := h.history.ListRecent(ctx, tenantID, deviceID, limit)
	if err != nil {
		h.logger.Error("Failed to list activations",
			zap.String("tenant_id", tenantID),
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Err(http.StatusInternalServerError, "failed to retrieve activations"))
		return
	}

	resp := map[string]interface{}{
		"activations": records,
	}
	// 进行中的会话一并返回，前端可以直接恢复计时展示
	if session, ok := h.sessions.Session(tenantID, deviceID); ok {
		resp["current_session"] = map[string]interface{}{
			"started_at": session.StartedAt,
			"owner_name": session.OwnerName,
		}
	}

	writeJSON(w, http.StatusOK, Ok(resp))
}

// DELETE /telemetry/api/v1/activations
// 两条物理路径都没有数据被修改才算失败
func (h *TelemetryHandler) ClearActivations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID := r.URL.Query().Get("tenant_id")
	deviceID := r.URL.Query().Get("device_id")
	if tenantID == "" || deviceID == "" {
		writeJSON(w, http.StatusBadRequest, Err(http.StatusBadRequest, "tenant_id and device_id are required"))
		return
	}

	if err := h.history.ClearHistory(ctx, tenantID, deviceID); err != nil {
		if errors.Is(err, service.ErrNothingCleared) {
			writeJSON(w, http.StatusNotFound, Err(http.StatusNotFound, "no activation history to clear"))
			return
		}
		h.logger.Error("Failed to clear activations",
			zap.String("tenant_id", tenantID),
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Err(http.StatusInternalServerError, "failed to clear activations"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]bool{"cleared": true}))
}

// GET /telemetry/api/v1/readings/current
// params:
// - secret string（主题用租户密钥）
// - device_id string
// - timeout_ms? number
// 超时返回 504，绝不用零值冒充读数
func (h *TelemetryHandler) GetCurrentReadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	secret := r.URL.Query().Get("secret")
	deviceID := r.URL.Query().Get("device_id")
	if secret == "" || deviceID == "" {
		writeJSON(w, http.StatusBadRequest, Err(http.StatusBadRequest, "secret and device_id are required"))
		return
	}

	timeout := h.liveTimeout
	if ms := parseInt(r.URL.Query().Get("timeout_ms"), 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	readings, err := h.live.FetchCurrentReadings(ctx, secret, deviceID, timeout)
	if err != nil {
		if errors.Is(err, correlator.ErrTimeout) {
			writeJSON(w, http.StatusGatewayTimeout, Err(http.StatusGatewayTimeout, "unable to reach sensors"))
			return
		}
		if ctx.Err() != nil {
			// 调用方已断开，无人接收响应
			return
		}
		h.logger.Error("Failed to fetch current readings",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Err(http.StatusInternalServerError, "failed to fetch readings"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(readings))
}

// GET /telemetry/api/v1/readings/history
// params:
// - tenant_id, device_id string
// - metric? string (temp|humidity)
// - start?, end? RFC3339
func (h *TelemetryHandler) GetReadingsHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID := r.URL.Query().Get("tenant_id")
	deviceID := r.URL.Query().Get("device_id")
	if tenantID == "" || deviceID == "" {
		writeJSON(w, http.StatusBadRequest, Err(http.StatusBadRequest, "tenant_id and device_id are required"))
		return
	}

	var start, end time.Time
	if s := r.URL.Query().Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Err(http.StatusBadRequest, "invalid start time"))
			return
		}
		start = t
	}
	if s := r.URL.Query().Get("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Err(http.StatusBadRequest, "invalid end time"))
			return
		}
		end = t
	}

	readings, err := h.readings.ListReadings(ctx, tenantID, deviceID, r.URL.Query().Get("metric"), start, end)
	if err != nil {
		h.logger.Error("Failed to list sensor readings",
			zap.String("tenant_id", tenantID),
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Err(http.StatusInternalServerError, "failed to retrieve readings"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]interface{}{"readings": readings}))
}

// GET /healthz
// broker 断线是能力降级而不是进程故障：进程保持 200/degraded
func (h *TelemetryHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	connected := h.brokerUp()
	if !connected {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, Ok(map[string]interface{}{
		"status":         status,
		"mqtt_connected": connected,
		"open_sessions":  h.sessions.OpenSessions(),
	}))
}

func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return n
}
