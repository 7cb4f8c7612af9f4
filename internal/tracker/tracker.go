// Package tracker 维护 (租户, 设备) 维度的激活会话状态机：
// 把原始 ON/OFF 事件折叠成带起止时间的激活区间。
// 与 broker 和持久层完全解耦，崩溃丢失的只是进行中的会话。
package tracker

import (
	"sync"
	"time"

	"hiveguard-telemetry/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type sessionKey struct {
	tenantID string
	deviceID string
}

// Tracker 激活会话跟踪器
// 事件流由单个消费者串行驱动（单写者）；互斥锁只为 HTTP 侧的快照读取。
type Tracker struct {
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*models.ActivationSession
}

// NewTracker 创建会话跟踪器
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{
		logger:   logger,
		sessions: make(map[sessionKey]*models.ActivationSession),
	}
}

// Apply 应用一条气泵事件，返回因此关闭的激活记录（无则返回 nil）
//   - ON 且无会话: 开启会话（startedAt = receivedAt）
//   - ON 且有会话: 幂等忽略（传输层 at-least-once 会重发 ON）
//   - OFF 且有会话: 关闭会话并生成记录
//   - OFF 且无会话: 忽略（不产生负时长记录）
func (t *Tracker) Apply(tenant models.Tenant, deviceID string, state models.PumpState, receivedAt time.Time) *models.ActivationRecord {
	key := sessionKey{tenantID: tenant.TenantID, deviceID: deviceID}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch state {
	case models.PumpOn:
		if _, exists := t.sessions[key]; exists {
			t.logger.Debug("Duplicate ON ignored, session already open",
				zap.String("tenant_id", tenant.TenantID),
				zap.String("device_id", deviceID),
			)
			return nil
		}
		t.sessions[key] = &models.ActivationSession{
			TenantID:  tenant.TenantID,
			DeviceID:  deviceID,
			OwnerName: tenant.OwnerName,
			StartedAt: receivedAt,
		}
		t.logger.Info("Activation session opened",
			zap.String("tenant_id", tenant.TenantID),
			zap.String("device_id", deviceID),
			zap.Time("started_at", receivedAt),
		)
		return nil

	case models.PumpOff:
		session, exists := t.sessions[key]
		if !exists {
			t.logger.Debug("OFF without open session ignored",
				zap.String("tenant_id", tenant.TenantID),
				zap.String("device_id", deviceID),
			)
			return nil
		}
		delete(t.sessions, key)

		record := &models.ActivationRecord{
			RecordID:  uuid.New().String(),
			TenantID:  session.TenantID,
			DeviceID:  session.DeviceID,
			OwnerName: session.OwnerName,
			Date:      receivedAt.Format(models.DisplayDateLayout),
			Duration:  models.FormatDuration(receivedAt.Sub(session.StartedAt)),
			StartedAt: session.StartedAt,
			EndedAt:   receivedAt,
			Timestamp: time.Now().UTC(),
		}
		t.logger.Info("Activation session closed",
			zap.String("tenant_id", record.TenantID),
			zap.String("device_id", record.DeviceID),
			zap.String("duration", record.Duration),
		)
		return record

	default:
		// 非法荷载在上游已被丢弃，这里兜底忽略
		return nil
	}
}

// Session 查询当前开启的会话（供接口层展示运行中的计时）
func (t *Tracker) Session(tenantID, deviceID string) (models.ActivationSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, exists := t.sessions[sessionKey{tenantID: tenantID, deviceID: deviceID}]
	if !exists {
		return models.ActivationSession{}, false
	}
	return *session, true
}

// OpenSessions 当前开启的会话数量（运维观测用）
func (t *Tracker) OpenSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
