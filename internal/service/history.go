package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"hiveguard-telemetry/internal/models"

	"go.uber.org/zap"
)

// ErrNothingCleared 清空历史时两条物理路径都没有数据被修改
var ErrNothingCleared = errors.New("no activation history was cleared")

// DefaultHistoryLimit 历史查询默认只返回最近的记录条数
const DefaultHistoryLimit = 10

// NestedStore 嵌套文档布局（布局 v1）
type NestedStore interface {
	AppendActivation(ctx context.Context, tenantID, deviceID string, record *models.ActivationRecord) (bool, error)
	ListActivations(ctx context.Context, tenantID, deviceID string) ([]models.ActivationRecord, error)
	ClearActivations(ctx context.Context, tenantID, deviceID string) (bool, error)
}

// FlatStore 扁平布局（布局 v2）
type FlatStore interface {
	AppendActivation(ctx context.Context, record *models.ActivationRecord) error
	ListActivations(ctx context.Context, tenantID, deviceID string, limit int) ([]models.ActivationRecord, error)
	ClearActivations(ctx context.Context, tenantID, deviceID string) (bool, error)
}

// HistoryService 持久化对账器
// 激活记录要能从两种相互重叠的物理布局中的任意一种读出来。
// 写入优先走租户文档（布局 v1），设备节点不存在时回退到扁平表（布局 v2）；
// 读取优先扁平表，为空时回退到租户文档。两条路径之间不做分布式事务，
// 接受最终一致乃至偶发重复。
type HistoryService struct {
	nested NestedStore
	flat   FlatStore
	logger *zap.Logger
}

// NewHistoryService 创建持久化对账器
func NewHistoryService(nested NestedStore, flat FlatStore, logger *zap.Logger) *HistoryService {
	return &HistoryService{
		nested: nested,
		flat:   flat,
		logger: logger,
	}
}

// SaveRecord 持久化一条激活记录
// 两条路径都失败才算失败
func (s *HistoryService) SaveRecord(ctx context.Context, record *models.ActivationRecord) error {
	appended, err := s.nested.AppendActivation(ctx, record.TenantID, record.DeviceID, record)
	if err != nil {
		s.logger.Error("Nested layout write failed, falling back to flat layout",
			zap.String("tenant_id", record.TenantID),
			zap.String("device_id", record.DeviceID),
			zap.Error(err),
		)
	} else if appended {
		return nil
	}

	if err := s.flat.AppendActivation(ctx, record); err != nil {
		return err
	}

	return nil
}

// ListRecent 读取最近的激活记录（合并排序，最多 limit 条）
// limit <= 0 时使用默认值
func (s *HistoryService) ListRecent(ctx context.Context, tenantID, deviceID string, limit int) ([]models.ActivationRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	records, err := s.flat.ListActivations(ctx, tenantID, deviceID, limit)
	if err != nil {
		s.logger.Error("Flat layout read failed, falling back to nested layout",
			zap.String("tenant_id", tenantID),
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		records = nil
	}

	if len(records) == 0 {
		nested, err := s.nested.ListActivations(ctx, tenantID, deviceID)
		if err != nil {
			return nil, err
		}
		records = nested
	}

	sortRecordsDescending(records)

	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// ClearHistory 清空设备的激活历史
// 两条路径独立尝试；任一路径有修改即算成功
func (s *HistoryService) ClearHistory(ctx context.Context, tenantID, deviceID string) error {
	flatCleared, flatErr := s.flat.ClearActivations(ctx, tenantID, deviceID)
	if flatErr != nil {
		s.logger.Error("Flat layout clear failed",
			zap.String("tenant_id", tenantID),
			zap.String("device_id", deviceID),
			zap.Error(flatErr),
		)
	}

	nestedCleared, nestedErr := s.nested.ClearActivations(ctx, tenantID, deviceID)
	if nestedErr != nil {
		s.logger.Error("Nested layout clear failed",
			zap.String("tenant_id", tenantID),
			zap.String("device_id", deviceID),
			zap.Error(nestedErr),
		)
	}

	if flatCleared || nestedCleared {
		return nil
	}
	return ErrNothingCleared
}

// sortRecordsDescending 按最可靠的排序键倒序：
// 显式 timestamp 优先；缺失时回退解析展示日期 DD/MM/YYYY HH:MM；
// 仍然相同时用时长做末级比较（兼容老数据，见布局 v1）。
func sortRecordsDescending(records []models.ActivationRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ti := orderingKey(&records[i])
		tj := orderingKey(&records[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}

		di, errI := models.ParseDuration(records[i].Duration)
		dj, errJ := models.ParseDuration(records[j].Duration)
		if errI != nil || errJ != nil {
			return false
		}
		return di > dj
	})
}

func orderingKey(record *models.ActivationRecord) time.Time {
	if !record.Timestamp.IsZero() {
		return record.Timestamp
	}
	if t, err := models.ParseDisplayDate(record.Date); err == nil {
		return t
	}
	return time.Time{}
}
