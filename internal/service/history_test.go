package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"hiveguard-telemetry/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============================================
// 测试替身：两种布局的内存实现
// ============================================

type fakeNestedStore struct {
	records    map[string][]models.ActivationRecord // key: tenant/device
	hasDevice  map[string]bool
	appendErr  error
	listErr    error
	clearErr   error
	cleared    bool
	appendCall int
}

func nestedKey(tenantID, deviceID string) string {
	return tenantID + "/" + deviceID
}

func newFakeNestedStore() *fakeNestedStore {
	return &fakeNestedStore{
		records:   make(map[string][]models.ActivationRecord),
		hasDevice: make(map[string]bool),
	}
}

func (f *fakeNestedStore) AppendActivation(ctx context.Context, tenantID, deviceID string, record *models.ActivationRecord) (bool, error) {
	f.appendCall++
	if f.appendErr != nil {
		return false, f.appendErr
	}
	key := nestedKey(tenantID, deviceID)
	if !f.hasDevice[key] {
		// 设备节点不在租户文档里：0 行受影响
		return false, nil
	}
	f.records[key] = append(f.records[key], *record)
	return true, nil
}

func (f *fakeNestedStore) ListActivations(ctx context.Context, tenantID, deviceID string) ([]models.ActivationRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.records[nestedKey(tenantID, deviceID)], nil
}

func (f *fakeNestedStore) ClearActivations(ctx context.Context, tenantID, deviceID string) (bool, error) {
	if f.clearErr != nil {
		return false, f.clearErr
	}
	key := nestedKey(tenantID, deviceID)
	if !f.hasDevice[key] {
		return false, nil
	}
	had := len(f.records[key]) > 0
	f.records[key] = nil
	f.cleared = had
	return had, nil
}

type fakeFlatStore struct {
	records   []models.ActivationRecord
	appendErr error
	listErr   error
	clearErr  error
}

func (f *fakeFlatStore) AppendActivation(ctx context.Context, record *models.ActivationRecord) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.records = append(f.records, *record)
	return nil
}

func (f *fakeFlatStore) ListActivations(ctx context.Context, tenantID, deviceID string, limit int) ([]models.ActivationRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.ActivationRecord
	for _, record := range f.records {
		if record.TenantID == tenantID && record.DeviceID == deviceID {
			out = append(out, record)
		}
	}
	// 仿照真实仓库：ORDER BY created_at DESC 之后再截断
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeFlatStore) ClearActivations(ctx context.Context, tenantID, deviceID string) (bool, error) {
	if f.clearErr != nil {
		return false, f.clearErr
	}
	var kept []models.ActivationRecord
	removed := false
	for _, record := range f.records {
		if record.TenantID == tenantID && record.DeviceID == deviceID {
			removed = true
			continue
		}
		kept = append(kept, record)
	}
	f.records = kept
	return removed, nil
}

func makeRecord(ts time.Time, duration string) *models.ActivationRecord {
	return &models.ActivationRecord{
		RecordID:  fmt.Sprintf("rec-%d-%s", ts.Unix(), duration),
		TenantID:  "tenant-1",
		DeviceID:  "1",
		OwnerName: "Alice",
		Date:      ts.Format(models.DisplayDateLayout),
		Duration:  duration,
		StartedAt: ts.Add(-time.Minute),
		EndedAt:   ts,
		Timestamp: ts,
	}
}

func newTestHistory(nested NestedStore, flat FlatStore) *HistoryService {
	return NewHistoryService(nested, flat, zap.NewNop())
}

// ============================================
// 双写策略
// ============================================

func TestSaveRecordPrefersNestedLayout(t *testing.T) {
	nested := newFakeNestedStore()
	nested.hasDevice[nestedKey("tenant-1", "1")] = true
	flat := &fakeFlatStore{}
	h := newTestHistory(nested, flat)

	record := makeRecord(time.Now(), "00:01:00")
	require.NoError(t, h.SaveRecord(context.Background(), record))

	assert.Len(t, nested.records[nestedKey("tenant-1", "1")], 1)
	// 嵌套写入成功就不再写扁平表
	assert.Empty(t, flat.records)
}

func TestSaveRecordFallsBackToFlatWhenDeviceNodeMissing(t *testing.T) {
	nested := newFakeNestedStore() // 没有设备节点：0 行受影响
	flat := &fakeFlatStore{}
	h := newTestHistory(nested, flat)

	record := makeRecord(time.Now(), "00:01:00")
	require.NoError(t, h.SaveRecord(context.Background(), record))

	assert.Equal(t, 1, nested.appendCall)
	require.Len(t, flat.records, 1)

	// 回退写入后记录可以通过 ListRecent 读出
	records, err := h.ListRecent(context.Background(), "tenant-1", "1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record.RecordID, records[0].RecordID)
}

func TestSaveRecordFallsBackWhenNestedErrors(t *testing.T) {
	nested := newFakeNestedStore()
	nested.appendErr = errors.New("connection reset")
	flat := &fakeFlatStore{}
	h := newTestHistory(nested, flat)

	require.NoError(t, h.SaveRecord(context.Background(), makeRecord(time.Now(), "00:01:00")))
	assert.Len(t, flat.records, 1)
}

func TestSaveRecordFailsWhenBothPathsFail(t *testing.T) {
	nested := newFakeNestedStore()
	nested.appendErr = errors.New("nested down")
	flat := &fakeFlatStore{appendErr: errors.New("flat down")}
	h := newTestHistory(nested, flat)

	assert.Error(t, h.SaveRecord(context.Background(), makeRecord(time.Now(), "00:01:00")))
}

// ============================================
// 合并读取
// ============================================

func TestListRecentLimitsToMostRecent(t *testing.T) {
	nested := newFakeNestedStore()
	flat := &fakeFlatStore{}
	h := newTestHistory(nested, flat)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		require.NoError(t, h.SaveRecord(context.Background(), makeRecord(base.Add(time.Duration(i)*time.Hour), "00:01:00")))
	}

	records, err := h.ListRecent(context.Background(), "tenant-1", "1", 10)
	require.NoError(t, err)
	require.Len(t, records, 10)

	// 最新的在最前
	assert.Equal(t, base.Add(14*time.Hour), records[0].Timestamp)
	for i := 1; i < len(records); i++ {
		assert.True(t, !records[i].Timestamp.After(records[i-1].Timestamp),
			"records must be sorted descending")
	}
}

func TestListRecentFallsBackToNestedLayout(t *testing.T) {
	nested := newFakeNestedStore()
	key := nestedKey("tenant-1", "1")
	nested.hasDevice[key] = true
	nested.records[key] = []models.ActivationRecord{
		*makeRecord(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), "00:01:00"),
		*makeRecord(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), "00:02:00"),
	}
	flat := &fakeFlatStore{} // 扁平表为空
	h := newTestHistory(nested, flat)

	records, err := h.ListRecent(context.Background(), "tenant-1", "1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "00:02:00", records[0].Duration)
}

func TestListRecentSortsLegacyRecordsByDisplayDate(t *testing.T) {
	// 布局 v1 的老记录没有显式 timestamp，回退解析展示日期
	nested := newFakeNestedStore()
	key := nestedKey("tenant-1", "1")
	nested.hasDevice[key] = true
	legacyOld := models.ActivationRecord{
		TenantID: "tenant-1", DeviceID: "1",
		Date: "01/02/2024 10:00", Duration: "00:05:00",
	}
	legacyNew := models.ActivationRecord{
		TenantID: "tenant-1", DeviceID: "1",
		Date: "02/02/2024 09:30", Duration: "00:01:00",
	}
	// 日期相同，用时长做末级比较
	legacyTieLong := models.ActivationRecord{
		TenantID: "tenant-1", DeviceID: "1",
		Date: "01/02/2024 10:00", Duration: "00:09:00",
	}
	nested.records[key] = []models.ActivationRecord{legacyOld, legacyNew, legacyTieLong}
	h := newTestHistory(nested, &fakeFlatStore{})

	records, err := h.ListRecent(context.Background(), "tenant-1", "1", 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "02/02/2024 09:30", records[0].Date)
	assert.Equal(t, "00:09:00", records[1].Duration)
	assert.Equal(t, "00:05:00", records[2].Duration)
}

// ============================================
// 清空历史
// ============================================

func TestClearHistorySucceedsIfEitherPathClears(t *testing.T) {
	nested := newFakeNestedStore() // 嵌套路径无数据可清
	flat := &fakeFlatStore{records: []models.ActivationRecord{*makeRecord(time.Now(), "00:01:00")}}
	h := newTestHistory(nested, flat)

	require.NoError(t, h.ClearHistory(context.Background(), "tenant-1", "1"))
	assert.Empty(t, flat.records)
}

func TestClearHistoryAttemptsBothPathsIndependently(t *testing.T) {
	nested := newFakeNestedStore()
	key := nestedKey("tenant-1", "1")
	nested.hasDevice[key] = true
	nested.records[key] = []models.ActivationRecord{*makeRecord(time.Now(), "00:01:00")}
	flat := &fakeFlatStore{clearErr: errors.New("flat down")}
	h := newTestHistory(nested, flat)

	// 扁平路径失败，嵌套路径成功 → 整体成功
	require.NoError(t, h.ClearHistory(context.Background(), "tenant-1", "1"))
	assert.True(t, nested.cleared)
}

func TestClearHistoryFailsWhenNothingCleared(t *testing.T) {
	h := newTestHistory(newFakeNestedStore(), &fakeFlatStore{})

	err := h.ClearHistory(context.Background(), "tenant-1", "1")
	assert.ErrorIs(t, err, ErrNothingCleared)
}
