package repository

import (
	"context"
	"database/sql"
	"fmt"

	"hiveguard-telemetry/internal/models"

	"go.uber.org/zap"
)

// FlatActivationsRepository 扁平布局（兼容历史布局 v2）
// 独立的 activation_records 表，按 (tenant_id, device_id) 索引，
// 只存激活记录本身。
type FlatActivationsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFlatActivationsRepository 创建扁平布局仓库
func NewFlatActivationsRepository(db *sql.DB, logger *zap.Logger) *FlatActivationsRepository {
	return &FlatActivationsRepository{
		db:     db,
		logger: logger,
	}
}

// AppendActivation 插入一条激活记录
func (r *FlatActivationsRepository) AppendActivation(ctx context.Context, record *models.ActivationRecord) error {
	query := `
		INSERT INTO activation_records (
			record_id, tenant_id, device_id, owner_name,
			date, duration, started_at, ended_at, created_at
		) VALUES ($1, $2::uuid, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.RecordID,
		record.TenantID,
		record.DeviceID,
		record.OwnerName,
		record.Date,
		record.Duration,
		record.StartedAt,
		record.EndedAt,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activation record: %w", err)
	}

	return nil
}

// ListActivations 按时间倒序读取激活记录
// limit <= 0 表示不限制
func (r *FlatActivationsRepository) ListActivations(ctx context.Context, tenantID, deviceID string, limit int) ([]models.ActivationRecord, error) {
	query := `
		SELECT
			record_id,
			tenant_id::text,
			device_id,
			COALESCE(owner_name, '') as owner_name,
			date,
			duration,
			started_at,
			ended_at,
			created_at
		FROM activation_records
		WHERE tenant_id = $1::uuid AND device_id = $2
		ORDER BY created_at DESC
	`
	args := []interface{}{tenantID, deviceID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activation records: %w", err)
	}
	defer rows.Close()

	records := []models.ActivationRecord{}
	for rows.Next() {
		var record models.ActivationRecord
		if err := rows.Scan(
			&record.RecordID,
			&record.TenantID,
			&record.DeviceID,
			&record.OwnerName,
			&record.Date,
			&record.Duration,
			&record.StartedAt,
			&record.EndedAt,
			&record.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activation record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activation records: %w", err)
	}

	return records, nil
}

// ClearActivations 删除该设备的全部激活记录
// 返回是否实际删除了数据
func (r *FlatActivationsRepository) ClearActivations(ctx context.Context, tenantID, deviceID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM activation_records WHERE tenant_id = $1::uuid AND device_id = $2`,
		tenantID, deviceID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete activation records: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected > 0, nil
}
