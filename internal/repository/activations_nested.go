package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"hiveguard-telemetry/internal/models"

	"go.uber.org/zap"
)

// NestedActivationsRepository 嵌套文档布局（兼容历史布局 v1）
// 激活记录挂在租户文档的 beehives JSONB 数组里，按设备节点嵌套：
// tenants.beehives = [{"id": "<deviceId>", "airPumpActivations": [...]}, ...]
// 设备节点不存在时写入影响 0 行，由调用方回退到扁平布局。
type NestedActivationsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNestedActivationsRepository 创建嵌套布局仓库
func NewNestedActivationsRepository(db *sql.DB, logger *zap.Logger) *NestedActivationsRepository {
	return &NestedActivationsRepository{
		db:     db,
		logger: logger,
	}
}

// AppendActivation 把激活记录追加到租户文档内对应设备节点
// 返回是否实际写入（设备节点不存在时返回 false，不算错误）
func (r *NestedActivationsRepository) AppendActivation(ctx context.Context, tenantID, deviceID string, record *models.ActivationRecord) (bool, error) {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("failed to marshal activation record: %w", err)
	}

	// 先定位设备节点在数组中的下标，再对该下标下的
	// airPumpActivations 数组做追加（字段缺失时先补空数组）
	query := `
		WITH target AS (
			SELECT ord - 1 AS idx
			FROM tenants t,
			     jsonb_array_elements(t.beehives) WITH ORDINALITY AS e(doc, ord)
			WHERE t.tenant_id = $1::uuid
			  AND e.doc->>'id' = $2
			LIMIT 1
		)
		UPDATE tenants
		SET beehives = jsonb_set(
			beehives,
			ARRAY[(SELECT idx FROM target)::text, 'airPumpActivations'],
			COALESCE(beehives->(SELECT idx FROM target)::int->'airPumpActivations', '[]'::jsonb) || $3::jsonb,
			true
		)
		WHERE tenant_id = $1::uuid
		  AND EXISTS (SELECT 1 FROM target)
	`

	result, err := r.db.ExecContext(ctx, query, tenantID, deviceID, string(recordJSON))
	if err != nil {
		return false, fmt.Errorf("failed to append activation to tenant document: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected > 0, nil
}

// ListActivations 读取租户文档内对应设备节点的全部激活记录
// 设备节点不存在或字段缺失时返回空列表
func (r *NestedActivationsRepository) ListActivations(ctx context.Context, tenantID, deviceID string) ([]models.ActivationRecord, error) {
	query := `
		SELECT COALESCE(e.doc->'airPumpActivations', '[]'::jsonb)
		FROM tenants t,
		     jsonb_array_elements(t.beehives) AS e(doc)
		WHERE t.tenant_id = $1::uuid
		  AND e.doc->>'id' = $2
		LIMIT 1
	`

	var raw []byte
	err := r.db.QueryRowContext(ctx, query, tenantID, deviceID).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return []models.ActivationRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read nested activations: %w", err)
	}

	var records []models.ActivationRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nested activations: %w", err)
	}

	return records, nil
}

// ClearActivations 清空租户文档内对应设备节点的激活记录
// 返回是否实际修改了文档。Postgres 的 RowsAffected 统计的是"匹配并重写"
// 而不是"值发生变化"，所以对已经是空数组的节点要显式排除，
// 否则空对空的重写会被误报为清除成功。
func (r *NestedActivationsRepository) ClearActivations(ctx context.Context, tenantID, deviceID string) (bool, error) {
	query := `
		WITH target AS (
			SELECT ord - 1 AS idx
			FROM tenants t,
			     jsonb_array_elements(t.beehives) WITH ORDINALITY AS e(doc, ord)
			WHERE t.tenant_id = $1::uuid
			  AND e.doc->>'id' = $2
			LIMIT 1
		)
		UPDATE tenants
		SET beehives = jsonb_set(
			beehives,
			ARRAY[(SELECT idx FROM target)::text, 'airPumpActivations'],
			'[]'::jsonb,
			true
		)
		WHERE tenant_id = $1::uuid
		  AND EXISTS (SELECT 1 FROM target)
		  AND COALESCE(beehives->(SELECT idx FROM target)::int->'airPumpActivations', '[]'::jsonb) <> '[]'::jsonb
	`

	result, err := r.db.ExecContext(ctx, query, tenantID, deviceID)
	if err != nil {
		return false, fmt.Errorf("failed to clear nested activations: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected > 0, nil
}
