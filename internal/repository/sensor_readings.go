package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SensorReading 原始传感器采样
type SensorReading struct {
	TenantID   string    `json:"tenant_id"`
	DeviceID   string    `json:"device_id"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SensorReadingsRepository 传感器采样仓库（原始样本存储，不做聚合）
type SensorReadingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSensorReadingsRepository 创建传感器采样仓库
func NewSensorReadingsRepository(db *sql.DB, logger *zap.Logger) *SensorReadingsRepository {
	return &SensorReadingsRepository{
		db:     db,
		logger: logger,
	}
}

// InsertReading 插入一条采样
func (r *SensorReadingsRepository) InsertReading(ctx context.Context, reading *SensorReading) error {
	query := `
		INSERT INTO sensor_readings (tenant_id, device_id, metric, value, recorded_at)
		VALUES ($1::uuid, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		reading.TenantID,
		reading.DeviceID,
		reading.Metric,
		reading.Value,
		reading.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sensor reading: %w", err)
	}

	return nil
}

// ListReadings 按时间范围查询采样（升序）
// metric 为空表示全部指标；start/end 为零值表示不限
func (r *SensorReadingsRepository) ListReadings(ctx context.Context, tenantID, deviceID, metric string, start, end time.Time) ([]SensorReading, error) {
	query := `
		SELECT tenant_id::text, device_id, metric, value, recorded_at
		FROM sensor_readings
		WHERE tenant_id = $1::uuid AND device_id = $2
	`
	args := []interface{}{tenantID, deviceID}

	if metric != "" {
		args = append(args, metric)
		query += fmt.Sprintf(" AND metric = $%d", len(args))
	}
	if !start.IsZero() {
		args = append(args, start)
		query += fmt.Sprintf(" AND recorded_at >= $%d", len(args))
	}
	if !end.IsZero() {
		args = append(args, end)
		query += fmt.Sprintf(" AND recorded_at <= $%d", len(args))
	}
	query += " ORDER BY recorded_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor readings: %w", err)
	}
	defer rows.Close()

	readings := []SensorReading{}
	for rows.Next() {
		var reading SensorReading
		if err := rows.Scan(
			&reading.TenantID,
			&reading.DeviceID,
			&reading.Metric,
			&reading.Value,
			&reading.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sensor reading: %w", err)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sensor readings: %w", err)
	}

	return readings, nil
}
