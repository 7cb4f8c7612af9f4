// Package timerstate 是消费端本地的气泵计时镜像：
// 让界面在页面/进程重启后不经服务器就能恢复"已运行多久"的展示。
// 仅作展示参考，权威时长永远来自服务端落库的激活记录。
package timerstate

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// State 单个设备的计时镜像
type State struct {
	DeviceID   string
	IsActive   bool
	StartedAt  time.Time
	LastUpdate time.Time
	Status     string // "ON" / "OFF"
	Elapsed    time.Duration
}

// Store 本地持久化存储（SQLite，单文件随客户端走）
type Store struct {
	db *sql.DB
}

// NewStore 打开（或创建）本地计时镜像存储
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open timer store: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate timer store: %w", err)
	}

	return s, nil
}

// Close 关闭存储
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pump_timers (
		device_id   TEXT PRIMARY KEY,
		is_active   INTEGER NOT NULL,
		started_at  TEXT NOT NULL,
		last_update TEXT NOT NULL,
		status      TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save 记录设备的计时状态（观察到 ON 时整体覆盖）
func (s *Store) Save(deviceID string, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO pump_timers (device_id, is_active, started_at, last_update, status)
		 VALUES (?, 1, ?, ?, 'ON')
		 ON CONFLICT (device_id) DO UPDATE
		 SET is_active = 1, started_at = excluded.started_at,
		     last_update = excluded.last_update, status = 'ON'`,
		deviceID,
		startedAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save timer state for %s: %w", deviceID, err)
	}
	return nil
}

// Load 读取设备的计时状态
// 只有 status 仍为 ON 的条目才有效；返回值里带已计算的 elapsed。
// 无有效条目时返回 (nil, nil)。
func (s *Store) Load(deviceID string) (*State, error) {
	var (
		isActive              int
		startedAt, lastUpdate string
		status                string
	)
	err := s.db.QueryRow(
		`SELECT is_active, started_at, last_update, status
		 FROM pump_timers WHERE device_id = ?`,
		deviceID,
	).Scan(&isActive, &startedAt, &lastUpdate, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load timer state for %s: %w", deviceID, err)
	}

	if isActive == 0 || status != "ON" {
		return nil, nil
	}

	started, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt started_at for %s: %w", deviceID, err)
	}
	updated, err := time.Parse(time.RFC3339, lastUpdate)
	if err != nil {
		return nil, fmt.Errorf("corrupt last_update for %s: %w", deviceID, err)
	}

	return &State{
		DeviceID:   deviceID,
		IsActive:   true,
		StartedAt:  started,
		LastUpdate: updated,
		Status:     status,
		Elapsed:    time.Since(started),
	}, nil
}

// Clear 观察到 OFF 时删除条目
func (s *Store) Clear(deviceID string) error {
	_, err := s.db.Exec(`DELETE FROM pump_timers WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("clear timer state for %s: %w", deviceID, err)
	}
	return nil
}
