package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hiveguard-telemetry/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrTenantNotFound 密钥没有匹配的租户（事件丢弃，不重试）
var ErrTenantNotFound = errors.New("tenant not found")

// TenantResolver 根据主题中的租户密钥解析租户
type TenantResolver interface {
	TenantBySecret(ctx context.Context, secret string) (*models.Tenant, error)
}

const tenantCachePrefix = "hiveguard:tenant:secret:"

// PostgresTenantResolver 租户解析器（Postgres + Redis 查询缓存）
// 每条消息都要做一次租户解析，缓存避免热路径上反复打数据库。
type PostgresTenantResolver struct {
	db       *sql.DB
	cache    *redis.Client
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewPostgresTenantResolver 创建租户解析器
// cache 可以为 nil（此时每次都查库）
func NewPostgresTenantResolver(db *sql.DB, cache *redis.Client, cacheTTL time.Duration, logger *zap.Logger) *PostgresTenantResolver {
	return &PostgresTenantResolver{
		db:       db,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

var _ TenantResolver = (*PostgresTenantResolver)(nil)

// TenantBySecret 根据租户密钥获取租户
func (r *PostgresTenantResolver) TenantBySecret(ctx context.Context, secret string) (*models.Tenant, error) {
	if secret == "" {
		return nil, ErrTenantNotFound
	}

	if r.cache != nil {
		if val, err := r.cache.Get(ctx, tenantCachePrefix+secret).Result(); err == nil {
			var tenant models.Tenant
			if err := json.Unmarshal([]byte(val), &tenant); err == nil {
				return &tenant, nil
			}
		}
	}

	query := `
		SELECT
			tenant_id::text,
			COALESCE(owner_name, '') as owner_name
		FROM tenants
		WHERE mqtt_secret = $1
		LIMIT 1
	`

	tenant := &models.Tenant{}
	err := r.db.QueryRowContext(ctx, query, secret).Scan(
		&tenant.TenantID,
		&tenant.OwnerName,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to query tenant: %w", err)
	}

	if r.cache != nil {
		if data, err := json.Marshal(tenant); err == nil {
			if err := r.cache.Set(ctx, tenantCachePrefix+secret, data, r.cacheTTL).Err(); err != nil {
				r.logger.Debug("Failed to cache tenant lookup", zap.Error(err))
			}
		}
	}

	return tenant, nil
}
