package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTenantBySecret(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE mqtt_secret").
		WithArgs("secret-abc").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "owner_name"}).
			AddRow("11111111-2222-3333-4444-555555555555", "Alice"))

	resolver := NewPostgresTenantResolver(db, nil, 0, zap.NewNop())

	tenant, err := resolver.TenantBySecret(context.Background(), "secret-abc")
	require.NoError(t, err)
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", tenant.TenantID)
	assert.Equal(t, "Alice", tenant.OwnerName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantBySecretNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE mqtt_secret").
		WithArgs("no-such-secret").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "owner_name"}))

	resolver := NewPostgresTenantResolver(db, nil, 0, zap.NewNop())

	_, err = resolver.TenantBySecret(context.Background(), "no-such-secret")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestTenantBySecretEmptySecret(t *testing.T) {
	resolver := NewPostgresTenantResolver(nil, nil, 0, zap.NewNop())

	_, err := resolver.TenantBySecret(context.Background(), "")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestTenantBySecretCachesLookup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	// 只期望一次数据库查询，第二次走缓存
	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE mqtt_secret").
		WithArgs("secret-abc").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "owner_name"}).
			AddRow("11111111-2222-3333-4444-555555555555", "Alice"))

	resolver := NewPostgresTenantResolver(db, cache, time.Minute, zap.NewNop())

	for i := 0; i < 2; i++ {
		tenant, err := resolver.TenantBySecret(context.Background(), "secret-abc")
		require.NoError(t, err)
		assert.Equal(t, "Alice", tenant.OwnerName)
	}

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.True(t, mr.Exists(tenantCachePrefix+"secret-abc"))
}
