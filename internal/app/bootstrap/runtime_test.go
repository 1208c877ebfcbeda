package bootstrap

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediguard/mediguard-platform/internal/calendar"
	appconfig "github.com/mediguard/mediguard-platform/internal/config"
	"github.com/mediguard/mediguard-platform/internal/docstore"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

func TestBuildRedisClientDisabledWithoutAddr(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, logging.Discard(), true))
	assert.Nil(t, BuildRedisClient(context.Background(), nil, logging.Discard(), false))
}

func TestBuildRedisClientVerifies(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{RedisAddr: mr.Addr()}

	client := BuildRedisClient(context.Background(), cfg, logging.Discard(), true)
	require.NotNil(t, client)
	defer client.Close()

	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), cfg, logging.Discard(), true))
}

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	assert.Nil(t, ConnectPostgresPool(context.Background(), "", logging.Discard()))
}

func TestBuildDocStoreBackends(t *testing.T) {
	ctx := context.Background()

	ds, err := BuildDocStore(ctx, &appconfig.Config{}, nil, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, ds.Backend)
	assert.IsType(t, &docstore.MemoryStore{}, ds.Store)
	ds.Close()

	_, err = BuildDocStore(ctx, &appconfig.Config{DocStoreBackend: BackendRedis}, nil, logging.Discard())
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	client := BuildRedisClient(ctx, &appconfig.Config{RedisAddr: mr.Addr()}, logging.Discard(), false)
	defer client.Close()
	ds, err = BuildDocStore(ctx, &appconfig.Config{DocStoreBackend: "Redis"}, client, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &docstore.RedisStore{}, ds.Store)

	_, err = BuildDocStore(ctx, &appconfig.Config{DocStoreBackend: BackendPostgres}, nil, logging.Discard())
	assert.Error(t, err)
	_, err = BuildDocStore(ctx, &appconfig.Config{DocStoreBackend: BackendFirestore}, nil, logging.Discard())
	assert.Error(t, err)
	_, err = BuildDocStore(ctx, &appconfig.Config{DocStoreBackend: "mongo"}, nil, logging.Discard())
	assert.ErrorContains(t, err, "unknown docstore backend")
}

func TestBuildCredentialStore(t *testing.T) {
	assert.IsType(t, &calendar.MemoryCredentialStore{}, BuildCredentialStore(nil))

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, logging.Discard(), false)
	defer client.Close()
	assert.IsType(t, &calendar.RedisCredentialStore{}, BuildCredentialStore(client))
}
