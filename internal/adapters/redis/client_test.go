package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/aggregation-worker/config"
)

func TestConnect_Direct(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	t.Run("host and port", func(t *testing.T) {
		client, err := Connect(ctx, config.RedisConfig{URI: mr.Addr(), DB: 2}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
		mr.Select(2)
		got, err := mr.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})

	t.Run("redis url", func(t *testing.T) {
		client, err := Connect(ctx, config.RedisConfig{URI: "redis://" + mr.Addr() + "/0"}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })
		assert.NoError(t, client.Ping(ctx).Err())
	})

	t.Run("password is sent", func(t *testing.T) {
		secured := miniredis.RunT(t)
		secured.RequireAuth("s3cret")

		_, err := Connect(ctx, config.RedisConfig{URI: secured.Addr()}, nil)
		require.Error(t, err)

		client, err := Connect(ctx, config.RedisConfig{URI: secured.Addr(), Password: "s3cret"}, nil)
		require.NoError(t, err)
		_ = client.Close()
	})

	t.Run("unreachable server", func(t *testing.T) {
		down := miniredis.RunT(t)
		addr := down.Addr()
		down.Close()

		_, err := Connect(ctx, config.RedisConfig{URI: addr}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ping redis")
	})
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.RedisConfig
		wantErr string
		desc    string
	}{
		{name: "direct without uri", cfg: config.RedisConfig{URI: "  "}, wantErr: "requires a URI"},
		{name: "bad url", cfg: config.RedisConfig{URI: "redis://:bad:port:x"}, wantErr: "parse redis url"},
		{
			name:    "sentinel without nodes",
			cfg:     config.RedisConfig{UseSentinel: true, SentinelNodes: []string{" "}, SentinelMasterName: "m"},
			wantErr: "at least one sentinel node",
		},
		{
			name:    "sentinel without master",
			cfg:     config.RedisConfig{UseSentinel: true, SentinelNodes: []string{"localhost:26379"}},
			wantErr: "master name",
		},
		{
			name: "sentinel",
			cfg:  config.RedisConfig{UseSentinel: true, SentinelNodes: []string{"localhost:26379"}, SentinelMasterName: "m"},
			desc: "sentinel:m",
		},
		{
			name:    "cluster without addresses",
			cfg:     config.RedisConfig{UseCluster: true},
			wantErr: "at least one address",
		},
		{
			name: "cluster nodes",
			cfg:  config.RedisConfig{UseCluster: true, ClusterNodes: []string{"a:7000", " b:7001 "}},
			desc: "cluster:a:7000,b:7001",
		},
		{
			name: "cluster falls back to uri",
			cfg:  config.RedisConfig{UseCluster: true, URI: "redis://user:pw@c:7002"},
			desc: "cluster:c:7002",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, desc, err := NewClient(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = client.Close() })
			assert.Equal(t, tt.desc, desc)
		})
	}
}

func TestRedactAddr(t *testing.T) {
	assert.Equal(t, "redis://host:6379/0", redactAddr("redis://user:pw@host:6379/0"))
	assert.Equal(t, "localhost:6379", redactAddr("localhost:6379"))
	assert.Equal(t, "sentinel:m", redactAddr("sentinel:m"))
}
