package connection

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlesren/device_session/platform"
)

func testDeviceConfig(t *testing.T) *DeviceConfig {
	t.Helper()
	cfg, err := NewConfigBuilder().
		WithBasicAuth("10.0.0.1", "admin", "password").
		WithPlatform(platform.CiscoIOSXE).
		WithProtocol(ProtocolSSH).
		Build()
	require.NoError(t, err)
	return cfg
}

func newTestPool(factory DriverFactory, breaker BreakerSettings) *DriverPool {
	pool := NewDriverPool(PoolOptions{
		IdleTimeout: time.Minute,
		Breaker:     breaker,
		Collector:   NewDefaultMetricsCollector(),
	})
	pool.RegisterFactory(ProtocolSSH, factory)
	return pool
}

func TestDriverPool_AcquireRelease(t *testing.T) {
	t.Parallel()

	factory := &MockDriverFactory{}
	pool := newTestPool(factory, BreakerSettings{})
	cfg := testDeviceConfig(t)
	ctx := context.Background()

	t.Run("should create then reuse driver", func(t *testing.T) {
		lease, err := pool.Acquire(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.1", lease.Host())
		lease.Release(nil)

		lease, err = pool.Acquire(ctx, cfg)
		require.NoError(t, err)
		lease.Release(nil)

		assert.Equal(t, 1, factory.Created())
		assert.Equal(t, StateIdle, pool.Stats()[cfg.Key()])

		snap := pool.opts.Collector.GetMetrics()
		assert.Equal(t, int64(1), snap.ConnectionMetrics[ProtocolSSH].Created)
		assert.Equal(t, int64(1), snap.ConnectionMetrics[ProtocolSSH].Reused)
	})

	t.Run("should rebuild driver after fatal error", func(t *testing.T) {
		lease, err := pool.Acquire(ctx, cfg)
		require.NoError(t, err)
		lease.Release(NewConnectionError(nil, "channel closed"))
		assert.Equal(t, StateClosed, pool.Stats()[cfg.Key()])

		lease, err = pool.Acquire(ctx, cfg)
		require.NoError(t, err)
		lease.Release(nil)
		assert.Equal(t, 2, factory.Created())
	})

	t.Run("should return error for unsupported protocol", func(t *testing.T) {
		other := cfg.Clone()
		other.Protocol = ProtocolTelnet
		_, err := pool.Acquire(ctx, other)
		assert.True(t, IsErrorCode(err, ErrCodeArgument))
	})
}

func TestDriverPool_SerializesPerDevice(t *testing.T) {
	t.Parallel()

	pool := newTestPool(&MockDriverFactory{}, BreakerSettings{})
	cfg := testDeviceConfig(t)

	lease, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, StateAcquired, pool.Stats()[cfg.Key()])

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx, cfg)
	assert.True(t, IsErrorCode(err, ErrCodeTimeout))

	// 其他设备不受影响
	other := cfg.Clone()
	other.Name = "sea-ios-2"
	lease2, err := pool.Acquire(context.Background(), other)
	require.NoError(t, err)
	lease2.Release(nil)

	acquired := make(chan struct{})
	go func() {
		l, err := pool.Acquire(context.Background(), cfg)
		if err == nil {
			l.Release(nil)
		}
		close(acquired)
	}()
	time.Sleep(10 * time.Millisecond)
	lease.Release(nil)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiting acquirer was not released")
	}
}

func TestDriverPool_ConnectRetry(t *testing.T) {
	t.Parallel()

	var opens int32
	factory := &MockDriverFactory{
		CreateFunc: func(cfg *DeviceConfig) (DeviceDriver, error) {
			return &MockDeviceDriver{
				HostValue: cfg.Host,
				OpenFunc: func(ctx context.Context) error {
					if atomic.AddInt32(&opens, 1) < 3 {
						return NewConnectionError(nil, "connection refused")
					}
					return nil
				},
			}, nil
		},
	}
	pool := newTestPool(factory, BreakerSettings{})
	cfg := testDeviceConfig(t)
	cfg.ConnectMaxRetries = 2
	cfg.ConnectRetryInterval = time.Millisecond

	lease, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	lease.Release(nil)
	assert.Equal(t, 3, factory.Created())
}

func TestDriverPool_NoRetryByDefault(t *testing.T) {
	t.Parallel()

	factory := &MockDriverFactory{
		CreateFunc: func(cfg *DeviceConfig) (DeviceDriver, error) {
			return &MockDeviceDriver{
				OpenFunc: func(ctx context.Context) error {
					return NewConnectionError(nil, "authentication failed")
				},
			}, nil
		},
	}
	pool := newTestPool(factory, BreakerSettings{})

	_, err := pool.Acquire(context.Background(), testDeviceConfig(t))
	assert.True(t, IsErrorCode(err, ErrCodeConnection))
	assert.Equal(t, 1, factory.Created())
}

func TestDriverPool_PrivilegeErrorNotRetried(t *testing.T) {
	t.Parallel()

	factory := &MockDriverFactory{
		CreateFunc: func(cfg *DeviceConfig) (DeviceDriver, error) {
			return &MockDeviceDriver{
				OpenFunc: func(ctx context.Context) error {
					return NewPrivilegeError(nil, "failed to acquire privilege_exec")
				},
			}, nil
		},
	}
	pool := newTestPool(factory, BreakerSettings{})
	cfg := testDeviceConfig(t)
	cfg.ConnectMaxRetries = 3
	cfg.ConnectRetryInterval = time.Millisecond

	_, err := pool.Acquire(context.Background(), cfg)
	assert.True(t, IsErrorCode(err, ErrCodePrivilege))
	assert.Equal(t, 1, factory.Created())
}

func TestDriverPool_CircuitBreaker(t *testing.T) {
	t.Parallel()

	factory := &MockDriverFactory{
		CreateFunc: func(cfg *DeviceConfig) (DeviceDriver, error) {
			return &MockDeviceDriver{
				OpenFunc: func(ctx context.Context) error {
					return NewConnectionError(nil, "no route to host")
				},
			}, nil
		},
	}
	pool := newTestPool(factory, BreakerSettings{
		Enabled:             true,
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Minute,
	})
	cfg := testDeviceConfig(t)

	for i := 0; i < 2; i++ {
		_, err := pool.Acquire(context.Background(), cfg)
		require.Error(t, err)
	}
	_, err := pool.Acquire(context.Background(), cfg)
	assert.True(t, IsErrorCode(err, ErrCodeConnection))
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 2, factory.Created())
}

func TestDriverPool_Close(t *testing.T) {
	t.Parallel()

	var closed int32
	factory := &MockDriverFactory{
		CreateFunc: func(cfg *DeviceConfig) (DeviceDriver, error) {
			return &MockDeviceDriver{
				CloseFunc: func() error {
					atomic.AddInt32(&closed, 1)
					return nil
				},
			}, nil
		},
	}
	pool := newTestPool(factory, BreakerSettings{})
	cfg := testDeviceConfig(t)

	lease, err := pool.Acquire(context.Background(), cfg)
	require.NoError(t, err)
	lease.Release(nil)

	require.NoError(t, pool.Close())
	assert.Equal(t, int32(1), atomic.LoadInt32(&closed))

	_, err = pool.Acquire(context.Background(), cfg)
	assert.True(t, IsErrorCode(err, ErrCodeConnection))
}

func TestDriverPool_StableKeyWithoutNameOrPort(t *testing.T) {
	t.Parallel()

	factory := &MockDriverFactory{
		CreateFunc: func(cfg *DeviceConfig) (DeviceDriver, error) {
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return &MockDeviceDriver{HostValue: cfg.Host}, nil
		},
	}
	pool := newTestPool(factory, BreakerSettings{})
	defer pool.Close()

	cfg := &DeviceConfig{Host: "10.0.0.2", Platform: platform.CiscoIOSXE, Protocol: ProtocolSSH, Username: "admin"}
	for i := 0; i < 2; i++ {
		lease, err := pool.Acquire(context.Background(), cfg)
		require.NoError(t, err)
		lease.Release(nil)
	}

	assert.Equal(t, 1, factory.Created())
	stats := pool.Stats()
	assert.Len(t, stats, 1)
	assert.Equal(t, StateIdle, stats["10.0.0.2:22"])
	assert.Equal(t, 0, cfg.Port)
}
