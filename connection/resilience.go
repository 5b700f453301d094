package connection

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charlesren/ylog"
	"github.com/sony/gobreaker"
)

// BreakerSettings 每台设备一个熔断器，连续连接失败达到阈值后短路
type BreakerSettings struct {
	Enabled             bool
	ConsecutiveFailures uint32
	// OpenTimeout 熔断打开后多久进入半开
	OpenTimeout time.Duration
}

// DefaultBreakerSettings 默认不启用
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

func newBreaker(key string, s BreakerSettings) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ylog.Warnf("Breaker", "circuit breaker %s: %s -> %s", name, from, to)
		},
		// 参数错误不计入失败
		IsSuccessful: func(err error) bool {
			return err == nil || IsErrorCode(err, ErrCodeArgument)
		},
	})
}

// newConnectBackOff 按设备配置生成连接重试策略，默认不重试
func newConnectBackOff(ctx context.Context, cfg *DeviceConfig) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if cfg.ConnectRetryInterval > 0 {
		eb.InitialInterval = cfg.ConnectRetryInterval
	}
	if cfg.ConnectBackoffFactor >= 1 {
		eb.Multiplier = cfg.ConnectBackoffFactor
	}
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(cfg.ConnectMaxRetries)), ctx)
}

// connectWithRetry 只对连接类错误重试；其他错误（提权失败、参数错误）直接返回
func connectWithRetry(ctx context.Context, cfg *DeviceConfig, breaker *gobreaker.CircuitBreaker, op func() error) error {
	attempt := func() error {
		var err error
		if breaker != nil {
			_, err = breaker.Execute(func() (interface{}, error) {
				return nil, op()
			})
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(NewConnectionError(err, "circuit open for %s", cfg.Key()))
			}
		} else {
			err = op()
		}
		if err != nil && !IsErrorCode(err, ErrCodeConnection) && !IsErrorCode(err, ErrCodeTimeout) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		ylog.Warnf("Retry", "connect to %s failed, retry in %s: %v", cfg.Key(), wait, err)
	}
	return backoff.RetryNotify(attempt, newConnectBackOff(ctx, cfg), notify)
}
