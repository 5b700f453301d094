package connection

import (
	"context"
	"sync"
	"time"

	"github.com/charlesren/ylog"
	"github.com/sony/gobreaker"
)

// PoolOptions 连接池配置
type PoolOptions struct {
	// IdleTimeout 空闲超过该时间的驱动复用前需要健康检查
	IdleTimeout time.Duration
	Breaker     BreakerSettings
	Collector   MetricsCollector
}

// DefaultPoolOptions 默认配置
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		IdleTimeout: 2 * time.Minute,
		Breaker:     DefaultBreakerSettings(),
		Collector:   GetGlobalMetricsCollector(),
	}
}

// DriverPool 按设备缓存已打开的驱动。
// 同一设备同一时刻只能被一个调用方持有，后来者阻塞直到释放或ctx结束
type DriverPool struct {
	opts PoolOptions

	mu        sync.Mutex
	factories map[Protocol]DriverFactory
	entries   map[string]*poolEntry
	closed    bool
}

type poolEntry struct {
	key     string
	sem     chan struct{}
	breaker *gobreaker.CircuitBreaker

	// 以下字段只在持有sem时访问
	driver     DeviceDriver
	protocol   Protocol
	state      ConnectionState
	createdAt  time.Time
	lastUsed   time.Time
	usageCount int64
}

// NewDriverPool 创建连接池
func NewDriverPool(opts PoolOptions) *DriverPool {
	if opts.Collector == nil {
		opts.Collector = GetGlobalMetricsCollector()
	}
	return &DriverPool{
		opts:      opts,
		factories: make(map[Protocol]DriverFactory),
		entries:   make(map[string]*poolEntry),
	}
}

// RegisterFactory 注册协议对应的驱动工厂
func (p *DriverPool) RegisterFactory(protocol Protocol, factory DriverFactory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factories[protocol] = factory
}

func (p *DriverPool) entry(key string) (*poolEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, NewConnectionError(nil, "driver pool is closed")
	}
	e, ok := p.entries[key]
	if !ok {
		e = &poolEntry{
			key:   key,
			sem:   make(chan struct{}, 1),
			state: StateClosed,
		}
		if p.opts.Breaker.Enabled {
			e.breaker = newBreaker(key, p.opts.Breaker)
		}
		p.entries[key] = e
	}
	return e, nil
}

func (p *DriverPool) factory(protocol Protocol) (DriverFactory, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.factories[protocol]
	if !ok {
		return nil, NewArgumentError("no driver factory registered for protocol %q", protocol)
	}
	return f, nil
}

// Acquire 获取设备的已打开驱动，用完必须调用Lease.Release
func (p *DriverPool) Acquire(ctx context.Context, cfg *DeviceConfig) (*Lease, error) {
	// 端口等默认值影响Key，统一使用填充后的副本
	cfg = cfg.Normalized()
	factory, err := p.factory(cfg.Protocol)
	if err != nil {
		return nil, err
	}
	e, err := p.entry(cfg.Key())
	if err != nil {
		return nil, err
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, NewTimeoutError(ctx.Err(), "waiting for driver of %s", cfg.Key())
	}

	if e.driver != nil && p.reusable(ctx, factory, e) {
		p.opts.Collector.IncrementConnectionsReused(e.protocol)
		ylog.Debugf("DriverPool", "reuse driver for %s (usage: %d)", e.key, e.usageCount)
		return p.lease(e), nil
	}
	p.destroy(e)

	var driver DeviceDriver
	err = connectWithRetry(ctx, cfg, e.breaker, func() error {
		d, err := factory.Create(cfg)
		if err != nil {
			return err
		}
		if err := d.Open(ctx); err != nil {
			d.Close()
			p.opts.Collector.IncrementConnectionsFailed(cfg.Protocol)
			return err
		}
		driver = d
		return nil
	})
	if err != nil {
		<-e.sem
		if GetDeviceError(err) == nil {
			err = NewConnectionError(err, "connect to %s failed", cfg.Key())
		}
		return nil, err
	}

	p.opts.Collector.IncrementConnectionsCreated(cfg.Protocol)
	e.driver = driver
	e.protocol = cfg.Protocol
	e.createdAt = time.Now()
	e.usageCount = 0
	ylog.Infof("DriverPool", "driver for %s created (%s)", e.key, cfg.Protocol)
	return p.lease(e), nil
}

func (p *DriverPool) reusable(ctx context.Context, factory DriverFactory, e *poolEntry) bool {
	if !e.driver.IsAlive() {
		return false
	}
	if p.opts.IdleTimeout > 0 && time.Since(e.lastUsed) > p.opts.IdleTimeout {
		return factory.HealthCheck(ctx, e.driver)
	}
	return true
}

func (p *DriverPool) lease(e *poolEntry) *Lease {
	e.setState(StateAcquired)
	e.usageCount++
	return &Lease{DeviceDriver: e.driver, pool: p, entry: e}
}

// destroy 关闭并丢弃驱动，调用方需持有sem
func (p *DriverPool) destroy(e *poolEntry) {
	if e.driver == nil {
		return
	}
	if err := e.driver.Close(); err != nil {
		ylog.Debugf("DriverPool", "close driver for %s: %v", e.key, err)
	}
	p.opts.Collector.IncrementConnectionsDestroyed(e.protocol)
	e.driver = nil
	e.setState(StateClosed)
}

func (e *poolEntry) setState(target ConnectionState) {
	if !CanTransition(e.state, target) {
		ylog.Warnf("DriverPool", "unexpected state change for %s: %s -> %s", e.key, e.state, target)
	}
	e.state = target
}

// Close 关闭全部驱动。正在被持有的驱动在释放时关闭
func (p *DriverPool) Close() error {
	p.mu.Lock()
	p.closed = true
	entries := make([]*poolEntry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	for _, e := range entries {
		select {
		case e.sem <- struct{}{}:
			p.destroy(e)
			<-e.sem
		default:
		}
	}
	return nil
}

// Stats 返回各设备驱动状态
func (p *DriverPool) Stats() map[string]ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]ConnectionState, len(p.entries))
	for k, e := range p.entries {
		select {
		case e.sem <- struct{}{}:
			out[k] = e.state
			<-e.sem
		default:
			out[k] = StateAcquired
		}
	}
	return out
}

// Lease 对池中驱动的独占持有
type Lease struct {
	DeviceDriver
	pool     *DriverPool
	entry    *poolEntry
	released bool
}

// Release 归还驱动；opErr为致命错误或驱动已不可用时直接关闭
func (l *Lease) Release(opErr error) {
	if l.released {
		return
	}
	l.released = true
	e := l.entry

	l.pool.mu.Lock()
	poolClosed := l.pool.closed
	l.pool.mu.Unlock()

	switch {
	case poolClosed, IsFatal(opErr), !e.driver.IsAlive():
		l.pool.destroy(e)
	default:
		e.setState(StateIdle)
		e.lastUsed = time.Now()
	}
	<-e.sem
}
