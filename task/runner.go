package task

import (
	"context"
	"sync"
	"time"

	"github.com/charlesren/ylog"
	"golang.org/x/sync/errgroup"

	"github.com/charlesren/device_session/connection"
	"github.com/charlesren/device_session/result"
)

const DefaultConcurrency = 20

// Runner 在多台设备上并发执行同一任务，每台设备同时只有一个会话在用
type Runner struct {
	pool        *connection.DriverPool
	registry    Registry
	concurrency int
	aggregator  *Aggregator
}

type RunnerOption func(*Runner)

// WithConcurrency 同时执行的设备数上限
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithRegistry(reg Registry) RunnerOption {
	return func(r *Runner) {
		r.registry = reg
	}
}

// WithAggregator 运行结束后把每台设备的结果提交给聚合器
func WithAggregator(a *Aggregator) RunnerOption {
	return func(r *Runner) {
		r.aggregator = a
	}
}

func NewRunner(pool *connection.DriverPool, opts ...RunnerOption) *Runner {
	r := &Runner{
		pool:        pool,
		registry:    NewDefaultRegistry(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run 参数错误在连接任何设备前返回；单台设备的失败记录在其Result中
func (r *Runner) Run(ctx context.Context, devices []*connection.DeviceConfig, taskType TaskType, params map[string]interface{}) (*AggregatedResult, error) {
	t, err := r.registry.Discover(taskType)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	if err := t.ValidateParams(params); err != nil {
		ylog.Errorf("runner", "invalid params for %s: %v", taskType, err)
		return nil, err
	}

	agg := newAggregatedResult(taskType)
	ylog.Infof("runner", "run %s: %s on %d device(s), concurrency %d", agg.ID, taskType, len(devices), r.concurrency)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.concurrency)
	byKey := devicesByKey(devices)
	for key, cfg := range byKey {
		key, cfg := key, cfg
		g.Go(func() error {
			res := r.runOne(ctx, t, key, cfg, params)
			mu.Lock()
			agg.Results[key] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	agg.Duration = time.Since(agg.StartTime)

	failed := agg.FailedHosts()
	ylog.Infof("runner", "run %s finished in %v: %d device(s), %d failed",
		agg.ID, agg.Duration, len(agg.Results), len(failed))

	if r.aggregator != nil {
		for _, h := range agg.Hosts() {
			if err := r.aggregator.SubmitResult(ctx, agg.ID, byKey[h], agg.Results[h]); err != nil {
				ylog.Warnf("runner", "submit result of %s failed: %v", h, err)
			}
		}
	}
	return agg, nil
}

func (r *Runner) runOne(ctx context.Context, t Task, key string, cfg *connection.DeviceConfig, params map[string]interface{}) *result.Result {
	start := time.Now()
	lease, err := r.pool.Acquire(ctx, cfg)
	if err != nil {
		ylog.Warnf("runner", "%s: acquire driver failed: %v", key, err)
		res := result.Fold(t.Meta().Type.String(), cfg.Host, nil, err)
		res.Duration = time.Since(start)
		return res
	}

	res := t.Run(ctx, lease, params)
	lease.Release(res.Err)
	if res.Failed {
		ylog.Warnf("runner", "%s: %s failed", key, t.Meta().Type)
	} else {
		ylog.Debugf("runner", "%s: %s done (changed: %t)", key, t.Meta().Type, res.Changed)
	}
	return res
}

// devicesByKey 按连接池使用的标识（填充默认端口后）索引设备
func devicesByKey(devices []*connection.DeviceConfig) map[string]*connection.DeviceConfig {
	out := make(map[string]*connection.DeviceConfig, len(devices))
	for _, d := range devices {
		out[d.Normalized().Key()] = d
	}
	return out
}
