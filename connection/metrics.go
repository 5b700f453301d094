package connection

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector 连接与操作指标收集器
type MetricsCollector interface {
	// 连接指标
	IncrementConnectionsCreated(protocol Protocol)
	IncrementConnectionsDestroyed(protocol Protocol)
	IncrementConnectionsReused(protocol Protocol)
	IncrementConnectionsFailed(protocol Protocol)

	// 操作指标
	RecordOperation(protocol Protocol, operation string, duration time.Duration, err error)

	GetMetrics() *MetricsSnapshot
	Reset()
}

// MetricsSnapshot 指标快照
type MetricsSnapshot struct {
	Timestamp         time.Time                                 `json:"timestamp"`
	Uptime            time.Duration                             `json:"uptime"`
	ConnectionMetrics map[Protocol]*ConnectionMetrics           `json:"connection_metrics"`
	OperationMetrics  map[Protocol]map[string]*OperationMetrics `json:"operation_metrics"`
}

// ConnectionMetrics 连接指标
type ConnectionMetrics struct {
	Created   int64 `json:"created"`
	Destroyed int64 `json:"destroyed"`
	Reused    int64 `json:"reused"`
	Failed    int64 `json:"failed"`
	Active    int64 `json:"active"`
}

// OperationMetrics 操作指标
type OperationMetrics struct {
	Count         int64         `json:"count"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
	MinDuration   time.Duration `json:"min_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	ErrorRate     float64       `json:"error_rate"`
}

// DefaultMetricsCollector 基于原子计数的默认实现
type DefaultMetricsCollector struct {
	mu                sync.RWMutex
	connectionMetrics map[Protocol]*atomicConnectionMetrics
	operationMetrics  map[Protocol]map[string]*atomicOperationMetrics
	startTime         time.Time
}

type atomicConnectionMetrics struct {
	created   int64
	destroyed int64
	reused    int64
	failed    int64
}

type atomicOperationMetrics struct {
	count         int64
	errors        int64
	totalDuration int64 // nanoseconds
	minDuration   int64 // nanoseconds
	maxDuration   int64 // nanoseconds
}

// NewDefaultMetricsCollector 创建默认指标收集器
func NewDefaultMetricsCollector() *DefaultMetricsCollector {
	return &DefaultMetricsCollector{
		connectionMetrics: make(map[Protocol]*atomicConnectionMetrics),
		operationMetrics:  make(map[Protocol]map[string]*atomicOperationMetrics),
		startTime:         time.Now(),
	}
}

func (c *DefaultMetricsCollector) IncrementConnectionsCreated(protocol Protocol) {
	atomic.AddInt64(&c.getConnectionMetrics(protocol).created, 1)
}

func (c *DefaultMetricsCollector) IncrementConnectionsDestroyed(protocol Protocol) {
	atomic.AddInt64(&c.getConnectionMetrics(protocol).destroyed, 1)
}

func (c *DefaultMetricsCollector) IncrementConnectionsReused(protocol Protocol) {
	atomic.AddInt64(&c.getConnectionMetrics(protocol).reused, 1)
}

func (c *DefaultMetricsCollector) IncrementConnectionsFailed(protocol Protocol) {
	atomic.AddInt64(&c.getConnectionMetrics(protocol).failed, 1)
}

// RecordOperation 记录一次操作的耗时及是否出错
func (c *DefaultMetricsCollector) RecordOperation(protocol Protocol, operation string, duration time.Duration, err error) {
	metrics := c.getOperationMetrics(protocol, operation)
	nanos := duration.Nanoseconds()

	atomic.AddInt64(&metrics.count, 1)
	if err != nil {
		atomic.AddInt64(&metrics.errors, 1)
	}
	atomic.AddInt64(&metrics.totalDuration, nanos)

	// 更新最小值
	for {
		current := atomic.LoadInt64(&metrics.minDuration)
		if current != 0 && nanos >= current {
			break
		}
		if atomic.CompareAndSwapInt64(&metrics.minDuration, current, nanos) {
			break
		}
	}

	// 更新最大值
	for {
		current := atomic.LoadInt64(&metrics.maxDuration)
		if nanos <= current {
			break
		}
		if atomic.CompareAndSwapInt64(&metrics.maxDuration, current, nanos) {
			break
		}
	}
}

// GetMetrics 获取指标快照
func (c *DefaultMetricsCollector) GetMetrics() *MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	snapshot := &MetricsSnapshot{
		Timestamp:         now,
		Uptime:            now.Sub(c.startTime),
		ConnectionMetrics: make(map[Protocol]*ConnectionMetrics, len(c.connectionMetrics)),
		OperationMetrics:  make(map[Protocol]map[string]*OperationMetrics, len(c.operationMetrics)),
	}

	for protocol, m := range c.connectionMetrics {
		cm := &ConnectionMetrics{
			Created:   atomic.LoadInt64(&m.created),
			Destroyed: atomic.LoadInt64(&m.destroyed),
			Reused:    atomic.LoadInt64(&m.reused),
			Failed:    atomic.LoadInt64(&m.failed),
		}
		cm.Active = cm.Created - cm.Destroyed
		snapshot.ConnectionMetrics[protocol] = cm
	}

	for protocol, ops := range c.operationMetrics {
		out := make(map[string]*OperationMetrics, len(ops))
		for name, m := range ops {
			om := &OperationMetrics{
				Count:         atomic.LoadInt64(&m.count),
				Errors:        atomic.LoadInt64(&m.errors),
				TotalDuration: time.Duration(atomic.LoadInt64(&m.totalDuration)),
				MinDuration:   time.Duration(atomic.LoadInt64(&m.minDuration)),
				MaxDuration:   time.Duration(atomic.LoadInt64(&m.maxDuration)),
			}
			if om.Count > 0 {
				om.AvgDuration = om.TotalDuration / time.Duration(om.Count)
				om.ErrorRate = float64(om.Errors) / float64(om.Count)
			}
			out[name] = om
		}
		snapshot.OperationMetrics[protocol] = out
	}
	return snapshot
}

// Reset 重置指标
func (c *DefaultMetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectionMetrics = make(map[Protocol]*atomicConnectionMetrics)
	c.operationMetrics = make(map[Protocol]map[string]*atomicOperationMetrics)
	c.startTime = time.Now()
}

func (c *DefaultMetricsCollector) getConnectionMetrics(protocol Protocol) *atomicConnectionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	if metrics, exists := c.connectionMetrics[protocol]; exists {
		return metrics
	}
	metrics := &atomicConnectionMetrics{}
	c.connectionMetrics[protocol] = metrics
	return metrics
}

func (c *DefaultMetricsCollector) getOperationMetrics(protocol Protocol, operation string) *atomicOperationMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	operations, exists := c.operationMetrics[protocol]
	if !exists {
		operations = make(map[string]*atomicOperationMetrics)
		c.operationMetrics[protocol] = operations
	}
	if metrics, exists := operations[operation]; exists {
		return metrics
	}
	metrics := &atomicOperationMetrics{}
	operations[operation] = metrics
	return metrics
}

// 全局指标收集器实例
var (
	globalMetricsCollector MetricsCollector = NewDefaultMetricsCollector()
	metricsMu              sync.RWMutex
)

// GetGlobalMetricsCollector 获取全局指标收集器
func GetGlobalMetricsCollector() MetricsCollector {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetricsCollector
}

// SetGlobalMetricsCollector 设置全局指标收集器
func SetGlobalMetricsCollector(collector MetricsCollector) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetricsCollector = collector
}
