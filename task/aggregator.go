package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charlesren/ylog"

	"github.com/charlesren/device_session/connection"
	"github.com/charlesren/device_session/result"
)

var ErrAggregatorStopped = errors.New("aggregator stopped")

// ResultEvent 单台设备一次任务的结果事件，交给各处理器输出
type ResultEvent struct {
	RunID     string            `json:"run_id" bson:"run_id"`
	Host      string            `json:"host" bson:"host"`
	Name      string            `json:"name,omitempty" bson:"name,omitempty"`
	Platform  string            `json:"platform,omitempty" bson:"platform,omitempty"`
	Labels    map[string]string `json:"labels,omitempty" bson:"labels,omitempty"`
	TaskType  string            `json:"task_type" bson:"task_type"`
	Timestamp time.Time         `json:"timestamp" bson:"timestamp"`
	Success   bool              `json:"success" bson:"success"`
	Changed   bool              `json:"changed" bson:"changed"`
	Output    string            `json:"output,omitempty" bson:"output,omitempty"`
	Error     string            `json:"error,omitempty" bson:"error,omitempty"`
	Duration  time.Duration     `json:"duration" bson:"duration"`
}

// NewResultEvent 由设备结果生成事件，cfg可以为空
func NewResultEvent(runID string, cfg *connection.DeviceConfig, r *result.Result) ResultEvent {
	e := ResultEvent{
		RunID:     runID,
		Host:      r.Host,
		TaskType:  r.Task,
		Timestamp: time.Now(),
		Success:   !r.Failed,
		Changed:   r.Changed,
		Output:    r.String(),
		Duration:  r.Duration,
	}
	if r.Failed {
		e.Error = failureMessage(r)
	}
	if cfg != nil {
		e.Name = cfg.Name
		e.Platform = cfg.Platform.String()
		e.Labels = cfg.Labels
	}
	return e
}

// ResultHandler 结果处理器接口
type ResultHandler interface {
	HandleResult(events []ResultEvent) error
}

// Aggregator 结果聚合器，事件缓冲到一定数量或定时批量交给处理器
type Aggregator struct {
	handlers      []ResultHandler
	eventChan     chan ResultEvent
	workers       int
	buffer        []ResultEvent
	bufferSize    int
	flushInterval time.Duration
	mu            sync.Mutex
	wg            sync.WaitGroup
	stopOnce      sync.Once
	ctx           context.Context
	cancel        context.CancelFunc

	stats struct {
		sync.RWMutex
		totalEvents   int64
		successEvents int64
		failedEvents  int64
		lastFlush     time.Time
	}
}

func NewAggregator(workers int, bufferSize int, flushInterval time.Duration) *Aggregator {
	if workers <= 0 {
		workers = 1
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Aggregator{
		eventChan:     make(chan ResultEvent, workers*2),
		workers:       workers,
		buffer:        make([]ResultEvent, 0, bufferSize),
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// AddHandler 必须在Start之前调用
func (a *Aggregator) AddHandler(handler ResultHandler) {
	a.handlers = append(a.handlers, handler)
	ylog.Infof("aggregator", "added handler: %T (total handlers: %d)", handler, len(a.handlers))
}

func (a *Aggregator) Start() {
	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go a.worker(i)
	}
	a.wg.Add(1)
	go a.bufferManager()

	ylog.Infof("aggregator", "started with %d workers, buffer size %d, flush interval %v, %d handlers",
		a.workers, a.bufferSize, a.flushInterval, len(a.handlers))
}

// Stop 处理完队列中的事件后停止，并做最后一次刷新
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		a.cancel()
		a.wg.Wait()
		// worker退出后队列里可能还有事件
		for {
			select {
			case event := <-a.eventChan:
				a.processEvent(-1, event)
				continue
			default:
			}
			break
		}
		a.flush()

		stats := a.GetStats()
		ylog.Infof("aggregator", "aggregator stopped - total events: %d (success: %d, failed: %d)",
			stats.TotalEvents, stats.SuccessEvents, stats.FailedEvents)
	})
}

// Submit 提交事件，队列满时等待
func (a *Aggregator) Submit(ctx context.Context, event ResultEvent) error {
	select {
	case a.eventChan <- event:
		return nil
	case <-a.ctx.Done():
		return ErrAggregatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitResult 提交设备结果（便捷方法）
func (a *Aggregator) SubmitResult(ctx context.Context, runID string, cfg *connection.DeviceConfig, r *result.Result) error {
	event := NewResultEvent(runID, cfg, r)
	ylog.Debugf("aggregator", "submitting result for %s (task: %s, success: %t, duration: %v)",
		event.Host, event.TaskType, event.Success, event.Duration)
	return a.Submit(ctx, event)
}

func (a *Aggregator) worker(id int) {
	defer a.wg.Done()
	for {
		select {
		case event := <-a.eventChan:
			a.processEvent(id, event)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *Aggregator) processEvent(workerID int, event ResultEvent) {
	a.mu.Lock()
	a.buffer = append(a.buffer, event)
	shouldFlush := len(a.buffer) >= a.bufferSize
	a.mu.Unlock()

	a.updateStats(event)
	if shouldFlush {
		a.flush()
	}
	ylog.Debugf("aggregator", "worker %d: processed event for %s (task: %s, success: %t)",
		workerID, event.Host, event.TaskType, event.Success)
}

func (a *Aggregator) bufferManager() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.ctx.Done():
			return
		}
	}
}

// Flush 立即把缓冲区交给处理器
func (a *Aggregator) Flush() {
	a.flush()
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	if len(a.buffer) == 0 {
		a.mu.Unlock()
		return
	}
	events := make([]ResultEvent, len(a.buffer))
	copy(events, a.buffer)
	a.buffer = a.buffer[:0]
	a.mu.Unlock()

	a.handleEvents(events)

	a.stats.Lock()
	a.stats.lastFlush = time.Now()
	a.stats.Unlock()

	success := countSuccessEvents(events)
	ylog.Infof("aggregator", "flushed %d events (success: %d, failed: %d)",
		len(events), success, len(events)-success)
}

func (a *Aggregator) handleEvents(events []ResultEvent) {
	if len(a.handlers) == 0 {
		ylog.Warnf("aggregator", "no handlers registered, dropping %d events", len(events))
		return
	}
	for _, handler := range a.handlers {
		if err := handler.HandleResult(events); err != nil {
			ylog.Errorf("aggregator", "handler %T failed to process %d events: %v", handler, len(events), err)
		}
	}
}

func (a *Aggregator) updateStats(event ResultEvent) {
	a.stats.Lock()
	defer a.stats.Unlock()
	a.stats.totalEvents++
	if event.Success {
		a.stats.successEvents++
	} else {
		a.stats.failedEvents++
	}
}

func (a *Aggregator) GetStats() AggregatorStats {
	a.stats.RLock()
	defer a.stats.RUnlock()

	a.mu.Lock()
	buffered := len(a.buffer)
	a.mu.Unlock()

	return AggregatorStats{
		TotalEvents:   a.stats.totalEvents,
		SuccessEvents: a.stats.successEvents,
		FailedEvents:  a.stats.failedEvents,
		LastFlush:     a.stats.lastFlush,
		QueueLength:   len(a.eventChan),
		BufferLength:  buffered,
	}
}

type AggregatorStats struct {
	TotalEvents   int64     `json:"total_events"`
	SuccessEvents int64     `json:"success_events"`
	FailedEvents  int64     `json:"failed_events"`
	LastFlush     time.Time `json:"last_flush"`
	QueueLength   int       `json:"queue_length"`
	BufferLength  int       `json:"buffer_length"`
}

func countSuccessEvents(events []ResultEvent) int {
	count := 0
	for _, event := range events {
		if event.Success {
			count++
		}
	}
	return count
}
