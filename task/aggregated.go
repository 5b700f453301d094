package task

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/charlesren/device_session/result"
)

// AggregatedResult 一次运行在所有设备上的结果，按设备key索引
type AggregatedResult struct {
	ID        string                    `json:"id"`
	Task      TaskType                  `json:"task"`
	Results   map[string]*result.Result `json:"results"`
	StartTime time.Time                 `json:"start_time"`
	Duration  time.Duration             `json:"duration"`
}

func newAggregatedResult(task TaskType) *AggregatedResult {
	return &AggregatedResult{
		ID:        uuid.New().String(),
		Task:      task,
		Results:   make(map[string]*result.Result),
		StartTime: time.Now(),
	}
}

// Hosts 按字典序返回所有设备
func (a *AggregatedResult) Hosts() []string {
	out := make([]string, 0, len(a.Results))
	for h := range a.Results {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Failed 任意设备失败即为失败
func (a *AggregatedResult) Failed() bool {
	for _, r := range a.Results {
		if r.Failed {
			return true
		}
	}
	return false
}

// Changed 任意设备有变更
func (a *AggregatedResult) Changed() bool {
	for _, r := range a.Results {
		if r.Changed {
			return true
		}
	}
	return false
}

func (a *AggregatedResult) FailedHosts() []string {
	var out []string
	for _, h := range a.Hosts() {
		if a.Results[h].Failed {
			out = append(out, h)
		}
	}
	return out
}

// RaiseOnError 有设备失败时返回ExecutionError
func (a *AggregatedResult) RaiseOnError() error {
	failed := a.FailedHosts()
	if len(failed) == 0 {
		return nil
	}
	e := &ExecutionError{Task: a.Task, Failed: make(map[string]*result.Result, len(failed))}
	for _, h := range failed {
		e.Failed[h] = a.Results[h]
	}
	return e
}

// ExecutionError 汇总失败设备的错误
type ExecutionError struct {
	Task   TaskType
	Failed map[string]*result.Result
}

func (e *ExecutionError) Error() string {
	hosts := make([]string, 0, len(e.Failed))
	for h := range e.Failed {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	parts := make([]string, 0, len(hosts))
	for _, h := range hosts {
		parts = append(parts, fmt.Sprintf("%s: %s", h, failureMessage(e.Failed[h])))
	}
	return fmt.Sprintf("task %s failed on %d host(s): %s", e.Task, len(hosts), strings.Join(parts, "; "))
}

// failureMessage 失败结果的可读原因
func failureMessage(r *result.Result) string {
	if r.Err != nil || r.Kind == result.KindText {
		return r.String()
	}
	for _, resp := range r.Responses {
		if resp.Failed {
			return fmt.Sprintf("%q matched %q", resp.ChannelInput, resp.FailedReason)
		}
	}
	return "failed"
}
