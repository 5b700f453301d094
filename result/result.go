package result

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind 描述Result中承载的值形态
type Kind int

const (
	KindNone      Kind = iota // 无输出（dry-run或异常）
	KindText                  // 单个字符串
	KindResponse              // 单个Response
	KindResponses             // 有序Response序列
)

// Result 单台设备上一次任务调用的结果
type Result struct {
	Task      string        `json:"task"`
	Host      string        `json:"host"`
	Kind      Kind          `json:"kind"`
	Output    *string       `json:"output,omitempty"`
	Responses []*Response   `json:"responses,omitempty"`
	Failed    bool          `json:"failed"`
	Changed   bool          `json:"changed"`
	Err       error         `json:"-"`
	Duration  time.Duration `json:"duration"`
}

// Fold 将一次任务产生的Response折叠为Result。
// err不为空时Result必然失败，且Output携带可读的错误信息
func Fold(task, host string, responses []*Response, err error) *Result {
	r := &Result{
		Task:      task,
		Host:      host,
		Responses: responses,
	}
	switch len(responses) {
	case 0:
		r.Kind = KindNone
	case 1:
		r.Kind = KindResponse
	default:
		r.Kind = KindResponses
	}
	skipped := 0
	for _, resp := range responses {
		if resp == nil {
			continue
		}
		r.Failed = r.Failed || resp.Failed
		r.Changed = r.Changed || resp.Changed
		if resp.Skipped {
			skipped++
		}
	}
	// 全部为dry-run占位时没有输出
	if skipped > 0 && skipped == len(responses) {
		r.Kind = KindNone
	}
	if err != nil {
		r.Fail(err)
	}
	return r
}

// Text 构造字符串形态的Result
func Text(task, host, text string, responses ...*Response) *Result {
	r := Fold(task, host, responses, nil)
	r.Kind = KindText
	r.Output = &text
	return r
}

// Fail 以错误结束Result，错误信息作为输出。
// 已下发成功的配置仍保留Changed标志
func (r *Result) Fail(err error) {
	msg := err.Error()
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		msg = um.UserMessage()
	}
	r.Err = err
	r.Failed = true
	r.Kind = KindText
	r.Output = &msg
}

// AsSequence 强制将单个Response按序列对待
func (r *Result) AsSequence() *Result {
	if r.Kind == KindResponse {
		r.Kind = KindResponses
	}
	return r
}

// String 返回输出文本，不同形态下取值：
// 文本→本身；单Response→其Result；序列→各Result以换行拼接
func (r *Result) String() string {
	switch r.Kind {
	case KindText:
		if r.Output != nil {
			return *r.Output
		}
	case KindResponse:
		return r.Responses[0].Result
	case KindResponses:
		parts := make([]string, 0, len(r.Responses))
		for _, resp := range r.Responses {
			parts = append(parts, resp.Result)
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// HasOutput dry-run等场景下没有任何输出
func (r *Result) HasOutput() bool {
	return r.Kind != KindNone
}

// Response 返回唯一的Response；非单Response形态返回nil
func (r *Result) Response() *Response {
	if r.Kind != KindResponse {
		return nil
	}
	return r.Responses[0]
}

// At 按下标取序列中的Response
func (r *Result) At(i int) *Response {
	if i < 0 || i >= len(r.Responses) {
		return nil
	}
	return r.Responses[i]
}

func (r *Result) Len() int {
	return len(r.Responses)
}

// Merge 合并同一设备上的两个结果：Response按顺序拼接，标志位取或。
// 满足结合律，重复执行确定性的会话得到相同结果
func Merge(a, b *Result) *Result {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := &Result{
		Task:      a.Task,
		Host:      a.Host,
		Responses: append(append([]*Response{}, a.Responses...), b.Responses...),
		Failed:    a.Failed || b.Failed,
		Changed:   a.Changed || b.Changed,
		Duration:  a.Duration + b.Duration,
	}
	switch {
	case a.Err != nil && b.Err != nil:
		out.Err = fmt.Errorf("%w; %w", a.Err, b.Err)
	case a.Err != nil:
		out.Err = a.Err
	default:
		out.Err = b.Err
	}

	var texts []string
	for _, r := range []*Result{a, b} {
		if r.Output != nil {
			texts = append(texts, *r.Output)
		}
	}
	if len(texts) > 0 {
		joined := strings.Join(texts, "\n")
		out.Output = &joined
	}

	switch {
	case len(out.Responses) > 0:
		out.Kind = KindResponses
	case out.Output != nil:
		out.Kind = KindText
	default:
		out.Kind = KindNone
	}
	return out
}
