package result

import (
	"time"
)

// Response 一次下发（命令/配置行/交互序列）的执行记录。
// 由驱动创建并填充，返回给调用方后不再修改
type Response struct {
	Host               string    `json:"host"`
	ChannelInput       string    `json:"channel_input"`
	RawResult          []byte    `json:"-"`
	Result             string    `json:"result"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	ElapsedTime        float64   `json:"elapsed_time"` // 秒
	FailedWhenContains []string  `json:"failed_when_contains,omitempty"`
	Failed             bool      `json:"failed"`
	FailedReason       string    `json:"failed_reason,omitempty"`
	Changed            bool      `json:"changed"`
	// Skipped dry-run占位，未与设备交互
	Skipped bool `json:"skipped,omitempty"`
}

// NewResponse 创建未完成的Response，StartTime为当前时间
func NewResponse(host, channelInput string, failedWhenContains []string) *Response {
	return &Response{
		Host:               host,
		ChannelInput:       channelInput,
		StartTime:          time.Now(),
		FailedWhenContains: failedWhenContains,
	}
}

// NewSkippedResponse dry-run使用的占位Response
func NewSkippedResponse(host, channelInput string) *Response {
	now := time.Now()
	return &Response{
		Host:         host,
		ChannelInput: channelInput,
		StartTime:    now,
		EndTime:      now,
		Skipped:      true,
	}
}

// Record 记录设备输出并计算耗时
func (r *Response) Record(raw []byte, result string) {
	r.EndTime = time.Now()
	r.ElapsedTime = r.EndTime.Sub(r.StartTime).Seconds()
	r.RawResult = raw
	r.Result = result
}

// Fail 标记失败并记录原因
func (r *Response) Fail(reason string) {
	r.Failed = true
	r.FailedReason = reason
	r.Changed = false
}
