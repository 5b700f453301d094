package connection

import (
	"strings"
	"time"
)

type Protocol string

const (
	// ProtocolSSH 内置会话引擎，SSH传输
	ProtocolSSH Protocol = "ssh"
	// ProtocolTelnet 内置会话引擎，telnet传输，带内登录
	ProtocolTelnet Protocol = "telnet"
	// ProtocolScrapli 由scrapligo驱动
	ProtocolScrapli Protocol = "scrapli"
)

// InteractEvent 交互序列中的一步：发送Input后等待Response出现
type InteractEvent struct {
	Input    string `json:"input" yaml:"input" mapstructure:"input"`
	Response string `json:"response" yaml:"response" mapstructure:"response"`
	// HideInput 为true时输入内容不回显也不记录日志（如密码）
	HideInput bool `json:"hide_input" yaml:"hide_input" mapstructure:"hide_input"`
}

// OpOptions 单次操作的可选参数
type OpOptions struct {
	StripPrompt bool
	// FailedWhenContains 为nil时使用平台默认值
	FailedWhenContains []string
	Timeout            time.Duration
	DryRun             bool
}

type OpOption func(*OpOptions)

// WithNoStripPrompt 输出中保留末尾提示符
func WithNoStripPrompt() OpOption {
	return func(o *OpOptions) { o.StripPrompt = false }
}

// WithFailedWhenContains 覆盖平台默认的失败标记
func WithFailedWhenContains(fwc []string) OpOption {
	return func(o *OpOptions) { o.FailedWhenContains = fwc }
}

// WithTimeoutOps 覆盖会话的单次操作超时
func WithTimeoutOps(d time.Duration) OpOption {
	return func(o *OpOptions) { o.Timeout = d }
}

// WithDryRun 仅用于SendConfigs，不与设备交互
func WithDryRun(dry bool) OpOption {
	return func(o *OpOptions) { o.DryRun = dry }
}

// NewOpOptions 合并选项，defaultTimeout为会话配置的操作超时
func NewOpOptions(defaultTimeout time.Duration, opts ...OpOption) *OpOptions {
	o := &OpOptions{
		StripPrompt: true,
		Timeout:     defaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// JoinLines 多行配置合并为一个输入，dry-run占位使用
func JoinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

// InteractInput 交互序列的输入摘要，隐藏输入以"***"代替
func InteractInput(events []InteractEvent) string {
	parts := make([]string, 0, len(events))
	for _, e := range events {
		if e.HideInput {
			parts = append(parts, "***")
			continue
		}
		parts = append(parts, e.Input)
	}
	return strings.Join(parts, ", ")
}
