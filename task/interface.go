package task

import (
	"context"
	"time"

	"github.com/charlesren/device_session/connection"
	"github.com/charlesren/device_session/result"
)

// TaskType 任务名称，与编排层约定
type TaskType string

const (
	TaskGetPrompt       TaskType = "get_prompt"
	TaskSendCommand     TaskType = "send_command"
	TaskSendCommands    TaskType = "send_commands"
	TaskSendConfigs     TaskType = "send_configs"
	TaskSendInteractive TaskType = "send_interactive"
)

func (t TaskType) String() string {
	return string(t)
}

// GetPrompt 返回设备当前提示符
func GetPrompt(ctx context.Context, d connection.DeviceDriver) *result.Result {
	start := time.Now()
	prompt, err := d.GetPrompt(ctx)
	if err != nil {
		return finish(result.Fold(TaskGetPrompt.String(), d.Host(), nil, err), start)
	}
	return finish(result.Text(TaskGetPrompt.String(), d.Host(), prompt), start)
}

// SendCommand 执行单条命令，结果为清洗后的文本
func SendCommand(ctx context.Context, d connection.DeviceDriver, command string, opts ...connection.OpOption) *result.Result {
	start := time.Now()
	resp, err := d.SendCommand(ctx, command, opts...)
	if err != nil {
		return finish(result.Fold(TaskSendCommand.String(), d.Host(), nil, err), start)
	}
	return finish(result.Text(TaskSendCommand.String(), d.Host(), resp.Result, resp), start)
}

// SendCommands 顺序执行多条命令，结果为Response序列
func SendCommands(ctx context.Context, d connection.DeviceDriver, commands []string, opts ...connection.OpOption) *result.Result {
	start := time.Now()
	resps, err := d.SendCommands(ctx, commands, opts...)
	return finish(result.Fold(TaskSendCommands.String(), d.Host(), resps, err).AsSequence(), start)
}

// SendConfigs 下发配置，dry-run时结果没有输出
func SendConfigs(ctx context.Context, d connection.DeviceDriver, configs []string, opts ...connection.OpOption) *result.Result {
	start := time.Now()
	resps, err := d.SendConfigs(ctx, configs, opts...)
	return finish(result.Fold(TaskSendConfigs.String(), d.Host(), resps, err).AsSequence(), start)
}

// SendInteractive 执行交互序列，结果为单个Response
func SendInteractive(ctx context.Context, d connection.DeviceDriver, events []connection.InteractEvent, opts ...connection.OpOption) *result.Result {
	start := time.Now()
	resp, err := d.SendInteractive(ctx, events, opts...)
	var resps []*result.Response
	if resp != nil {
		resps = append(resps, resp)
	}
	return finish(result.Fold(TaskSendInteractive.String(), d.Host(), resps, err), start)
}

func finish(r *result.Result, start time.Time) *result.Result {
	r.Duration = time.Since(start)
	return r
}
