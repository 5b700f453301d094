package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlesren/device_session/connection"
	"github.com/charlesren/device_session/result"
)

func TestNewDefaultRegistry(t *testing.T) {
	reg := NewDefaultRegistry()
	assert.Equal(t, []TaskType{
		TaskGetPrompt, TaskSendCommand, TaskSendCommands, TaskSendConfigs, TaskSendInteractive,
	}, reg.List())

	_, err := reg.Discover("send_magic")
	require.Error(t, err)
	assert.True(t, connection.IsErrorCode(err, connection.ErrCodeArgument))
}

func TestDefaultRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewDefaultRegistry()
	err := reg.Register(&funcTask{meta: TaskMeta{Type: TaskSendCommand}})
	require.Error(t, err)
	assert.Equal(t, "task 'send_command' already registered", err.Error())
}

func TestValidateParams(t *testing.T) {
	tests := []struct {
		name    string
		task    TaskType
		params  map[string]interface{}
		wantMsg string
	}{
		{"commands as string", TaskSendCommands, map[string]interface{}{ParamCommands: "show version"},
			"send_commands expects a list of strings, got string"},
		{"configs as string", TaskSendConfigs, map[string]interface{}{ParamConfigs: "interface lo0"},
			"send_configs expects a list of strings, got string"},
		{"commands with a number", TaskSendCommands, map[string]interface{}{ParamCommands: []interface{}{"show version", 1}},
			"send_commands expects a list of strings, got element of type int"},
		{"missing command", TaskSendCommand, map[string]interface{}{},
			"send_command requires param 'command'"},
		{"command as list", TaskSendCommand, map[string]interface{}{ParamCommand: []string{"show version"}},
			"send_command expects a string for 'command', got []string"},
		{"dry run as string", TaskSendConfigs, map[string]interface{}{ParamConfigs: []string{"a"}, ParamDryRun: "yes"},
			"send_configs expects a bool for 'dry_run', got string"},
		{"bad timeout", TaskSendCommand, map[string]interface{}{ParamCommand: "show version", ParamTimeoutOps: "soon"},
			"send_command: invalid 'timeout_ops'"},
		{"event without input", TaskSendInteractive, map[string]interface{}{ParamEvents: []interface{}{map[string]interface{}{"response": "#"}}},
			"send_interactive: event 0: missing string 'input'"},
	}
	reg := NewDefaultRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := reg.Discover(tt.task)
			require.NoError(t, err)

			err = task.ValidateParams(tt.params)
			require.Error(t, err)
			assert.True(t, connection.IsErrorCode(err, connection.ErrCodeArgument))
			assert.Contains(t, connection.Message(err), tt.wantMsg)
		})
	}
}

func TestValidateParams_Accepts(t *testing.T) {
	reg := NewDefaultRegistry()
	cases := map[TaskType]map[string]interface{}{
		TaskGetPrompt:    nil,
		TaskSendCommand:  {ParamCommand: "show version", ParamStripPrompt: false, ParamTimeoutOps: 30},
		TaskSendCommands: {ParamCommands: []interface{}{"show version", "show clock"}},
		TaskSendConfigs:  {ParamConfigs: []string{"interface loopback123"}, ParamDryRun: true, ParamFailedWhenContains: []interface{}{"% Invalid"}},
		TaskSendInteractive: {ParamEvents: []interface{}{
			[]interface{}{"clear logg", "[confirm]"},
			map[string]interface{}{"input": "y", "response": "csr1000v#", "hide_input": false},
		}},
	}
	for name, params := range cases {
		task, err := reg.Discover(name)
		require.NoError(t, err)
		assert.NoError(t, task.ValidateParams(params), name)
	}
}

func TestTaskRun_ParamsBecomeOptions(t *testing.T) {
	configs := []string{"interface loopback123"}
	d := newMockDriver(host)
	d.On("SendConfigs", configs, true).
		Return([]*result.Response{result.NewSkippedResponse(host, configs[0])}, nil)

	task, err := NewDefaultRegistry().Discover(TaskSendConfigs)
	require.NoError(t, err)
	r := task.Run(context.Background(), d, map[string]interface{}{
		ParamConfigs: []interface{}{"interface loopback123"},
		ParamDryRun:  true,
	})
	assert.False(t, r.Failed)
	assert.False(t, r.HasOutput())
	d.AssertExpectations(t)
}

func TestTaskRun_InteractiveEvents(t *testing.T) {
	want := []connection.InteractEvent{
		{Input: "clear logg", Response: "[confirm]"},
		{Input: "secret", Response: "csr1000v#", HideInput: true},
	}
	d := newMockDriver(host)
	d.On("SendInteractive", want).Return(response(host, connection.InteractInput(want), "done", true), nil)

	task, err := NewDefaultRegistry().Discover(TaskSendInteractive)
	require.NoError(t, err)
	r := task.Run(context.Background(), d, map[string]interface{}{
		ParamEvents: []interface{}{
			[]interface{}{"clear logg", "[confirm]"},
			[]interface{}{"secret", "csr1000v#", true},
		},
	})
	assert.True(t, r.Changed)
	assert.Equal(t, "clear logg, ***", r.Response().ChannelInput)
	d.AssertExpectations(t)
}

func TestToDuration(t *testing.T) {
	tests := []struct {
		in   interface{}
		want time.Duration
	}{
		{"45s", 45 * time.Second},
		{10, 10 * time.Second},
		{1.5, 1500 * time.Millisecond},
		{2 * time.Minute, 2 * time.Minute},
	}
	for _, tt := range tests {
		got, err := toDuration(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := toDuration(true)
	assert.Error(t, err)
}
