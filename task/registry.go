package task

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/charlesren/ylog"

	"github.com/charlesren/device_session/connection"
	"github.com/charlesren/device_session/result"
)

// Task 按名称注册的任务。
// ValidateParams在连接任何设备之前调用，参数错误必须在这里发现
type Task interface {
	Meta() TaskMeta
	ValidateParams(params map[string]interface{}) error
	Run(ctx context.Context, d connection.DeviceDriver, params map[string]interface{}) *result.Result
}

type TaskMeta struct {
	Type        TaskType
	Description string
	// ChangesConfig 任务是否可能修改设备配置
	ChangesConfig bool
}

type Registry interface {
	Register(t Task) error
	Discover(taskType TaskType) (Task, error)
	List() []TaskType
}

type DefaultRegistry struct {
	tasks map[TaskType]Task
	mu    sync.RWMutex
}

var _ Registry = (*DefaultRegistry)(nil)

// NewDefaultRegistry 创建已注册内置任务的注册表
func NewDefaultRegistry() Registry {
	r := &DefaultRegistry{
		tasks: make(map[TaskType]Task),
	}
	for _, t := range builtinTasks() {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *DefaultRegistry) Register(t Task) error {
	meta := t.Meta()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[meta.Type]; exists {
		ylog.Warnf("registry", "task %s already registered", meta.Type)
		return fmt.Errorf("task '%s' already registered", meta.Type)
	}
	r.tasks[meta.Type] = t
	ylog.Debugf("registry", "registered task: %s", meta.Type)
	return nil
}

func (r *DefaultRegistry) Discover(taskType TaskType) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tasks[taskType]
	if !exists {
		ylog.Errorf("registry", "task type not found: %s", taskType)
		return nil, connection.NewArgumentError("task type '%s' not found", taskType)
	}
	return t, nil
}

func (r *DefaultRegistry) List() []TaskType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TaskType, 0, len(r.tasks))
	for name := range r.tasks {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// funcTask 以函数实现Task
type funcTask struct {
	meta     TaskMeta
	validate func(params map[string]interface{}) error
	run      func(ctx context.Context, d connection.DeviceDriver, params map[string]interface{}) (*result.Result, error)
}

func (t *funcTask) Meta() TaskMeta {
	return t.meta
}

func (t *funcTask) ValidateParams(params map[string]interface{}) error {
	if t.validate == nil {
		return nil
	}
	return t.validate(params)
}

func (t *funcTask) Run(ctx context.Context, d connection.DeviceDriver, params map[string]interface{}) *result.Result {
	r, err := t.run(ctx, d, params)
	if err != nil {
		return result.Fold(t.meta.Type.String(), d.Host(), nil, err)
	}
	return r
}

func builtinTasks() []Task {
	return []Task{
		&funcTask{
			meta: TaskMeta{Type: TaskGetPrompt, Description: "return the current prompt"},
			run: func(ctx context.Context, d connection.DeviceDriver, _ map[string]interface{}) (*result.Result, error) {
				return GetPrompt(ctx, d), nil
			},
		},
		&funcTask{
			meta: TaskMeta{Type: TaskSendCommand, Description: "send a single command"},
			validate: func(params map[string]interface{}) error {
				if _, err := stringParam(TaskSendCommand, params, ParamCommand); err != nil {
					return err
				}
				_, err := opOptions(TaskSendCommand, params)
				return err
			},
			run: func(ctx context.Context, d connection.DeviceDriver, params map[string]interface{}) (*result.Result, error) {
				cmd, err := stringParam(TaskSendCommand, params, ParamCommand)
				if err != nil {
					return nil, err
				}
				opts, err := opOptions(TaskSendCommand, params)
				if err != nil {
					return nil, err
				}
				return SendCommand(ctx, d, cmd, opts...), nil
			},
		},
		&funcTask{
			meta:     TaskMeta{Type: TaskSendCommands, Description: "send a list of commands"},
			validate: listValidator(TaskSendCommands, ParamCommands),
			run: func(ctx context.Context, d connection.DeviceDriver, params map[string]interface{}) (*result.Result, error) {
				cmds, opts, err := listParams(TaskSendCommands, ParamCommands, params)
				if err != nil {
					return nil, err
				}
				return SendCommands(ctx, d, cmds, opts...), nil
			},
		},
		&funcTask{
			meta:     TaskMeta{Type: TaskSendConfigs, Description: "send configuration lines", ChangesConfig: true},
			validate: listValidator(TaskSendConfigs, ParamConfigs),
			run: func(ctx context.Context, d connection.DeviceDriver, params map[string]interface{}) (*result.Result, error) {
				configs, opts, err := listParams(TaskSendConfigs, ParamConfigs, params)
				if err != nil {
					return nil, err
				}
				return SendConfigs(ctx, d, configs, opts...), nil
			},
		},
		&funcTask{
			meta: TaskMeta{Type: TaskSendInteractive, Description: "run an interactive event sequence", ChangesConfig: true},
			validate: func(params map[string]interface{}) error {
				if _, err := eventsParam(TaskSendInteractive, params); err != nil {
					return err
				}
				_, err := opOptions(TaskSendInteractive, params)
				return err
			},
			run: func(ctx context.Context, d connection.DeviceDriver, params map[string]interface{}) (*result.Result, error) {
				events, err := eventsParam(TaskSendInteractive, params)
				if err != nil {
					return nil, err
				}
				opts, err := opOptions(TaskSendInteractive, params)
				if err != nil {
					return nil, err
				}
				return SendInteractive(ctx, d, events, opts...), nil
			},
		},
	}
}

func listValidator(task TaskType, name string) func(map[string]interface{}) error {
	return func(params map[string]interface{}) error {
		_, _, err := listParams(task, name, params)
		return err
	}
}

func listParams(task TaskType, name string, params map[string]interface{}) ([]string, []connection.OpOption, error) {
	list, err := stringsParam(task, params, name)
	if err != nil {
		return nil, nil, err
	}
	opts, err := opOptions(task, params)
	if err != nil {
		return nil, nil, err
	}
	return list, opts, nil
}
