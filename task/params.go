package task

import (
	"fmt"
	"time"

	"github.com/charlesren/device_session/connection"
)

// 参数名称
const (
	ParamCommand            = "command"
	ParamCommands           = "commands"
	ParamConfigs            = "configs"
	ParamEvents             = "interact_events"
	ParamStripPrompt        = "strip_prompt"
	ParamFailedWhenContains = "failed_when_contains"
	ParamTimeoutOps         = "timeout_ops"
	ParamDryRun             = "dry_run"
)

// stringParam 读取必填的字符串参数
func stringParam(task TaskType, params map[string]interface{}, name string) (string, error) {
	v, ok := params[name]
	if !ok {
		return "", connection.NewArgumentError("%s requires param '%s'", task, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", connection.NewArgumentError("%s expects a string for '%s', got %T", task, name, v)
	}
	return s, nil
}

// stringsParam 读取字符串列表参数。
// 单个字符串不会被当作单元素列表
func stringsParam(task TaskType, params map[string]interface{}, name string) ([]string, error) {
	v, ok := params[name]
	if !ok {
		return nil, connection.NewArgumentError("%s requires param '%s'", task, name)
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, connection.NewArgumentError("%s expects a list of strings, got element of type %T", task, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, connection.NewArgumentError("%s expects a list of strings, got %T", task, v)
	}
}

// eventsParam 读取交互事件，接受结构体或YAML/JSON解码后的map
func eventsParam(task TaskType, params map[string]interface{}) ([]connection.InteractEvent, error) {
	v, ok := params[ParamEvents]
	if !ok {
		return nil, connection.NewArgumentError("%s requires param '%s'", task, ParamEvents)
	}
	switch list := v.(type) {
	case []connection.InteractEvent:
		return list, nil
	case []interface{}:
		out := make([]connection.InteractEvent, 0, len(list))
		for i, item := range list {
			e, err := toEvent(item)
			if err != nil {
				return nil, connection.NewArgumentError("%s: event %d: %v", task, i, err)
			}
			out = append(out, e)
		}
		return out, nil
	default:
		return nil, connection.NewArgumentError("%s expects a list of interact events, got %T", task, v)
	}
}

func toEvent(item interface{}) (connection.InteractEvent, error) {
	var e connection.InteractEvent
	switch m := item.(type) {
	case connection.InteractEvent:
		return m, nil
	case []interface{}:
		// [input, response] 或 [input, response, hide_input]
		if len(m) < 2 || len(m) > 3 {
			return e, fmt.Errorf("expected 2 or 3 elements, got %d", len(m))
		}
		in, ok1 := m[0].(string)
		resp, ok2 := m[1].(string)
		if !ok1 || !ok2 {
			return e, fmt.Errorf("input and response must be strings")
		}
		e.Input, e.Response = in, resp
		if len(m) == 3 {
			hide, ok := m[2].(bool)
			if !ok {
				return e, fmt.Errorf("hide_input must be a bool, got %T", m[2])
			}
			e.HideInput = hide
		}
		return e, nil
	case map[string]interface{}:
		in, ok := m["input"].(string)
		if !ok {
			return e, fmt.Errorf("missing string 'input'")
		}
		e.Input = in
		if resp, ok := m["response"]; ok {
			s, ok := resp.(string)
			if !ok {
				return e, fmt.Errorf("response must be a string, got %T", resp)
			}
			e.Response = s
		}
		if hide, ok := m["hide_input"]; ok {
			b, ok := hide.(bool)
			if !ok {
				return e, fmt.Errorf("hide_input must be a bool, got %T", hide)
			}
			e.HideInput = b
		}
		return e, nil
	default:
		return e, fmt.Errorf("unsupported event type %T", item)
	}
}

// opOptions 把通用参数转换为操作选项
func opOptions(task TaskType, params map[string]interface{}) ([]connection.OpOption, error) {
	var opts []connection.OpOption

	if v, ok := params[ParamStripPrompt]; ok {
		b, ok := v.(bool)
		if !ok {
			return nil, connection.NewArgumentError("%s expects a bool for '%s', got %T", task, ParamStripPrompt, v)
		}
		if !b {
			opts = append(opts, connection.WithNoStripPrompt())
		}
	}
	if _, ok := params[ParamFailedWhenContains]; ok {
		fwc, err := stringsParam(task, params, ParamFailedWhenContains)
		if err != nil {
			return nil, err
		}
		opts = append(opts, connection.WithFailedWhenContains(fwc))
	}
	if v, ok := params[ParamTimeoutOps]; ok {
		d, err := toDuration(v)
		if err != nil {
			return nil, connection.NewArgumentError("%s: invalid '%s': %v", task, ParamTimeoutOps, err)
		}
		opts = append(opts, connection.WithTimeoutOps(d))
	}
	if v, ok := params[ParamDryRun]; ok {
		b, ok := v.(bool)
		if !ok {
			return nil, connection.NewArgumentError("%s expects a bool for '%s', got %T", task, ParamDryRun, v)
		}
		opts = append(opts, connection.WithDryRun(b))
	}
	return opts, nil
}

// toDuration 支持Duration、"30s"形式的字符串或以秒为单位的数字
func toDuration(v interface{}) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		return time.ParseDuration(d)
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
