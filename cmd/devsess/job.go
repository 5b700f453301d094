package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/charlesren/device_session/connection"
	"github.com/charlesren/device_session/task"
)

// Job 一次运行的任务描述
type Job struct {
	Task   task.TaskType          `yaml:"task"`
	Params map[string]interface{} `yaml:"params"`
	// Targets 为空时在全部设备上执行
	Targets      []string `yaml:"targets"`
	RaiseOnError bool     `yaml:"raise_on_error"`
}

func loadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseJob(data)
}

func parseJob(data []byte) (*Job, error) {
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job: %w", err)
	}
	if job.Task == "" {
		return nil, fmt.Errorf("parse job: task is required")
	}
	if job.Params == nil {
		job.Params = map[string]interface{}{}
	}
	return &job, nil
}

// selectTargets 按名称或地址过滤设备
func selectTargets(devices []*connection.DeviceConfig, targets []string) ([]*connection.DeviceConfig, error) {
	if len(targets) == 0 {
		return devices, nil
	}
	byKey := make(map[string]*connection.DeviceConfig, len(devices)*2)
	for _, d := range devices {
		byKey[d.Key()] = d
		byKey[d.Host] = d
	}
	out := make([]*connection.DeviceConfig, 0, len(targets))
	for _, t := range targets {
		d, ok := byKey[t]
		if !ok {
			return nil, fmt.Errorf("unknown target %q", t)
		}
		out = append(out, d)
	}
	return out, nil
}
