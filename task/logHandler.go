package task

import (
	"strings"

	"github.com/charlesren/ylog"
)

// LogHandler 将结果写入日志，失败的设备在Warn级别输出
type LogHandler struct {
	// ShowOutput 为true时在Debug级别附带设备输出
	ShowOutput bool
}

func (h *LogHandler) HandleResult(events []ResultEvent) error {
	for _, e := range events {
		who := e.Host
		if e.Name != "" {
			who = e.Name + "(" + e.Host + ")"
		}
		if !e.Success {
			ylog.Warnf("result", "[%s] ✗ %s %s: %s (%v)", e.RunID, who, e.TaskType, e.Error, e.Duration)
			continue
		}
		ylog.Infof("result", "[%s] ✓ %s %s changed=%t (%v)", e.RunID, who, e.TaskType, e.Changed, e.Duration)
		if h.ShowOutput && e.Output != "" {
			ylog.Debugf("result", "[%s] %s output:\n%s", e.RunID, who, strings.TrimRight(e.Output, "\n"))
		}
	}
	return nil
}
