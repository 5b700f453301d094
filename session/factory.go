package session

import (
	"context"

	"github.com/charlesren/device_session/connection"
)

// Factory 为ssh/telnet协议创建内置会话
type Factory struct {
	// Collector 为空时使用全局收集器
	Collector connection.MetricsCollector
}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(cfg *connection.DeviceConfig) (connection.DeviceDriver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Normalized()
	transport, err := connection.NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	s, err := New(cfg, transport)
	if err != nil {
		return nil, err
	}
	if f.Collector != nil {
		s.WithMetrics(f.Collector)
	}
	return s, nil
}

// HealthCheck 能取到提示符即认为会话可用
func (f *Factory) HealthCheck(ctx context.Context, driver connection.DeviceDriver) bool {
	if !driver.IsAlive() {
		return false
	}
	_, err := driver.GetPrompt(ctx)
	return err == nil
}
