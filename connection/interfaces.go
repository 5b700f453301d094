package connection

import (
	"context"

	"github.com/charlesren/device_session/platform"
	"github.com/charlesren/device_session/result"
)

// DeviceDriver 单台设备上的会话驱动。
// 同一驱动不可并发使用，并发由上层按设备划分
type DeviceDriver interface {
	Host() string
	Platform() platform.Type
	Open(ctx context.Context) error
	GetPrompt(ctx context.Context) (string, error)
	SendCommand(ctx context.Context, command string, opts ...OpOption) (*result.Response, error)
	SendCommands(ctx context.Context, commands []string, opts ...OpOption) ([]*result.Response, error)
	SendConfigs(ctx context.Context, configs []string, opts ...OpOption) ([]*result.Response, error)
	SendInteractive(ctx context.Context, events []InteractEvent, opts ...OpOption) (*result.Response, error)
	IsAlive() bool
	Close() error
}

// DriverFactory 按配置创建未打开的驱动
type DriverFactory interface {
	Create(cfg *DeviceConfig) (DeviceDriver, error)
	// HealthCheck 复用已打开驱动前的检查
	HealthCheck(ctx context.Context, driver DeviceDriver) bool
}

// FactoryFunc 允许以函数作为DriverFactory
type FactoryFunc func(cfg *DeviceConfig) (DeviceDriver, error)

func (f FactoryFunc) Create(cfg *DeviceConfig) (DeviceDriver, error) {
	return f(cfg)
}

func (f FactoryFunc) HealthCheck(_ context.Context, driver DeviceDriver) bool {
	return driver.IsAlive()
}

// NewTransport 按协议创建内置会话引擎使用的传输层
func NewTransport(cfg *DeviceConfig) (Transport, error) {
	switch cfg.Protocol {
	case ProtocolSSH:
		return NewSSHTransport(cfg), nil
	case ProtocolTelnet:
		return NewTelnetTransport(cfg), nil
	default:
		return nil, NewArgumentError("protocol %q has no native transport", cfg.Protocol)
	}
}
