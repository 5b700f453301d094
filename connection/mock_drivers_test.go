package connection

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/charlesren/device_session/platform"
	"github.com/charlesren/device_session/result"
)

type MockDeviceDriver struct {
	HostValue           string
	OpenFunc            func(ctx context.Context) error
	GetPromptFunc       func(ctx context.Context) (string, error)
	SendCommandFunc     func(ctx context.Context, command string, opts ...OpOption) (*result.Response, error)
	SendCommandsFunc    func(ctx context.Context, commands []string, opts ...OpOption) ([]*result.Response, error)
	SendConfigsFunc     func(ctx context.Context, configs []string, opts ...OpOption) ([]*result.Response, error)
	SendInteractiveFunc func(ctx context.Context, events []InteractEvent, opts ...OpOption) (*result.Response, error)
	IsAliveFunc         func() bool
	CloseFunc           func() error

	closed int32
}

func (m *MockDeviceDriver) Host() string            { return m.HostValue }
func (m *MockDeviceDriver) Platform() platform.Type { return platform.CiscoIOSXE }

func (m *MockDeviceDriver) Open(ctx context.Context) error {
	if m.OpenFunc != nil {
		return m.OpenFunc(ctx)
	}
	return nil
}

func (m *MockDeviceDriver) GetPrompt(ctx context.Context) (string, error) {
	if m.GetPromptFunc != nil {
		return m.GetPromptFunc(ctx)
	}
	return "", errors.New("mock not implemented")
}

func (m *MockDeviceDriver) SendCommand(ctx context.Context, command string, opts ...OpOption) (*result.Response, error) {
	if m.SendCommandFunc != nil {
		return m.SendCommandFunc(ctx, command, opts...)
	}
	return nil, errors.New("mock not implemented")
}

func (m *MockDeviceDriver) SendCommands(ctx context.Context, commands []string, opts ...OpOption) ([]*result.Response, error) {
	if m.SendCommandsFunc != nil {
		return m.SendCommandsFunc(ctx, commands, opts...)
	}
	return nil, errors.New("mock not implemented")
}

func (m *MockDeviceDriver) SendConfigs(ctx context.Context, configs []string, opts ...OpOption) ([]*result.Response, error) {
	if m.SendConfigsFunc != nil {
		return m.SendConfigsFunc(ctx, configs, opts...)
	}
	return nil, errors.New("mock not implemented")
}

func (m *MockDeviceDriver) SendInteractive(ctx context.Context, events []InteractEvent, opts ...OpOption) (*result.Response, error) {
	if m.SendInteractiveFunc != nil {
		return m.SendInteractiveFunc(ctx, events, opts...)
	}
	return nil, errors.New("mock not implemented")
}

func (m *MockDeviceDriver) IsAlive() bool {
	if m.IsAliveFunc != nil {
		return m.IsAliveFunc()
	}
	return atomic.LoadInt32(&m.closed) == 0
}

func (m *MockDeviceDriver) Close() error {
	atomic.StoreInt32(&m.closed, 1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

type MockDriverFactory struct {
	CreateFunc      func(cfg *DeviceConfig) (DeviceDriver, error)
	HealthCheckFunc func(ctx context.Context, driver DeviceDriver) bool
	created         int32
}

func (m *MockDriverFactory) Create(cfg *DeviceConfig) (DeviceDriver, error) {
	atomic.AddInt32(&m.created, 1)
	if m.CreateFunc != nil {
		return m.CreateFunc(cfg)
	}
	return &MockDeviceDriver{HostValue: cfg.Host}, nil
}

func (m *MockDriverFactory) HealthCheck(ctx context.Context, driver DeviceDriver) bool {
	if m.HealthCheckFunc != nil {
		return m.HealthCheckFunc(ctx, driver)
	}
	return driver.IsAlive()
}

func (m *MockDriverFactory) Created() int {
	return int(atomic.LoadInt32(&m.created))
}
