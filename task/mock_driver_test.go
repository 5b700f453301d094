package task

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/charlesren/device_session/connection"
	"github.com/charlesren/device_session/platform"
	"github.com/charlesren/device_session/result"
)

const someStuff = "some stuff about whatever"

// mockDriver 基于testify/mock的DeviceDriver。
// 选项只把dry-run作为参数传给Called，便于断言参数转换
type mockDriver struct {
	mock.Mock
	host     string
	platform platform.Type
}

func newMockDriver(host string) *mockDriver {
	return &mockDriver{host: host, platform: platform.CiscoIOSXE}
}

func (m *mockDriver) Host() string            { return m.host }
func (m *mockDriver) Platform() platform.Type { return m.platform }

func (m *mockDriver) Open(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockDriver) GetPrompt(ctx context.Context) (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *mockDriver) SendCommand(ctx context.Context, command string, opts ...connection.OpOption) (*result.Response, error) {
	args := m.Called(command)
	resp, _ := args.Get(0).(*result.Response)
	return resp, args.Error(1)
}

func (m *mockDriver) SendCommands(ctx context.Context, commands []string, opts ...connection.OpOption) ([]*result.Response, error) {
	args := m.Called(commands)
	resps, _ := args.Get(0).([]*result.Response)
	return resps, args.Error(1)
}

func (m *mockDriver) SendConfigs(ctx context.Context, configs []string, opts ...connection.OpOption) ([]*result.Response, error) {
	args := m.Called(configs, connection.NewOpOptions(0, opts...).DryRun)
	resps, _ := args.Get(0).([]*result.Response)
	return resps, args.Error(1)
}

func (m *mockDriver) SendInteractive(ctx context.Context, events []connection.InteractEvent, opts ...connection.OpOption) (*result.Response, error) {
	args := m.Called(events)
	resp, _ := args.Get(0).(*result.Response)
	return resp, args.Error(1)
}

func (m *mockDriver) IsAlive() bool {
	return true
}

func (m *mockDriver) Close() error {
	return nil
}

// response 构造已完成的Response
func response(host, input, output string, changed bool) *result.Response {
	r := result.NewResponse(host, input, nil)
	r.Record([]byte(output), output)
	r.Changed = changed
	return r
}
