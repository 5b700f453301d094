package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/charlesren/device_session/connection"
	"github.com/charlesren/device_session/result"
)

const host = "sea-ios-1"

func TestGetPrompt(t *testing.T) {
	d := newMockDriver(host)
	d.On("GetPrompt").Return("sea-ios-1#", nil)

	r := GetPrompt(context.Background(), d)
	assert.Equal(t, result.KindText, r.Kind)
	assert.Equal(t, "sea-ios-1#", r.String())
	assert.False(t, r.Failed)
	assert.Equal(t, "get_prompt", r.Task)
	d.AssertExpectations(t)
}

func TestGetPrompt_SessionClosed(t *testing.T) {
	d := newMockDriver(host)
	d.On("GetPrompt").Return("", connection.NewSessionClosedError(host))

	r := GetPrompt(context.Background(), d)
	assert.True(t, r.Failed)
	assert.Equal(t, "session to sea-ios-1 is closed", r.String())
	assert.True(t, connection.IsErrorCode(r.Err, connection.ErrCodeSessionClosed))
}

func TestSendCommand(t *testing.T) {
	d := newMockDriver(host)
	d.On("SendCommand", "show version").Return(response(host, "show version", someStuff, false), nil)

	r := SendCommand(context.Background(), d, "show version")
	assert.Equal(t, someStuff, r.String())
	assert.False(t, r.Failed)
	assert.False(t, r.Changed)
	require.Len(t, r.Responses, 1)
}

func TestSendCommand_FailureBanner(t *testing.T) {
	resp := response(host, "show bogus", "% Invalid input detected", false)
	resp.Fail("% Invalid input detected")
	d := newMockDriver(host)
	d.On("SendCommand", "show bogus").Return(resp, nil)

	r := SendCommand(context.Background(), d, "show bogus")
	assert.True(t, r.Failed)
	assert.Equal(t, "% Invalid input detected", r.String())
}

func TestSendCommands(t *testing.T) {
	d := newMockDriver(host)
	d.On("SendCommands", []string{"show version"}).
		Return([]*result.Response{response(host, "show version", someStuff, false)}, nil)

	r := SendCommands(context.Background(), d, []string{"show version"})
	assert.Equal(t, result.KindResponses, r.Kind)
	assert.Equal(t, someStuff, r.At(0).Result)
	assert.False(t, r.Failed)
}

func TestSendConfigs(t *testing.T) {
	configs := []string{"interface loopback123", "description neat"}
	d := newMockDriver(host)
	d.On("SendConfigs", configs, false).Return([]*result.Response{
		response(host, configs[0], configs[0]+"\n"+someStuff, true),
		response(host, configs[1], configs[1]+"\n"+someStuff, true),
	}, nil)

	r := SendConfigs(context.Background(), d, configs)
	assert.Equal(t, "interface loopback123\nsome stuff about whatever", r.At(0).Result)
	assert.True(t, r.Changed)
	assert.False(t, r.Failed)
}

func TestSendConfigs_DryRun(t *testing.T) {
	configs := []string{"interface loopback123", "description neat"}
	d := newMockDriver(host)
	d.On("SendConfigs", configs, true).
		Return([]*result.Response{result.NewSkippedResponse(host, connection.JoinLines(configs))}, nil)

	r := SendConfigs(context.Background(), d, configs, connection.WithDryRun(true))
	assert.False(t, r.HasOutput())
	assert.Nil(t, r.Output)
	assert.False(t, r.Failed)
	assert.False(t, r.Changed)
}

func TestSendConfigs_NoConfigMode(t *testing.T) {
	d := newMockDriver(host)
	d.On("SendConfigs", mock.Anything, true).
		Return(nil, connection.NewPlatformCapabilityError("No config mode for '%s' platform type", "generic"))

	r := SendConfigs(context.Background(), d, []string{"interface loopback123"}, connection.WithDryRun(true))
	assert.True(t, r.Failed)
	assert.False(t, r.Changed)
	assert.Equal(t, "No config mode for 'generic' platform type", r.String())
}

func TestSendInteractive(t *testing.T) {
	events := []connection.InteractEvent{
		{Input: "clear logg", Response: "[confirm]"},
		{Input: "y", Response: "csr1000v#"},
	}
	transcript := "clear logg\nClear logging buffer [confirm]\n\ncsr1000v#"
	d := newMockDriver(host)
	d.On("SendInteractive", events).Return(response(host, connection.InteractInput(events), transcript, true), nil)

	r := SendInteractive(context.Background(), d, events)
	assert.Equal(t, result.KindResponse, r.Kind)
	assert.Equal(t, transcript, r.String())
	assert.False(t, r.Failed)
	assert.True(t, r.Changed)
}
