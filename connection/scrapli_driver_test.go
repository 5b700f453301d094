package connection

import (
	"context"
	"errors"
	"testing"

	"github.com/scrapli/scrapligo/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlesren/device_session/platform"
)

func newTestScrapliDriver(t *testing.T, p platform.Type) *ScrapliDriver {
	t.Helper()
	cfg, err := NewConfigBuilder().
		WithBasicAuth("10.0.0.1", "admin", "password").
		WithPlatform(p).
		WithProtocol(ProtocolScrapli).
		Build()
	require.NoError(t, err)
	drv, err := (&ScrapliFactory{}).Create(cfg)
	require.NoError(t, err)
	return drv.(*ScrapliDriver)
}

func TestScrapliFactory_InvalidConfig(t *testing.T) {
	_, err := (&ScrapliFactory{}).Create(&DeviceConfig{Host: "10.0.0.1", Platform: "vrp", Protocol: ProtocolScrapli, Username: "a"})
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeArgument))
}

func TestScrapliDriver_NotOpened(t *testing.T) {
	d := newTestScrapliDriver(t, platform.CiscoIOSXE)
	assert.Equal(t, "10.0.0.1", d.Host())
	assert.Equal(t, platform.CiscoIOSXE, d.Platform())
	assert.False(t, d.IsAlive())

	_, err := d.GetPrompt(context.Background())
	assert.True(t, IsErrorCode(err, ErrCodeSessionClosed))
	_, err = d.SendCommand(context.Background(), "show version")
	assert.True(t, IsErrorCode(err, ErrCodeSessionClosed))
	assert.NoError(t, d.Close())
	assert.False(t, (&ScrapliFactory{}).HealthCheck(context.Background(), d))
}

func TestScrapliDriver_DryRunWithoutConnection(t *testing.T) {
	d := newTestScrapliDriver(t, platform.CiscoIOSXE)

	rs, err := d.SendConfigs(context.Background(), []string{"interface loopback0", "description tacocat"}, WithDryRun(true))
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "interface loopback0\ndescription tacocat", rs[0].ChannelInput)
	assert.False(t, rs[0].Changed)
	assert.False(t, rs[0].Failed)
}

func TestScrapliDriver_GenericHasNoConfigMode(t *testing.T) {
	d := newTestScrapliDriver(t, platform.Generic)

	for _, dry := range []bool{false, true} {
		_, err := d.SendConfigs(context.Background(), []string{"hostname r1"}, WithDryRun(dry))
		require.Error(t, err)
		assert.True(t, IsErrorCode(err, ErrCodePlatformCapability))
		assert.Equal(t, "No config mode for 'generic' platform type", Message(err))
	}
}

func TestScrapliDriver_ToResponse(t *testing.T) {
	d := newTestScrapliDriver(t, platform.CiscoIOSXE)
	fwc := d.failedWhenContains(NewOpOptions(0))

	ok := d.toResponse(&response.Response{Input: "hostname r1", Result: ""}, "hostname r1\n", fwc, true)
	assert.False(t, ok.Failed)
	assert.True(t, ok.Changed)
	assert.False(t, ok.EndTime.IsZero())

	bad := d.toResponse(&response.Response{Input: "show bogus", Result: "% Invalid input detected at '^' marker."},
		"% Invalid input detected at '^' marker.", fwc, true)
	assert.True(t, bad.Failed)
	assert.False(t, bad.Changed)

	errored := d.toResponse(&response.Response{Failed: errors.New("boom")}, "", fwc, false)
	assert.True(t, errored.Failed)
	assert.Equal(t, "boom", errored.FailedReason)

	custom := d.failedWhenContains(NewOpOptions(0, WithFailedWhenContains([]string{"nope"})))
	assert.Equal(t, []string{"nope"}, custom)
}
