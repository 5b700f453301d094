package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlesren/device_session/connection"
	"github.com/charlesren/device_session/platform"
)

const sampleConfig = `
log:
  level: 0
runner:
  concurrency: 5
  breaker:
    enabled: true
defaults:
  platform: ios
  username: admin
  password: password
  secondary: enable-secret
  ops_timeout: 45s
  labels:
    site: sea
devices:
  - name: sea-ios-1
    host: 10.0.0.1
  - name: sea-nx-1
    host: 10.0.0.2
    platform: nxos
    protocol: telnet
    labels:
      role: spine
reporters:
  excel:
    file: report.xlsx
  zabbix:
    proxyip: 10.0.0.100
    proxyport: "10051"
`

func load(t *testing.T, content string) *Config {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(content)))
	cfg, err := FromViper(v)
	require.NoError(t, err)
	return cfg
}

func TestFromViper(t *testing.T) {
	cfg := load(t, sampleConfig)

	assert.Equal(t, 5, cfg.Runner.Concurrency)
	assert.True(t, cfg.Runner.Breaker.Enabled)
	assert.Equal(t, uint32(5), cfg.Runner.Breaker.ConsecutiveFailures)
	assert.Equal(t, 30*time.Second, cfg.Runner.Breaker.OpenTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Runner.IdleTimeout)
	assert.Equal(t, 0, cfg.Log.Level)
	assert.Equal(t, 100, cfg.Log.MaxSize)

	assert.True(t, cfg.Reporters.Log)
	require.NotNil(t, cfg.Reporters.Excel)
	assert.Equal(t, "report.xlsx", cfg.Reporters.Excel.File)
	require.NotNil(t, cfg.Reporters.Zabbix)
	assert.Equal(t, "10051", cfg.Reporters.Zabbix.ProxyPort)
	assert.Nil(t, cfg.Reporters.Kafka)
	assert.Nil(t, cfg.Reporters.Mongo)

	opts := cfg.PoolOptions()
	assert.True(t, opts.Breaker.Enabled)
	assert.Equal(t, 2*time.Minute, opts.IdleTimeout)
}

func TestDeviceConfigs(t *testing.T) {
	cfg := load(t, sampleConfig)

	devices, err := cfg.DeviceConfigs()
	require.NoError(t, err)
	require.Len(t, devices, 2)

	ios := devices[0]
	assert.Equal(t, "sea-ios-1", ios.Key())
	assert.Equal(t, platform.CiscoIOSXE, ios.Platform)
	assert.Equal(t, connection.ProtocolSSH, ios.Protocol)
	assert.Equal(t, 22, ios.Port)
	assert.Equal(t, "admin", ios.Username)
	assert.Equal(t, "enable-secret", ios.Secondary)
	assert.Equal(t, 45*time.Second, ios.OpsTimeout)
	assert.Equal(t, map[string]string{"site": "sea"}, ios.Labels)

	nx := devices[1]
	assert.Equal(t, platform.CiscoNXOS, nx.Platform)
	assert.Equal(t, connection.ProtocolTelnet, nx.Protocol)
	assert.Equal(t, 23, nx.Port)
	assert.True(t, nx.InBandAuth)
	assert.Equal(t, map[string]string{"site": "sea", "role": "spine"}, nx.Labels)
}

func TestDeviceConfigs_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"unknown platform", "devices:\n  - host: 10.0.0.1\n    platform: vrp\n    username: a\n", "unknown platform type"},
		{"duplicate", "defaults:\n  username: a\ndevices:\n  - host: 10.0.0.1\n  - host: 10.0.0.1\n", "duplicate device"},
		{"missing host", "defaults:\n  username: a\ndevices:\n  - name: r1\n", "device 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.content).DeviceConfigs()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestFromViper_EnvOverride(t *testing.T) {
	t.Setenv("DEVSESS_RUNNER_CONCURRENCY", "3")
	cfg := load(t, sampleConfig)
	assert.Equal(t, 3, cfg.Runner.Concurrency)
}

func TestFromViper_InvalidConcurrency(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader("runner:\n  concurrency: -1\n")))
	_, err := FromViper(v)
	assert.Error(t, err)
}
