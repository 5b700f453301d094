package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/charlesren/userconfig"
	"github.com/spf13/viper"

	"github.com/charlesren/device_session/connection"
	"github.com/charlesren/device_session/platform"
	"github.com/charlesren/device_session/task"
)

// EnvPrefix 环境变量前缀，如 DEVSESS_RUNNER_CONCURRENCY
const EnvPrefix = "DEVSESS"

// Config 程序配置
type Config struct {
	Log       LogConfig                 `mapstructure:"log"`
	Runner    RunnerConfig              `mapstructure:"runner"`
	Defaults  connection.DeviceConfig   `mapstructure:"defaults"`
	Devices   []connection.DeviceConfig `mapstructure:"devices"`
	Reporters ReportersConfig           `mapstructure:"reporters"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	Level      int    `mapstructure:"level"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type RunnerConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
}

// ReportersConfig 结果处理器配置，未配置的处理器不启用
type ReportersConfig struct {
	Log           bool                     `mapstructure:"log"`
	FlushInterval time.Duration            `mapstructure:"flush_interval"`
	Zabbix        *task.ZabbixSenderConfig `mapstructure:"zabbix"`
	Kafka         *task.KafkaConfig        `mapstructure:"kafka"`
	Mongo         *task.MongoConfig        `mapstructure:"mongo"`
	Excel         *ExcelConfig             `mapstructure:"excel"`
}

type ExcelConfig struct {
	File string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.file", "../logs/devsess.log")
	v.SetDefault("log.level", 1)
	v.SetDefault("log.max_age", 3)
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("runner.concurrency", task.DefaultConcurrency)
	v.SetDefault("runner.idle_timeout", "2m")
	v.SetDefault("runner.breaker.enabled", false)
	v.SetDefault("runner.breaker.consecutive_failures", 5)
	v.SetDefault("runner.breaker.open_timeout", "30s")

	v.SetDefault("defaults.platform", string(platform.Generic))
	v.SetDefault("defaults.protocol", string(connection.ProtocolSSH))

	v.SetDefault("reporters.log", true)
	v.SetDefault("reporters.flush_interval", "5s")
}

// Load 读取配置文件，环境变量覆盖同名配置
func Load(path string) (*Config, error) {
	v, err := userconfig.NewUserConfig(userconfig.WithPath(path))
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return FromViper(v)
}

// FromViper 从已读取的viper实例解析配置
func FromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Runner.Concurrency <= 0 {
		return nil, fmt.Errorf("runner.concurrency must be positive, got %d", cfg.Runner.Concurrency)
	}
	return &cfg, nil
}

// DeviceConfigs 合并默认值并校验每台设备
func (c *Config) DeviceConfigs() ([]*connection.DeviceConfig, error) {
	out := make([]*connection.DeviceConfig, 0, len(c.Devices))
	seen := make(map[string]bool, len(c.Devices))
	for i := range c.Devices {
		d, err := buildDevice(&c.Defaults, &c.Devices[i])
		if err != nil {
			return nil, fmt.Errorf("device %d (%s): %w", i, c.Devices[i].Host, err)
		}
		if seen[d.Key()] {
			return nil, fmt.Errorf("device %d: duplicate device %s", i, d.Key())
		}
		seen[d.Key()] = true
		out = append(out, d)
	}
	return out, nil
}

// PoolOptions 连接池配置
func (c *Config) PoolOptions() connection.PoolOptions {
	opts := connection.DefaultPoolOptions()
	opts.IdleTimeout = c.Runner.IdleTimeout
	opts.Breaker = connection.BreakerSettings{
		Enabled:             c.Runner.Breaker.Enabled,
		ConsecutiveFailures: c.Runner.Breaker.ConsecutiveFailures,
		OpenTimeout:         c.Runner.Breaker.OpenTimeout,
	}
	return opts
}

func buildDevice(def, dev *connection.DeviceConfig) (*connection.DeviceConfig, error) {
	pick := func(v, d string) string {
		if v != "" {
			return v
		}
		return d
	}
	pickDur := func(v, d time.Duration) time.Duration {
		if v != 0 {
			return v
		}
		return d
	}

	p, err := platform.Parse(pick(string(dev.Platform), string(def.Platform)))
	if err != nil {
		return nil, err
	}
	b := connection.NewConfigBuilder().
		WithName(dev.Name).
		WithBasicAuth(dev.Host, pick(dev.Username, def.Username), pick(dev.Password, def.Password)).
		WithSecondary(pick(dev.Secondary, def.Secondary)).
		WithPlatform(p).
		WithProtocol(connection.Protocol(pick(string(dev.Protocol), string(def.Protocol)))).
		WithPort(dev.Port).
		WithInBandAuth(dev.InBandAuth || def.InBandAuth).
		WithLabels(mergeLabels(def.Labels, dev.Labels))

	if term := pick(dev.TerminalType, def.TerminalType); term != "" {
		pickInt := func(v, d int) int {
			if v != 0 {
				return v
			}
			return d
		}
		b.WithTerminal(term, pickInt(dev.TerminalWidth, def.TerminalWidth), pickInt(dev.TerminalHeight, def.TerminalHeight))
	}

	connect := pickDur(dev.ConnectTimeout, def.ConnectTimeout)
	ops := pickDur(dev.OpsTimeout, def.OpsTimeout)
	if connect != 0 || ops != 0 {
		b.WithTimeouts(connect, ops)
	}

	retries := dev.ConnectMaxRetries
	if retries == 0 {
		retries = def.ConnectMaxRetries
	}
	if retries > 0 {
		factor := dev.ConnectBackoffFactor
		if factor == 0 {
			factor = def.ConnectBackoffFactor
		}
		b.WithConnectionRetryPolicy(retries, pickDur(dev.ConnectRetryInterval, def.ConnectRetryInterval), factor)
	}
	return b.Build()
}

func mergeLabels(def, dev map[string]string) map[string]string {
	if len(def) == 0 && len(dev) == 0 {
		return nil
	}
	out := make(map[string]string, len(def)+len(dev))
	for k, v := range def {
		out[k] = v
	}
	for k, v := range dev {
		out[k] = v
	}
	return out
}
