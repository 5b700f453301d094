package connection

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/charlesren/device_session/platform"
)

var validate = validator.New()

func init() {
	_ = validate.RegisterValidation("platform", func(fl validator.FieldLevel) bool {
		_, err := platform.Lookup(platform.Type(fl.Field().String()))
		return err == nil
	})
}

// DeviceConfig 单台设备的连接配置，会话建立后只读
type DeviceConfig struct {
	Name     string        `json:"name" yaml:"name" mapstructure:"name"`
	Host     string        `json:"host" yaml:"host" mapstructure:"host" validate:"required,ip|hostname"`
	Port     int           `json:"port" yaml:"port" mapstructure:"port" validate:"min=0,max=65535"`
	Platform platform.Type `json:"platform" yaml:"platform" mapstructure:"platform" validate:"required,platform"`
	Protocol Protocol      `json:"protocol" yaml:"protocol" mapstructure:"protocol" validate:"required,oneof=ssh telnet scrapli"`

	Username string `json:"username" yaml:"username" mapstructure:"username"`
	Password string `json:"-" yaml:"password" mapstructure:"password"`
	// Secondary 提权（如enable）使用的密码
	Secondary string `json:"-" yaml:"secondary" mapstructure:"secondary"`

	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout" validate:"min=0"`
	// OpsTimeout 单次操作等待提示符的超时
	OpsTimeout time.Duration `json:"ops_timeout" yaml:"ops_timeout" mapstructure:"ops_timeout" validate:"min=0"`

	// 连接建立重试，默认不重试
	ConnectMaxRetries    int           `json:"connect_max_retries" yaml:"connect_max_retries" mapstructure:"connect_max_retries" validate:"min=0,max=10"`
	ConnectRetryInterval time.Duration `json:"connect_retry_interval" yaml:"connect_retry_interval" mapstructure:"connect_retry_interval"`
	ConnectBackoffFactor float64       `json:"connect_backoff_factor" yaml:"connect_backoff_factor" mapstructure:"connect_backoff_factor" validate:"omitempty,gte=1"`

	TerminalType   string `json:"terminal_type" yaml:"terminal_type" mapstructure:"terminal_type"`
	TerminalWidth  int    `json:"terminal_width" yaml:"terminal_width" mapstructure:"terminal_width" validate:"min=0"`
	TerminalHeight int    `json:"terminal_height" yaml:"terminal_height" mapstructure:"terminal_height" validate:"min=0"`

	// InBandAuth 由会话识别用户名/密码提示符完成登录（telnet默认开启）
	InBandAuth bool `json:"in_band_auth" yaml:"in_band_auth" mapstructure:"in_band_auth"`

	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty" mapstructure:"labels"`
}

// ConfigBuilder 配置构建器
type ConfigBuilder struct {
	config *DeviceConfig
}

// NewConfigBuilder 创建带默认值的配置构建器
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: &DeviceConfig{
			Protocol:             ProtocolSSH,
			ConnectTimeout:       30 * time.Second,
			OpsTimeout:           30 * time.Second,
			ConnectRetryInterval: 2 * time.Second,
			ConnectBackoffFactor: 1.5,
			TerminalType:         "xterm",
			TerminalWidth:        511,
			TerminalHeight:       24,
			Labels:               make(map[string]string),
		},
	}
}

// WithBasicAuth 设置基础认证
func (b *ConfigBuilder) WithBasicAuth(host, username, password string) *ConfigBuilder {
	b.config.Host = host
	b.config.Username = username
	b.config.Password = password
	return b
}

func (b *ConfigBuilder) WithName(name string) *ConfigBuilder {
	b.config.Name = name
	return b
}

func (b *ConfigBuilder) WithSecondary(secret string) *ConfigBuilder {
	b.config.Secondary = secret
	return b
}

// WithPlatform 设置平台类型，支持别名
func (b *ConfigBuilder) WithPlatform(t platform.Type) *ConfigBuilder {
	if parsed, err := platform.Parse(string(t)); err == nil {
		t = parsed
	}
	b.config.Platform = t
	return b
}

func (b *ConfigBuilder) WithProtocol(protocol Protocol) *ConfigBuilder {
	b.config.Protocol = protocol
	return b
}

func (b *ConfigBuilder) WithPort(port int) *ConfigBuilder {
	b.config.Port = port
	return b
}

// WithTimeouts 设置超时，0表示保持默认
func (b *ConfigBuilder) WithTimeouts(connect, ops time.Duration) *ConfigBuilder {
	if connect > 0 {
		b.config.ConnectTimeout = connect
	}
	if ops > 0 {
		b.config.OpsTimeout = ops
	}
	return b
}

// WithConnectionRetryPolicy 设置连接建立的重试策略
func (b *ConfigBuilder) WithConnectionRetryPolicy(maxRetries int, interval time.Duration, backoff float64) *ConfigBuilder {
	b.config.ConnectMaxRetries = maxRetries
	b.config.ConnectRetryInterval = interval
	b.config.ConnectBackoffFactor = backoff
	return b
}

func (b *ConfigBuilder) WithTerminal(termType string, width, height int) *ConfigBuilder {
	b.config.TerminalType = termType
	b.config.TerminalWidth = width
	b.config.TerminalHeight = height
	return b
}

func (b *ConfigBuilder) WithInBandAuth(enabled bool) *ConfigBuilder {
	b.config.InBandAuth = enabled
	return b
}

// WithLabels 设置标签
func (b *ConfigBuilder) WithLabels(labels map[string]string) *ConfigBuilder {
	for k, v := range labels {
		b.config.Labels[k] = v
	}
	return b
}

// Build 构建并校验配置
func (b *ConfigBuilder) Build() (*DeviceConfig, error) {
	c := b.config.Normalized()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Normalized 返回填充默认值后的副本，不修改c。
// 连接池的设备标识、工厂和会话都基于该副本
func (c *DeviceConfig) Normalized() *DeviceConfig {
	n := c.Clone()
	n.ApplyDefaults()
	return n
}

// ApplyDefaults 填充未设置的端口、超时等字段
func (c *DeviceConfig) ApplyDefaults() {
	if c.Protocol == "" {
		c.Protocol = ProtocolSSH
	}
	if parsed, err := platform.Parse(string(c.Platform)); err == nil {
		c.Platform = parsed
	}
	if c.Port == 0 {
		if c.Protocol == ProtocolTelnet {
			c.Port = 23
		} else {
			c.Port = 22
		}
	}
	if c.Protocol == ProtocolTelnet {
		c.InBandAuth = true
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.OpsTimeout == 0 {
		c.OpsTimeout = 30 * time.Second
	}
	if c.TerminalType == "" {
		c.TerminalType = "xterm"
	}
	if c.TerminalWidth == 0 {
		c.TerminalWidth = 511
	}
	if c.TerminalHeight == 0 {
		c.TerminalHeight = 24
	}
}

// Validate 对填充默认值后的副本做结构与语义校验，失败返回ArgumentError。
// 不修改c
func (c *DeviceConfig) Validate() error {
	c = c.Normalized()
	if err := validate.Struct(c); err != nil {
		return &DeviceError{
			Code:    ErrCodeArgument,
			Message: fmt.Sprintf("invalid device config for %q", c.Host),
			Cause:   err,
		}
	}
	if c.Protocol != ProtocolTelnet && c.Username == "" {
		return NewArgumentError("username is required for %s protocol", c.Protocol)
	}
	return nil
}

// Key 连接池中设备的标识
func (c *DeviceConfig) Key() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Address()
}

func (c *DeviceConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Clone 深拷贝配置
func (c *DeviceConfig) Clone() *DeviceConfig {
	clone := *c
	clone.Labels = make(map[string]string, len(c.Labels))
	for k, v := range c.Labels {
		clone.Labels[k] = v
	}
	return &clone
}
