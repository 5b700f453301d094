package task

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/charlesren/ylog"
	"github.com/charlesren/zapix/sender"
)

// 发送到Zabbix的监控项key后缀
const (
	ZabbixKeyFailed   = "failed"
	ZabbixKeyChanged  = "changed"
	ZabbixKeyDuration = "duration"
	ZabbixKeyError    = "error"
)

type ZabbixSenderConfig struct {
	ProxyIP           string        `yaml:"proxyip" mapstructure:"proxyip"`
	ProxyPort         string        `yaml:"proxyport" mapstructure:"proxyport"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" mapstructure:"connection_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	PoolSize          int           `yaml:"pool_size" mapstructure:"pool_size"`
	// KeyPrefix 监控项key前缀，如 devsess.send_configs.failed
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

func (c *ZabbixSenderConfig) SetDefaults() {
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PoolSize == 0 {
		c.PoolSize = 2
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "devsess"
	}
}

// ZabbixSenderHandler 把每台设备的执行结果作为trapper数据推送到Zabbix
type ZabbixSenderHandler struct {
	sender     *sender.Sender
	config     ZabbixSenderConfig
	serverAddr string
}

func NewZabbixSenderHandler(config ZabbixSenderConfig) (*ZabbixSenderHandler, error) {
	config.SetDefaults()
	if config.ProxyIP == "" || config.ProxyPort == "" {
		return nil, fmt.Errorf("zabbix sender requires proxyip and proxyport")
	}
	serverAddr := net.JoinHostPort(config.ProxyIP, config.ProxyPort)

	ylog.Infof("zabbix_sender", "creating zabbix sender handler for %s with pool size %d", serverAddr, config.PoolSize)
	zabbixSender := sender.NewSender(
		serverAddr,
		config.ConnectionTimeout,
		config.ReadTimeout,
		config.WriteTimeout,
		config.PoolSize,
	)
	return &ZabbixSenderHandler{
		sender:     zabbixSender,
		config:     config,
		serverAddr: serverAddr,
	}, nil
}

// TestConnection 发送空数据包检查Zabbix是否可达
func (h *ZabbixSenderHandler) TestConnection() error {
	testPacket := &sender.Packet{
		Request: "sender data",
		Data:    []*sender.Metric{},
	}
	start := time.Now()
	res, err := h.sender.Send(testPacket)
	if err != nil {
		ylog.Warnf("zabbix_sender", "connection test failed for %s after %v: %v", h.serverAddr, time.Since(start), err)
		return fmt.Errorf("connection test failed: %w", err)
	}
	ylog.Debugf("zabbix_sender", "connection test response from %s: '%s', info: '%s'", h.serverAddr, res.Response, res.Info)
	return nil
}

func (h *ZabbixSenderHandler) HandleResult(events []ResultEvent) error {
	if len(events) == 0 {
		return nil
	}
	metrics := buildZabbixMetrics(h.config.KeyPrefix, events)

	start := time.Now()
	resActive, resTrapper, err := h.sender.SendMetrics(metrics)
	if err != nil {
		ylog.Errorf("zabbix_sender", "failed to send %d metrics to zabbix after %v: %v", len(metrics), time.Since(start), err)
		return fmt.Errorf("zabbix send failed: %w (events=%d, server=%s)", err, len(events), h.serverAddr)
	}
	// 只发送trapper数据，active响应为空
	if resTrapper.Response != "success" {
		ylog.Warnf("zabbix_sender", "zabbix server reported failure: %s - %s (active: %s)",
			resTrapper.Response, resTrapper.Info, resActive.Response)
		return fmt.Errorf("zabbix server reported failure: %s - %s", resTrapper.Response, resTrapper.Info)
	}
	ylog.Debugf("zabbix_sender", "sent %d metrics for %d events to %s in %v (%s)",
		len(metrics), len(events), h.serverAddr, time.Since(start), resTrapper.Info)
	return nil
}

// buildZabbixMetrics 每个事件生成failed/changed/duration三个监控项，失败时附带错误信息。
// Zabbix主机名优先使用设备名称
func buildZabbixMetrics(prefix string, events []ResultEvent) []*sender.Metric {
	metrics := make([]*sender.Metric, 0, len(events)*3)
	for _, event := range events {
		host := event.Name
		if host == "" {
			host = event.Host
		}
		key := func(suffix string) string {
			return fmt.Sprintf("%s.%s.%s", prefix, event.TaskType, suffix)
		}
		clock := event.Timestamp.Unix()

		metrics = append(metrics,
			&sender.Metric{Host: host, Key: key(ZabbixKeyFailed), Value: boolValue(!event.Success), Clock: clock},
			&sender.Metric{Host: host, Key: key(ZabbixKeyChanged), Value: boolValue(event.Changed), Clock: clock},
			&sender.Metric{Host: host, Key: key(ZabbixKeyDuration), Value: strconv.FormatFloat(event.Duration.Seconds(), 'f', 3, 64), Clock: clock},
		)
		if !event.Success {
			metrics = append(metrics, &sender.Metric{Host: host, Key: key(ZabbixKeyError), Value: event.Error, Clock: clock})
		}
	}
	return metrics
}

func boolValue(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (h *ZabbixSenderHandler) Close() error {
	ylog.Infof("zabbix_sender", "zabbix sender handler closed for %s", h.serverAddr)
	return nil
}
