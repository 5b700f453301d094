package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charlesren/ylog"
	"github.com/scrapli/scrapligo/channel"
	"github.com/scrapli/scrapligo/driver/generic"
	"github.com/scrapli/scrapligo/driver/network"
	"github.com/scrapli/scrapligo/driver/opoptions"
	"github.com/scrapli/scrapligo/driver/options"
	scrapliplatform "github.com/scrapli/scrapligo/platform"
	"github.com/scrapli/scrapligo/response"
	"github.com/scrapli/scrapligo/util"

	"github.com/charlesren/device_session/platform"
	"github.com/charlesren/device_session/result"
)

// ScrapliDriver 基于scrapligo的DeviceDriver实现。
// generic平台使用generic驱动，没有权限及配置模式
type ScrapliDriver struct {
	cfg     *DeviceConfig
	profile *platform.Profile

	mu      sync.Mutex
	network *network.Driver
	generic *generic.Driver
	opened  bool
	broken  bool
}

func newScrapliDriver(cfg *DeviceConfig) (*ScrapliDriver, error) {
	profile, err := platform.Lookup(cfg.Platform)
	if err != nil {
		return nil, NewArgumentError("%v", err)
	}
	return &ScrapliDriver{cfg: cfg.Clone(), profile: profile}, nil
}

func (d *ScrapliDriver) Host() string {
	return d.cfg.Host
}

func (d *ScrapliDriver) Platform() platform.Type {
	return d.cfg.Platform
}

func (d *ScrapliDriver) driverOptions() []util.Option {
	opts := []util.Option{
		options.WithAuthNoStrictKey(),
		options.WithAuthUsername(d.cfg.Username),
		options.WithAuthPassword(d.cfg.Password),
		options.WithPort(d.cfg.Port),
		options.WithTimeoutOps(d.cfg.OpsTimeout),
	}
	if d.cfg.Secondary != "" {
		opts = append(opts, options.WithAuthSecondary(d.cfg.Secondary))
	}
	return opts
}

// Open 建立连接
func (d *ScrapliDriver) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened {
		return nil
	}

	ylog.Debugf("ScrapliDriver", "connecting with: platform=%s, host=%s", d.cfg.Platform, d.cfg.Host)
	err := d.run(ctx, "open", func() error {
		if d.cfg.Platform == platform.Generic {
			drv, err := generic.NewDriver(d.cfg.Host, d.driverOptions()...)
			if err != nil {
				return fmt.Errorf("create generic driver failed: %w", err)
			}
			if err := drv.Open(); err != nil {
				return err
			}
			d.generic = drv
			return nil
		}

		p, err := scrapliplatform.NewPlatform(string(d.cfg.Platform), d.cfg.Host, d.driverOptions()...)
		if err != nil {
			return fmt.Errorf("create platform failed: %w", err)
		}
		drv, err := p.GetNetworkDriver()
		if err != nil {
			return fmt.Errorf("get network driver failed: %w", err)
		}
		if err := drv.Open(); err != nil {
			return err
		}
		d.network = drv
		return nil
	})
	if err != nil {
		if IsErrorCode(err, ErrCodeTimeout) {
			return err
		}
		return NewConnectionError(err, "open connection to %s failed", d.cfg.Host)
	}
	d.opened = true
	ylog.Infof("ScrapliDriver", "connected to %s (%s)", d.cfg.Host, d.cfg.Platform)
	return nil
}

// run 在goroutine中执行scrapligo调用，以便ctx取消时及时返回。
// 超时后底层通道状态不可知，驱动标记为broken
func (d *ScrapliDriver) run(ctx context.Context, op string, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		d.broken = true
		ylog.Warnf("ScrapliDriver", "%s on %s timed out or cancelled: %v", op, d.cfg.Host, ctx.Err())
		return NewTimeoutError(ctx.Err(), "%s on %s timed out", op, d.cfg.Host)
	}
}

func (d *ScrapliDriver) ensureOpen() error {
	if !d.opened {
		return NewSessionClosedError(d.cfg.Host)
	}
	if d.broken {
		return NewConnectionError(nil, "driver for %s is in an unknown state after a timeout", d.cfg.Host)
	}
	return nil
}

func (d *ScrapliDriver) opOptions(o *OpOptions) []util.Option {
	var opts []util.Option
	if !o.StripPrompt {
		opts = append(opts, opoptions.WithNoStripPrompt())
	}
	if o.FailedWhenContains != nil {
		opts = append(opts, opoptions.WithFailedWhenContains(o.FailedWhenContains))
	}
	if o.Timeout > 0 {
		opts = append(opts, opoptions.WithTimeoutOps(o.Timeout))
	}
	return opts
}

// GetPrompt 获取设备提示符
func (d *ScrapliDriver) GetPrompt(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureOpen(); err != nil {
		return "", err
	}
	var prompt string
	err := d.run(ctx, "get_prompt", func() (err error) {
		if d.generic != nil {
			prompt, err = d.generic.GetPrompt()
		} else {
			prompt, err = d.network.GetPrompt()
		}
		return err
	})
	if err != nil {
		return "", d.wrap(err, "get prompt")
	}
	return prompt, nil
}

// SendCommand 发送单条命令
func (d *ScrapliDriver) SendCommand(ctx context.Context, command string, opts ...OpOption) (*result.Response, error) {
	rs, err := d.SendCommands(ctx, []string{command}, opts...)
	if err != nil {
		return nil, err
	}
	return rs[0], nil
}

// SendCommands 顺序发送多条命令
func (d *ScrapliDriver) SendCommands(ctx context.Context, commands []string, opts ...OpOption) ([]*result.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	o := NewOpOptions(d.cfg.OpsTimeout, opts...)
	fwc := d.failedWhenContains(o)

	out := make([]*result.Response, 0, len(commands))
	for _, cmd := range commands {
		var r *response.Response
		err := d.run(ctx, "send_command", func() (err error) {
			if d.generic != nil {
				r, err = d.generic.SendCommand(cmd, d.opOptions(o)...)
			} else {
				r, err = d.network.SendCommand(cmd, d.opOptions(o)...)
			}
			return err
		})
		if err != nil {
			return out, d.wrap(err, "send command")
		}
		out = append(out, d.toResponse(r, r.Result, fwc, false))
	}
	ylog.Debugf("ScrapliDriver", "command execution successful, %d responses received", len(out))
	return out, nil
}

// SendConfigs 进入配置模式逐行下发配置，完成后scrapligo回到默认权限
func (d *ScrapliDriver) SendConfigs(ctx context.Context, configs []string, opts ...OpOption) ([]*result.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.profile.SupportsConfig() {
		return nil, NewPlatformCapabilityError("No config mode for '%s' platform type", d.cfg.Platform)
	}
	o := NewOpOptions(d.cfg.OpsTimeout, opts...)
	if o.DryRun {
		return []*result.Response{result.NewSkippedResponse(d.cfg.Host, JoinLines(configs))}, nil
	}
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	fwc := d.failedWhenContains(o)

	var mr *response.MultiResponse
	err := d.run(ctx, "send_configs", func() (err error) {
		mr, err = d.network.SendConfigs(configs, d.opOptions(o)...)
		return err
	})
	if err != nil {
		return nil, d.wrap(err, "send configs")
	}

	out := make([]*result.Response, 0, len(mr.Responses))
	for _, r := range mr.Responses {
		resp := d.toResponse(r, r.Input+"\n"+r.Result, fwc, true)
		out = append(out, resp)
	}
	return out, nil
}

// SendInteractive 交互式下发，transcript为全部输出
func (d *ScrapliDriver) SendInteractive(ctx context.Context, events []InteractEvent, opts ...OpOption) (*result.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	o := NewOpOptions(d.cfg.OpsTimeout, opts...)
	fwc := d.failedWhenContains(o)

	scrapliEvents := make([]*channel.SendInteractiveEvent, 0, len(events))
	for _, e := range events {
		scrapliEvents = append(scrapliEvents, &channel.SendInteractiveEvent{
			ChannelInput:    e.Input,
			ChannelResponse: e.Response,
			HideInput:       e.HideInput,
		})
	}

	var r *response.Response
	err := d.run(ctx, "send_interactive", func() (err error) {
		if d.generic != nil {
			r, err = d.generic.SendInteractive(scrapliEvents, d.opOptions(o)...)
		} else {
			r, err = d.network.SendInteractive(scrapliEvents, d.opOptions(o)...)
		}
		return err
	})
	if err != nil {
		return nil, d.wrap(err, "send interactive")
	}
	resp := d.toResponse(r, r.Result, fwc, false)
	resp.ChannelInput = InteractInput(events)
	resp.Changed = true
	return resp, nil
}

func (d *ScrapliDriver) failedWhenContains(o *OpOptions) []string {
	if o.FailedWhenContains != nil {
		return o.FailedWhenContains
	}
	return d.profile.FailedWhenContains
}

// toResponse 将scrapligo的Response转换为result.Response
func (d *ScrapliDriver) toResponse(r *response.Response, text string, fwc []string, changeOnSuccess bool) *result.Response {
	resp := &result.Response{
		Host:               d.cfg.Host,
		ChannelInput:       r.Input,
		RawResult:          r.RawResult,
		Result:             text,
		StartTime:          r.StartTime,
		EndTime:            r.EndTime,
		ElapsedTime:        r.ElapsedTime,
		FailedWhenContains: fwc,
	}
	if resp.EndTime.IsZero() {
		resp.EndTime = time.Now()
	}
	switch {
	case r.Failed != nil:
		resp.Fail(r.Failed.Error())
	default:
		if hit, failed := d.profile.ContainsFailure(r.Result, fwc); failed {
			resp.Fail(hit)
		} else {
			resp.Changed = changeOnSuccess
		}
	}
	return resp
}

// wrap 非超时错误视为连接错误，驱动不再可用
func (d *ScrapliDriver) wrap(err error, op string) error {
	if GetDeviceError(err) != nil {
		return err
	}
	d.broken = true
	return NewConnectionError(err, "%s on %s failed", op, d.cfg.Host)
}

func (d *ScrapliDriver) IsAlive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened && !d.broken
}

// Close 关闭连接
func (d *ScrapliDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return nil
	}
	d.opened = false
	switch {
	case d.network != nil:
		return d.network.Close()
	case d.generic != nil:
		return d.generic.Close()
	}
	return nil
}
