package session

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/charlesren/ylog"

	"github.com/charlesren/device_session/connection"
	"github.com/charlesren/device_session/platform"
	"github.com/charlesren/device_session/result"
)

// Session 内置会话引擎：一个Session在生命周期内独占一个Transport。
// 不支持并发调用
type Session struct {
	cfg       *connection.DeviceConfig
	profile   *platform.Profile
	transport connection.Transport
	priv      *PrivilegeMachine
	collector connection.MetricsCollector

	state  State
	prompt string
	// dirty 上次操作超时，通道中可能残留输出
	dirty bool
}

// drainer 可丢弃缓冲区残留数据的传输层
type drainer interface {
	Drain() []byte
}

// New 创建未打开的会话，cfg在会话内部保存副本
func New(cfg *connection.DeviceConfig, transport connection.Transport) (*Session, error) {
	profile, err := platform.Lookup(cfg.Platform)
	if err != nil {
		return nil, connection.NewArgumentError("%v", err)
	}
	cfg = cfg.Clone()
	cfg.ApplyDefaults()
	return &Session{
		cfg:       cfg,
		profile:   profile,
		transport: transport,
		priv:      NewPrivilegeMachine(profile, transport, cfg.Secondary, cfg.OpsTimeout),
		collector: connection.GetGlobalMetricsCollector(),
		state:     StateClosed,
	}, nil
}

// WithMetrics 指定指标收集器
func (s *Session) WithMetrics(collector connection.MetricsCollector) *Session {
	s.collector = collector
	return s
}

func (s *Session) Host() string {
	return s.cfg.Host
}

func (s *Session) Platform() platform.Type {
	return s.cfg.Platform
}

func (s *Session) State() State {
	return s.state
}

// Privilege 返回当前权限级别
func (s *Session) Privilege() (platform.Level, bool) {
	return s.priv.Current()
}

func (s *Session) IsAlive() bool {
	return s.state == StateOpen && s.transport.IsAlive()
}

// Open 建立传输，必要时带内登录，进入默认级别并执行on-open命令
func (s *Session) Open(ctx context.Context) (err error) {
	if s.state == StateOpen {
		return nil
	}
	start := time.Now()
	defer func() { s.observe("open", start, err) }()

	ylog.Infof("Session", "opening session to %s (%s/%s)", s.cfg.Address(), s.cfg.Platform, s.cfg.Protocol)
	if err = s.transport.Open(ctx); err != nil {
		return err
	}
	s.priv.Reset()

	defer func() {
		if err != nil {
			ylog.Warnf("Session", "open session to %s failed: %v", s.cfg.Host, err)
			s.transport.Close()
			s.state = StateClosed
		}
	}()

	var out []byte
	if s.cfg.InBandAuth {
		out, err = s.login(ctx)
	} else {
		out, err = s.waitPrompt(ctx)
	}
	if err != nil {
		return err
	}
	s.prompt = platform.LastPrompt(out)
	s.priv.Observe(s.prompt)

	if err = s.priv.Acquire(ctx, s.profile.DefaultLevel); err != nil {
		return err
	}
	for _, cmd := range s.profile.OnOpen {
		if _, err = s.exchange(ctx, cmd, s.cfg.OpsTimeout); err != nil {
			return err
		}
	}

	s.state = StateOpen
	ylog.Infof("Session", "session to %s opened at %s", s.cfg.Host, s.profile.DefaultLevel)
	return nil
}

// waitPrompt 等待登录后的首个提示符，超时则发送回车再等一次
func (s *Session) waitPrompt(ctx context.Context) ([]byte, error) {
	out, _, err := s.transport.ReadUntil(ctx, s.cfg.OpsTimeout, s.profile.BasePattern())
	if err == nil {
		return out, nil
	}
	if !connection.IsErrorCode(err, connection.ErrCodeTimeout) {
		return nil, err
	}
	if err := s.transport.Write([]byte(s.profile.ReturnChar)); err != nil {
		return nil, err
	}
	out, _, err = s.transport.ReadUntil(ctx, s.cfg.OpsTimeout, s.profile.BasePattern())
	return out, err
}

// login 识别用户名/密码提示符完成带内认证
func (s *Session) login(ctx context.Context) ([]byte, error) {
	var sentUser, sentPass bool
	for {
		out, idx, err := s.transport.ReadUntil(ctx, s.cfg.OpsTimeout,
			s.profile.LoginPattern, s.profile.PasswordPattern, s.profile.BasePattern())
		if err != nil {
			if connection.IsErrorCode(err, connection.ErrCodeTimeout) {
				return nil, connection.NewConnectionError(err, "no login prompt from %s", s.cfg.Host)
			}
			return nil, err
		}
		switch idx {
		case 0:
			if sentUser {
				return nil, connection.NewConnectionError(nil, "authentication to %s failed", s.cfg.Host)
			}
			sentUser = true
			ylog.Debugf("Session", "%s: sending username", s.cfg.Host)
			err = s.transport.Write([]byte(s.cfg.Username + s.profile.ReturnChar))
		case 1:
			if sentPass {
				return nil, connection.NewConnectionError(nil, "authentication to %s failed", s.cfg.Host)
			}
			sentPass = true
			err = s.transport.Write([]byte(s.cfg.Password + s.profile.ReturnChar))
		default:
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// ensureOpen 已关闭的会话拒绝任何操作
func (s *Session) ensureOpen() error {
	if s.state != StateOpen {
		return connection.NewSessionClosedError(s.cfg.Host)
	}
	return nil
}

// fail 致命错误使会话进入CLOSED，超时只标记需要重新同步
func (s *Session) fail(err error) error {
	switch {
	case connection.IsErrorCode(err, connection.ErrCodeConnection):
		ylog.Errorf("Session", "session to %s lost: %v", s.cfg.Host, err)
		s.state = StateClosed
		s.priv.Reset()
		s.transport.Close()
	case connection.IsErrorCode(err, connection.ErrCodeTimeout),
		connection.IsErrorCode(err, connection.ErrCodePrivilege):
		s.dirty = true
	}
	return err
}

// resync 超时后丢弃残留输出并重新找到提示符
func (s *Session) resync(ctx context.Context) error {
	if !s.dirty {
		return nil
	}
	if d, ok := s.transport.(drainer); ok {
		d.Drain()
	}
	if err := s.transport.Write([]byte(s.profile.ReturnChar)); err != nil {
		return err
	}
	out, _, err := s.transport.ReadUntil(ctx, s.cfg.OpsTimeout, s.profile.BasePattern())
	if err != nil {
		return err
	}
	s.dirty = false
	s.prompt = platform.LastPrompt(out)
	s.priv.Observe(s.prompt)
	return nil
}

// exchange 发送一行输入并读取到提示符
func (s *Session) exchange(ctx context.Context, input string, timeout time.Duration) ([]byte, error) {
	ylog.Debugf("Session", "%s <- %q", s.cfg.Host, input)
	if err := s.transport.Write([]byte(input + s.profile.ReturnChar)); err != nil {
		return nil, err
	}
	out, _, err := s.transport.ReadUntil(ctx, timeout, s.profile.BasePattern())
	if err != nil {
		return nil, err
	}
	s.prompt = platform.LastPrompt(out)
	s.priv.Observe(s.prompt)
	return out, nil
}

// ensureLevel 把会话移动到目标级别（必要时降级）
func (s *Session) ensureLevel(ctx context.Context, target platform.Level) error {
	if cur, ok := s.priv.Current(); ok && cur > target {
		return s.priv.Release(ctx, target)
	}
	return s.priv.Acquire(ctx, target)
}

// prepare 操作前的公共检查
func (s *Session) prepare(ctx context.Context, level platform.Level) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := s.resync(ctx); err != nil {
		return s.fail(err)
	}
	if err := s.ensureLevel(ctx, level); err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *Session) failedWhenContains(o *connection.OpOptions) []string {
	if o.FailedWhenContains != nil {
		return o.FailedWhenContains
	}
	return s.profile.FailedWhenContains
}

// GetPrompt 返回当前提示符，不改变设备状态
func (s *Session) GetPrompt(ctx context.Context) (prompt string, err error) {
	start := time.Now()
	defer func() { s.observe("get_prompt", start, err) }()

	if err = s.ensureOpen(); err != nil {
		return "", err
	}
	if err = s.resync(ctx); err != nil {
		return "", s.fail(err)
	}
	out, err := s.exchange(ctx, "", s.cfg.OpsTimeout)
	if err != nil {
		return "", s.fail(err)
	}
	return platform.LastPrompt(out), nil
}

// SendCommand 在默认级别执行一条命令，不会设置changed
func (s *Session) SendCommand(ctx context.Context, command string, opts ...connection.OpOption) (resp *result.Response, err error) {
	start := time.Now()
	defer func() { s.observe("send_command", start, err) }()

	o := connection.NewOpOptions(s.cfg.OpsTimeout, opts...)
	if err = s.prepare(ctx, s.profile.DefaultLevel); err != nil {
		return nil, err
	}
	return s.sendCommand(ctx, command, o)
}

func (s *Session) sendCommand(ctx context.Context, command string, o *connection.OpOptions) (*result.Response, error) {
	fwc := s.failedWhenContains(o)
	resp := result.NewResponse(s.cfg.Host, command, fwc)
	out, err := s.exchange(ctx, command, o.Timeout)
	if err != nil {
		return nil, s.fail(err)
	}
	resp.Record(out, s.profile.CleanOutput(command, out, o.StripPrompt))
	if hit, failed := s.profile.ContainsFailure(resp.Result, fwc); failed {
		resp.Fail(hit)
	}
	return resp, nil
}

// SendCommands 顺序执行命令，每条命令都等待自己的提示符
func (s *Session) SendCommands(ctx context.Context, commands []string, opts ...connection.OpOption) (out []*result.Response, err error) {
	start := time.Now()
	defer func() { s.observe("send_commands", start, err) }()

	o := connection.NewOpOptions(s.cfg.OpsTimeout, opts...)
	if err = s.prepare(ctx, s.profile.DefaultLevel); err != nil {
		return nil, err
	}
	out = make([]*result.Response, 0, len(commands))
	for _, cmd := range commands {
		resp, err := s.sendCommand(ctx, cmd, o)
		if err != nil {
			return out, err
		}
		out = append(out, resp)
	}
	return out, nil
}

// SendConfigs 进入配置模式逐行下发，结束后回到默认级别。
// 没有配置模式的平台直接报错，dry-run也一样
func (s *Session) SendConfigs(ctx context.Context, configs []string, opts ...connection.OpOption) (out []*result.Response, err error) {
	if !s.profile.SupportsConfig() {
		return nil, connection.NewPlatformCapabilityError("No config mode for '%s' platform type", s.cfg.Platform)
	}
	o := connection.NewOpOptions(s.cfg.OpsTimeout, opts...)
	if o.DryRun {
		ylog.Infof("Session", "%s: dry run, %d config lines not sent", s.cfg.Host, len(configs))
		return []*result.Response{result.NewSkippedResponse(s.cfg.Host, connection.JoinLines(configs))}, nil
	}

	start := time.Now()
	defer func() { s.observe("send_configs", start, err) }()

	if err = s.prepare(ctx, platform.Configuration); err != nil {
		return nil, err
	}

	fwc := s.failedWhenContains(o)
	out = make([]*result.Response, 0, len(configs))
	for _, line := range configs {
		resp := result.NewResponse(s.cfg.Host, line, fwc)
		raw, xerr := s.exchange(ctx, line, o.Timeout)
		if xerr != nil {
			err = s.fail(xerr)
			break
		}
		output := s.profile.CleanOutput(line, raw, o.StripPrompt)
		resp.Record(raw, line+"\n"+output)
		if hit, failed := s.profile.ContainsFailure(output, fwc); failed {
			resp.Fail(hit)
		} else {
			resp.Changed = true
		}
		out = append(out, resp)
	}

	if s.state != StateOpen {
		return out, err
	}
	if rerr := s.priv.Release(ctx, s.profile.DefaultLevel); rerr != nil && err == nil {
		err = s.fail(rerr)
	}
	return out, err
}

// SendInteractive 依次发送事件输入并等待期望文本或失败文本。
// 期望文本按字面匹配，命中失败文本立即停止
func (s *Session) SendInteractive(ctx context.Context, events []connection.InteractEvent, opts ...connection.OpOption) (resp *result.Response, err error) {
	start := time.Now()
	defer func() { s.observe("send_interactive", start, err) }()

	o := connection.NewOpOptions(s.cfg.OpsTimeout, opts...)
	if err = s.prepare(ctx, s.profile.DefaultLevel); err != nil {
		return nil, err
	}

	fwc := s.failedWhenContains(o)
	failurePatterns := make([]*regexp.Regexp, 0, len(fwc))
	for _, f := range fwc {
		if f != "" {
			failurePatterns = append(failurePatterns, regexp.MustCompile(regexp.QuoteMeta(f)))
		}
	}

	resp = result.NewResponse(s.cfg.Host, connection.InteractInput(events), fwc)
	var transcript []byte
	for _, e := range events {
		if e.HideInput {
			ylog.Debugf("Session", "%s <- ***", s.cfg.Host)
		} else {
			ylog.Debugf("Session", "%s <- %q", s.cfg.Host, e.Input)
		}
		if err = s.transport.Write([]byte(e.Input + s.profile.ReturnChar)); err != nil {
			break
		}

		expect := s.profile.BasePattern()
		if e.Response != "" {
			expect = regexp.MustCompile(regexp.QuoteMeta(e.Response))
		}
		patterns := append([]*regexp.Regexp{expect}, failurePatterns...)

		out, idx, rerr := s.readInteract(ctx, o.Timeout, e, patterns)
		transcript = append(transcript, out...)
		if rerr != nil {
			err = rerr
			break
		}
		if idx > 0 {
			resp.Fail(fwc[indexOfNonEmpty(fwc, idx-1)])
			// 失败文本之后的输出仍在通道中
			s.dirty = true
			break
		}
	}

	// 交互记录保留完整输出，包括最后的提示符
	resp.Record(transcript, strings.TrimRight(platform.Normalize(transcript), " "))
	if p := platform.LastPrompt(transcript); s.profile.MatchesBasePrompt(p) {
		s.prompt = p
		s.priv.Observe(p)
	}
	if err != nil {
		resp.Fail(connection.Message(err))
		err = s.fail(err)
	}
	// 交互序列无法判断是否改动了设备，一律视为有变更
	resp.Changed = true
	return resp, err
}

// indexOfNonEmpty 返回fwc中第n个非空元素的下标
func indexOfNonEmpty(fwc []string, n int) int {
	for i, f := range fwc {
		if f == "" {
			continue
		}
		if n == 0 {
			return i
		}
		n--
	}
	return 0
}

// readInteract 先消费回显的输入再匹配期望文本和失败标记，
// 输入中包含这些文本时不会在回显上误匹配。设备不回显时直接按patterns匹配
func (s *Session) readInteract(ctx context.Context, timeout time.Duration, e connection.InteractEvent, patterns []*regexp.Regexp) ([]byte, int, error) {
	if e.HideInput || e.Input == "" {
		return s.transport.ReadUntil(ctx, timeout, patterns...)
	}
	echo := regexp.MustCompile(`\A[\r\n ]*` + regexp.QuoteMeta(e.Input))
	out, idx, err := s.transport.ReadUntil(ctx, timeout, append([]*regexp.Regexp{echo}, patterns...)...)
	if err != nil {
		return out, -1, err
	}
	if idx > 0 {
		return out, idx - 1, nil
	}
	rest, idx, err := s.transport.ReadUntil(ctx, timeout, patterns...)
	return append(out, rest...), idx, err
}

// Close 发送退出命令并关闭传输
func (s *Session) Close() error {
	if s.state == StateClosed {
		return s.transport.Close()
	}
	s.state = StateClosed
	s.priv.Reset()
	if s.profile.OnClose != "" && s.transport.IsAlive() {
		_ = s.transport.Write([]byte(s.profile.OnClose + s.profile.ReturnChar))
	}
	ylog.Infof("Session", "session to %s closed", s.cfg.Host)
	return s.transport.Close()
}

func (s *Session) observe(op string, start time.Time, err error) {
	if s.collector != nil {
		s.collector.RecordOperation(s.cfg.Protocol, op, time.Since(start), err)
	}
}
