package session

import (
	"context"
	"time"

	"github.com/charlesren/ylog"

	"github.com/charlesren/device_session/connection"
	"github.com/charlesren/device_session/platform"
)

// PrivilegeMachine 按平台定义的顺序在权限级别之间移动。
// 每一步都必须看到下一级别的提示符才继续
type PrivilegeMachine struct {
	profile   *platform.Profile
	transport connection.Transport
	secret    string
	timeout   time.Duration

	current platform.Level
	known   bool
}

func NewPrivilegeMachine(profile *platform.Profile, transport connection.Transport, secret string, timeout time.Duration) *PrivilegeMachine {
	return &PrivilegeMachine{
		profile:   profile,
		transport: transport,
		secret:    secret,
		timeout:   timeout,
	}
}

// Current 返回当前级别，尚未识别时ok为false
func (m *PrivilegeMachine) Current() (platform.Level, bool) {
	return m.current, m.known
}

// Observe 根据最新看到的提示符更新当前级别
func (m *PrivilegeMachine) Observe(prompt string) {
	if l, ok := m.profile.LevelForPrompt(prompt); ok {
		m.current, m.known = l, true
	}
}

// Reset 会话关闭后级别未知
func (m *PrivilegeMachine) Reset() {
	m.known = false
}

// Acquire 提升到目标级别；已在目标级别或更高时不做任何操作
func (m *PrivilegeMachine) Acquire(ctx context.Context, target platform.Level) error {
	if !m.profile.HasLevel(target) {
		return connection.NewPlatformCapabilityError("platform '%s' has no %s level", m.profile.Type, target)
	}
	if !m.known {
		if err := m.detect(ctx); err != nil {
			return err
		}
	}
	if m.current >= target {
		return nil
	}

	for m.current < target {
		next, ok := m.nextAbove(m.current)
		if !ok {
			return connection.NewPrivilegeError(nil, "no escalation path from %s to %s", m.current, target)
		}
		if err := m.escalate(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

// Release 逐级退回到目标级别；已在目标级别或更低时不做任何操作
func (m *PrivilegeMachine) Release(ctx context.Context, target platform.Level) error {
	if !m.profile.HasLevel(target) {
		return connection.NewPlatformCapabilityError("platform '%s' has no %s level", m.profile.Type, target)
	}
	if !m.known {
		if err := m.detect(ctx); err != nil {
			return err
		}
	}
	for m.current > target {
		spec, _ := m.profile.Spec(m.current)
		prev, ok := m.nextBelow(m.current)
		if !ok || spec.DeescalateCommand == "" {
			return connection.NewPrivilegeError(nil, "no de-escalation path from %s to %s", m.current, target)
		}
		ylog.Debugf("Privilege", "%s: %s -> %s", m.transport.Host(), m.current, prev.Level)
		out, err := m.step(ctx, spec.DeescalateCommand)
		if err != nil {
			return m.stepError(err, prev.Level)
		}
		if err := m.confirm(out, prev.Level, spec.DeescalateCommand); err != nil {
			return err
		}
	}
	return nil
}

func (m *PrivilegeMachine) escalate(ctx context.Context, next platform.LevelSpec) error {
	ylog.Debugf("Privilege", "%s: %s -> %s", m.transport.Host(), m.current, next.Level)
	if err := m.transport.Write([]byte(next.EscalateCommand + m.profile.ReturnChar)); err != nil {
		return err
	}
	out, idx, err := m.transport.ReadUntil(ctx, m.timeout, m.profile.BasePattern(), m.profile.PasswordPattern)
	if err != nil {
		return m.stepError(err, next.Level)
	}

	if idx == 1 {
		if !next.EscalateAuth || m.secret == "" {
			return connection.NewPrivilegeError(nil, "escalation to %s asked for a secret but none is configured", next.Level)
		}
		// secret不记录日志
		if err := m.transport.Write([]byte(m.secret + m.profile.ReturnChar)); err != nil {
			return err
		}
		out, idx, err = m.transport.ReadUntil(ctx, m.timeout, m.profile.BasePattern(), m.profile.PasswordPattern)
		if err != nil {
			return m.stepError(err, next.Level)
		}
		if idx == 1 {
			return connection.NewPrivilegeError(nil, "secret rejected while escalating to %s", next.Level)
		}
	}
	return m.confirm(out, next.Level, next.EscalateCommand)
}

func (m *PrivilegeMachine) step(ctx context.Context, command string) ([]byte, error) {
	if err := m.transport.Write([]byte(command + m.profile.ReturnChar)); err != nil {
		return nil, err
	}
	out, _, err := m.transport.ReadUntil(ctx, m.timeout, m.profile.BasePattern())
	return out, err
}

// confirm 校验到达的级别与预期一致
func (m *PrivilegeMachine) confirm(out []byte, want platform.Level, command string) error {
	prompt := platform.LastPrompt(out)
	got, ok := m.profile.LevelForPrompt(prompt)
	if !ok {
		return connection.NewPrivilegeError(nil, "unrecognized prompt %q after %q", prompt, command)
	}
	m.current, m.known = got, true
	if got != want {
		return connection.NewPrivilegeError(nil, "expected %s prompt after %q, got %q", want, command, prompt)
	}
	return nil
}

// stepError 提示符未出现转为PrivilegeError，连接错误原样返回
func (m *PrivilegeMachine) stepError(err error, level platform.Level) error {
	if connection.IsErrorCode(err, connection.ErrCodeTimeout) {
		return connection.NewPrivilegeError(err, "prompt for %s never appeared", level)
	}
	return err
}

// detect 发送回车根据提示符识别当前级别
func (m *PrivilegeMachine) detect(ctx context.Context) error {
	out, err := m.step(ctx, "")
	if err != nil {
		return err
	}
	prompt := platform.LastPrompt(out)
	l, ok := m.profile.LevelForPrompt(prompt)
	if !ok {
		return connection.NewPrivilegeError(nil, "unrecognized prompt %q", prompt)
	}
	m.current, m.known = l, true
	return nil
}

func (m *PrivilegeMachine) nextAbove(l platform.Level) (platform.LevelSpec, bool) {
	for _, s := range m.profile.Levels {
		if s.Level > l {
			return s, true
		}
	}
	return platform.LevelSpec{}, false
}

func (m *PrivilegeMachine) nextBelow(l platform.Level) (platform.LevelSpec, bool) {
	for i := len(m.profile.Levels) - 1; i >= 0; i-- {
		if m.profile.Levels[i].Level < l {
			return m.profile.Levels[i], true
		}
	}
	return platform.LevelSpec{}, false
}
