package connection

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/charlesren/ylog"
	"golang.org/x/crypto/ssh"
)

// sshStream 将交互式shell的stdin/stdout组合为一个字节流
type sshStream struct {
	io.Reader
	stdin   io.WriteCloser
	session *ssh.Session
	client  *ssh.Client
}

func (s *sshStream) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *sshStream) Close() error {
	s.stdin.Close()
	s.session.Close()
	return s.client.Close()
}

// NewSSHTransport 通过SSH建立带PTY的交互式shell
func NewSSHTransport(cfg *DeviceConfig) *StreamTransport {
	return NewStreamTransport(cfg.Host, func(ctx context.Context) (io.ReadWriteCloser, error) {
		return dialSSH(ctx, cfg)
	})
}

func dialSSH(ctx context.Context, cfg *DeviceConfig) (io.ReadWriteCloser, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	clientCfg := &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(cfg.Password),
			// 部分设备只开放keyboard-interactive
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = cfg.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.ConnectTimeout,
		BannerCallback:  func(string) error { return nil },
	}

	ylog.Debugf("SSHTransport", "dialing %s as %s", addr, cfg.Username)
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(cfg.TerminalType, cfg.TerminalHeight, cfg.TerminalWidth, modes); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	ylog.Infof("SSHTransport", "ssh shell to %s started", addr)
	return &sshStream{Reader: stdout, stdin: stdin, session: session, client: client}, nil
}
