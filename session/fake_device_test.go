package session

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charlesren/device_session/connection"
)

const fakeHostname = "sea-ios-1"

// fakeDevice 模拟一台Cisco IOS设备的Transport。
// 写入立即产生回显和输出，读取时没有匹配的数据直接返回超时
type fakeDevice struct {
	mu sync.Mutex

	secret   string
	password string
	// login 为true时打开后先要求输入用户名密码
	login bool
	// muteEnable 为true时enable命令没有任何输出
	muteEnable bool

	level        int // 0 exec, 1 privilege, 2 config
	section      string
	awaitSecret  bool
	awaitPass    bool
	awaitConfirm bool

	out    bytes.Buffer
	opened bool
	alive  bool

	writes  []string
	reads   int
	drained int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{secret: "enable-secret", password: "password"}
}

func (d *fakeDevice) prompt() string {
	switch d.level {
	case 0:
		return fakeHostname + ">"
	case 1:
		return fakeHostname + "#"
	default:
		if d.section != "" {
			return fakeHostname + "(config-" + d.section + ")#"
		}
		return fakeHostname + "(config)#"
	}
}

func (d *fakeDevice) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened, d.alive = true, true
	if d.login {
		d.out.WriteString("\r\nUser Access Verification\r\n\r\nUsername: ")
		return nil
	}
	d.out.WriteString("\r\n" + d.prompt())
	return nil
}

func (d *fakeDevice) Write(p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.alive {
		return connection.NewConnectionError(nil, "connection to %s is closed", fakeHostname)
	}
	line := strings.TrimSuffix(string(p), "\n")
	d.writes = append(d.writes, line)
	d.handle(line)
	return nil
}

func (d *fakeDevice) reply(echo, output string) {
	d.out.WriteString(echo)
	if output != "" {
		d.out.WriteString("\r\n" + output)
	}
	d.out.WriteString("\r\n" + d.prompt())
}

func (d *fakeDevice) handle(line string) {
	switch {
	case d.login:
		d.login = false
		d.awaitPass = true
		d.out.WriteString(line + "\r\nPassword: ")
		return
	case d.awaitPass:
		d.awaitPass = false
		if line != d.password {
			d.login = true
			d.out.WriteString("\r\n% Authentication failed\r\n\r\nUsername: ")
			return
		}
		d.out.WriteString("\r\n" + d.prompt())
		return
	case d.awaitSecret:
		d.awaitSecret = false
		if line != d.secret {
			d.awaitSecret = true
			d.out.WriteString("\r\n% Access denied\r\n\r\nPassword: ")
			return
		}
		d.level = 1
		d.out.WriteString("\r\n" + d.prompt())
		return
	case d.awaitConfirm:
		d.awaitConfirm = false
		d.out.WriteString("\r\n\r\n" + d.prompt())
		return
	}

	switch line {
	case "":
		d.out.WriteString("\r\n" + d.prompt())
	case "enable":
		if d.muteEnable {
			return
		}
		if d.level >= 1 {
			d.reply(line, "")
			return
		}
		d.awaitSecret = true
		d.out.WriteString(line + "\r\nPassword: ")
	case "disable":
		d.level = 0
		d.reply(line, "")
	case "configure terminal":
		d.level = 2
		d.reply(line, "Enter configuration commands, one per line.  End with CNTL/Z.")
	case "end":
		d.level, d.section = 1, ""
		d.reply(line, "")
	case "exit":
		if d.level == 2 {
			d.level, d.section = 1, ""
			d.reply(line, "")
			return
		}
		d.alive = false
	case "clear logg":
		d.awaitConfirm = true
		d.out.WriteString(line + "\r\nClear logging buffer [confirm]")
	case "show bogus":
		d.reply(line, "          ^\r\n% Invalid input detected at '^' marker.\r\n")
	case "slow":
		d.out.WriteString(line + "\r\nstill working")
	case "reload":
		d.alive = false
	default:
		if d.level == 2 && strings.HasPrefix(line, "interface ") {
			d.section = "if"
		}
		d.reply(line, "some stuff about whatever")
	}
}

func (d *fakeDevice) ReadUntil(ctx context.Context, timeout time.Duration, patterns ...*regexp.Regexp) ([]byte, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	if !d.alive {
		return nil, -1, connection.NewConnectionError(nil, "connection to %s is closed", fakeHostname)
	}
	data := d.out.Bytes()
	best, bestEnd := -1, -1
	for i, p := range patterns {
		loc := p.FindIndex(data)
		if loc != nil && (bestEnd < 0 || loc[1] < bestEnd) {
			best, bestEnd = i, loc[1]
		}
	}
	if best < 0 {
		return nil, -1, connection.NewTimeoutError(nil, "pattern not found within %s", timeout)
	}
	out := append([]byte{}, data[:bestEnd]...)
	d.out.Next(bestEnd)
	return out, best, nil
}

func (d *fakeDevice) Drain() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drained++
	out := append([]byte{}, d.out.Bytes()...)
	d.out.Reset()
	return out
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alive = false
	return nil
}

func (d *fakeDevice) IsAlive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alive
}

func (d *fakeDevice) Host() string {
	return fakeHostname
}

// counters 返回写入和读取次数
func (d *fakeDevice) counters() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.writes), d.reads
}

func (d *fakeDevice) written() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.writes...)
}
