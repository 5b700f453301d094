package connection

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/charlesren/ylog"
)

// Transport 与设备之间的字节流通道。
// 只负责读写与匹配，不做任何重试
type Transport interface {
	Open(ctx context.Context) error
	Write(p []byte) error
	// ReadUntil 读取直到任一pattern匹配，返回截至匹配结束处的数据及命中的pattern下标
	ReadUntil(ctx context.Context, timeout time.Duration, patterns ...*regexp.Regexp) ([]byte, int, error)
	Close() error
	IsAlive() bool
	Host() string
}

// DialFunc 建立底层字节流
type DialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

var (
	ansiEscape    = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b[()][AB012]`)
	partialEscape = regexp.MustCompile(`^\x1b(\[[0-9;?]*|[()])?$`)
)

// StreamTransport 在任意io.ReadWriteCloser上实现缓冲和匹配。
// 后台goroutine持续读取并去除ANSI控制序列，同一时刻只允许一个ReadUntil
type StreamTransport struct {
	host string
	dial DialFunc

	mu      sync.Mutex
	rwc     io.ReadWriteCloser
	buf     bytes.Buffer
	carry   []byte // 被截断的控制序列
	readErr error
	opened  bool
	closed  bool
	signal  chan struct{}
}

func NewStreamTransport(host string, dial DialFunc) *StreamTransport {
	return &StreamTransport{
		host:   host,
		dial:   dial,
		signal: make(chan struct{}, 1),
	}
}

func (t *StreamTransport) Host() string {
	return t.host
}

func (t *StreamTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	if t.opened {
		t.mu.Unlock()
		return nil
	}
	if t.closed {
		t.mu.Unlock()
		return NewConnectionError(nil, "transport to %s already closed", t.host)
	}
	t.mu.Unlock()

	rwc, err := t.dial(ctx)
	if err != nil {
		return NewConnectionError(err, "failed to connect to %s", t.host)
	}

	t.mu.Lock()
	t.rwc = rwc
	t.opened = true
	t.mu.Unlock()

	go t.pump(rwc)
	ylog.Debugf("Transport", "transport to %s opened", t.host)
	return nil
}

func (t *StreamTransport) pump(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			t.mu.Lock()
			t.appendLocked(chunk[:n])
			t.mu.Unlock()
			t.notify()
		}
		if err != nil {
			t.mu.Lock()
			if t.readErr == nil {
				t.readErr = err
			}
			t.mu.Unlock()
			t.notify()
			ylog.Debugf("Transport", "read loop of %s stopped: %v", t.host, err)
			return
		}
	}
}

// appendLocked 去掉控制序列后追加到缓冲区，末尾不完整的序列留到下次
func (t *StreamTransport) appendLocked(p []byte) {
	data := append(t.carry, p...)
	t.carry = nil
	if i := bytes.LastIndexByte(data, 0x1b); i >= 0 && partialEscape.Match(data[i:]) {
		t.carry = append([]byte{}, data[i:]...)
		data = data[:i]
	}
	t.buf.Write(ansiEscape.ReplaceAll(data, nil))
}

func (t *StreamTransport) notify() {
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

func (t *StreamTransport) Write(p []byte) error {
	t.mu.Lock()
	rwc, alive := t.rwc, t.aliveLocked()
	t.mu.Unlock()
	if !alive {
		return NewConnectionError(nil, "transport to %s is not open", t.host)
	}
	if _, err := rwc.Write(p); err != nil {
		return NewConnectionError(err, "write to %s failed", t.host)
	}
	return nil
}

func (t *StreamTransport) ReadUntil(ctx context.Context, timeout time.Duration, patterns ...*regexp.Regexp) ([]byte, int, error) {
	if len(patterns) == 0 {
		return nil, -1, NewArgumentError("ReadUntil requires at least one pattern")
	}
	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}

	for {
		t.mu.Lock()
		if !t.opened {
			t.mu.Unlock()
			return nil, -1, NewConnectionError(nil, "transport to %s is not open", t.host)
		}
		if out, idx, ok := t.matchLocked(patterns); ok {
			t.mu.Unlock()
			return out, idx, nil
		}
		if t.closed || t.readErr != nil {
			cause := t.readErr
			t.mu.Unlock()
			if cause == nil || errors.Is(cause, io.EOF) {
				return nil, -1, NewConnectionError(cause, "connection to %s closed", t.host)
			}
			return nil, -1, NewConnectionError(cause, "read from %s failed", t.host)
		}
		t.mu.Unlock()

		select {
		case <-t.signal:
		case <-timer:
			return nil, -1, NewTimeoutError(nil, "timed out after %s waiting for prompt on %s", timeout, t.host)
		case <-ctx.Done():
			return nil, -1, NewTimeoutError(ctx.Err(), "operation on %s cancelled", t.host)
		}
	}
}

// matchLocked 在缓冲区中找最早结束的匹配并消费到该位置
func (t *StreamTransport) matchLocked(patterns []*regexp.Regexp) ([]byte, int, bool) {
	data := t.buf.Bytes()
	best, bestEnd := -1, -1
	for i, p := range patterns {
		if p == nil {
			continue
		}
		loc := p.FindIndex(data)
		if loc == nil {
			continue
		}
		if bestEnd < 0 || loc[1] < bestEnd {
			best, bestEnd = i, loc[1]
		}
	}
	if best < 0 {
		return nil, -1, false
	}
	out := make([]byte, bestEnd)
	copy(out, data[:bestEnd])
	t.buf.Next(bestEnd)
	return out, best, true
}

// Drain 取走缓冲区中尚未消费的数据
func (t *StreamTransport) Drain() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := append([]byte{}, t.buf.Bytes()...)
	t.buf.Reset()
	return out
}

func (t *StreamTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	rwc := t.rwc
	t.mu.Unlock()
	t.notify()

	if rwc == nil {
		return nil
	}
	err := rwc.Close()
	ylog.Debugf("Transport", "transport to %s closed", t.host)
	return err
}

func (t *StreamTransport) IsAlive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aliveLocked()
}

func (t *StreamTransport) aliveLocked() bool {
	return t.opened && !t.closed && t.readErr == nil
}
