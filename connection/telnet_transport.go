package connection

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/charlesren/ylog"
	gote "github.com/morganhein/go-telnet"
)

// NewTelnetTransport 通过telnet建立字节流，登录由会话在带内完成
func NewTelnetTransport(cfg *DeviceConfig) *StreamTransport {
	return NewStreamTransport(cfg.Host, func(ctx context.Context) (io.ReadWriteCloser, error) {
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		ylog.Debugf("TelnetTransport", "dialing %s", addr)

		type dialResult struct {
			conn io.ReadWriteCloser
			err  error
		}
		ch := make(chan dialResult, 1)
		go func() {
			conn, err := gote.Dial("tcp", addr)
			ch <- dialResult{conn, err}
		}()

		select {
		case r := <-ch:
			if r.err != nil {
				return nil, fmt.Errorf("telnet dial %s: %w", addr, r.err)
			}
			return r.conn, nil
		case <-ctx.Done():
			// 拨号成功后仍需关闭
			go func() {
				if r := <-ch; r.err == nil {
					r.conn.Close()
				}
			}()
			return nil, ctx.Err()
		}
	})
}
