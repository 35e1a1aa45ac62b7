package connection

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// tcpControl 拨号前设置 SO_REUSEADDR
func tcpControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			opErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// broadcastControl 绑定前设置 SO_BROADCAST
func broadcastControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			opErr = fmt.Errorf("set SO_BROADCAST: %w", err)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// listenControl 监听套接字设置 SO_REUSEADDR，重启后可立即复用端口
func listenControl(network, address string, c syscall.RawConn) error {
	return tcpControl(network, address, c)
}

// tuneTCP 关闭 Nagle
//
// 不设置 SO_LINGER=0：单向请求写完即关闭，linger 0 会丢弃尚未发出的数据。
func tuneTCP(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tc.SetNoDelay(true); err != nil {
		log.Debug("设置 TCP_NODELAY 失败", "err", err)
	}
}
