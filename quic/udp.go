package quic

import (
	"net"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// udpRecvBufferSize and udpSendBufferSize are requested on every socket this
// package opens: the kernel defaults are sized for a handful of short-lived
// TCP connections, not a UDP socket multiplexing many QUIC connections.
const (
	udpRecvBufferSize = 4 << 20
	udpSendBufferSize = 4 << 20
)

// tuneUDPConn raises the socket's receive/send buffers past the kernel
// default so a burst of incoming datagrams across many connections doesn't
// overflow the kernel queue before the endpoint's read loop drains it.
func tuneUDPConn(conn *net.UDPConn) error {
	fd := netfd.GetFdFromConn(conn)
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, udpRecvBufferSize); err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, udpSendBufferSize)
}
