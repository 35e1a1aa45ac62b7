package types

import (
	"fmt"
	"net"
	"strconv"
)

// PeerAddress 节点地址：身份 + IP + TCP/UDP 端口
type PeerAddress struct {
	ID      PeerID
	IP      net.IP
	TCPPort int
	UDPPort int
}

// NewPeerAddress 构造地址
func NewPeerAddress(id PeerID, ip net.IP, tcpPort, udpPort int) PeerAddress {
	return PeerAddress{ID: id, IP: ip, TCPPort: tcpPort, UDPPort: udpPort}
}

// PeerAddressFromNetAddr 从套接字地址恢复一个匿名地址
//
// 身份为零，TCP 与 UDP 端口都取套接字端口。无法识别的地址类型返回 false。
func PeerAddressFromNetAddr(addr net.Addr) (PeerAddress, bool) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return PeerAddress{IP: a.IP, TCPPort: a.Port, UDPPort: a.Port}, true
	case *net.UDPAddr:
		return PeerAddress{IP: a.IP, TCPPort: a.Port, UDPPort: a.Port}, true
	}
	return PeerAddress{}, false
}

// TCPAddr 返回 TCP 套接字地址
func (a PeerAddress) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: a.IP, Port: a.TCPPort}
}

// UDPAddr 返回 UDP 套接字地址
func (a PeerAddress) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP, Port: a.UDPPort}
}

// IsZero 身份、IP 和端口都未设置
func (a PeerAddress) IsZero() bool {
	return a.ID.IsZero() && len(a.IP) == 0 && a.TCPPort == 0 && a.UDPPort == 0
}

// Equal 比较身份、IP 和端口
func (a PeerAddress) Equal(o PeerAddress) bool {
	return a.ID == o.ID && a.IP.Equal(o.IP) && a.TCPPort == o.TCPPort && a.UDPPort == o.UDPPort
}

// WithID 返回替换了身份的副本
func (a PeerAddress) WithID(id PeerID) PeerAddress {
	a.ID = id
	return a
}

// String 形如 1a2b3c4d@127.0.0.1[t4001,u4001]
func (a PeerAddress) String() string {
	ip := "<nil>"
	if a.IP != nil {
		ip = a.IP.String()
	}
	return fmt.Sprintf("%s@%s[t%s,u%s]", a.ID.ShortString(), ip,
		strconv.Itoa(a.TCPPort), strconv.Itoa(a.UDPPort))
}
