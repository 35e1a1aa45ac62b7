// Package codec 实现传输层消息的二进制编解码
//
// 消息头为定长大端字段，后接发送方、接收方地址和负载：
//
//	version:u32 id:u32 type:u8 command:u8 options:u8
//	sender:addr recipient:addr payload_len:u32 payload
//	addr = id:[20]byte ip_len:u8 ip:[ip_len]byte tcp:u16 udp:u16
//
// TCP 上每条消息前加 varint 长度前缀；UDP 上一个数据报一条消息。
// 解码到发送方地址时立即交给 Recorder，后续字段未到达时也能知道对端。
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-dhtnet/pkg/types"
)

const (
	// MaxMessageSize 单条消息最大长度（10 MiB）
	MaxMessageSize = 10 * 1024 * 1024

	// MaxPacketSize 单个数据报内消息的最大长度
	MaxPacketSize = 1400

	// fixedHeaderSize version + id + type + command + options
	fixedHeaderSize = 4 + 4 + 1 + 1 + 1
)

// Recorder 接收部分解码的结果
type Recorder interface {
	RecordSender(sender types.PeerAddress)
}

// StreamReader 流式解码所需的读接口，bufio.Reader 满足
type StreamReader interface {
	io.Reader
	io.ByteReader
}

// Codec 消息编解码
type Codec interface {
	// EncodeFrame 编码为带长度前缀的流帧
	EncodeFrame(msg *types.Message) ([]byte, error)
	// EncodePacket 编码为单个数据报
	EncodePacket(msg *types.Message) ([]byte, error)
	// DecodeFrame 从流中读取一帧
	DecodeFrame(r StreamReader, rec Recorder) (*types.Message, error)
	// DecodePacket 解码一个数据报
	DecodePacket(b []byte, rec Recorder) (*types.Message, error)
}

// Binary 默认二进制编解码器，无状态，可并发使用
type Binary struct{}

var _ Codec = Binary{}

// New 返回默认编解码器
func New() Codec {
	return Binary{}
}

// ============================================================================
//                              编码
// ============================================================================

// EncodeFrame 实现 Codec
func (Binary) EncodeFrame(msg *types.Message) ([]byte, error) {
	body, err := encode(msg)
	if err != nil {
		return nil, err
	}
	prefix := varint.ToUvarint(uint64(len(body)))
	out := make([]byte, 0, len(prefix)+len(body))
	out = append(out, prefix...)
	return append(out, body...), nil
}

// EncodePacket 实现 Codec
func (Binary) EncodePacket(msg *types.Message) ([]byte, error) {
	body, err := encode(msg)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(body))
	}
	return body, nil
}

func encode(msg *types.Message) ([]byte, error) {
	size := fixedHeaderSize + addrSize(msg.Sender) + addrSize(msg.Recipient) + 4 + len(msg.Payload)
	if size > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
	}

	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, msg.Version)
	buf = binary.BigEndian.AppendUint32(buf, msg.ID)
	buf = append(buf, byte(msg.Type), msg.Command, msg.Options)

	var err error
	if buf, err = appendAddr(buf, msg.Sender); err != nil {
		return nil, err
	}
	if buf, err = appendAddr(buf, msg.Recipient); err != nil {
		return nil, err
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Payload)))
	return append(buf, msg.Payload...), nil
}

func addrSize(a types.PeerAddress) int {
	return types.PeerIDLen + 1 + len(normalizeIP(a.IP)) + 2 + 2
}

func normalizeIP(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

func appendAddr(buf []byte, a types.PeerAddress) ([]byte, error) {
	ip := normalizeIP(a.IP)
	if len(ip) != 0 && len(ip) != net.IPv4len && len(ip) != net.IPv6len {
		return nil, fmt.Errorf("%w: ip length %d", ErrInvalidAddress, len(ip))
	}
	if a.TCPPort < 0 || a.TCPPort > 0xffff || a.UDPPort < 0 || a.UDPPort > 0xffff {
		return nil, fmt.Errorf("%w: port out of range", ErrInvalidAddress)
	}
	buf = append(buf, a.ID[:]...)
	buf = append(buf, byte(len(ip)))
	buf = append(buf, ip...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(a.TCPPort))
	return binary.BigEndian.AppendUint16(buf, uint16(a.UDPPort)), nil
}

// ============================================================================
//                              解码
// ============================================================================

// DecodeFrame 实现 Codec
func (Binary) DecodeFrame(r StreamReader, rec Recorder) (*types.Message, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > MaxMessageSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrMessageTooLarge, n)
	}
	lr := &io.LimitedReader{R: r, N: int64(n)}
	msg, err := decode(lr, rec)
	if err != nil {
		return nil, unexpectedEOF(err)
	}
	if lr.N != 0 {
		return nil, ErrTrailingData
	}
	return msg, nil
}

// DecodePacket 实现 Codec
func (Binary) DecodePacket(b []byte, rec Recorder) (*types.Message, error) {
	r := bytes.NewReader(b)
	msg, err := decode(r, rec)
	if err != nil {
		return nil, unexpectedEOF(err)
	}
	if r.Len() != 0 {
		return nil, ErrTrailingData
	}
	return msg, nil
}

func decode(r io.Reader, rec Recorder) (*types.Message, error) {
	var hdr [fixedHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	msg := &types.Message{
		Version: binary.BigEndian.Uint32(hdr[0:4]),
		ID:      binary.BigEndian.Uint32(hdr[4:8]),
		Type:    types.MessageType(hdr[8]),
		Command: hdr[9],
		Options: hdr[10],
	}
	if !msg.Type.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, hdr[8])
	}

	var err error
	if msg.Sender, err = readAddr(r); err != nil {
		return nil, err
	}
	if rec != nil {
		rec.RecordSender(msg.Sender)
	}
	if msg.Recipient, err = readAddr(r); err != nil {
		return nil, err
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxMessageSize {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrMessageTooLarge, n)
	}
	// 先核对剩余长度再分配，避免短帧声明大负载
	if rem, ok := remaining(r); ok && int64(n) > rem {
		return nil, fmt.Errorf("%w: payload of %d bytes, %d remaining", ErrTruncated, n, rem)
	}
	if n > 0 {
		msg.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// remaining 帧或数据报内尚未读取的字节数
func remaining(r io.Reader) (int64, bool) {
	switch v := r.(type) {
	case *io.LimitedReader:
		return v.N, true
	case *bytes.Reader:
		return int64(v.Len()), true
	}
	return 0, false
}

func readAddr(r io.Reader) (types.PeerAddress, error) {
	var a types.PeerAddress
	var head [types.PeerIDLen + 1]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return a, err
	}
	copy(a.ID[:], head[:types.PeerIDLen])

	ipLen := int(head[types.PeerIDLen])
	if ipLen != 0 && ipLen != net.IPv4len && ipLen != net.IPv6len {
		return a, fmt.Errorf("%w: ip length %d", ErrInvalidAddress, ipLen)
	}
	rest := make([]byte, ipLen+4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return a, err
	}
	if ipLen > 0 {
		a.IP = net.IP(rest[:ipLen])
	}
	a.TCPPort = int(binary.BigEndian.Uint16(rest[ipLen:]))
	a.UDPPort = int(binary.BigEndian.Uint16(rest[ipLen+2:]))
	return a, nil
}

// unexpectedEOF 帧或数据报中途结束时统一为 io.ErrUnexpectedEOF
func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
