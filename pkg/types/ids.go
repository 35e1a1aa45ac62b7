package types

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
)

// ============================================================================
//                              PeerID - 节点标识
// ============================================================================

// PeerIDLen PeerID 字节长度（160 位）
const PeerIDLen = 20

// PeerID 160 位节点标识
//
// 零值即零身份（zero identity），Dispatcher 用它识别尚未知道
// 对端身份的 ping。
type PeerID [PeerIDLen]byte

// ZeroPeerID 零身份
var ZeroPeerID PeerID

// String 返回十六进制表示
func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString 返回前 8 个十六进制字符，用于日志
func (id PeerID) ShortString() string {
	return id.String()[:8]
}

// Bytes 返回字节切片副本
func (id PeerID) Bytes() []byte {
	b := make([]byte, PeerIDLen)
	copy(b, id[:])
	return b
}

// IsZero 是否为零身份
func (id PeerID) IsZero() bool {
	return id == ZeroPeerID
}

// PeerIDFromBytes 从 20 字节切片构造
func PeerIDFromBytes(b []byte) (PeerID, error) {
	var id PeerID
	if len(b) != PeerIDLen {
		return id, ErrInvalidPeerID
	}
	copy(id[:], b)
	return id, nil
}

// ParsePeerID 解析十六进制字符串
func ParsePeerID(s string) (PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroPeerID, ErrInvalidPeerID
	}
	return PeerIDFromBytes(b)
}

// PeerIDFromName 对名字做 SHA-1 得到 PeerID，便于测试和命令行指定身份
func PeerIDFromName(name string) PeerID {
	return PeerID(sha1.Sum([]byte(name)))
}

// RandomPeerID 生成随机 PeerID
func RandomPeerID() PeerID {
	var id PeerID
	if _, err := rand.Read(id[:]); err != nil {
		panic(err)
	}
	return id
}
