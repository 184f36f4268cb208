package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// 帧头：
//   +----------------+----------------------+
//   | length: u32 LE | payload: length bytes|
//   +----------------+----------------------+

const (
	// HeaderSize 为定长帧头字节数。
	HeaderSize = 4
	// DefaultMaxPayload 为单帧默认最大负载。
	DefaultMaxPayload = 4096
)

var (
	errHeaderTooShort = errors.New("protocol: header too short")
	// ErrMessageTooLarge 声明长度超过上限，调用方必须关闭连接。
	ErrMessageTooLarge = errors.New("protocol: message too large")
)

// PutHeader 将 length 以小端写入 dst 前 4 字节。
func PutHeader(dst []byte, length uint32) error {
	if len(dst) < HeaderSize {
		return errHeaderTooShort
	}
	binary.LittleEndian.PutUint32(dst[:HeaderSize], length)
	return nil
}

// ReadHeader 从 b 前 4 字节解码小端长度。
func ReadHeader(b []byte) (length uint32, _ error) {
	if len(b) < HeaderSize {
		return 0, errHeaderTooShort
	}
	return binary.LittleEndian.Uint32(b[:HeaderSize]), nil
}

// AppendHeader 将长度头追加到切片末尾。
func AppendHeader(dst []byte, length uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, length)
}
