package protocol

import (
	"io"

	"github.com/pkg/errors"

	"github.com/legamerdc/lenecho/internal/buffer"
)

// Codec 负责长度前缀帧的解析与编码。
// 零值 MaxPayload 视为 DefaultMaxPayload。
type Codec struct {
	MaxPayload int
}

func NewCodec(maxPayload int) Codec { return Codec{MaxPayload: maxPayload} }

func (c Codec) limit() int {
	if c.MaxPayload <= 0 {
		return DefaultMaxPayload
	}
	return c.MaxPayload
}

// TryParseOne 尝试从 b 头部解析一帧。
// 数据不足时返回 ok=false 且不修改 b；声明长度超限时返回 ErrMessageTooLarge，同样不修改 b。
// 成功时消费 4+length 字节，返回的 payload 与 b 共享内存，在 b 下一次 Append 前有效。
func (c Codec) TryParseOne(b *buffer.Buffer) (payload []byte, ok bool, _ error) {
	data := b.Bytes()
	if len(data) < HeaderSize {
		return nil, false, nil
	}
	length, _ := ReadHeader(data)
	if uint64(length) > uint64(c.limit()) {
		return nil, false, errors.Wrapf(ErrMessageTooLarge, "declared %d, max %d", length, c.limit())
	}
	total := HeaderSize + int(length)
	if len(data) < total {
		return nil, false, nil
	}
	payload = data[HeaderSize:total:total]
	if err := b.Consume(total); err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// AppendFrame 将 header+payload 追加到 dst；超限负载返回 ErrMessageTooLarge，绝不截断。
func (c Codec) AppendFrame(dst, payload []byte) ([]byte, error) {
	if len(payload) > c.limit() {
		return dst, errors.Wrapf(ErrMessageTooLarge, "payload %d, max %d", len(payload), c.limit())
	}
	dst = AppendHeader(dst, uint32(len(payload)))
	return append(dst, payload...), nil
}

// Serialize 返回一帧完整字节。
func (c Codec) Serialize(payload []byte) ([]byte, error) {
	return c.AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload)
}

// WriteFrame 将一帧写入发送缓冲。
func (c Codec) WriteFrame(b *buffer.Buffer, payload []byte) error {
	if len(payload) > c.limit() {
		return errors.Wrapf(ErrMessageTooLarge, "payload %d, max %d", len(payload), c.limit())
	}
	var hdr [HeaderSize]byte
	_ = PutHeader(hdr[:], uint32(len(payload)))
	b.Append(hdr[:])
	b.Append(payload)
	return nil
}

// ReadFrame 从阻塞 reader 读取一帧（客户端使用）。
// scratch 容量足够时复用，否则重新分配。
func (c Codec) ReadFrame(r io.Reader, scratch []byte) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length, _ := ReadHeader(hdr[:])
	if uint64(length) > uint64(c.limit()) {
		return nil, errors.Wrapf(ErrMessageTooLarge, "declared %d, max %d", length, c.limit())
	}
	// 空帧也返回非 nil 切片
	if scratch == nil || cap(scratch) < int(length) {
		scratch = make([]byte, length)
	}
	scratch = scratch[:length]
	if _, err := io.ReadFull(r, scratch); err != nil {
		return nil, err
	}
	return scratch, nil
}
