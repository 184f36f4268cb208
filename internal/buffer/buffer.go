package buffer

import (
	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

var ErrShortBuffer = errors.New("buffer: consume beyond length")

// compactThreshold 以下的死前缀不值得搬移。
const compactThreshold = 4 << 10

// Buffer 是可增长的字节序列，只支持尾部追加与头部消费。
// 无锁；只在所属连接的 poller goroutine 中使用。
//
// Consume 只前进读指针，数据搬移推迟到下一次 Append，
// 因此 Bytes 返回的视图在下一次 Append/Reset/Release 之前一直有效。
type Buffer struct {
	bb      *bytebufferpool.ByteBuffer
	readPos int
}

// New 返回空缓冲；底层存储在第一次 Append 时从池中借出。
func New() *Buffer { return &Buffer{} }

func (b *Buffer) Len() int {
	if b.bb == nil {
		return 0
	}
	return len(b.bb.B) - b.readPos
}

// Bytes 返回尚未消费的数据视图。
func (b *Buffer) Bytes() []byte {
	if b.bb == nil {
		return nil
	}
	return b.bb.B[b.readPos:]
}

// Append 将 p 追加到逻辑末尾，不设上限。
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	if b.bb == nil {
		b.bb = bytebufferpool.Get()
	}
	b.compact(len(p))
	b.bb.B = append(b.bb.B, p...)
}

// compact 在追加会触发扩容，或死前缀过半且超过阈值时，把剩余数据搬到头部。
func (b *Buffer) compact(incoming int) {
	if b.readPos == 0 {
		return
	}
	if b.readPos == len(b.bb.B) {
		b.bb.B = b.bb.B[:0]
		b.readPos = 0
		return
	}
	grow := len(b.bb.B)+incoming > cap(b.bb.B)
	mostlyDead := b.readPos >= compactThreshold && b.readPos*2 >= len(b.bb.B)
	if !grow && !mostlyDead {
		return
	}
	n := copy(b.bb.B, b.bb.B[b.readPos:])
	b.bb.B = b.bb.B[:n]
	b.readPos = 0
}

// Consume 移除前 n 个字节；越界时返回 ErrShortBuffer 且不修改缓冲。
func (b *Buffer) Consume(n int) error {
	if n < 0 || n > b.Len() {
		return errors.Wrapf(ErrShortBuffer, "consume %d of %d", n, b.Len())
	}
	if n == 0 {
		return nil
	}
	b.readPos += n
	return nil
}

// Reset 清空内容但保留底层存储。
func (b *Buffer) Reset() {
	if b.bb == nil {
		return
	}
	b.bb.Reset()
	b.readPos = 0
}

// Release 将底层存储归还到池中，之后 Buffer 仍可继续使用。
func (b *Buffer) Release() {
	if b.bb == nil {
		return
	}
	bytebufferpool.Put(b.bb)
	b.bb = nil
	b.readPos = 0
}
