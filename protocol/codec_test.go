package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/lenecho/internal/buffer"
)

func frame(payload string) []byte {
	out := make([]byte, HeaderSize, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	return append(out, payload...)
}

func TestHeaderLittleEndian(t *testing.T) {
	var b [HeaderSize]byte
	require.NoError(t, PutHeader(b[:], 0x01020304))
	require.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, b[:])

	n, err := ReadHeader(b[:])
	require.NoError(t, err)
	require.Equal(t, uint32(0x01020304), n)

	_, err = ReadHeader(b[:3])
	require.Error(t, err)
	require.Error(t, PutHeader(make([]byte, 2), 1))
}

func TestTryParseOneIncomplete(t *testing.T) {
	c := NewCodec(DefaultMaxPayload)
	b := buffer.New()
	defer b.Release()

	full := frame("hello")
	for i := 0; i < len(full); i++ {
		b.Append(full[i : i+1])
		msg, ok, err := c.TryParseOne(b)
		require.NoError(t, err)
		if i < len(full)-1 {
			require.False(t, ok)
			require.Equal(t, i+1, b.Len(), "buffer must stay untouched")
			continue
		}
		require.True(t, ok)
		require.Equal(t, "hello", string(msg))
		require.Equal(t, 0, b.Len())
	}
}

func TestTryParseOnePipelined(t *testing.T) {
	c := NewCodec(DefaultMaxPayload)
	b := buffer.New()
	defer b.Release()

	b.Append(append(append(frame("one"), frame("")...), frame("three")...))
	b.Append([]byte{9, 0})

	var got []string
	for {
		msg, ok, err := c.TryParseOne(b)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, string(msg))
	}
	require.Equal(t, []string{"one", "", "three"}, got)
	require.Equal(t, 2, b.Len())
}

func TestTryParseOneTooLarge(t *testing.T) {
	c := NewCodec(16)
	b := buffer.New()
	defer b.Release()

	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[:], 17)
	b.Append(hdr[:])

	_, ok, err := c.TryParseOne(b)
	require.False(t, ok)
	require.True(t, errors.Is(err, ErrMessageTooLarge))
	require.Equal(t, HeaderSize, b.Len())

	b.Reset()
	b.Append(frame("exactly-16-bytes"))
	msg, ok, err := c.TryParseOne(b)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, msg, 16)
}

func TestTryParseOneHugeLength(t *testing.T) {
	c := NewCodec(DefaultMaxPayload)
	b := buffer.New()
	defer b.Release()
	b.Append([]byte{0xff, 0xff, 0xff, 0xff})

	_, _, err := c.TryParseOne(b)
	require.True(t, errors.Is(err, ErrMessageTooLarge))
}

func TestSerialize(t *testing.T) {
	c := Codec{}
	out, err := c.Serialize([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, frame("abc"), out)

	_, err = c.Serialize(make([]byte, DefaultMaxPayload+1))
	require.True(t, errors.Is(err, ErrMessageTooLarge))

	out, err = c.Serialize(make([]byte, DefaultMaxPayload))
	require.NoError(t, err)
	require.Len(t, out, HeaderSize+DefaultMaxPayload)
}

func TestWriteFrameRejectsOversize(t *testing.T) {
	c := NewCodec(4)
	b := buffer.New()
	defer b.Release()

	require.NoError(t, c.WriteFrame(b, []byte("abcd")))
	require.Equal(t, frame("abcd"), b.Bytes())

	err := c.WriteFrame(b, []byte("abcde"))
	require.True(t, errors.Is(err, ErrMessageTooLarge))
	require.Equal(t, frame("abcd"), b.Bytes(), "nothing appended on rejection")
}

func TestReadFrame(t *testing.T) {
	c := NewCodec(8)
	r := bytes.NewReader(append(frame("hi"), frame("toolarge!")...))

	msg, err := c.ReadFrame(r, nil)
	require.NoError(t, err)
	require.Equal(t, "hi", string(msg))

	_, err = c.ReadFrame(r, msg)
	require.True(t, errors.Is(err, ErrMessageTooLarge))

	_, err = c.ReadFrame(bytes.NewReader(frame("hi")[:3]), nil)
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestReadFrameEmpty(t *testing.T) {
	c := NewCodec(8)
	msg, err := c.ReadFrame(bytes.NewReader(frame("")), nil)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, []byte{}, msg)
}
