// Package blockdata 实现对象流的块数据分帧。
//
// 流在两种模式之间切换：基本模式下数据原样写出；块模式下数据被切成
// 不超过 1024 字节的数据块，每块带一个短块头（TC_BLOCKDATA + 1 字节长度）
// 或长块头（TC_BLOCKDATALONG + 4 字节长度）。一个值可以跨越两个数据块，
// 因此逐个写和批量写得到的字节完全一致。
package blockdata

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/lk2023060901/objstream-go/internal/stream/wire"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

type flusher interface {
	Flush() error
}

// Output 块数据输出端。写入底层失败后错误会被记住，之后的写操作都直接返回该错误。
type Output struct {
	w       io.Writer
	buf     [wire.MaxBlockSize]byte
	hbuf    [5]byte
	pos     int
	blkmode bool
	err     error
	written int64
}

// NewOutput 创建一个处于基本模式的输出端。
func NewOutput(w io.Writer) *Output {
	return &Output{w: w}
}

// BlockDataMode 返回当前是否处于块模式。
func (o *Output) BlockDataMode() bool {
	return o.blkmode
}

// SetBlockDataMode 切换模式并返回切换前的模式，切换前会先把缓冲数据写出。
func (o *Output) SetBlockDataMode(mode bool) bool {
	if o.blkmode == mode {
		return o.blkmode
	}
	o.drain()
	o.blkmode = mode
	return !mode
}

// Err 返回第一次写底层失败时的错误。
func (o *Output) Err() error {
	return o.err
}

// Written 返回已经写到底层的字节数。
func (o *Output) Written() int64 {
	return o.written
}

// Write 写入字节序列，块模式下按块大小切分。
func (o *Output) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		if o.pos >= wire.MaxBlockSize {
			o.drain()
		}
		n := copy(o.buf[o.pos:], p)
		o.pos += n
		p = p[n:]
	}
	return total, o.err
}

// WriteByte 写入一个字节。
func (o *Output) WriteByte(b byte) error {
	if o.pos >= wire.MaxBlockSize {
		o.drain()
	}
	o.buf[o.pos] = b
	o.pos++
	return o.err
}

// WriteBool 写入布尔值，true 为 1。
func (o *Output) WriteBool(v bool) error {
	if v {
		return o.WriteByte(1)
	}
	return o.WriteByte(0)
}

// WriteInt16 写入大端 16 位整数。
func (o *Output) WriteInt16(v int16) error {
	return o.WriteChar(uint16(v))
}

// WriteChar 写入一个 UTF-16 码元。
func (o *Output) WriteChar(v uint16) error {
	if o.pos+2 <= wire.MaxBlockSize {
		binary.BigEndian.PutUint16(o.buf[o.pos:], v)
		o.pos += 2
		return o.err
	}
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := o.Write(b[:])
	return err
}

// WriteInt32 写入大端 32 位整数。
func (o *Output) WriteInt32(v int32) error {
	if o.pos+4 <= wire.MaxBlockSize {
		binary.BigEndian.PutUint32(o.buf[o.pos:], uint32(v))
		o.pos += 4
		return o.err
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	_, err := o.Write(b[:])
	return err
}

// WriteInt64 写入大端 64 位整数。
func (o *Output) WriteInt64(v int64) error {
	if o.pos+8 <= wire.MaxBlockSize {
		binary.BigEndian.PutUint64(o.buf[o.pos:], uint64(v))
		o.pos += 8
		return o.err
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	_, err := o.Write(b[:])
	return err
}

// WriteFloat32 写入 IEEE 754 单精度浮点数。
func (o *Output) WriteFloat32(v float32) error {
	return o.WriteInt32(int32(math.Float32bits(v)))
}

// WriteFloat64 写入 IEEE 754 双精度浮点数。
func (o *Output) WriteFloat64(v float64) error {
	return o.WriteInt64(int64(math.Float64bits(v)))
}

// WriteBools 批量写入布尔值。
func (o *Output) WriteBools(v []bool) error {
	for _, x := range v {
		_ = o.WriteBool(x)
	}
	return o.err
}

// WriteChars16 批量写入 UTF-16 码元。
func (o *Output) WriteChars16(v []uint16) error {
	for _, x := range v {
		_ = o.WriteChar(x)
	}
	return o.err
}

// WriteInt16s 批量写入 16 位整数。
func (o *Output) WriteInt16s(v []int16) error {
	for _, x := range v {
		_ = o.WriteInt16(x)
	}
	return o.err
}

// WriteInt32s 批量写入 32 位整数。
func (o *Output) WriteInt32s(v []int32) error {
	for _, x := range v {
		_ = o.WriteInt32(x)
	}
	return o.err
}

// WriteInt64s 批量写入 64 位整数。
func (o *Output) WriteInt64s(v []int64) error {
	for _, x := range v {
		_ = o.WriteInt64(x)
	}
	return o.err
}

// WriteFloat32s 批量写入单精度浮点数。
func (o *Output) WriteFloat32s(v []float32) error {
	for _, x := range v {
		_ = o.WriteFloat32(x)
	}
	return o.err
}

// WriteFloat64s 批量写入双精度浮点数。
func (o *Output) WriteFloat64s(v []float64) error {
	for _, x := range v {
		_ = o.WriteFloat64(x)
	}
	return o.err
}

// WriteChars 以 UTF-16 码元序列写入字符串，不带长度。
func (o *Output) WriteChars(s string) error {
	for _, r := range s {
		if r > 0xffff {
			r1, r2 := surrogates(r)
			_ = o.WriteChar(r1)
			_ = o.WriteChar(r2)
			continue
		}
		_ = o.WriteChar(uint16(r))
	}
	return o.err
}

// WriteUTF 写入 2 字节长度前缀的改良 UTF-8 字符串。
func (o *Output) WriteUTF(s string) error {
	if err := CheckUTF(s); err != nil {
		return err
	}
	utflen := UTFLength(s)
	if utflen > wire.MaxUTFLength {
		return merr.WrapErrParameterInvalidMsg("encoded string too long: %d bytes", utflen)
	}
	_ = o.WriteChar(uint16(utflen))
	return o.writeUTFBody(s, utflen)
}

// WriteLongUTF 写入 8 字节长度前缀的改良 UTF-8 字符串。
func (o *Output) WriteLongUTF(s string) error {
	if err := CheckUTF(s); err != nil {
		return err
	}
	utflen := UTFLength(s)
	_ = o.WriteInt64(utflen)
	return o.writeUTFBody(s, utflen)
}

func (o *Output) writeUTFBody(s string, utflen int64) error {
	if utflen == int64(len(s)) {
		_, err := o.Write([]byte(s))
		return err
	}
	_, err := o.Write(AppendUTF(make([]byte, 0, utflen), s))
	return err
}

// Drain 写出缓冲数据，但不刷新底层。
func (o *Output) Drain() error {
	o.drain()
	return o.err
}

// Flush 写出缓冲数据并在底层支持时刷新底层。
func (o *Output) Flush() error {
	o.drain()
	if o.err != nil {
		return o.err
	}
	if f, ok := o.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			o.err = merr.WrapErrIoFailed("flush", err)
		}
	}
	return o.err
}

// Close 刷新并在底层支持时关闭底层。
func (o *Output) Close() error {
	err := o.Flush()
	if c, ok := o.w.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = merr.WrapErrIoFailed("close", cerr)
		}
	}
	return err
}

// WriteBlockHeader 写出一个数据块头。
func (o *Output) WriteBlockHeader(n int) {
	if n <= wire.MaxShortBlockSize {
		o.hbuf[0] = wire.TcBlockData
		o.hbuf[1] = byte(n)
		o.writeRaw(o.hbuf[:2])
		return
	}
	o.hbuf[0] = wire.TcBlockDataLong
	binary.BigEndian.PutUint32(o.hbuf[1:], uint32(n))
	o.writeRaw(o.hbuf[:5])
}

func (o *Output) drain() {
	if o.pos == 0 {
		return
	}
	if o.blkmode {
		o.WriteBlockHeader(o.pos)
	}
	o.writeRaw(o.buf[:o.pos])
	o.pos = 0
}

func (o *Output) writeRaw(p []byte) {
	if o.err != nil {
		return
	}
	n, err := o.w.Write(p)
	o.written += int64(n)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		o.err = merr.WrapErrIoFailed("write", err)
	}
}

func surrogates(r rune) (uint16, uint16) {
	r -= 0x10000
	return uint16(0xd800 + (r>>10)&0x3ff), uint16(0xdc00 + r&0x3ff)
}
