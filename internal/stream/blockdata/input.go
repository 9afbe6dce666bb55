package blockdata

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/lk2023060901/objstream-go/internal/stream/wire"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

// Hooks 由上层读取端实现，用于在解析块头时插入对象层的状态。
type Hooks interface {
	// DefaultDataEnd 为 true 时，当前块数据被视为已经结束。
	DefaultDataEnd() bool
	// HandleReset 在块头之间遇到 TC_RESET 时调用。
	HandleReset() error
}

// Input 块数据输入端。
//
// 块模式下 [pos, end) 为当前块已缓冲的部分，unread 为当前块在底层尚未读取的字节数，
// end < 0 表示块数据已经结束（下一个记录不是数据块）。
type Input struct {
	in      *PeekReader
	hooks   Hooks
	buf     [wire.MaxBlockSize]byte
	tmp     [8]byte
	pos     int
	end     int
	unread  int
	blkmode bool
}

// NewInput 创建一个处于基本模式的输入端。
func NewInput(r io.Reader) *Input {
	return &Input{in: NewPeekReader(r)}
}

// SetHooks 设置块头解析钩子。
func (b *Input) SetHooks(h Hooks) {
	b.hooks = h
}

// Release 归还底层预读缓冲区。
func (b *Input) Release() {
	b.in.Release()
}

// Count 返回从底层消费的字节数。
func (b *Input) Count() int64 {
	return b.in.Count()
}

// BlockDataMode 返回当前是否处于块模式。
func (b *Input) BlockDataMode() bool {
	return b.blkmode
}

// SetBlockDataMode 切换模式并返回切换前的模式。
// 从块模式切回基本模式时，当前块不能还有已缓冲但未读的数据。
func (b *Input) SetBlockDataMode(mode bool) (bool, error) {
	if b.blkmode == mode {
		return b.blkmode, nil
	}
	if mode {
		b.pos, b.end, b.unread = 0, 0, 0
	} else if b.pos < b.end {
		return b.blkmode, merr.WrapErrStreamCorrupted("unread block data")
	}
	b.blkmode = mode
	return !mode, nil
}

// CurrentBlockRemaining 返回当前数据块剩余的字节数，块数据已结束时返回 0。
func (b *Input) CurrentBlockRemaining() (int, error) {
	if !b.blkmode {
		return 0, merr.WrapErrInvalidObject("not in block data mode")
	}
	if b.end < 0 {
		return 0, nil
	}
	return b.end - b.pos + b.unread, nil
}

// AtBlockDataEnd 判断块数据是否已经到达末尾。
func (b *Input) AtBlockDataEnd() bool {
	return b.blkmode && b.end < 0
}

// SkipBlockData 跳过所有剩余的块数据，直到下一个非数据块记录。
func (b *Input) SkipBlockData() error {
	if !b.blkmode {
		return merr.WrapErrInvalidObject("not in block data mode")
	}
	for b.end >= 0 {
		if err := b.refill(); err != nil {
			return err
		}
	}
	return nil
}

// readBlockHeader 解析块头并返回块长度，下一个记录不是数据块时返回 -1。
func (b *Input) readBlockHeader() (int, error) {
	if b.hooks != nil && b.hooks.DefaultDataEnd() {
		return -1, nil
	}
	for {
		tc, err := b.in.Peek()
		if err != nil {
			return -1, err
		}
		switch {
		case tc == int(wire.TcBlockData):
			if err := b.in.ReadFull(b.tmp[:2]); err != nil {
				return -1, err
			}
			return int(b.tmp[1]), nil
		case tc == int(wire.TcBlockDataLong):
			if err := b.in.ReadFull(b.tmp[:5]); err != nil {
				return -1, err
			}
			n := int32(binary.BigEndian.Uint32(b.tmp[1:5]))
			if n < 0 {
				return -1, merr.WrapErrStreamCorruptedf("illegal block data header length: %d", n)
			}
			return int(n), nil
		case tc == int(wire.TcReset):
			// TC_RESET 可以出现在数据块之间
			if _, err := b.in.ReadByte(); err != nil {
				return -1, merr.WrapErrIoUnexpectEOF("read", io.ErrUnexpectedEOF)
			}
			if b.hooks != nil {
				if err := b.hooks.HandleReset(); err != nil {
					return -1, err
				}
			}
		default:
			if tc >= 0 && !wire.IsTypeCode(byte(tc)) {
				return -1, merr.WrapErrStreamCorruptedf("invalid type code: %02X", tc)
			}
			return -1, nil
		}
	}
}

// refill 在块模式下装载当前块的下一段数据，必要时解析下一个块头。
func (b *Input) refill() error {
	for {
		b.pos = 0
		if b.unread > 0 {
			n, err := b.in.Read(b.buf[:min(b.unread, wire.MaxBlockSize)])
			if n > 0 {
				b.end = n
				b.unread -= n
			} else if err == io.EOF || err == nil {
				return merr.WrapErrStreamCorrupted("unexpected EOF in middle of data block")
			} else {
				return merr.WrapErrIoFailed("read", err)
			}
		} else {
			n, err := b.readBlockHeader()
			if err != nil {
				return err
			}
			if n >= 0 {
				b.end = 0
				b.unread = n
			} else {
				b.end = -1
				b.unread = 0
			}
		}
		if b.pos != b.end {
			return nil
		}
	}
}

// Peek 返回下一个字节但不消费，没有数据时返回 -1。
func (b *Input) Peek() (int, error) {
	if !b.blkmode {
		return b.in.Peek()
	}
	if b.pos == b.end {
		if err := b.refill(); err != nil {
			return -1, err
		}
	}
	if b.end < 0 {
		return -1, nil
	}
	return int(b.buf[b.pos]), nil
}

// PeekByte 返回下一个字节但不消费，没有数据时返回 ErrIoUnexpectEOF。
func (b *Input) PeekByte() (byte, error) {
	v, err := b.Peek()
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, merr.WrapErrIoUnexpectEOF("peek", io.ErrUnexpectedEOF)
	}
	return byte(v), nil
}

// Read 实现 io.Reader。块模式下最多读到当前块缓冲的末尾。
func (b *Input) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !b.blkmode {
		n, err := b.in.Read(p)
		if err != nil && err != io.EOF {
			err = merr.WrapErrIoFailed("read", err)
		}
		return n, err
	}
	if b.pos == b.end {
		if err := b.refill(); err != nil {
			return 0, err
		}
	}
	if b.end < 0 {
		return 0, io.EOF
	}
	n := copy(p, b.buf[b.pos:b.end])
	b.pos += n
	return n, nil
}

// ReadFull 读满 p，数据不足时返回 ErrIoUnexpectEOF。
func (b *Input) ReadFull(p []byte) error {
	for off := 0; off < len(p); {
		n, err := b.Read(p[off:])
		off += n
		if err == io.EOF || (err == nil && n == 0) {
			return merr.WrapErrIoUnexpectEOF("read", io.ErrUnexpectedEOF)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Skip 跳过 n 个字节，返回实际跳过的字节数。
func (b *Input) Skip(n int64) (int64, error) {
	var skipped int64
	var scratch [256]byte
	for skipped < n {
		m, err := b.Read(scratch[:min(int64(len(scratch)), n-skipped)])
		skipped += int64(m)
		if err == io.EOF || (err == nil && m == 0) {
			break
		}
		if err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

// ReadByte 读取一个字节。
func (b *Input) ReadByte() (byte, error) {
	if err := b.ReadFull(b.tmp[:1]); err != nil {
		return 0, err
	}
	return b.tmp[0], nil
}

// ReadBool 读取布尔值，非 0 即为 true。
func (b *Input) ReadBool() (bool, error) {
	v, err := b.ReadByte()
	return v != 0, err
}

// ReadChar 读取一个 UTF-16 码元。
func (b *Input) ReadChar() (uint16, error) {
	if err := b.ReadFull(b.tmp[:2]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b.tmp[:2]), nil
}

// ReadInt16 读取大端 16 位整数。
func (b *Input) ReadInt16() (int16, error) {
	v, err := b.ReadChar()
	return int16(v), err
}

// ReadInt32 读取大端 32 位整数。
func (b *Input) ReadInt32() (int32, error) {
	if err := b.ReadFull(b.tmp[:4]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b.tmp[:4])), nil
}

// ReadInt64 读取大端 64 位整数。
func (b *Input) ReadInt64() (int64, error) {
	if err := b.ReadFull(b.tmp[:8]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b.tmp[:8])), nil
}

// ReadFloat32 读取单精度浮点数。
func (b *Input) ReadFloat32() (float32, error) {
	v, err := b.ReadInt32()
	return math.Float32frombits(uint32(v)), err
}

// ReadFloat64 读取双精度浮点数。
func (b *Input) ReadFloat64() (float64, error) {
	v, err := b.ReadInt64()
	return math.Float64frombits(uint64(v)), err
}

// ReadUTF 读取 2 字节长度前缀的改良 UTF-8 字符串。
func (b *Input) ReadUTF() (string, error) {
	n, err := b.ReadChar()
	if err != nil {
		return "", err
	}
	return b.readUTFBody(int64(n))
}

// ReadLongUTF 读取 8 字节长度前缀的改良 UTF-8 字符串。
func (b *Input) ReadLongUTF() (string, error) {
	n, err := b.ReadInt64()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", merr.WrapErrStreamCorruptedf("illegal string length: %d", n)
	}
	return b.readUTFBody(n)
}

const utfChunkSize = 64 * 1024

// readUTFBody 分段读取，长度字段损坏时不会一次性分配巨大的缓冲区。
func (b *Input) readUTFBody(n int64) (string, error) {
	data := make([]byte, 0, min(n, utfChunkSize))
	for remain := n; remain > 0; {
		chunk := min(remain, utfChunkSize)
		start := len(data)
		data = append(data, make([]byte, chunk)...)
		if err := b.ReadFull(data[start:]); err != nil {
			return "", err
		}
		remain -= chunk
	}
	return DecodeUTF(data)
}
