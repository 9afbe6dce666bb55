package blockdata

import (
	"io"

	"github.com/lk2023060901/objstream-go/internal/pool/ringbuffer"
	"github.com/lk2023060901/objstream-go/pkg/buffer/ring"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

// PeekReader 在 io.Reader 之上提供单字节预读。
// 预读的字节暂存在池化的环形缓冲区中，底层只会被请求恰好需要的字节数。
type PeekReader struct {
	r     io.Reader
	rb    *ring.Buffer
	count int64
}

// NewPeekReader 创建预读读取器，用完后调用 Release 归还缓冲区。
func NewPeekReader(r io.Reader) *PeekReader {
	return &PeekReader{r: r, rb: ringbuffer.Get()}
}

// Peek 返回下一个字节但不消费，流结束时返回 -1。
func (p *PeekReader) Peek() (int, error) {
	if p.rb.Buffered() == 0 {
		if _, err := p.rb.Fill(p.r, 1); err != nil {
			if err == io.EOF {
				return -1, nil
			}
			return -1, merr.WrapErrIoFailed("peek", err)
		}
	}
	head, _ := p.rb.Peek(1)
	return int(head[0]), nil
}

// ReadByte 读取一个字节，流结束时返回 io.EOF。
func (p *PeekReader) ReadByte() (byte, error) {
	if p.rb.Buffered() > 0 {
		p.count++
		return p.rb.ReadByte()
	}
	var b [1]byte
	n, err := io.ReadFull(p.r, b[:])
	if n == 0 {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, io.EOF
		}
		return 0, merr.WrapErrIoFailed("read", err)
	}
	p.count++
	return b[0], nil
}

// Read 实现 io.Reader，先消费预读的字节。
func (p *PeekReader) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if p.rb.Buffered() > 0 {
		n, _ := p.rb.Read(b)
		p.count += int64(n)
		return n, nil
	}
	n, err := p.r.Read(b)
	p.count += int64(n)
	return n, err
}

// ReadFull 读满 b，不足时返回 ErrIoUnexpectEOF。
func (p *PeekReader) ReadFull(b []byte) error {
	if _, err := io.ReadFull(p, b); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return merr.WrapErrIoUnexpectEOF("read", io.ErrUnexpectedEOF)
		}
		return merr.WrapErrIoFailed("read", err)
	}
	return nil
}

// Skip 跳过 n 个字节，返回实际跳过的字节数。
func (p *PeekReader) Skip(n int64) (int64, error) {
	skipped, err := io.CopyN(io.Discard, p, n)
	if err == io.EOF {
		err = nil
	}
	return skipped, err
}

// Count 返回已消费的字节数。
func (p *PeekReader) Count() int64 {
	return p.count
}

// Release 归还预读缓冲区，之后不能再使用该读取器。
func (p *PeekReader) Release() {
	if p.rb != nil {
		ringbuffer.Put(p.rb)
		p.rb = nil
	}
}
