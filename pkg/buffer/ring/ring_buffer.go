// Copyright (c) 2019 The Gnet Authors. All rights reserved.
// Copyright (c) 2019 Chao yuepan, Allen Xu
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE

// Package ring 实现了一个可按需扩容的环形缓冲区。
package ring

import (
	"io"
	"math/bits"

	"github.com/cockroachdb/errors"
)

const (
	// MinGrow 为每次扩容至少新增的字节数。
	MinGrow = 64
	// DefaultBufferSize 是环形缓冲区的默认初始大小。
	DefaultBufferSize = 1024
)

// ErrIsEmpty 表示当前环形缓冲区为空，无法继续读取。
var ErrIsEmpty = errors.New("ring-buffer is empty")

// Buffer 是一个环形缓冲区，实现了 io.Reader、io.Writer 和 io.ByteReader。
type Buffer struct {
	buf     []byte
	size    int // 始终为 2 的幂
	r       int // 下一次读取位置
	w       int // 下一次写入位置
	isEmpty bool
}

// New 创建一个给定初始容量的 Buffer，size 会向上取整为 2 的幂。
func New(size int) *Buffer {
	if size <= 0 {
		return &Buffer{isEmpty: true}
	}
	size = ceilToPowerOfTwo(size)
	return &Buffer{
		buf:     make([]byte, size),
		size:    size,
		isEmpty: true,
	}
}

// Peek 返回接下来最多 n 个字节但不前进读指针，n <= 0 时返回全部可读数据。
// 数据跨越环形边界时拆成 head/tail 两段。
func (rb *Buffer) Peek(n int) (head []byte, tail []byte) {
	if rb.isEmpty {
		return
	}
	buffered := rb.Buffered()
	if n <= 0 || n > buffered {
		n = buffered
	}
	if rb.r < rb.w {
		return rb.buf[rb.r : rb.r+n], nil
	}
	c := rb.size - rb.r
	if n <= c {
		return rb.buf[rb.r : rb.r+n], nil
	}
	return rb.buf[rb.r:], rb.buf[:n-c]
}

// Discard 跳过接下来的 n 个字节，返回实际跳过的字节数。
func (rb *Buffer) Discard(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	if rb.isEmpty {
		return 0, ErrIsEmpty
	}
	if buffered := rb.Buffered(); n > buffered {
		n = buffered
	}
	rb.r = (rb.r + n) % rb.size
	if rb.r == rb.w {
		rb.Reset()
	}
	return n, nil
}

// Read 读取最多 len(p) 个字节。
func (rb *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if rb.isEmpty {
		return 0, ErrIsEmpty
	}
	head, tail := rb.Peek(len(p))
	n := copy(p, head)
	n += copy(p[n:], tail)
	return rb.Discard(n)
}

// ReadByte 读取一个字节。
func (rb *Buffer) ReadByte() (byte, error) {
	if rb.isEmpty {
		return 0, ErrIsEmpty
	}
	b := rb.buf[rb.r]
	_, _ = rb.Discard(1)
	return b, nil
}

// Write 写入 p，空间不足时自动扩容。
func (rb *Buffer) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}
	if rb.Available() < n {
		rb.grow(rb.Buffered() + n)
	}
	if rb.isEmpty {
		rb.r, rb.w = 0, 0
	}
	c := copy(rb.buf[rb.w:], p)
	if c < n {
		copy(rb.buf, p[c:])
	}
	rb.w = (rb.w + n) % rb.size
	rb.isEmpty = false
	return n, nil
}

// WriteByte 写入一个字节。
func (rb *Buffer) WriteByte(c byte) error {
	_, err := rb.Write([]byte{c})
	return err
}

// Fill 从 r 读取数据，直到缓冲区中至少有 n 个字节可读。
// 每次只向 r 请求仍然缺少的字节数，不会多读。
func (rb *Buffer) Fill(r io.Reader, n int) (int, error) {
	total := 0
	for rb.Buffered() < n {
		missing := n - rb.Buffered()
		if rb.Available() < missing {
			rb.grow(n)
		}
		if rb.isEmpty {
			rb.r, rb.w = 0, 0
		}
		var dst []byte
		if rb.w >= rb.r {
			dst = rb.buf[rb.w:]
		} else {
			dst = rb.buf[rb.w:rb.r]
		}
		if len(dst) > missing {
			dst = dst[:missing]
		}
		m, err := r.Read(dst)
		if m > 0 {
			rb.w = (rb.w + m) % rb.size
			rb.isEmpty = false
			total += m
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Buffered 返回可读字节数。
func (rb *Buffer) Buffered() int {
	if rb.isEmpty {
		return 0
	}
	if rb.w > rb.r {
		return rb.w - rb.r
	}
	return rb.size - rb.r + rb.w
}

// Len 返回底层切片长度。
func (rb *Buffer) Len() int {
	return len(rb.buf)
}

// Cap 返回缓冲区容量。
func (rb *Buffer) Cap() int {
	return rb.size
}

// Available 返回无需扩容即可写入的字节数。
func (rb *Buffer) Available() int {
	return rb.size - rb.Buffered()
}

// IsEmpty 判断缓冲区是否为空。
func (rb *Buffer) IsEmpty() bool {
	return rb.isEmpty
}

// Reset 清空缓冲区但保留底层内存。
func (rb *Buffer) Reset() {
	rb.isEmpty = true
	rb.r, rb.w = 0, 0
}

func (rb *Buffer) grow(newCap int) {
	if newCap < rb.size+MinGrow {
		newCap = rb.size + MinGrow
	}
	newCap = ceilToPowerOfTwo(newCap)
	newBuf := make([]byte, newCap)
	head, tail := rb.Peek(0)
	n := copy(newBuf, head)
	n += copy(newBuf[n:], tail)
	rb.buf = newBuf
	rb.size = newCap
	rb.r = 0
	rb.w = n % newCap
	rb.isEmpty = n == 0
}

func ceilToPowerOfTwo(n int) int {
	if n <= 2 {
		return 2
	}
	return 1 << bits.Len(uint(n-1))
}
