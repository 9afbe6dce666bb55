// Copyright (c) 2019 The Gnet Authors. All rights reserved.
// Copyright (c) 2016 Aliaksandr Valialkin, VertaMedia
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ringbuffer 提供环形缓冲区对象池，供流读取端复用预读缓冲。
package ringbuffer

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/lk2023060901/objstream-go/pkg/buffer/ring"
)

const (
	// DefaultSize 新建缓冲区的初始容量。
	DefaultSize = 64
	// DefaultMaxSize 超过该容量的缓冲区不再回收，避免池里堆积大块内存。
	DefaultMaxSize = 64 * 1024
)

// RingBuffer 是 ring.Buffer 的别名。
type RingBuffer = ring.Buffer

// Stats 池的使用统计。
type Stats struct {
	Gets    uint64
	Puts    uint64
	Dropped uint64
}

// Pool 环形缓冲区对象池。
type Pool struct {
	defaultSize int
	maxSize     int

	gets    atomic.Uint64
	puts    atomic.Uint64
	dropped atomic.Uint64

	pool sync.Pool
}

// NewPool 创建一个对象池，maxSize <= 0 表示不限制回收容量。
func NewPool(defaultSize, maxSize int) *Pool {
	if defaultSize <= 0 {
		defaultSize = DefaultSize
	}
	return &Pool{
		defaultSize: defaultSize,
		maxSize:     maxSize,
	}
}

var builtinPool = NewPool(DefaultSize, DefaultMaxSize)

// Get 从默认池中获取一个空的环形缓冲区。
func Get() *RingBuffer { return builtinPool.Get() }

// Put 将缓冲区归还到默认池中，归还后不允许再访问。
func Put(b *RingBuffer) { builtinPool.Put(b) }

// Get 获取一个空的环形缓冲区。
func (p *Pool) Get() *RingBuffer {
	p.gets.Inc()
	if v := p.pool.Get(); v != nil {
		return v.(*RingBuffer)
	}
	return ring.New(p.defaultSize)
}

// Put 归还缓冲区，容量超过上限的缓冲区直接丢弃。
func (p *Pool) Put(b *RingBuffer) {
	if b == nil {
		return
	}
	if p.maxSize > 0 && b.Cap() > p.maxSize {
		p.dropped.Inc()
		return
	}
	p.puts.Inc()
	b.Reset()
	p.pool.Put(b)
}

// Stats 返回池的使用统计。
func (p *Pool) Stats() Stats {
	return Stats{
		Gets:    p.gets.Load(),
		Puts:    p.puts.Load(),
		Dropped: p.dropped.Load(),
	}
}
