// Package handles 维护对象流两端的句柄表。
//
// 写端用 Table 把对象身份映射到句柄，用 ReplaceTable 记录替换关系；
// 读端用 ReadTable 把句柄映射回对象，并跟踪每个句柄的类型解析状态。
package handles

import (
	"hash/maphash"
)

// NullHandle 表示没有句柄。
const NullHandle int32 = -1

// Table 写端句柄表，句柄从 0 开始按分配顺序递增。
// key 必须是可比较的值，nil 只占用句柄号，永远不会被查到。
type Table struct {
	size       int
	threshold  int
	loadFactor float32
	spine      []int32
	next       []int32
	objs       []any
	seed       maphash.Seed
}

// NewTable 创建句柄表。
func NewTable(initialCapacity int, loadFactor float32) *Table {
	if initialCapacity <= 0 {
		initialCapacity = 10
	}
	if loadFactor <= 0 {
		loadFactor = 3.0
	}
	t := &Table{
		loadFactor: loadFactor,
		spine:      make([]int32, initialCapacity),
		next:       make([]int32, initialCapacity),
		objs:       make([]any, initialCapacity),
		threshold:  int(float32(initialCapacity) * loadFactor),
		seed:       maphash.MakeSeed(),
	}
	t.Clear()
	return t
}

// Assign 为 obj 分配下一个句柄。
func (t *Table) Assign(obj any) int32 {
	if t.size >= len(t.next) {
		t.growEntries()
	}
	if t.size >= t.threshold {
		t.growSpine()
	}
	t.insert(obj, int32(t.size))
	t.size++
	return int32(t.size - 1)
}

// Lookup 返回 obj 的句柄，不存在时返回 NullHandle。
func (t *Table) Lookup(obj any) int32 {
	if obj == nil || t.size == 0 {
		return NullHandle
	}
	index := t.hash(obj) % uint64(len(t.spine))
	for i := t.spine[index]; i >= 0; i = t.next[i] {
		if t.objs[i] == obj {
			return i
		}
	}
	return NullHandle
}

// Clear 清空句柄表。
func (t *Table) Clear() {
	for i := range t.spine {
		t.spine[i] = NullHandle
	}
	clear(t.objs[:t.size])
	t.size = 0
}

// Size 返回已分配的句柄数。
func (t *Table) Size() int {
	return t.size
}

func (t *Table) insert(obj any, handle int32) {
	t.objs[handle] = obj
	if obj == nil {
		t.next[handle] = NullHandle
		return
	}
	index := t.hash(obj) % uint64(len(t.spine))
	t.next[handle] = t.spine[index]
	t.spine[index] = handle
}

func (t *Table) hash(obj any) uint64 {
	return maphash.Comparable(t.seed, obj)
}

func (t *Table) growSpine() {
	t.spine = make([]int32, len(t.spine)*2+1)
	t.threshold = int(float32(len(t.spine)) * t.loadFactor)
	for i := range t.spine {
		t.spine[i] = NullHandle
	}
	for i := 0; i < t.size; i++ {
		t.insert(t.objs[i], int32(i))
	}
}

func (t *Table) growEntries() {
	newLength := (len(t.next) << 1) + 1
	next := make([]int32, newLength)
	copy(next, t.next[:t.size])
	t.next = next

	objs := make([]any, newLength)
	copy(objs, t.objs[:t.size])
	t.objs = objs
}

// ReplaceTable 记录写端对象与其替换对象的映射。
type ReplaceTable struct {
	htab *Table
	reps []any
}

// NewReplaceTable 创建替换表。
func NewReplaceTable(initialCapacity int, loadFactor float32) *ReplaceTable {
	return &ReplaceTable{
		htab: NewTable(initialCapacity, loadFactor),
		reps: make([]any, 0, max(initialCapacity, 0)),
	}
}

// Assign 记录 obj 被替换为 rep。
func (r *ReplaceTable) Assign(obj, rep any) {
	index := r.htab.Assign(obj)
	for int(index) >= len(r.reps) {
		r.reps = append(r.reps, nil)
	}
	r.reps[index] = rep
}

// Lookup 返回 obj 的替换对象，没有替换时返回 obj 本身。
func (r *ReplaceTable) Lookup(obj any) any {
	index := r.htab.Lookup(obj)
	if index >= 0 {
		return r.reps[index]
	}
	return obj
}

// Find 返回 obj 的替换对象，替换对象可能为 nil，ok 表示是否存在替换记录。
func (r *ReplaceTable) Find(obj any) (rep any, ok bool) {
	index := r.htab.Lookup(obj)
	if index < 0 {
		return nil, false
	}
	return r.reps[index], true
}

// Clear 清空替换表。
func (r *ReplaceTable) Clear() {
	clear(r.reps)
	r.reps = r.reps[:0]
	r.htab.Clear()
}

// Size 返回替换记录数。
func (r *ReplaceTable) Size() int {
	return r.htab.Size()
}
