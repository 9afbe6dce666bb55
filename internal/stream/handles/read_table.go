package handles

import (
	"github.com/lk2023060901/objstream-go/pkg/util/typeutil"
)

// Status 句柄的解析状态。
type Status byte

const (
	// StatusUnknown 对象仍在读取中，是否依赖未解析的类型尚不确定。
	StatusUnknown Status = iota + 1
	// StatusOK 对象及其依赖都已成功解析。
	StatusOK
	// StatusFailed 对象或其依赖的类型无法解析。
	StatusFailed
)

// ReadTable 读端句柄表。
//
// 每个句柄记录对象或解析错误。对象读取过程中通过 MarkDependency 记录依赖，
// 被依赖的句柄一旦失败，失败会沿依赖链传播给所有依赖方。
type ReadTable struct {
	status   []Status
	entries  []any
	deps     [][]int32
	lowDep   int32
	size     int32
	unshared typeutil.HandleSet
}

// NewReadTable 创建读端句柄表。
func NewReadTable(initialCapacity int) *ReadTable {
	if initialCapacity <= 0 {
		initialCapacity = 10
	}
	return &ReadTable{
		status:   make([]Status, 0, initialCapacity),
		entries:  make([]any, 0, initialCapacity),
		deps:     make([][]int32, 0, initialCapacity),
		lowDep:   NullHandle,
		unshared: typeutil.NewHandleSet(),
	}
}

// Assign 为 obj 分配下一个句柄，初始状态为 StatusUnknown。
func (t *ReadTable) Assign(obj any) int32 {
	t.status = append(t.status, StatusUnknown)
	t.entries = append(t.entries, obj)
	t.deps = append(t.deps, nil)
	t.size++
	return t.size - 1
}

// MarkDependency 记录 dependent 依赖 target。
// target 已失败时 dependent 立即失败；target 仍未确定时记录下来等待传播。
func (t *ReadTable) MarkDependency(dependent, target int32) {
	if dependent == NullHandle || target == NullHandle {
		return
	}
	if t.status[dependent] != StatusUnknown {
		return
	}
	switch t.status[target] {
	case StatusOK:
	case StatusFailed:
		t.MarkException(dependent, t.entries[target].(error))
	case StatusUnknown:
		t.deps[target] = append(t.deps[target], dependent)
		if t.lowDep < 0 || t.lowDep > target {
			t.lowDep = target
		}
	}
}

// MarkException 将句柄标记为失败，并传播给所有已记录的依赖方。
func (t *ReadTable) MarkException(handle int32, err error) {
	if handle == NullHandle || t.status[handle] != StatusUnknown {
		return
	}
	t.status[handle] = StatusFailed
	t.entries[handle] = err
	dlist := t.deps[handle]
	t.deps[handle] = nil
	for _, dep := range dlist {
		t.MarkException(dep, err)
	}
}

// Finish 标记句柄读取完成。
// 只有当它不是更早的未完成句柄的依赖时，它以及其后的未确定句柄才会被置为 StatusOK。
func (t *ReadTable) Finish(handle int32) {
	var end int32
	switch {
	case t.lowDep < 0:
		end = handle + 1
	case t.lowDep >= handle:
		end = t.size
		t.lowDep = NullHandle
	default:
		return
	}
	for i := handle; i < end; i++ {
		if t.status[i] == StatusUnknown {
			t.status[i] = StatusOK
			t.deps[i] = nil
		}
	}
}

// SetObject 替换句柄对应的对象，失败的句柄保持不变。
func (t *ReadTable) SetObject(handle int32, obj any) {
	if handle == NullHandle || t.status[handle] == StatusFailed {
		return
	}
	t.entries[handle] = obj
}

// LookupObject 返回句柄对应的对象，失败的句柄返回 nil。
func (t *ReadTable) LookupObject(handle int32) any {
	if handle == NullHandle || t.status[handle] == StatusFailed {
		return nil
	}
	return t.entries[handle]
}

// LookupException 返回句柄的解析错误，未失败时返回 nil。
func (t *ReadTable) LookupException(handle int32) error {
	if handle == NullHandle || t.status[handle] != StatusFailed {
		return nil
	}
	return t.entries[handle].(error)
}

// Status 返回句柄的状态。
func (t *ReadTable) Status(handle int32) Status {
	return t.status[handle]
}

// MarkUnshared 标记句柄对应的对象以非共享方式读取，之后不允许回引。
func (t *ReadTable) MarkUnshared(handle int32) {
	t.unshared.Insert(handle)
}

// IsUnshared 判断句柄是否以非共享方式读取。
func (t *ReadTable) IsUnshared(handle int32) bool {
	return t.unshared.Contain(handle)
}

// Valid 判断句柄是否已分配。
func (t *ReadTable) Valid(handle int32) bool {
	return handle >= 0 && handle < t.size
}

// Size 返回已分配的句柄数。
func (t *ReadTable) Size() int32 {
	return t.size
}

// Clear 清空句柄表。
func (t *ReadTable) Clear() {
	clear(t.entries)
	t.status = t.status[:0]
	t.entries = t.entries[:0]
	t.deps = t.deps[:0]
	t.lowDep = NullHandle
	t.size = 0
	t.unshared.Clear()
}
