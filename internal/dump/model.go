package dump

import "github.com/lk2023060901/objstream-go/internal/stream/wire"

// 记录种类。
const (
	KindNull      = "null"
	KindRef       = "ref"
	KindString    = "string"
	KindObject    = "object"
	KindArray     = "array"
	KindEnum      = "enum"
	KindClass     = "class"
	KindClassDesc = "classdesc"
	KindBlock     = "block"
	KindReset     = "reset"
	KindException = "exception"
	KindPrim      = "prim"
)

// Stream 解析后的整条流。
type Stream struct {
	Version  uint16   `json:"version"`
	Classes  []*Class `json:"classes"`
	Contents []*Value `json:"contents"`
}

// Class 流中的一个类型描述符记录。
type Class struct {
	Handle      int32    `json:"handle"`
	Name        string   `json:"name"`
	VersionUID  int64    `json:"versionUID"`
	Flags       byte     `json:"flags"`
	Proxy       bool     `json:"proxy,omitempty"`
	Interfaces  []string `json:"interfaces,omitempty"`
	Fields      []Field  `json:"fields,omitempty"`
	Annotations []*Value `json:"annotations,omitempty"`
	// SuperHandle 为 0 表示没有祖先。
	SuperHandle int32  `json:"superHandle,omitempty"`
	SuperName   string `json:"superName,omitempty"`

	super *Class
}

func (c *Class) hasWriteMethod() bool { return c.Flags&wire.ScWriteMethod != 0 }

func (c *Class) externalizable() bool { return c.Flags&wire.ScExternalizable != 0 }

func (c *Class) blockExternal() bool { return c.Flags&wire.ScBlockData != 0 }

// Field 描述符中的一个字段。
type Field struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
}

// Value 流中的一条内容记录，引用只记录句柄，因此 Value 树中没有环。
type Value struct {
	Kind     string   `json:"kind"`
	Handle   int32    `json:"handle,omitempty"`
	Ref      int32    `json:"ref,omitempty"`
	Class    string   `json:"class,omitempty"`
	Text     string   `json:"text,omitempty"`
	Prim     any      `json:"prim,omitempty"`
	Data     []byte   `json:"data,omitempty"`
	Length   int      `json:"length,omitempty"`
	Slots    []*Slot  `json:"slots,omitempty"`
	Elements []*Value `json:"elements,omitempty"`
}

// Slot 对象在某一层类型上的数据。
type Slot struct {
	Class  string        `json:"class"`
	Fields []*FieldValue `json:"fields,omitempty"`
	// Custom 为 writeObject 回调或外部类型写出的数据。
	Custom []*Value `json:"custom,omitempty"`
}

// FieldValue 一个字段的值。
type FieldValue struct {
	Name  string `json:"name"`
	Value *Value `json:"value"`
}
