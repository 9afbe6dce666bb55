package objstream

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/spaolacci/murmur3"

	"github.com/lk2023060901/objstream-go/internal/stream/wire"
)

// FieldDescriptor 描述一个可序列化字段。
type FieldDescriptor struct {
	name      string
	typeCode  byte
	signature string
	// 基本类型字段为在基本类型缓冲区中的字节偏移，引用字段为引用槽位下标。
	offset   int
	unshared bool
	// 本地字段访问路径，nil 表示本地没有对应字段（读取时丢弃）。
	accessor *fieldAccessor
}

// fieldAccessor 本地字段的访问方式：从所属结构体出发的字段下标路径，空路径表示值本身。
type fieldAccessor struct {
	index []int
	typ   reflect.Type
}

// Name 返回字段名。
func (f *FieldDescriptor) Name() string { return f.name }

// TypeCode 返回字段类型码。
func (f *FieldDescriptor) TypeCode() byte { return f.typeCode }

// Signature 返回字段类型签名，基本类型为类型码本身。
func (f *FieldDescriptor) Signature() string { return f.signature }

// Offset 返回字段在基本类型缓冲区中的偏移或引用槽位下标。
func (f *FieldDescriptor) Offset() int { return f.offset }

// Unshared 返回字段值是否必须以非共享方式读写。
func (f *FieldDescriptor) Unshared() bool { return f.unshared }

// IsPrimitive 判断是否为基本类型字段。
func (f *FieldDescriptor) IsPrimitive() bool { return wire.IsPrimitiveCode(f.typeCode) }

func (f *FieldDescriptor) String() string {
	if f.IsPrimitive() {
		return fmt.Sprintf("%c %s", f.typeCode, f.name)
	}
	return fmt.Sprintf("%c %s %s", f.typeCode, f.name, f.signature)
}

// ClassDataSlot 对象记录中一个祖先类型的数据段。
type ClassDataSlot struct {
	Desc    *TypeDescriptor
	HasData bool
}

// TypeDescriptor 描述一个类型在流中的形状。
//
// 本地描述符由 Registry 按类型创建并缓存，创建后不再修改；
// 流描述符由 Reader 从流中读出，并尽可能绑定到一个本地描述符。
type TypeDescriptor struct {
	name            string
	suid            int64
	serializable    bool
	externalizable  bool
	blockExternal   bool
	writeObjectData bool
	enum            bool
	proxy           bool
	array           bool
	primitive       bool
	proxyIfaces     []string

	fields       []*FieldDescriptor
	primDataSize int
	numObjFields int
	super        *TypeDescriptor

	// 本地绑定，未解析时均为空。
	typ        reflect.Type
	local      *TypeDescriptor
	entry      *typeEntry
	hooks      *typeHooks
	superIndex []int
	aliases    []string

	resolveErr     error
	deserializeErr error

	layoutOnce sync.Once
	slots      []ClassDataSlot
	layoutErr  error
}

// Name 返回类型名。
func (d *TypeDescriptor) Name() string { return d.name }

// VersionUID 返回版本号。
func (d *TypeDescriptor) VersionUID() int64 { return d.suid }

// Fields 返回字段列表，基本类型字段在前。
func (d *TypeDescriptor) Fields() []*FieldDescriptor { return d.fields }

// Field 按名称查找字段。
func (d *TypeDescriptor) Field(name string) *FieldDescriptor {
	for _, f := range d.fields {
		if f.name == name {
			return f
		}
	}
	return nil
}

// Super 返回最近的可序列化祖先的描述符。
func (d *TypeDescriptor) Super() *TypeDescriptor { return d.super }

// Type 返回绑定的本地类型，未解析时为 nil。
func (d *TypeDescriptor) Type() reflect.Type { return d.typ }

// ResolveErr 返回绑定本地类型时记录的错误。
func (d *TypeDescriptor) ResolveErr() error { return d.resolveErr }

// IsSerializable 判断是否为可序列化类型。
func (d *TypeDescriptor) IsSerializable() bool { return d.serializable }

// IsExternalizable 判断是否为外部控制类型。
func (d *TypeDescriptor) IsExternalizable() bool { return d.externalizable }

// IsEnum 判断是否为枚举类型。
func (d *TypeDescriptor) IsEnum() bool { return d.enum }

// IsProxy 判断是否为代理类型。
func (d *TypeDescriptor) IsProxy() bool { return d.proxy }

// IsArray 判断是否为数组类型。
func (d *TypeDescriptor) IsArray() bool { return d.array }

// ProxyInterfaces 返回代理类型的接口名列表。
func (d *TypeDescriptor) ProxyInterfaces() []string { return d.proxyIfaces }

// HasWriteObjectData 判断流中是否带有自定义写回调的数据。
func (d *TypeDescriptor) HasWriteObjectData() bool { return d.writeObjectData }

// Flags 返回描述符在线路上的标志位。
func (d *TypeDescriptor) Flags() byte {
	var flags byte
	if d.externalizable {
		flags |= wire.ScExternalizable
		if d.blockExternal {
			flags |= wire.ScBlockData
		}
	} else if d.serializable {
		flags |= wire.ScSerializable
	}
	if d.writeObjectData {
		flags |= wire.ScWriteMethod
	}
	if d.enum {
		flags |= wire.ScEnum
	}
	return flags
}

func (d *TypeDescriptor) String() string {
	return fmt.Sprintf("%s: static final long serialVersionUID = %dL;", d.name, d.suid)
}

func (d *TypeDescriptor) hasWriteObject() bool {
	return d.hooks != nil && d.hooks.writeObject != nil
}

func (d *TypeDescriptor) hasReadObject() bool {
	return d.hooks != nil && d.hooks.readObject != nil
}

func (d *TypeDescriptor) hasReadObjectNoData() bool {
	return d.hooks != nil && d.hooks.readObjectNoData != nil
}

func (d *TypeDescriptor) hasWriteReplace() bool {
	return d.hooks != nil && d.hooks.writeReplace != nil
}

func (d *TypeDescriptor) hasReadResolve() bool {
	return d.hooks != nil && d.hooks.readResolve != nil
}

// instantiable 判断读取时能否为该描述符分配对象。
func (d *TypeDescriptor) instantiable() bool {
	return d.typ != nil && d.local != nil && !d.local.enum && !d.local.array && !d.local.primitive
}

// nameMatches 判断 name 是否为本地描述符的名称或别名。
func (d *TypeDescriptor) nameMatches(name string) bool {
	return d.name == name || lo.Contains(d.aliases, name)
}

// unqualifiedMatches 比较非限定名，本地描述符的别名同样参与比较。
func (d *TypeDescriptor) unqualifiedMatches(name string) bool {
	u := unqualified(name)
	if unqualified(d.name) == u {
		return true
	}
	return lo.ContainsBy(d.aliases, func(alias string) bool { return unqualified(alias) == u })
}

func unqualified(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// computeFieldOffsets 按字段顺序计算基本类型偏移和引用槽位。
// 基本类型字段必须全部排在引用字段之前。
func computeFieldOffsets(fields []*FieldDescriptor) (primDataSize, numObjFields int, ok bool) {
	firstObjIndex := -1
	for i, f := range fields {
		if f.IsPrimitive() {
			f.offset = primDataSize
			primDataSize += wire.PrimitiveSize(f.typeCode)
			continue
		}
		f.offset = numObjFields
		numObjFields++
		if firstObjIndex == -1 {
			firstObjIndex = i
		}
	}
	if firstObjIndex != -1 && firstObjIndex+numObjFields != len(fields) {
		return 0, 0, false
	}
	return primDataSize, numObjFields, true
}

// sortFields 基本类型字段在前，两组内部各自按名称排序。
func sortFields(fields []*FieldDescriptor) {
	sort.SliceStable(fields, func(i, j int) bool {
		pi, pj := fields[i].IsPrimitive(), fields[j].IsPrimitive()
		if pi != pj {
			return pi
		}
		return fields[i].name < fields[j].name
	})
}

// computeVersionUID 对名称、标志位、字段签名和回调名做 murmur3 哈希。
func computeVersionUID(name string, flags byte, fields []*FieldDescriptor, hooks *typeHooks) int64 {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte(flags)
	lines := lo.Map(fields, func(f *FieldDescriptor, _ int) string {
		return f.name + " " + f.signature
	})
	sort.Strings(lines)
	for _, line := range lines {
		sb.WriteByte('\n')
		sb.WriteString(line)
	}
	for _, hook := range hooks.names() {
		sb.WriteByte('\n')
		sb.WriteString(hook)
	}
	h1, _ := murmur3.Sum128([]byte(sb.String()))
	return int64(h1)
}
