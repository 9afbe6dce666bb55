package objstream

import (
	"reflect"
	"strings"
)

// StructField 内省得到的一个字段。
type StructField struct {
	// Name 字段在流中的名称。
	Name string
	// Index 从所属结构体出发的字段下标路径。
	Index    []int
	Type     reflect.Type
	Unshared bool
	// Embedded 是否为匿名嵌入字段。
	Embedded bool
}

// TypeIntrospector 读写流访问本地类型的能力。
type TypeIntrospector interface {
	// FieldsOf 返回结构体类型 t 中参与序列化的字段，包括匿名嵌入字段本身。
	FieldsOf(t reflect.Type) []StructField
	// Field 返回可寻址结构体值 v 中下标路径为 index 的可读写字段。
	Field(v reflect.Value, index []int) reflect.Value
	// Construct 分配一个零值的 *t，不执行任何初始化逻辑。
	Construct(t reflect.Type) reflect.Value
}

// ReflectIntrospector 基于 reflect 的 TypeIntrospector。
//
// 字段标签：
//
//	objstream:"-"          不参与序列化
//	objstream:"name"       在流中使用 name 作为字段名
//	objstream:",unshared"  字段值以非共享方式读写
type ReflectIntrospector struct{}

var _ TypeIntrospector = ReflectIntrospector{}

const tagName = "objstream"

func (ReflectIntrospector) FieldsOf(t reflect.Type) []StructField {
	fields := make([]StructField, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Name == "_" || skippedKind(sf.Type.Kind()) {
			continue
		}
		name, opts, _ := strings.Cut(sf.Tag.Get(tagName), ",")
		if name == "-" && opts == "" {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		fields = append(fields, StructField{
			Name:     name,
			Index:    sf.Index,
			Type:     sf.Type,
			Unshared: opts == "unshared",
			Embedded: sf.Anonymous,
		})
	}
	return fields
}

func (ReflectIntrospector) Field(v reflect.Value, index []int) reflect.Value {
	return fieldByIndex(v, index)
}

func (ReflectIntrospector) Construct(t reflect.Type) reflect.Value {
	return reflect.New(t)
}
