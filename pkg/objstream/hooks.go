package objstream

import (
	"reflect"

	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

// 回调名称，用于日志、错误信息和版本号计算。
const (
	hookWriteObject      = "writeObject"
	hookReadObject       = "readObject"
	hookReadObjectNoData = "readObjectNoData"
	hookWriteReplace     = "writeReplace"
	hookReadResolve      = "readResolve"
	hookWriteExternal    = "writeExternal"
	hookReadExternal     = "readExternal"
)

// typeHooks 类型注册时声明的回调。obj 参数均为指向该类型的指针。
type typeHooks struct {
	writeObject      func(obj reflect.Value, out *ObjectOutput) error
	readObject       func(obj reflect.Value, in *ObjectInput) error
	readObjectNoData func(obj reflect.Value) error
	writeReplace     func(obj reflect.Value) (any, error)
	readResolve      func(obj reflect.Value) (any, error)
	writeExternal    func(obj reflect.Value, out *ObjectOutput) error
	readExternal     func(obj reflect.Value, in *ObjectInput) error
}

func (h *typeHooks) names() []string {
	if h == nil {
		return nil
	}
	var names []string
	if h.writeObject != nil {
		names = append(names, hookWriteObject)
	}
	if h.readObject != nil {
		names = append(names, hookReadObject)
	}
	if h.readObjectNoData != nil {
		names = append(names, hookReadObjectNoData)
	}
	if h.writeReplace != nil {
		names = append(names, hookWriteReplace)
	}
	if h.readResolve != nil {
		names = append(names, hookReadResolve)
	}
	if h.writeExternal != nil {
		names = append(names, hookWriteExternal)
	}
	if h.readExternal != nil {
		names = append(names, hookReadExternal)
	}
	return names
}

// TypeOption 注册类型时的选项。
type TypeOption func(e *typeEntry)

// WithName 指定类型在流中的名称，默认为 包路径 + "." + 类型名。
func WithName(name string) TypeOption {
	return func(e *typeEntry) {
		e.name = name
	}
}

// WithAliases 指定类型的别名。读取时别名同样可以解析到该类型，
// 名称校验也接受别名的非限定部分。
func WithAliases(aliases ...string) TypeOption {
	return func(e *typeEntry) {
		e.aliases = append(e.aliases, aliases...)
	}
}

// WithVersionUID 显式声明版本号，不声明时根据类型形状计算。
func WithVersionUID(uid int64) TypeOption {
	return func(e *typeEntry) {
		e.suid = &uid
	}
}

// ProxyInterfaces 将类型注册为代理类型，流中只记录接口名列表。
// 代理类型自身的字段不参与序列化，数据由其嵌入的可序列化祖先承载。
func ProxyInterfaces(ifaces ...string) TypeOption {
	return func(e *typeEntry) {
		e.proxyIfaces = append([]string(nil), ifaces...)
	}
}

// WriteObjectHook 自定义写回调，替代该类型自身字段的默认写出。
// 回调内可以调用 DefaultWriteObject 或 PutFields/WriteFields 写出字段，并追加任意数据。
func WriteObjectHook[T any](fn func(obj *T, out *ObjectOutput) error) TypeOption {
	return func(e *typeEntry) {
		e.expect(reflect.TypeFor[T](), hookWriteObject)
		e.hooks.writeObject = func(obj reflect.Value, out *ObjectOutput) error {
			return fn(obj.Interface().(*T), out)
		}
	}
}

// ReadObjectHook 自定义读回调，与 WriteObjectHook 对应。
func ReadObjectHook[T any](fn func(obj *T, in *ObjectInput) error) TypeOption {
	return func(e *typeEntry) {
		e.expect(reflect.TypeFor[T](), hookReadObject)
		e.hooks.readObject = func(obj reflect.Value, in *ObjectInput) error {
			return fn(obj.Interface().(*T), in)
		}
	}
}

// ReadObjectNoDataHook 流中没有该类型的数据时调用，用于初始化新增祖先的状态。
func ReadObjectNoDataHook[T any](fn func(obj *T) error) TypeOption {
	return func(e *typeEntry) {
		e.expect(reflect.TypeFor[T](), hookReadObjectNoData)
		e.hooks.readObjectNoData = func(obj reflect.Value) error {
			return fn(obj.Interface().(*T))
		}
	}
}

// WriteReplaceHook 写出前替换对象。
func WriteReplaceHook[T any](fn func(obj *T) (any, error)) TypeOption {
	return func(e *typeEntry) {
		e.expect(reflect.TypeFor[T](), hookWriteReplace)
		e.hooks.writeReplace = func(obj reflect.Value) (any, error) {
			return fn(obj.Interface().(*T))
		}
	}
}

// ReadResolveHook 读取完成后替换对象，句柄随之指向替换结果。
func ReadResolveHook[T any](fn func(obj *T) (any, error)) TypeOption {
	return func(e *typeEntry) {
		e.expect(reflect.TypeFor[T](), hookReadResolve)
		e.hooks.readResolve = func(obj reflect.Value) (any, error) {
			return fn(obj.Interface().(*T))
		}
	}
}

// ExternalHooks 将类型注册为外部控制类型，对象的全部内容由两个回调读写。
func ExternalHooks[T any](write func(obj *T, out *ObjectOutput) error, read func(obj *T, in *ObjectInput) error) TypeOption {
	return func(e *typeEntry) {
		e.expect(reflect.TypeFor[T](), hookWriteExternal)
		e.hooks.writeExternal = func(obj reflect.Value, out *ObjectOutput) error {
			return write(obj.Interface().(*T), out)
		}
		e.hooks.readExternal = func(obj reflect.Value, in *ObjectInput) error {
			return read(obj.Interface().(*T), in)
		}
	}
}

// typeEntry 一个已注册类型的登记信息。
type typeEntry struct {
	typ         reflect.Type
	name        string
	aliases     []string
	suid        *int64
	proxyIfaces []string
	hooks       typeHooks
	enum        *enumInfo

	mismatch error
}

func (e *typeEntry) expect(t reflect.Type, hook string) {
	if e.mismatch == nil && t != e.typ {
		e.mismatch = merr.WrapErrParameterInvalidMsg("%s hook declared for %s, registered type is %s", hook, t, e.typ)
	}
}

func (e *typeEntry) isProxy() bool {
	return e.proxyIfaces != nil
}

func (e *typeEntry) isExternal() bool {
	return e.hooks.writeExternal != nil
}

// enumInfo 枚举类型的常量表。
type enumInfo struct {
	byName  map[string]reflect.Value
	byValue map[any]string
}
