package objstream

import (
	"reflect"
	"unsafe"

	"github.com/lk2023060901/objstream-go/internal/stream/wire"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

var (
	anyType    = reflect.TypeFor[any]()
	stringType = reflect.TypeFor[string]()
)

// 基本类型码对应的规范 Go 类型，读取基本类型数组时使用。
var canonicalPrimitives = map[byte]reflect.Type{
	wire.TypeBoolean: reflect.TypeFor[bool](),
	wire.TypeByte:    reflect.TypeFor[uint8](),
	wire.TypeChar:    reflect.TypeFor[uint16](),
	wire.TypeShort:   reflect.TypeFor[int16](),
	wire.TypeInt:     reflect.TypeFor[int32](),
	wire.TypeLong:    reflect.TypeFor[int64](),
	wire.TypeFloat:   reflect.TypeFor[float32](),
	wire.TypeDouble:  reflect.TypeFor[float64](),
}

// 可以作为装箱对象或基本类型记录写出的预声明类型。
var basicTypes = map[string]reflect.Type{
	"bool":    reflect.TypeFor[bool](),
	"int8":    reflect.TypeFor[int8](),
	"uint8":   reflect.TypeFor[uint8](),
	"int16":   reflect.TypeFor[int16](),
	"uint16":  reflect.TypeFor[uint16](),
	"int32":   reflect.TypeFor[int32](),
	"uint32":  reflect.TypeFor[uint32](),
	"int64":   reflect.TypeFor[int64](),
	"uint64":  reflect.TypeFor[uint64](),
	"int":     reflect.TypeFor[int](),
	"uint":    reflect.TypeFor[uint](),
	"float32": reflect.TypeFor[float32](),
	"float64": reflect.TypeFor[float64](),
	"string":  stringType,
}

const boxPrefix = "box."

// primitiveCode 返回基本 kind 在线路上的类型码，非基本 kind 返回 0。
func primitiveCode(k reflect.Kind) byte {
	switch k {
	case reflect.Bool:
		return wire.TypeBoolean
	case reflect.Int8, reflect.Uint8:
		return wire.TypeByte
	case reflect.Int16:
		return wire.TypeShort
	case reflect.Uint16:
		return wire.TypeChar
	case reflect.Int32, reflect.Uint32:
		return wire.TypeInt
	case reflect.Int64, reflect.Uint64, reflect.Int, reflect.Uint:
		return wire.TypeLong
	case reflect.Float32:
		return wire.TypeFloat
	case reflect.Float64:
		return wire.TypeDouble
	}
	return 0
}

// skippedKind 判断该 kind 的字段是否永远不参与序列化。
func skippedKind(k reflect.Kind) bool {
	switch k {
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128,
		reflect.UnsafePointer, reflect.Uintptr:
		return true
	}
	return false
}

// isBasicType 判断 t 是否为预声明的基本类型（不含具名的自定义类型）。
func isBasicType(t reflect.Type) bool {
	bt, ok := basicTypes[t.Name()]
	return ok && bt == t
}

// isNil 判断 v 是否为 nil 或带类型的 nil。
func isNil(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// fieldByIndex 沿 index 取字段，未导出字段通过 unsafe 获得可读写的视图。
// v 必须是可寻址的结构体值，index 为空时返回 v 本身。
func fieldByIndex(v reflect.Value, index []int) reflect.Value {
	for _, i := range index {
		v = v.Field(i)
		if !v.CanSet() {
			v = reflect.NewAt(v.Type(), unsafe.Pointer(v.UnsafeAddr())).Elem()
		}
	}
	return v
}

// sliceKey 切片的身份：类型、底层数组地址和长度都相同才视为同一个对象。
type sliceKey struct {
	typ reflect.Type
	ptr uintptr
	len int
}

// identityKey 返回写端用于句柄查找的身份，没有身份的值（结构体值、装箱值、数组值）返回 nil。
// 具名的字符串和整数类型（枚举）以值本身为身份，与同值的 string 互不混淆。
func identityKey(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Pointer:
		return v.Interface()
	case reflect.String:
		if v.Type() == stringType {
			return v.String()
		}
		return v.Interface()
	case reflect.Slice:
		return sliceKey{typ: v.Type(), ptr: v.Pointer(), len: v.Len()}
	}
	if primitiveCode(v.Kind()) != 0 && !isBasicType(v.Type()) {
		return v.Interface()
	}
	return nil
}

// keyOf 返回任意待写对象的身份。
func keyOf(obj any) any {
	switch o := obj.(type) {
	case nil:
		return nil
	case reflect.Type:
		return o
	case *TypeDescriptor:
		return o
	}
	return identityKey(reflect.ValueOf(obj))
}

// isNilAny 判断 obj 是否为 nil 或带类型的 nil 指针、切片。
func isNilAny(obj any) bool {
	return obj == nil || isNil(reflect.ValueOf(obj))
}

// sameObject 比较两个对象是否为同一身份，不可比较的值（切片）按 identityKey 比较。
func sameObject(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	if va.Comparable() {
		return va.Equal(vb)
	}
	ka, kb := keyOf(a), keyOf(b)
	return ka != nil && ka == kb
}

// convertValue 将读到的对象转换为目标类型，用于字段赋值和 ReadAs。
func convertValue(dst reflect.Type, src any) (reflect.Value, error) {
	if src == nil {
		return reflect.Zero(dst), nil
	}
	return convertReflect(dst, reflect.ValueOf(src))
}

func convertReflect(dst reflect.Type, sv reflect.Value) (reflect.Value, error) {
	st := sv.Type()
	if st.AssignableTo(dst) {
		return sv, nil
	}
	switch {
	case sv.Kind() == reflect.Interface:
		if sv.IsNil() {
			return reflect.Zero(dst), nil
		}
		return convertReflect(dst, sv.Elem())
	case sv.Kind() == reflect.Pointer && !sv.IsNil() && st.Elem().AssignableTo(dst):
		return sv.Elem(), nil
	case dst.Kind() == reflect.Pointer && st.AssignableTo(dst.Elem()):
		p := reflect.New(dst.Elem())
		p.Elem().Set(sv)
		return p, nil
	case isSequence(sv.Kind()) && isSequence(dst.Kind()):
		return convertSequence(dst, sv)
	case scalarConvertible(st, dst):
		return sv.Convert(dst), nil
	}
	return reflect.Value{}, merr.WrapErrTypeMismatch(dst.String(), st.String())
}

func isSequence(k reflect.Kind) bool {
	return k == reflect.Slice || k == reflect.Array
}

func convertSequence(dst reflect.Type, sv reflect.Value) (reflect.Value, error) {
	n := sv.Len()
	var out reflect.Value
	if dst.Kind() == reflect.Slice {
		if sv.Kind() == reflect.Slice && sv.IsNil() {
			return reflect.Zero(dst), nil
		}
		out = reflect.MakeSlice(dst, n, n)
	} else {
		out = reflect.New(dst).Elem()
		n = min(n, dst.Len())
	}
	for i := 0; i < n; i++ {
		ev, err := convertReflect(dst.Elem(), sv.Index(i))
		if err != nil {
			return reflect.Value{}, err
		}
		out.Index(i).Set(ev)
	}
	return out, nil
}

func scalarConvertible(src, dst reflect.Type) bool {
	sk, dk := src.Kind(), dst.Kind()
	switch {
	case isNumeric(sk) && isNumeric(dk):
		return true
	case sk == reflect.Bool && dk == reflect.Bool:
		return true
	case sk == reflect.String && dk == reflect.String:
		return true
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// assignValue 将对象写入字段，类型不一致时按 convertValue 的规则转换。
func assignValue(field reflect.Value, src any) error {
	v, err := convertValue(field.Type(), src)
	if err != nil {
		return err
	}
	field.Set(v)
	return nil
}
