package objstream

import (
	"reflect"
)

// ReadAs 读取下一个对象并转换为 T，转换规则与字段赋值相同。
func ReadAs[T any](r *Reader) (T, error) {
	var zero T
	obj, err := r.ReadObject()
	if err != nil {
		return zero, err
	}
	return As[T](obj)
}

// As 将读出的对象转换为 T。
func As[T any](obj any) (T, error) {
	v, err := Convert(reflect.TypeFor[T](), obj)
	if err != nil {
		var zero T
		return zero, err
	}
	t, _ := v.Interface().(T)
	return t, nil
}

// Convert 将读出的对象转换为类型 t 的值，nil 转换为零值。
func Convert(t reflect.Type, obj any) (reflect.Value, error) {
	return convertValue(t, obj)
}
