package serializer

import (
	"bytes"
	"reflect"

	"github.com/lk2023060901/objstream-go/pkg/objstream"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

// ObjectSerializer 将一个对象图编码为一条只含单个顶层对象的对象流。
type ObjectSerializer struct {
	reg  *objstream.Registry
	opts []objstream.Option
}

// 编译期断言：确保 ObjectSerializer 实现了 Serializer 接口。
var _ Serializer = (*ObjectSerializer)(nil)

// NewObjectSerializer 创建 ObjectSerializer，reg 为 nil 时使用默认 Registry。
func NewObjectSerializer(reg *objstream.Registry, opts ...objstream.Option) *ObjectSerializer {
	if reg == nil {
		reg = objstream.DefaultRegistry()
	}
	return &ObjectSerializer{reg: reg, opts: opts}
}

func (s *ObjectSerializer) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	w, err := objstream.NewWriter(&buf, s.reg, s.opts...)
	if err != nil {
		return nil, err
	}
	if err := w.WriteObject(v); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal 读取 data 中的顶层对象并赋给 *v，转换规则与 objstream.As 相同。
func (s *ObjectSerializer) Unmarshal(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return merr.WrapErrParameterInvalidMsg("unmarshal target must be a non-nil pointer, got %T", v)
	}
	r, err := objstream.NewReader(bytes.NewReader(data), s.reg, s.opts...)
	if err != nil {
		return err
	}
	defer r.Close()

	obj, err := r.ReadObject()
	if err != nil {
		return err
	}
	out, err := objstream.Convert(rv.Elem().Type(), obj)
	if err != nil {
		return err
	}
	rv.Elem().Set(out)
	return nil
}
