package objstream

import (
	"encoding/binary"
	"math"

	"github.com/lk2023060901/objstream-go/internal/stream/wire"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

// ObjectOutput 回调内使用的写端视图。
//
// 基本类型数据写入块数据；对象以记录写出，与回调外的 WriteObject 共享句柄表。
// ObjectOutput 只在回调执行期间有效，不能跨 goroutine 使用。
type ObjectOutput struct {
	w *Writer
}

// WriteObject 写出一个对象。
func (o *ObjectOutput) WriteObject(obj any) error {
	if err := o.w.ensureOpen(); err != nil {
		return err
	}
	return o.w.writeObjectOuter(obj, false)
}

// WriteUnshared 以非共享方式写出对象。
func (o *ObjectOutput) WriteUnshared(obj any) error {
	if err := o.w.ensureOpen(); err != nil {
		return err
	}
	return o.w.writeObjectOuter(obj, true)
}

// DefaultWriteObject 按默认方式写出当前回调所属类型的字段，只能在 writeObject 回调中调用。
func (o *ObjectOutput) DefaultWriteObject() error {
	ctx := o.w.ctx
	if ctx == nil {
		return merr.WrapErrNotActive("not in call to writeObject")
	}
	o.w.bout.SetBlockDataMode(false)
	err := o.w.defaultWriteFields(ctx.obj, ctx.desc)
	o.w.bout.SetBlockDataMode(true)
	return err
}

// PutFields 返回当前回调的字段缓冲区，同一次回调内多次调用返回同一个对象。
func (o *ObjectOutput) PutFields() (*PutField, error) {
	if o.w.put == nil {
		ctx := o.w.ctx
		if ctx == nil {
			return nil, merr.WrapErrNotActive("not in call to writeObject")
		}
		o.w.put = newPutField(ctx.desc)
	}
	return o.w.put, nil
}

// WriteFields 写出 PutFields 缓冲区中的字段。
func (o *ObjectOutput) WriteFields() error {
	p := o.w.put
	if p == nil {
		return merr.WrapErrNotActive("no current PutField object")
	}
	o.w.bout.SetBlockDataMode(false)
	err := p.writeFields(o.w)
	o.w.bout.SetBlockDataMode(true)
	return err
}

// Reset 在回调内总是失败：流正在写对象。
func (o *ObjectOutput) Reset() error {
	return o.w.reset()
}

// Write 写出字节数据。
func (o *ObjectOutput) Write(p []byte) (int, error) {
	if err := o.w.ensureOpen(); err != nil {
		return 0, err
	}
	return o.w.bout.Write(p)
}

// WriteBool 写出一个 bool。
func (o *ObjectOutput) WriteBool(v bool) error {
	if err := o.w.ensureOpen(); err != nil {
		return err
	}
	return o.w.bout.WriteBool(v)
}

// WriteByte 写出一个字节。
func (o *ObjectOutput) WriteByte(v byte) error {
	if err := o.w.ensureOpen(); err != nil {
		return err
	}
	return o.w.bout.WriteByte(v)
}

// WriteInt16 写出一个 int16。
func (o *ObjectOutput) WriteInt16(v int16) error {
	if err := o.w.ensureOpen(); err != nil {
		return err
	}
	return o.w.bout.WriteInt16(v)
}

// WriteChar 写出一个 UTF-16 码元。
func (o *ObjectOutput) WriteChar(v uint16) error {
	if err := o.w.ensureOpen(); err != nil {
		return err
	}
	return o.w.bout.WriteChar(v)
}

// WriteInt32 写出一个 int32。
func (o *ObjectOutput) WriteInt32(v int32) error {
	if err := o.w.ensureOpen(); err != nil {
		return err
	}
	return o.w.bout.WriteInt32(v)
}

// WriteInt64 写出一个 int64。
func (o *ObjectOutput) WriteInt64(v int64) error {
	if err := o.w.ensureOpen(); err != nil {
		return err
	}
	return o.w.bout.WriteInt64(v)
}

// WriteFloat32 写出一个 float32。
func (o *ObjectOutput) WriteFloat32(v float32) error {
	if err := o.w.ensureOpen(); err != nil {
		return err
	}
	return o.w.bout.WriteFloat32(v)
}

// WriteFloat64 写出一个 float64。
func (o *ObjectOutput) WriteFloat64(v float64) error {
	if err := o.w.ensureOpen(); err != nil {
		return err
	}
	return o.w.bout.WriteFloat64(v)
}

// WriteInt32s 批量写出 int32。
func (o *ObjectOutput) WriteInt32s(v []int32) error {
	if err := o.w.ensureOpen(); err != nil {
		return err
	}
	return o.w.bout.WriteInt32s(v)
}

// WriteUTF 写出带长度前缀的字符串数据。
func (o *ObjectOutput) WriteUTF(s string) error {
	if err := o.w.ensureOpen(); err != nil {
		return err
	}
	return o.w.bout.WriteUTF(s)
}

// WriteChars 以 UTF-16 码元写出字符串数据。
func (o *ObjectOutput) WriteChars(s string) error {
	if err := o.w.ensureOpen(); err != nil {
		return err
	}
	return o.w.bout.WriteChars(s)
}

// PutField 按名称设置的字段缓冲区，由 WriteFields 按描述符的顺序写出。
// 未设置的字段写出零值。
type PutField struct {
	desc     *TypeDescriptor
	primVals []byte
	objVals  []any
}

func newPutField(desc *TypeDescriptor) *PutField {
	return &PutField{
		desc:     desc,
		primVals: make([]byte, desc.primDataSize),
		objVals:  make([]any, desc.numObjFields),
	}
}

func (p *PutField) field(name string, code byte) (*FieldDescriptor, error) {
	f := p.desc.Field(name)
	switch {
	case f == nil:
	case code == wire.TypeObject && !f.IsPrimitive():
		return f, nil
	case f.typeCode == code:
		return f, nil
	}
	return nil, merr.WrapErrNoSuchField(name, p.desc.name)
}

// PutBool 设置 bool 字段。
func (p *PutField) PutBool(name string, v bool) error {
	f, err := p.field(name, wire.TypeBoolean)
	if err != nil {
		return err
	}
	p.primVals[f.offset] = 0
	if v {
		p.primVals[f.offset] = 1
	}
	return nil
}

// PutByte 设置字节字段。
func (p *PutField) PutByte(name string, v byte) error {
	f, err := p.field(name, wire.TypeByte)
	if err != nil {
		return err
	}
	p.primVals[f.offset] = v
	return nil
}

// PutChar 设置 uint16 字段。
func (p *PutField) PutChar(name string, v uint16) error {
	f, err := p.field(name, wire.TypeChar)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(p.primVals[f.offset:], v)
	return nil
}

// PutInt16 设置 int16 字段。
func (p *PutField) PutInt16(name string, v int16) error {
	f, err := p.field(name, wire.TypeShort)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(p.primVals[f.offset:], uint16(v))
	return nil
}

// PutInt32 设置 int32 字段。
func (p *PutField) PutInt32(name string, v int32) error {
	f, err := p.field(name, wire.TypeInt)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(p.primVals[f.offset:], uint32(v))
	return nil
}

// PutInt64 设置 int64 字段。
func (p *PutField) PutInt64(name string, v int64) error {
	f, err := p.field(name, wire.TypeLong)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(p.primVals[f.offset:], uint64(v))
	return nil
}

// PutFloat32 设置 float32 字段。
func (p *PutField) PutFloat32(name string, v float32) error {
	f, err := p.field(name, wire.TypeFloat)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(p.primVals[f.offset:], math.Float32bits(v))
	return nil
}

// PutFloat64 设置 float64 字段。
func (p *PutField) PutFloat64(name string, v float64) error {
	f, err := p.field(name, wire.TypeDouble)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(p.primVals[f.offset:], math.Float64bits(v))
	return nil
}

// PutObject 设置引用字段。
func (p *PutField) PutObject(name string, v any) error {
	f, err := p.field(name, wire.TypeObject)
	if err != nil {
		return err
	}
	p.objVals[f.offset] = v
	return nil
}

func (p *PutField) writeFields(w *Writer) error {
	if _, err := w.bout.Write(p.primVals); err != nil {
		return err
	}
	numPrim := len(p.desc.fields) - p.desc.numObjFields
	for i, obj := range p.objVals {
		f := p.desc.fields[numPrim+i]
		if err := w.writeObject0(obj, f.unshared); err != nil {
			return err
		}
	}
	return nil
}
