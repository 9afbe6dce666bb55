package objstream

import (
	"encoding/binary"
	"math"

	"github.com/lk2023060901/objstream-go/internal/stream/handles"
	"github.com/lk2023060901/objstream-go/internal/stream/wire"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

// ObjectInput 回调内使用的读端视图，与 ObjectOutput 对应。
type ObjectInput struct {
	r *Reader
}

// ReadObject 读取一个对象。
func (in *ObjectInput) ReadObject() (any, error) {
	if err := in.r.ensureOpen(); err != nil {
		return nil, err
	}
	return in.r.readObjectOuter(false)
}

// ReadUnshared 以非共享方式读取一个对象。
func (in *ObjectInput) ReadUnshared() (any, error) {
	if err := in.r.ensureOpen(); err != nil {
		return nil, err
	}
	return in.r.readObjectOuter(true)
}

func (in *ObjectInput) useContext() (*readContext, error) {
	ctx := in.r.ctx
	if ctx == nil {
		return nil, merr.WrapErrNotActive("not in call to readObject")
	}
	if ctx.used {
		return nil, merr.WrapErrNotActive("fields already read")
	}
	ctx.used = true
	return ctx, nil
}

// DefaultReadObject 按默认方式读取当前回调所属类型的字段，只能在 readObject 回调中调用一次。
// 字段引用的对象无法解析时返回对应的解析错误，字段值仍然已经赋好。
func (in *ObjectInput) DefaultReadObject() error {
	ctx, err := in.useContext()
	if err != nil {
		return err
	}
	r := in.r
	if _, err := r.bin.SetBlockDataMode(false); err != nil {
		return err
	}
	if err := r.defaultReadFields(ctx.obj, ctx.desc); err != nil {
		return err
	}
	if _, err := r.bin.SetBlockDataMode(true); err != nil {
		return err
	}
	if !ctx.desc.writeObjectData {
		r.defaultDataEnd = true
	}
	return r.handles.LookupException(r.passHandle)
}

// ReadFields 读取当前回调所属类型的字段到 GetField，只能在 readObject 回调中调用一次。
func (in *ObjectInput) ReadFields() (*GetField, error) {
	ctx, err := in.useContext()
	if err != nil {
		return nil, err
	}
	r := in.r
	if _, err := r.bin.SetBlockDataMode(false); err != nil {
		return nil, err
	}
	g := &GetField{r: r, desc: ctx.desc}
	if err := g.readFields(); err != nil {
		return nil, err
	}
	if _, err := r.bin.SetBlockDataMode(true); err != nil {
		return nil, err
	}
	if !ctx.desc.writeObjectData {
		r.defaultDataEnd = true
	}
	return g, nil
}

// RegisterValidation 注册在最外层 ReadObject 返回前执行的校验回调。
// priority 大的先执行，优先级相同时后注册的先执行。
func (in *ObjectInput) RegisterValidation(fn func() error, priority int) error {
	if in.r.depth == 0 {
		return merr.WrapErrNotActive("stream inactive")
	}
	if fn == nil {
		return merr.WrapErrInvalidObject("null callback")
	}
	in.r.vlist.register(fn, priority)
	return nil
}

// Read 读取块数据，块数据结束时返回 io.EOF。
func (in *ObjectInput) Read(p []byte) (int, error) {
	if err := in.r.ensureOpen(); err != nil {
		return 0, err
	}
	return in.r.bin.Read(p)
}

// ReadFull 读满 p。
func (in *ObjectInput) ReadFull(p []byte) error {
	if err := in.r.ensureOpen(); err != nil {
		return err
	}
	return in.r.bin.ReadFull(p)
}

// SkipBytes 跳过最多 n 个字节。
func (in *ObjectInput) SkipBytes(n int) (int, error) {
	if err := in.r.ensureOpen(); err != nil {
		return 0, err
	}
	skipped, err := in.r.bin.Skip(int64(n))
	return int(skipped), err
}

// ReadBool 读取一个 bool。
func (in *ObjectInput) ReadBool() (bool, error) {
	if err := in.r.ensureOpen(); err != nil {
		return false, err
	}
	return in.r.bin.ReadBool()
}

// ReadByte 读取一个字节。
func (in *ObjectInput) ReadByte() (byte, error) {
	if err := in.r.ensureOpen(); err != nil {
		return 0, err
	}
	return in.r.bin.ReadByte()
}

// ReadInt16 读取一个 int16。
func (in *ObjectInput) ReadInt16() (int16, error) {
	if err := in.r.ensureOpen(); err != nil {
		return 0, err
	}
	return in.r.bin.ReadInt16()
}

// ReadChar 读取一个 UTF-16 码元。
func (in *ObjectInput) ReadChar() (uint16, error) {
	if err := in.r.ensureOpen(); err != nil {
		return 0, err
	}
	return in.r.bin.ReadChar()
}

// ReadInt32 读取一个 int32。
func (in *ObjectInput) ReadInt32() (int32, error) {
	if err := in.r.ensureOpen(); err != nil {
		return 0, err
	}
	return in.r.bin.ReadInt32()
}

// ReadInt64 读取一个 int64。
func (in *ObjectInput) ReadInt64() (int64, error) {
	if err := in.r.ensureOpen(); err != nil {
		return 0, err
	}
	return in.r.bin.ReadInt64()
}

// ReadFloat32 读取一个 float32。
func (in *ObjectInput) ReadFloat32() (float32, error) {
	if err := in.r.ensureOpen(); err != nil {
		return 0, err
	}
	return in.r.bin.ReadFloat32()
}

// ReadFloat64 读取一个 float64。
func (in *ObjectInput) ReadFloat64() (float64, error) {
	if err := in.r.ensureOpen(); err != nil {
		return 0, err
	}
	return in.r.bin.ReadFloat64()
}

// ReadUTF 读取带长度前缀的字符串数据。
func (in *ObjectInput) ReadUTF() (string, error) {
	if err := in.r.ensureOpen(); err != nil {
		return "", err
	}
	return in.r.bin.ReadUTF()
}

// GetField 按名称读取的字段值。
//
// 字段在流中存在时返回流中的值；流中不存在但本地类型声明了该字段时返回调用方给出的默认值；
// 两边都没有时返回 ErrNoSuchField。
type GetField struct {
	r          *Reader
	desc       *TypeDescriptor
	primVals   []byte
	objVals    []any
	objHandles []int32
}

func (g *GetField) readFields() error {
	r := g.r
	g.primVals = make([]byte, g.desc.primDataSize)
	if err := r.bin.ReadFull(g.primVals); err != nil {
		return err
	}
	h := r.passHandle
	numPrim := len(g.desc.fields) - g.desc.numObjFields
	g.objVals = make([]any, g.desc.numObjFields)
	g.objHandles = make([]int32, g.desc.numObjFields)
	for i, f := range g.desc.fields[numPrim:] {
		obj, err := r.readObject0(f.unshared)
		if err != nil {
			return err
		}
		g.objVals[i] = obj
		g.objHandles[i] = r.passHandle
	}
	r.passHandle = h
	return nil
}

// offset 返回字段的偏移，字段取默认值时返回 -1。
func (g *GetField) offset(name string, code byte) (int, error) {
	if f := g.desc.Field(name); f != nil && fieldKindMatches(f, code) {
		return f.offset, nil
	}
	if g.desc.local != nil {
		if f := g.desc.local.Field(name); f != nil && fieldKindMatches(f, code) {
			return -1, nil
		}
	}
	return 0, merr.WrapErrNoSuchField(name, g.desc.name)
}

func fieldKindMatches(f *FieldDescriptor, code byte) bool {
	if code == wire.TypeObject {
		return !f.IsPrimitive()
	}
	return f.typeCode == code
}

// Defaulted 判断字段在流中是否缺失（取默认值）。
func (g *GetField) Defaulted(name string) (bool, error) {
	f := g.desc.Field(name)
	if f != nil {
		return false, nil
	}
	if g.desc.local != nil && g.desc.local.Field(name) != nil {
		return true, nil
	}
	return false, merr.WrapErrNoSuchField(name, g.desc.name)
}

// GetBool 返回 bool 字段的值。
func (g *GetField) GetBool(name string, def bool) (bool, error) {
	off, err := g.offset(name, wire.TypeBoolean)
	if err != nil || off < 0 {
		return def, err
	}
	return g.primVals[off] != 0, nil
}

// GetByte 返回字节字段的值。
func (g *GetField) GetByte(name string, def byte) (byte, error) {
	off, err := g.offset(name, wire.TypeByte)
	if err != nil || off < 0 {
		return def, err
	}
	return g.primVals[off], nil
}

// GetChar 返回 uint16 字段的值。
func (g *GetField) GetChar(name string, def uint16) (uint16, error) {
	off, err := g.offset(name, wire.TypeChar)
	if err != nil || off < 0 {
		return def, err
	}
	return binary.BigEndian.Uint16(g.primVals[off:]), nil
}

// GetInt16 返回 int16 字段的值。
func (g *GetField) GetInt16(name string, def int16) (int16, error) {
	off, err := g.offset(name, wire.TypeShort)
	if err != nil || off < 0 {
		return def, err
	}
	return int16(binary.BigEndian.Uint16(g.primVals[off:])), nil
}

// GetInt32 返回 int32 字段的值。
func (g *GetField) GetInt32(name string, def int32) (int32, error) {
	off, err := g.offset(name, wire.TypeInt)
	if err != nil || off < 0 {
		return def, err
	}
	return int32(binary.BigEndian.Uint32(g.primVals[off:])), nil
}

// GetInt64 返回 int64 字段的值。
func (g *GetField) GetInt64(name string, def int64) (int64, error) {
	off, err := g.offset(name, wire.TypeLong)
	if err != nil || off < 0 {
		return def, err
	}
	return int64(binary.BigEndian.Uint64(g.primVals[off:])), nil
}

// GetFloat32 返回 float32 字段的值。
func (g *GetField) GetFloat32(name string, def float32) (float32, error) {
	off, err := g.offset(name, wire.TypeFloat)
	if err != nil || off < 0 {
		return def, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(g.primVals[off:])), nil
}

// GetFloat64 返回 float64 字段的值。
func (g *GetField) GetFloat64(name string, def float64) (float64, error) {
	off, err := g.offset(name, wire.TypeDouble)
	if err != nil || off < 0 {
		return def, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(g.primVals[off:])), nil
}

// GetObject 返回引用字段的值。被引用对象无法解析时返回 nil，
// 并且当前对象随之记录该解析错误。
func (g *GetField) GetObject(name string, def any) (any, error) {
	off, err := g.offset(name, wire.TypeObject)
	if err != nil || off < 0 {
		return def, err
	}
	objHandle := g.objHandles[off]
	g.r.handles.MarkDependency(g.r.passHandle, objHandle)
	if objHandle != handles.NullHandle && g.r.handles.LookupException(objHandle) != nil {
		return nil, nil
	}
	return g.objVals[off], nil
}
