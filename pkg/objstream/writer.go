package objstream

import (
	"bufio"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/objstream-go/internal/stream/blockdata"
	"github.com/lk2023060901/objstream-go/internal/stream/handles"
	"github.com/lk2023060901/objstream-go/internal/stream/wire"
	"github.com/lk2023060901/objstream-go/pkg/log"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

// Writer 将对象图编码为字节流。
//
// 同一个对象（指针、切片、字符串）在流中只写一次，之后以句柄引用；
// 结构体值、数组值和基本类型值在每次写出时都是新对象。
// 公开方法之间互斥，回调内通过 ObjectOutput 访问同一个 Writer。
type Writer struct {
	log.Binder

	mu      sync.Mutex
	reg     *Registry
	opts    *streamOptions
	bout    *blockdata.Output
	closer  io.Closer
	handles *handles.Table
	subs    *handles.ReplaceTable
	depth   int
	ctx     *writeContext
	put     *PutField
	closed  atomic.Bool
	out     *ObjectOutput
}

// writeContext 正在执行 writeObject 回调的对象和描述符。
type writeContext struct {
	obj  reflect.Value
	desc *TypeDescriptor
}

// NewWriter 创建 Writer 并写出流头。reg 为 nil 时使用默认 Registry。
func NewWriter(w io.Writer, reg *Registry, opts ...Option) (*Writer, error) {
	if w == nil {
		return nil, merr.WrapErrParameterInvalidMsg("nil writer")
	}
	if reg == nil {
		reg = defaultRegistry
	}
	o := defaultStreamOptions()
	for _, opt := range opts {
		opt(o)
	}
	sink := w
	if o.cfg.BufferSize > 0 {
		sink = bufio.NewWriterSize(w, o.cfg.BufferSize)
	}
	wr := &Writer{
		reg:     reg,
		opts:    o,
		bout:    blockdata.NewOutput(sink),
		handles: handles.NewTable(o.cfg.InitialHandles, handleLoadFactor),
		subs:    handles.NewReplaceTable(o.cfg.InitialHandles, handleLoadFactor),
	}
	if c, ok := w.(io.Closer); ok && sink != w {
		wr.closer = c
	}
	wr.Bind(o.logger, "objstream", "writer")
	wr.out = &ObjectOutput{w: wr}

	_ = wr.bout.WriteChar(wire.StreamMagic)
	_ = wr.bout.WriteChar(wire.StreamVersion)
	wr.bout.SetBlockDataMode(true)
	if err := wr.bout.Err(); err != nil {
		return nil, err
	}
	return wr, nil
}

// WriteObject 写出一个对象及其引用的全部对象。
// 出错时流中会追加一条中止记录，读端读到该记录时得到 ErrWriteAborted。
func (w *Writer) WriteObject(obj any) error {
	return w.writeTop(obj, false)
}

// WriteUnshared 以非共享方式写出对象：该对象不会被之后的写出以句柄引用。
func (w *Writer) WriteUnshared(obj any) error {
	return w.writeTop(obj, true)
}

func (w *Writer) writeTop(obj any, unshared bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return err
	}
	start := w.bout.Written()
	err := w.writeObjectOuter(obj, unshared)
	writeMetrics.bytes.Observe(float64(w.bout.Written() - start))
	return err
}

// writeObjectOuter 写对象的入口，在最外层出错时写出中止记录。
func (w *Writer) writeObjectOuter(obj any, unshared bool) error {
	err := w.writeObject0(obj, unshared)
	if err == nil {
		err = w.bout.Err()
	}
	if err != nil && w.depth == 0 {
		writeMetrics.failed(err)
		w.writeFatalException(err)
	}
	return err
}

// Reset 清空句柄表，之后写出的对象不会再引用之前的对象。
func (w *Writer) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return err
	}
	return w.reset()
}

func (w *Writer) reset() error {
	if w.depth != 0 {
		return merr.WrapErrStreamActive(w.depth, "reset")
	}
	w.bout.SetBlockDataMode(false)
	_ = w.bout.WriteByte(wire.TcReset)
	w.clear()
	w.bout.SetBlockDataMode(true)
	writeMetrics.record(wire.TcReset)
	writeMetrics.resets.Inc()
	w.Logger().Debug("stream reset")
	return w.bout.Err()
}

// Flush 把缓冲数据写到底层。
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return err
	}
	return w.bout.Flush()
}

// Close 刷新并关闭底层。重复调用返回 nil。
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.clear()
	err := w.bout.Close()
	if w.closer != nil {
		if cerr := w.closer.Close(); cerr != nil && err == nil {
			err = merr.WrapErrIoFailed("close", cerr)
		}
	}
	return err
}

// Write 实现 io.Writer，数据以块数据写出。
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Write(p)
}

// WriteBool 写出一个 bool。
func (w *Writer) WriteBool(v bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.WriteBool(v)
}

// WriteByte 写出一个字节。
func (w *Writer) WriteByte(v byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.WriteByte(v)
}

// WriteInt16 写出一个 int16。
func (w *Writer) WriteInt16(v int16) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.WriteInt16(v)
}

// WriteChar 写出一个 UTF-16 码元。
func (w *Writer) WriteChar(v uint16) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.WriteChar(v)
}

// WriteInt32 写出一个 int32。
func (w *Writer) WriteInt32(v int32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.WriteInt32(v)
}

// WriteInt64 写出一个 int64。
func (w *Writer) WriteInt64(v int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.WriteInt64(v)
}

// WriteFloat32 写出一个 float32。
func (w *Writer) WriteFloat32(v float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.WriteFloat32(v)
}

// WriteFloat64 写出一个 float64。
func (w *Writer) WriteFloat64(v float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.WriteFloat64(v)
}

// WriteInt32s 批量写出 int32，字节与逐个写出相同。
func (w *Writer) WriteInt32s(v []int32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.WriteInt32s(v)
}

// WriteUTF 写出带长度前缀的字符串数据（不是字符串对象）。
func (w *Writer) WriteUTF(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.WriteUTF(s)
}

// WriteChars 以 UTF-16 码元写出字符串数据，不带长度。
func (w *Writer) WriteChars(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.WriteChars(s)
}

func (w *Writer) ensureOpen() error {
	if w.closed.Load() {
		return merr.WrapErrStreamClosed()
	}
	return nil
}

func (w *Writer) clear() {
	w.subs.Clear()
	w.handles.Clear()
}

// writeFatalException 清空句柄表并写出中止记录，尽力而为。
func (w *Writer) writeFatalException(cause error) {
	w.clear()
	if w.bout.Err() != nil {
		return
	}
	oldMode := w.bout.SetBlockDataMode(false)
	_ = w.bout.WriteByte(wire.TcException)
	writeMetrics.record(wire.TcException)
	if err := w.writeObject0(newStreamError(cause), false); err != nil {
		w.Logger().Warn("failed to write abort record", zap.Error(err))
	}
	w.clear()
	w.bout.SetBlockDataMode(oldMode)
	w.Logger().Warn("writing aborted", zap.Error(cause))
}

func (w *Writer) writeObject0(obj any, unshared bool) error {
	oldMode := w.bout.SetBlockDataMode(false)
	w.depth++
	defer func() {
		w.depth--
		w.bout.SetBlockDataMode(oldMode)
	}()
	if w.depth > w.opts.cfg.MaxDepth {
		w.Logger().Debug("recursion too deep", log.FieldDepth(w.depth))
		return merr.WrapErrDepthExceeded(w.depth, w.opts.cfg.MaxDepth)
	}

	if rep, ok := w.subs.Find(keyOf(obj)); ok {
		obj = rep
	}
	if done, err := w.writeShared(obj, unshared); done {
		return err
	}

	orig := obj
	v, desc, err := w.prepare(obj)
	if err != nil {
		return err
	}
	for desc != nil && desc.hasWriteReplace() {
		rep, err := desc.hooks.writeReplace(v)
		if err != nil {
			return merr.WrapErrHookFailed(desc.name, hookWriteReplace, err)
		}
		obj = rep
		if isNilAny(rep) {
			break
		}
		nv, ndesc, err := w.prepare(rep)
		if err != nil {
			return err
		}
		same := nv.IsValid() && nv.Type() == v.Type()
		v, desc = nv, ndesc
		if same {
			break
		}
	}
	if w.opts.cfg.EnableReplace && w.opts.replacer != nil && !isNilAny(obj) {
		rep, err := w.opts.replacer(obj)
		if err != nil {
			return merr.WrapErrHookFailed("stream", "replaceObject", err)
		}
		if !sameObject(rep, obj) && !isNilAny(rep) {
			if v, desc, err = w.prepare(rep); err != nil {
				return err
			}
		}
		obj = rep
	}
	if !sameObject(obj, orig) {
		w.subs.Assign(keyOf(orig), obj)
		if done, err := w.writeShared(obj, unshared); done {
			return err
		}
	}

	switch {
	case desc.array:
		return w.writeArray(v, desc, unshared)
	case v.Kind() == reflect.String && !desc.enum:
		return w.writeString(v.String(), unshared)
	case desc.enum:
		return w.writeEnum(v, desc, unshared)
	case desc.serializable:
		return w.writeOrdinaryObject(v, desc, unshared)
	}
	return merr.WrapErrNotSerializable(desc.name)
}

// writeShared 处理空值、已写过的对象和类型对象，返回是否已经写出。
func (w *Writer) writeShared(obj any, unshared bool) (bool, error) {
	if isNilAny(obj) {
		return true, w.writeNull()
	}
	if !unshared {
		if h := w.handles.Lookup(keyOf(obj)); h != handles.NullHandle {
			return true, w.writeHandle(h)
		}
	}
	switch o := obj.(type) {
	case reflect.Type:
		return true, w.writeClass(o, unshared)
	case *TypeDescriptor:
		return true, w.writeClassDesc(o, unshared)
	}
	return false, nil
}

// prepare 规范化待写对象并查找描述符。
// 结构体值、数组值和基本类型值复制到新分配的对象中；类型对象返回空描述符。
func (w *Writer) prepare(obj any) (reflect.Value, *TypeDescriptor, error) {
	switch obj.(type) {
	case reflect.Type, *TypeDescriptor:
		return reflect.Value{}, nil, nil
	}
	v := reflect.ValueOf(obj)
	t := v.Type()
	switch {
	case t.Kind() == reflect.Pointer:
		elem := t.Elem()
		if !w.reg.isRegisteredStruct(elem) && !(isBasicType(elem) && elem != stringType) {
			return reflect.Value{}, nil, merr.WrapErrNotSerializable(t.String())
		}
	case t.Kind() == reflect.Struct, t.Kind() == reflect.Array, isBasicType(t) && t != stringType:
		p := reflect.New(t)
		p.Elem().Set(v)
		v = p
		if t.Kind() == reflect.Array {
			v = p.Elem()
		}
	}
	desc, err := w.reg.Lookup(t)
	if err != nil {
		return reflect.Value{}, nil, err
	}
	return v, desc, nil
}

func (w *Writer) writeNull() error {
	writeMetrics.record(wire.TcNull)
	return w.bout.WriteByte(wire.TcNull)
}

func (w *Writer) writeHandle(h int32) error {
	writeMetrics.record(wire.TcReference)
	_ = w.bout.WriteByte(wire.TcReference)
	return w.bout.WriteInt32(wire.BaseWireHandle + h)
}

func (w *Writer) assign(key any, unshared bool) {
	if unshared {
		key = nil
	}
	w.handles.Assign(key)
}

// writeClass 写出类型记录，*T 与 T 写出同一个描述符。
func (w *Writer) writeClass(t reflect.Type, unshared bool) error {
	desc, err := w.reg.classDescFor(t)
	if err != nil {
		return err
	}
	writeMetrics.record(wire.TcClass)
	_ = w.bout.WriteByte(wire.TcClass)
	if err := w.writeClassDesc(desc, false); err != nil {
		return err
	}
	w.assign(t, unshared)
	return w.bout.Err()
}

func (w *Writer) writeClassDesc(desc *TypeDescriptor, unshared bool) error {
	if desc == nil {
		return w.writeNull()
	}
	if !unshared {
		if h := w.handles.Lookup(desc); h != handles.NullHandle {
			return w.writeHandle(h)
		}
	}
	if desc.proxy {
		return w.writeProxyDesc(desc, unshared)
	}
	return w.writeNonProxyDesc(desc, unshared)
}

func (w *Writer) writeProxyDesc(desc *TypeDescriptor, unshared bool) error {
	writeMetrics.record(wire.TcProxyClassDesc)
	_ = w.bout.WriteByte(wire.TcProxyClassDesc)
	w.assign(desc, unshared)
	_ = w.bout.WriteInt32(int32(len(desc.proxyIfaces)))
	for _, iface := range desc.proxyIfaces {
		if err := w.bout.WriteUTF(iface); err != nil {
			return err
		}
	}
	w.annotate()
	return w.writeClassDesc(desc.super, false)
}

func (w *Writer) writeNonProxyDesc(desc *TypeDescriptor, unshared bool) error {
	writeMetrics.record(wire.TcClassDesc)
	_ = w.bout.WriteByte(wire.TcClassDesc)
	w.assign(desc, unshared)
	if err := w.bout.WriteUTF(desc.name); err != nil {
		return err
	}
	_ = w.bout.WriteInt64(desc.suid)
	_ = w.bout.WriteByte(desc.Flags())
	_ = w.bout.WriteInt16(int16(len(desc.fields)))
	for _, f := range desc.fields {
		_ = w.bout.WriteByte(f.typeCode)
		if err := w.bout.WriteUTF(f.name); err != nil {
			return err
		}
		if !f.IsPrimitive() {
			if err := w.writeTypeString(f.signature); err != nil {
				return err
			}
		}
	}
	w.annotate()
	return w.writeClassDesc(desc.super, false)
}

// annotate 写出空的类型注解。
func (w *Writer) annotate() {
	w.bout.SetBlockDataMode(true)
	w.bout.SetBlockDataMode(false)
	_ = w.bout.WriteByte(wire.TcEndBlockData)
}

func (w *Writer) writeTypeString(sig string) error {
	if h := w.handles.Lookup(sig); h != handles.NullHandle {
		return w.writeHandle(h)
	}
	return w.writeString(sig, false)
}

func (w *Writer) writeString(s string, unshared bool) error {
	if err := blockdata.CheckUTF(s); err != nil {
		return err
	}
	w.assign(s, unshared)
	if blockdata.UTFLength(s) <= wire.MaxUTFLength {
		writeMetrics.record(wire.TcString)
		_ = w.bout.WriteByte(wire.TcString)
		return w.bout.WriteUTF(s)
	}
	writeMetrics.record(wire.TcLongString)
	_ = w.bout.WriteByte(wire.TcLongString)
	return w.bout.WriteLongUTF(s)
}

func (w *Writer) writeEnum(v reflect.Value, desc *TypeDescriptor, unshared bool) error {
	name, ok := desc.entry.enum.byValue[v.Interface()]
	if !ok {
		return merr.WrapErrInvalidObject(fmt.Sprintf("%v is not a constant of %s", v.Interface(), desc.name))
	}
	writeMetrics.record(wire.TcEnum)
	_ = w.bout.WriteByte(wire.TcEnum)
	if err := w.writeClassDesc(desc, false); err != nil {
		return err
	}
	w.assign(v.Interface(), unshared)
	return w.writeString(name, false)
}

func (w *Writer) writeArray(v reflect.Value, desc *TypeDescriptor, unshared bool) error {
	writeMetrics.record(wire.TcArray)
	_ = w.bout.WriteByte(wire.TcArray)
	if err := w.writeClassDesc(desc, false); err != nil {
		return err
	}
	w.assign(identityKey(v), unshared)
	n := v.Len()
	_ = w.bout.WriteInt32(int32(n))

	if code := w.reg.typeCode(v.Type().Elem()); wire.IsPrimitiveCode(code) {
		return w.writePrimitiveArray(v, code)
	}
	for i := 0; i < n; i++ {
		if err := w.writeObject0(v.Index(i).Interface(), false); err != nil {
			return errors.Wrapf(err, "element %d of %s", i, desc.name)
		}
	}
	return w.bout.Err()
}

func (w *Writer) writePrimitiveArray(v reflect.Value, code byte) error {
	if v.Kind() == reflect.Slice && v.CanInterface() {
		switch a := v.Interface().(type) {
		case []byte:
			_, err := w.bout.Write(a)
			return err
		case []bool:
			return w.bout.WriteBools(a)
		case []uint16:
			return w.bout.WriteChars16(a)
		case []int16:
			return w.bout.WriteInt16s(a)
		case []int32:
			return w.bout.WriteInt32s(a)
		case []int64:
			return w.bout.WriteInt64s(a)
		case []float32:
			return w.bout.WriteFloat32s(a)
		case []float64:
			return w.bout.WriteFloat64s(a)
		}
	}
	var buf [8]byte
	size := wire.PrimitiveSize(code)
	for i := 0; i < v.Len(); i++ {
		putPrimitive(buf[:], code, v.Index(i))
		if _, err := w.bout.Write(buf[:size]); err != nil {
			return err
		}
	}
	return w.bout.Err()
}

func (w *Writer) writeOrdinaryObject(v reflect.Value, desc *TypeDescriptor, unshared bool) error {
	writeMetrics.record(wire.TcObject)
	_ = w.bout.WriteByte(wire.TcObject)
	if err := w.writeClassDesc(desc, false); err != nil {
		return err
	}
	w.assign(identityKey(v), unshared)
	if desc.externalizable && !desc.proxy {
		return w.writeExternalData(v, desc)
	}
	return w.writeSerialData(v, desc)
}

func (w *Writer) writeExternalData(v reflect.Value, desc *TypeDescriptor) error {
	oldCtx, oldPut := w.ctx, w.put
	w.ctx, w.put = nil, nil
	defer func() {
		w.ctx, w.put = oldCtx, oldPut
	}()

	w.bout.SetBlockDataMode(true)
	if err := desc.hooks.writeExternal(v, w.out); err != nil {
		return merr.WrapErrHookFailed(desc.name, hookWriteExternal, err)
	}
	w.bout.SetBlockDataMode(false)
	return w.bout.WriteByte(wire.TcEndBlockData)
}

func (w *Writer) writeSerialData(v reflect.Value, desc *TypeDescriptor) error {
	slots, err := desc.ClassDataLayout()
	if err != nil {
		return err
	}
	for _, slot := range slots {
		sd := slot.Desc
		sv := slotValue(v.Elem(), desc, sd.local)
		if !sd.hasWriteObject() {
			if err := w.defaultWriteFields(sv, sd); err != nil {
				return err
			}
			continue
		}
		if err := w.invokeWriteObject(sv, sd); err != nil {
			return err
		}
	}
	return w.bout.Err()
}

func (w *Writer) invokeWriteObject(sv reflect.Value, desc *TypeDescriptor) error {
	oldCtx, oldPut := w.ctx, w.put
	w.ctx, w.put = &writeContext{obj: sv, desc: desc}, nil
	defer func() {
		w.ctx, w.put = oldCtx, oldPut
	}()

	w.bout.SetBlockDataMode(true)
	if err := desc.hooks.writeObject(sv.Addr(), w.out); err != nil {
		return merr.WrapErrHookFailed(desc.name, hookWriteObject, err)
	}
	w.bout.SetBlockDataMode(false)
	return w.bout.WriteByte(wire.TcEndBlockData)
}

// defaultWriteFields 写出 desc 自身的字段：先是打包的基本类型缓冲区，再依次是引用字段。
func (w *Writer) defaultWriteFields(sv reflect.Value, desc *TypeDescriptor) error {
	numPrim := len(desc.fields) - desc.numObjFields
	if desc.primDataSize > 0 {
		buf := make([]byte, desc.primDataSize)
		for _, f := range desc.fields[:numPrim] {
			putPrimitive(buf[f.offset:], f.typeCode, w.reg.introspector.Field(sv, f.accessor.index))
		}
		if _, err := w.bout.Write(buf); err != nil {
			return err
		}
	}
	for _, f := range desc.fields[numPrim:] {
		fv := w.reg.introspector.Field(sv, f.accessor.index)
		if err := w.writeObject0(fv.Interface(), f.unshared); err != nil {
			return errors.Wrapf(err, "field %s of %s", f.name, desc.name)
		}
	}
	return nil
}
