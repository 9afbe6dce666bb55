package objstream

import (
	"fmt"
	"io"
	"reflect"
	"strings"
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

// Reader 从字节流重建对象图。
//
// 无法解析的类型不会中断读取：依赖它的对象连同引用它们的对象一起得到类型解析错误，
// 流中其余的对象照常读出。公开方法之间互斥，回调内通过 ObjectInput 访问同一个 Reader。
type Reader struct {
	log.Binder

	mu      sync.Mutex
	reg     *Registry
	opts    *streamOptions
	bin     *blockdata.Input
	closer  io.Closer
	handles *handles.ReadTable
	vlist   validationList
	closed  atomic.Bool
	in      *ObjectInput

	// passHandle 最近一次读出的对象的句柄。
	passHandle int32
	depth      int
	// defaultDataEnd 为 true 时，当前回调的块数据视为已经结束。
	defaultDataEnd bool
	ctx            *readContext
}

// readContext 正在执行 readObject 回调的对象和描述符，obj 可能无效（对象未分配）。
type readContext struct {
	obj  reflect.Value
	desc *TypeDescriptor
	used bool
}

type readerHooks struct {
	r *Reader
}

func (h readerHooks) DefaultDataEnd() bool {
	return h.r.defaultDataEnd
}

func (h readerHooks) HandleReset() error {
	return h.r.handleReset()
}

// NewReader 创建 Reader 并校验流头。reg 为 nil 时使用默认 Registry。
func NewReader(r io.Reader, reg *Registry, opts ...Option) (*Reader, error) {
	if r == nil {
		return nil, merr.WrapErrParameterInvalidMsg("nil reader")
	}
	if reg == nil {
		reg = defaultRegistry
	}
	o := defaultStreamOptions()
	for _, opt := range opts {
		opt(o)
	}
	rd := &Reader{
		reg:        reg,
		opts:       o,
		bin:        blockdata.NewInput(r),
		handles:    handles.NewReadTable(o.cfg.InitialHandles),
		passHandle: handles.NullHandle,
	}
	if c, ok := r.(io.Closer); ok {
		rd.closer = c
	}
	rd.Bind(o.logger, "objstream", "reader")
	rd.in = &ObjectInput{r: rd}
	rd.bin.SetHooks(readerHooks{r: rd})

	magic, err := rd.bin.ReadChar()
	if err != nil {
		return nil, err
	}
	version, err := rd.bin.ReadChar()
	if err != nil {
		return nil, err
	}
	if magic != wire.StreamMagic || version != wire.StreamVersion {
		return nil, merr.WrapErrStreamCorruptedf("invalid stream header: %04X%04X", magic, version)
	}
	if _, err := rd.bin.SetBlockDataMode(true); err != nil {
		return nil, err
	}
	return rd, nil
}

// ReadObject 读取下一个对象。
//
// 对象或它引用的对象依赖无法解析的类型时，返回 ErrClassNotFound 或 ErrInvalidClass，
// 流仍然可以继续读取；流中出现基本类型数据时返回 *OptionalDataError。
func (r *Reader) ReadObject() (any, error) {
	return r.readTop(false)
}

// ReadUnshared 以非共享方式读取下一个对象：之后的回引不能指向它。
func (r *Reader) ReadUnshared() (any, error) {
	return r.readTop(true)
}

func (r *Reader) readTop(unshared bool) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	start := r.bin.Count()
	obj, err := r.readObjectOuter(unshared)
	readMetrics.bytes.Observe(float64(r.bin.Count() - start))
	if err != nil {
		readMetrics.failed(err)
	}
	return obj, err
}

// readObjectOuter 读对象的入口：传播依赖、返回解析错误，在最外层执行校验回调。
func (r *Reader) readObjectOuter(unshared bool) (any, error) {
	outerHandle := r.passHandle
	defer func() {
		r.passHandle = outerHandle
		if r.closed.Load() && r.depth == 0 {
			r.clear()
		}
	}()
	obj, err := r.readObject0(unshared)
	if err == nil {
		r.handles.MarkDependency(outerHandle, r.passHandle)
		err = r.handles.LookupException(r.passHandle)
	}
	if err == nil && r.depth == 0 {
		err = r.vlist.run()
	}
	if err != nil {
		if r.depth == 0 {
			r.vlist.clear()
		}
		return nil, err
	}
	return obj, nil
}

// Close 关闭 Reader 和底层。重复调用返回 nil。
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.depth == 0 {
		r.clear()
	}
	r.bin.Release()
	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			return merr.WrapErrIoFailed("close", err)
		}
	}
	return nil
}

// Read 实现 io.Reader，读取块数据。
func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.in.Read(p)
}

// ReadFull 读满 p。
func (r *Reader) ReadFull(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.in.ReadFull(p)
}

// SkipBytes 跳过最多 n 个字节的块数据，返回实际跳过的字节数。
func (r *Reader) SkipBytes(n int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.in.SkipBytes(n)
}

// ReadBool 读取一个 bool。
func (r *Reader) ReadBool() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.in.ReadBool()
}

// ReadByte 读取一个字节。
func (r *Reader) ReadByte() (byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.in.ReadByte()
}

// ReadInt16 读取一个 int16。
func (r *Reader) ReadInt16() (int16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.in.ReadInt16()
}

// ReadChar 读取一个 UTF-16 码元。
func (r *Reader) ReadChar() (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.in.ReadChar()
}

// ReadInt32 读取一个 int32。
func (r *Reader) ReadInt32() (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.in.ReadInt32()
}

// ReadInt64 读取一个 int64。
func (r *Reader) ReadInt64() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.in.ReadInt64()
}

// ReadFloat32 读取一个 float32。
func (r *Reader) ReadFloat32() (float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.in.ReadFloat32()
}

// ReadFloat64 读取一个 float64。
func (r *Reader) ReadFloat64() (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.in.ReadFloat64()
}

// ReadUTF 读取带长度前缀的字符串数据。
func (r *Reader) ReadUTF() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.in.ReadUTF()
}

func (r *Reader) ensureOpen() error {
	if r.closed.Load() {
		return merr.WrapErrStreamClosed()
	}
	return nil
}

func (r *Reader) clear() {
	r.handles.Clear()
	r.vlist.clear()
}

func (r *Reader) handleReset() error {
	if r.depth > 0 {
		return merr.WrapErrStreamCorruptedf("unexpected reset; recursion depth: %d", r.depth)
	}
	r.clear()
	readMetrics.record(wire.TcReset)
	readMetrics.resets.Inc()
	r.Logger().Debug("stream reset")
	return nil
}

func (r *Reader) readObject0(unshared bool) (obj any, err error) {
	oldMode := r.bin.BlockDataMode()
	if oldMode {
		remain, err := r.bin.CurrentBlockRemaining()
		if err != nil {
			return nil, err
		}
		if remain > 0 {
			return nil, &OptionalDataError{Length: remain}
		}
		if r.defaultDataEnd {
			return nil, &OptionalDataError{EOF: true}
		}
		if _, err := r.bin.SetBlockDataMode(false); err != nil {
			return nil, err
		}
	}

	tc, err := r.bin.PeekByte()
	for err == nil && tc == wire.TcReset {
		_, _ = r.bin.ReadByte()
		if err = r.handleReset(); err == nil {
			tc, err = r.bin.PeekByte()
		}
	}
	if err != nil {
		_, _ = r.bin.SetBlockDataMode(oldMode)
		return nil, err
	}

	r.depth++
	defer func() {
		r.depth--
		if _, serr := r.bin.SetBlockDataMode(oldMode); serr != nil && err == nil {
			obj, err = nil, serr
		}
	}()
	if r.depth > r.opts.cfg.MaxDepth {
		return nil, merr.WrapErrDepthExceeded(r.depth, r.opts.cfg.MaxDepth)
	}
	readMetrics.record(tc)

	switch tc {
	case wire.TcNull:
		return r.readNull()
	case wire.TcReference:
		return r.readHandle(unshared)
	case wire.TcClass:
		return r.readClass(unshared)
	case wire.TcClassDesc, wire.TcProxyClassDesc:
		desc, err := r.readClassDesc(unshared)
		if err != nil || desc == nil {
			return nil, err
		}
		return desc, nil
	case wire.TcString, wire.TcLongString:
		return r.checkResolve(r.readString(unshared))
	case wire.TcArray:
		return r.checkResolve(r.readArray(unshared))
	case wire.TcEnum:
		return r.checkResolve(r.readEnum(unshared))
	case wire.TcObject:
		return r.checkResolve(r.readOrdinaryObject(unshared))
	case wire.TcException:
		return nil, r.readFatalException()
	case wire.TcBlockData, wire.TcBlockDataLong:
		if !oldMode {
			return nil, merr.WrapErrStreamCorrupted("unexpected block data")
		}
		_, _ = r.bin.SetBlockDataMode(true)
		if _, err := r.bin.Peek(); err != nil {
			return nil, err
		}
		remain, _ := r.bin.CurrentBlockRemaining()
		return nil, &OptionalDataError{Length: remain}
	case wire.TcEndBlockData:
		if !oldMode {
			return nil, merr.WrapErrStreamCorrupted("unexpected end of block data")
		}
		return nil, &OptionalDataError{EOF: true}
	}
	return nil, merr.WrapErrStreamCorruptedf("invalid type code: %02X", tc)
}

// checkResolve 在启用流级解析时替换刚读出的对象。
func (r *Reader) checkResolve(obj any, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if !r.opts.cfg.EnableResolve || r.opts.objectResolver == nil || r.handles.LookupException(r.passHandle) != nil {
		return obj, nil
	}
	rep, err := r.opts.objectResolver(obj)
	if err != nil {
		return nil, merr.WrapErrHookFailed("stream", "resolveObject", err)
	}
	if !sameObject(rep, obj) {
		r.handles.SetObject(r.passHandle, rep)
	}
	return rep, nil
}

func (r *Reader) readNull() (any, error) {
	if _, err := r.bin.ReadByte(); err != nil {
		return nil, err
	}
	r.passHandle = handles.NullHandle
	return nil, nil
}

func (r *Reader) readHandle(unshared bool) (any, error) {
	if _, err := r.bin.ReadByte(); err != nil {
		return nil, err
	}
	raw, err := r.bin.ReadInt32()
	if err != nil {
		return nil, err
	}
	r.passHandle = raw - wire.BaseWireHandle
	if !r.handles.Valid(r.passHandle) {
		return nil, merr.WrapErrStreamCorruptedf("invalid handle value: %08X", raw)
	}
	if unshared {
		return nil, merr.WrapErrInvalidObject("cannot read back reference as unshared")
	}
	if r.handles.IsUnshared(r.passHandle) {
		return nil, merr.WrapErrInvalidObject("cannot read back reference to unshared object")
	}
	return r.handles.LookupObject(r.passHandle), nil
}

// markFailed 记录句柄的解析错误，依赖它的句柄在 Finish 时一并失败。
func (r *Reader) markFailed(handle int32, err error) {
	r.Logger().Debug("handle failed", log.FieldHandle(handle), log.FieldDepth(r.depth), zap.Error(err))
	r.handles.MarkException(handle, err)
}

// readClass 读取类型记录，返回绑定的本地类型；类型无法解析时句柄记录解析错误。
func (r *Reader) readClass(unshared bool) (any, error) {
	if _, err := r.bin.ReadByte(); err != nil {
		return nil, err
	}
	desc, err := r.readClassDesc(false)
	if err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, merr.WrapErrStreamCorrupted("null class descriptor")
	}
	var cl any
	if desc.typ != nil {
		cl = desc.typ
	}
	r.passHandle = r.handles.Assign(cl)
	if unshared {
		r.handles.MarkUnshared(r.passHandle)
	}
	if desc.resolveErr != nil {
		r.markFailed(r.passHandle, desc.resolveErr)
	}
	r.handles.Finish(r.passHandle)
	return cl, nil
}

func (r *Reader) readClassDesc(unshared bool) (*TypeDescriptor, error) {
	tc, err := r.bin.PeekByte()
	if err != nil {
		return nil, err
	}
	switch tc {
	case wire.TcNull:
		_, err := r.readNull()
		return nil, err
	case wire.TcReference:
		obj, err := r.readHandle(unshared)
		if err != nil {
			return nil, err
		}
		desc, ok := obj.(*TypeDescriptor)
		if !ok {
			return nil, merr.WrapErrStreamCorruptedf("handle %d is not a class descriptor", r.passHandle)
		}
		return desc, nil
	case wire.TcProxyClassDesc:
		return r.readProxyDesc(unshared)
	case wire.TcClassDesc:
		return r.readNonProxyDesc(unshared)
	}
	return nil, merr.WrapErrStreamCorruptedf("invalid type code: %02X", tc)
}

func (r *Reader) readProxyDesc(unshared bool) (*TypeDescriptor, error) {
	if _, err := r.bin.ReadByte(); err != nil {
		return nil, err
	}
	desc := &TypeDescriptor{proxy: true, serializable: true}
	descHandle := r.handles.Assign(desc)
	if unshared {
		r.handles.MarkUnshared(descHandle)
	}
	r.passHandle = handles.NullHandle

	n, err := r.bin.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, merr.WrapErrStreamCorruptedf("negative interface count: %d", n)
	}
	if n > wire.MaxProxyInterfaces {
		return nil, merr.WrapErrInvalidObject(fmt.Sprintf("interface limit exceeded: %d", n))
	}
	ifaces := make([]string, n)
	for i := range ifaces {
		if ifaces[i], err = r.bin.ReadUTF(); err != nil {
			return nil, err
		}
	}
	desc.name = proxyName(ifaces)
	desc.proxyIfaces = ifaces

	if _, err := r.bin.SetBlockDataMode(true); err != nil {
		return nil, err
	}
	t, resolveErr := r.reg.ResolveProxy(ifaces)
	if err := r.skipCustomData(); err != nil {
		return nil, err
	}
	r.depth++
	super, err := r.readClassDesc(false)
	r.depth--
	if err != nil {
		return nil, err
	}
	desc.super = super
	r.reg.bindProxy(desc, t, resolveErr)

	r.handles.Finish(descHandle)
	r.passHandle = descHandle
	return desc, nil
}

func (r *Reader) readNonProxyDesc(unshared bool) (*TypeDescriptor, error) {
	if _, err := r.bin.ReadByte(); err != nil {
		return nil, err
	}
	desc := &TypeDescriptor{}
	descHandle := r.handles.Assign(desc)
	if unshared {
		r.handles.MarkUnshared(descHandle)
	}
	r.passHandle = handles.NullHandle

	if err := r.readDescriptorBody(desc); err != nil {
		return nil, err
	}

	if _, err := r.bin.SetBlockDataMode(true); err != nil {
		return nil, err
	}
	t, resolveErr := r.resolveClass(desc.name)
	if err := r.skipCustomData(); err != nil {
		return nil, err
	}
	r.depth++
	super, err := r.readClassDesc(false)
	r.depth--
	if err != nil {
		return nil, err
	}
	desc.super = super
	r.reg.bindNonProxy(desc, t, resolveErr)

	r.handles.Finish(descHandle)
	r.passHandle = descHandle
	return desc, nil
}

// readDescriptorBody 读取描述符的名称、版本号、标志位和字段表。
func (r *Reader) readDescriptorBody(desc *TypeDescriptor) error {
	var err error
	if desc.name, err = r.bin.ReadUTF(); err != nil {
		return err
	}
	if desc.suid, err = r.bin.ReadInt64(); err != nil {
		return err
	}
	flags, err := r.bin.ReadByte()
	if err != nil {
		return err
	}
	desc.writeObjectData = flags&wire.ScWriteMethod != 0
	desc.blockExternal = flags&wire.ScBlockData != 0
	desc.externalizable = flags&wire.ScExternalizable != 0
	sflag := flags&wire.ScSerializable != 0
	if desc.externalizable && sflag {
		return merr.WrapErrStreamCorrupted(fmt.Sprintf("%s: serializable and externalizable flags conflict", desc.name))
	}
	desc.serializable = desc.externalizable || sflag
	desc.enum = flags&wire.ScEnum != 0
	desc.array = strings.HasPrefix(desc.name, "[")
	if desc.enum && desc.suid != 0 {
		return merr.WrapErrStreamCorrupted(fmt.Sprintf("%s: enum descriptor has non-zero version: %d", desc.name, desc.suid))
	}

	n, err := r.bin.ReadInt16()
	if err != nil {
		return err
	}
	if n < 0 {
		return merr.WrapErrStreamCorrupted(fmt.Sprintf("%s: negative field count: %d", desc.name, n))
	}
	if desc.enum && n != 0 {
		return merr.WrapErrStreamCorrupted(fmt.Sprintf("%s: enum descriptor has non-zero field count: %d", desc.name, n))
	}
	desc.fields = make([]*FieldDescriptor, n)
	for i := range desc.fields {
		f, err := r.readFieldDescriptor(desc.name)
		if err != nil {
			return err
		}
		desc.fields[i] = f
	}
	var ok bool
	if desc.primDataSize, desc.numObjFields, ok = computeFieldOffsets(desc.fields); !ok {
		return merr.WrapErrStreamCorrupted(fmt.Sprintf("%s: illegal field order", desc.name))
	}
	return nil
}

func (r *Reader) readFieldDescriptor(typeName string) (*FieldDescriptor, error) {
	tcode, err := r.bin.ReadByte()
	if err != nil {
		return nil, err
	}
	name, err := r.bin.ReadUTF()
	if err != nil {
		return nil, err
	}
	sig := string(tcode)
	if tcode == wire.TypeObject || tcode == wire.TypeArray {
		if sig, err = r.readTypeString(); err != nil {
			return nil, err
		}
	}
	if sig == "" {
		return nil, merr.WrapErrStreamCorrupted(fmt.Sprintf("%s: invalid descriptor for field %s", typeName, name))
	}
	code := sig[0]
	switch {
	case wire.IsPrimitiveCode(code) && len(sig) == 1:
	case code == wire.TypeArray && len(sig) > 1:
	case code == wire.TypeObject && len(sig) > 2 && strings.HasSuffix(sig, ";"):
	default:
		return nil, merr.WrapErrStreamCorrupted(fmt.Sprintf("%s: invalid descriptor for field %s", typeName, name))
	}
	return &FieldDescriptor{name: name, typeCode: code, signature: sig}, nil
}

func (r *Reader) readTypeString() (string, error) {
	oldHandle := r.passHandle
	defer func() { r.passHandle = oldHandle }()

	tc, err := r.bin.PeekByte()
	if err != nil {
		return "", err
	}
	switch tc {
	case wire.TcNull:
		_, err := r.readNull()
		return "", err
	case wire.TcReference:
		obj, err := r.readHandle(false)
		if err != nil {
			return "", err
		}
		s, ok := obj.(string)
		if !ok {
			return "", merr.WrapErrStreamCorruptedf("handle %d is not a type string", r.passHandle)
		}
		return s, nil
	case wire.TcString, wire.TcLongString:
		obj, err := r.readString(false)
		if err != nil {
			return "", err
		}
		return obj.(string), nil
	}
	return "", merr.WrapErrStreamCorruptedf("invalid type code: %02X", tc)
}

// resolveClass 由流中的类型名查找本地类型，WithClassResolver 优先。
func (r *Reader) resolveClass(name string) (reflect.Type, error) {
	if r.opts.classResolver != nil {
		t, err := r.opts.classResolver(name)
		if err != nil {
			if !merr.IsResolutionErr(err) {
				err = merr.WrapErrClassNotFound(name, err.Error())
			}
			return nil, err
		}
		if t != nil {
			return t, nil
		}
	}
	return r.reg.ResolveName(name)
}

// skipCustomData 跳过描述符注解或回调追加的数据，直到 TC_ENDBLOCKDATA。
func (r *Reader) skipCustomData() error {
	oldHandle := r.passHandle
	for {
		if r.bin.BlockDataMode() {
			if err := r.bin.SkipBlockData(); err != nil {
				return err
			}
			if _, err := r.bin.SetBlockDataMode(false); err != nil {
				return err
			}
		}
		tc, err := r.bin.PeekByte()
		if err != nil {
			return err
		}
		switch tc {
		case wire.TcBlockData, wire.TcBlockDataLong:
			if _, err := r.bin.SetBlockDataMode(true); err != nil {
				return err
			}
		case wire.TcEndBlockData:
			_, err := r.bin.ReadByte()
			r.passHandle = oldHandle
			return err
		default:
			if _, err := r.readObject0(false); err != nil && !merr.IsResolutionErr(err) {
				return err
			}
		}
	}
}

func (r *Reader) readString(unshared bool) (any, error) {
	tc, err := r.bin.ReadByte()
	if err != nil {
		return nil, err
	}
	var s string
	if tc == wire.TcLongString {
		s, err = r.bin.ReadLongUTF()
	} else {
		s, err = r.bin.ReadUTF()
	}
	if err != nil {
		return nil, err
	}
	r.passHandle = r.handles.Assign(s)
	if unshared {
		r.handles.MarkUnshared(r.passHandle)
	}
	r.handles.Finish(r.passHandle)
	return s, nil
}

func (r *Reader) readEnum(unshared bool) (any, error) {
	if _, err := r.bin.ReadByte(); err != nil {
		return nil, err
	}
	desc, err := r.readClassDesc(false)
	if err != nil {
		return nil, err
	}
	if desc == nil || !desc.enum {
		name := "<nil>"
		if desc != nil {
			name = desc.name
		}
		return nil, merr.WrapErrStreamCorrupted("non-enum class: " + name)
	}
	enumHandle := r.handles.Assign(nil)
	if unshared {
		r.handles.MarkUnshared(enumHandle)
	}
	if desc.resolveErr != nil {
		r.markFailed(enumHandle, desc.resolveErr)
	}

	obj, err := r.readString(false)
	if err != nil {
		return nil, err
	}
	name := obj.(string)
	var result any
	if desc.entry != nil && desc.entry.enum != nil {
		v, ok := desc.entry.enum.byName[name]
		if !ok {
			return nil, merr.WrapErrInvalidObject(fmt.Sprintf("enum constant %s does not exist in %s", name, desc.name))
		}
		result = v.Interface()
		if !unshared {
			r.handles.SetObject(enumHandle, result)
		}
	}
	r.handles.Finish(enumHandle)
	r.passHandle = enumHandle
	return result, nil
}

// maxArrayPrealloc 数组一次预分配的最大元素数，声明更长的数组随读取扩容。
const maxArrayPrealloc = 1 << 16

func (r *Reader) readArray(unshared bool) (any, error) {
	if _, err := r.bin.ReadByte(); err != nil {
		return nil, err
	}
	desc, err := r.readClassDesc(false)
	if err != nil {
		return nil, err
	}
	if desc == nil || len(desc.name) < 2 || desc.name[0] != wire.TypeArray {
		return nil, merr.WrapErrStreamCorrupted("invalid array descriptor")
	}
	n, err := r.bin.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, merr.WrapErrStreamCorruptedf("array length is negative: %d", n)
	}

	var arr reflect.Value
	if t := desc.typ; t != nil && desc.resolveErr == nil {
		if t.Kind() == reflect.Array {
			t = reflect.SliceOf(t.Elem())
		}
		if t.Kind() != reflect.Slice {
			return nil, merr.WrapErrInvalidClass(desc.name, fmt.Sprintf("local type %s is not a sequence", t))
		}
		size := min(int(n), maxArrayPrealloc)
		arr = reflect.MakeSlice(t, size, size)
	}
	var stored any
	if arr.IsValid() {
		stored = arr.Interface()
	}
	arrayHandle := r.handles.Assign(stored)
	if unshared {
		r.handles.MarkUnshared(arrayHandle)
	}
	if desc.resolveErr != nil {
		r.markFailed(arrayHandle, desc.resolveErr)
	}

	if code := desc.name[1]; wire.IsPrimitiveCode(code) {
		if arr, err = r.readPrimitiveArray(arr, code, int(n)); err != nil {
			return nil, err
		}
	} else {
		// 直接引用数组自身的元素，扩容后需要指向最终的切片
		var selfRefs []int
		for i := 0; i < int(n); i++ {
			if arr.IsValid() && i == arr.Len() {
				arr = growArray(arr, int(n))
				r.handles.SetObject(arrayHandle, arr.Interface())
			}
			obj, err := r.readObject0(false)
			if err != nil {
				return nil, errors.Wrapf(err, "element %d of %s", i, desc.name)
			}
			if !arr.IsValid() {
				continue
			}
			if r.passHandle == arrayHandle {
				selfRefs = append(selfRefs, i)
			}
			r.handles.MarkDependency(arrayHandle, r.passHandle)
			if err := assignValue(arr.Index(i), obj); err != nil {
				return nil, err
			}
		}
		if len(selfRefs) > 0 && int(n) > maxArrayPrealloc {
			for _, i := range selfRefs {
				if err := assignValue(arr.Index(i), arr.Interface()); err != nil {
					return nil, err
				}
			}
		}
	}
	if arr.IsValid() && int(n) > maxArrayPrealloc {
		stored = arr.Interface()
		r.handles.SetObject(arrayHandle, stored)
	}
	r.handles.Finish(arrayHandle)
	r.passHandle = arrayHandle
	return stored, nil
}

// readPrimitiveArray 读取 n 个基本类型元素并返回填充后的数组，arr 无效时只跳过数据。
// arr 长度不足 n 时边读边扩容，已分配的空间不超过已读数据的两倍。
func (r *Reader) readPrimitiveArray(arr reflect.Value, code byte, n int) (reflect.Value, error) {
	size := wire.PrimitiveSize(code)
	if !arr.IsValid() {
		total := int64(n) * int64(size)
		skipped, err := r.bin.Skip(total)
		if err != nil {
			return arr, err
		}
		if skipped < total {
			return arr, merr.WrapErrIoUnexpectEOF("skip", io.ErrUnexpectedEOF)
		}
		return arr, nil
	}
	var buf [8]byte
	for done := 0; done < n; done = arr.Len() {
		if done > 0 {
			arr = growArray(arr, n)
		}
		chunk := arr.Slice(done, arr.Len())
		if b, ok := chunk.Interface().([]byte); ok {
			if err := r.bin.ReadFull(b); err != nil {
				return arr, err
			}
			continue
		}
		for i := 0; i < chunk.Len(); i++ {
			if err := r.bin.ReadFull(buf[:size]); err != nil {
				return arr, err
			}
			getPrimitive(buf[:], code, chunk.Index(i))
		}
	}
	return arr, nil
}

// growArray 将 arr 扩容到 min(2*len, n)，保留已读的元素。
func growArray(arr reflect.Value, n int) reflect.Value {
	size := min(max(arr.Len()*2, 1), n)
	grown := reflect.MakeSlice(arr.Type(), size, size)
	reflect.Copy(grown, arr)
	return grown
}

func (r *Reader) readOrdinaryObject(unshared bool) (any, error) {
	if _, err := r.bin.ReadByte(); err != nil {
		return nil, err
	}
	desc, err := r.readClassDesc(false)
	if err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, merr.WrapErrStreamCorrupted("null class descriptor")
	}
	if desc.deserializeErr != nil {
		return nil, desc.deserializeErr
	}

	var obj reflect.Value
	if desc.instantiable() {
		obj = r.reg.introspector.Construct(desc.typ)
	}
	var stored any
	if obj.IsValid() {
		stored = obj.Interface()
	}
	h := r.handles.Assign(stored)
	r.passHandle = h
	if unshared {
		r.handles.MarkUnshared(h)
	}
	if desc.resolveErr != nil {
		r.markFailed(h, desc.resolveErr)
	}

	if desc.externalizable {
		err = r.readExternalData(obj, desc, h)
	} else {
		err = r.readSerialData(obj, desc, h)
	}
	if err != nil {
		return nil, err
	}
	r.handles.Finish(h)
	r.passHandle = h

	result := stored
	if obj.IsValid() && r.handles.LookupException(h) == nil && desc.hasReadResolve() {
		rep, err := desc.hooks.readResolve(obj)
		if err != nil {
			return nil, merr.WrapErrHookFailed(desc.name, hookReadResolve, err)
		}
		if !sameObject(rep, stored) {
			r.handles.SetObject(h, rep)
			result = rep
		}
	}
	return result, nil
}

func (r *Reader) readExternalData(obj reflect.Value, desc *TypeDescriptor, h int32) error {
	oldCtx := r.ctx
	r.ctx = nil
	defer func() { r.ctx = oldCtx }()

	blocked := desc.blockExternal
	if !blocked && !obj.IsValid() {
		return merr.WrapErrStreamCorrupted(desc.name + ": external data without block framing cannot be skipped")
	}
	if blocked {
		if _, err := r.bin.SetBlockDataMode(true); err != nil {
			return err
		}
	}
	if obj.IsValid() && desc.hooks != nil && desc.hooks.readExternal != nil {
		if err := desc.hooks.readExternal(obj, r.in); err != nil {
			if !merr.IsResolutionErr(err) {
				return merr.WrapErrHookFailed(desc.name, hookReadExternal, err)
			}
			r.markFailed(h, err)
		}
	}
	if blocked {
		return r.skipCustomData()
	}
	return nil
}

func (r *Reader) readSerialData(obj reflect.Value, desc *TypeDescriptor, h int32) error {
	slots, err := desc.ClassDataLayout()
	if err != nil {
		return err
	}
	if lerr := desc.layoutResolveErr(); lerr != nil {
		r.markFailed(h, lerr)
	}
	for _, slot := range slots {
		sd := slot.Desc
		var sv reflect.Value
		if obj.IsValid() && sd.local != nil {
			sv = slotValue(obj.Elem(), desc.local, sd.local)
		}
		if !slot.HasData {
			if sv.IsValid() && sd.hasReadObjectNoData() && r.handles.LookupException(h) == nil {
				if err := sd.hooks.readObjectNoData(sv.Addr()); err != nil {
					return merr.WrapErrHookFailed(sd.name, hookReadObjectNoData, err)
				}
			}
			continue
		}

		switch {
		case !sv.IsValid() || r.handles.LookupException(h) != nil:
			if err := r.defaultReadFields(reflect.Value{}, sd); err != nil {
				return err
			}
		case sd.hasReadObject():
			if err := r.invokeReadObject(sv, sd, h); err != nil {
				return err
			}
		default:
			if err := r.defaultReadFields(sv, sd); err != nil {
				return err
			}
		}

		if sd.writeObjectData {
			if err := r.skipCustomData(); err != nil {
				return err
			}
		} else if _, err := r.bin.SetBlockDataMode(false); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) invokeReadObject(sv reflect.Value, desc *TypeDescriptor, h int32) error {
	oldCtx := r.ctx
	r.ctx = &readContext{obj: sv, desc: desc}
	defer func() {
		r.ctx = oldCtx
		r.defaultDataEnd = false
	}()

	if _, err := r.bin.SetBlockDataMode(true); err != nil {
		return err
	}
	if err := desc.hooks.readObject(sv.Addr(), r.in); err != nil {
		if !merr.IsResolutionErr(err) {
			return merr.WrapErrHookFailed(desc.name, hookReadObject, err)
		}
		r.markFailed(h, err)
	}
	return nil
}

// defaultReadFields 读取 desc 自身的字段，sv 无效时只读取不赋值。
// 只有本地存在的引用字段才把被引用对象的解析错误传播给当前对象。
func (r *Reader) defaultReadFields(sv reflect.Value, desc *TypeDescriptor) error {
	h := r.passHandle
	numPrim := len(desc.fields) - desc.numObjFields
	if desc.primDataSize > 0 {
		buf := make([]byte, desc.primDataSize)
		if err := r.bin.ReadFull(buf); err != nil {
			return err
		}
		if sv.IsValid() {
			for _, f := range desc.fields[:numPrim] {
				if f.accessor != nil {
					getPrimitive(buf[f.offset:], f.typeCode, r.reg.introspector.Field(sv, f.accessor.index))
				}
			}
		}
	}
	for _, f := range desc.fields[numPrim:] {
		obj, err := r.readObject0(f.unshared)
		if err != nil {
			return errors.Wrapf(err, "field %s of %s", f.name, desc.name)
		}
		if f.accessor == nil {
			continue
		}
		r.handles.MarkDependency(h, r.passHandle)
		if sv.IsValid() {
			if err := assignValue(r.reg.introspector.Field(sv, f.accessor.index), obj); err != nil {
				return errors.Wrapf(err, "field %s of %s", f.name, desc.name)
			}
		}
	}
	r.passHandle = h
	return nil
}

// readFatalException 读取写端的中止记录。
func (r *Reader) readFatalException() error {
	if _, err := r.bin.ReadByte(); err != nil {
		return err
	}
	r.clear()
	obj, err := r.readObject0(false)
	r.clear()
	if err != nil {
		return err
	}
	cause := fmt.Sprint(obj)
	if se, ok := obj.(*StreamError); ok {
		cause = se.Message
	}
	r.Logger().Warn("stream contains abort record", zap.String("cause", cause))
	return merr.WrapErrWriteAborted(cause)
}
