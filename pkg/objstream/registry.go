package objstream

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/lk2023060901/objstream-go/internal/stream/wire"
	"github.com/lk2023060901/objstream-go/pkg/log"
	"github.com/lk2023060901/objstream-go/pkg/metrics"
	"github.com/lk2023060901/objstream-go/pkg/util/conc"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
	"github.com/lk2023060901/objstream-go/pkg/util/typeutil"
)

const anyName = "any"

// Registry 类型登记表和描述符缓存。
//
// 只有登记过的结构体和枚举类型可以作为对象写出；描述符在第一次使用时创建并缓存，
// 之后不再修改。类型应在读写开始前登记完毕。Registry 可以被多个读写流并发使用。
type Registry struct {
	introspector TypeIntrospector
	logger       *log.MLogger

	mu      sync.RWMutex
	byType  map[reflect.Type]*typeEntry
	byName  map[string]*typeEntry
	proxies map[string]*typeEntry

	descs      sync.Map // reflect.Type -> *descEntry
	primDescs  sync.Map // reflect.Type -> *TypeDescriptor
	reflectors sync.Map // reflectorKey -> *reflectorEntry
}

type descEntry struct {
	once sync.Once
	desc *TypeDescriptor
	err  error
}

// RegistryOption 创建 Registry 时的选项。
type RegistryOption func(r *Registry)

// WithIntrospector 替换默认的 ReflectIntrospector。
func WithIntrospector(introspector TypeIntrospector) RegistryOption {
	return func(r *Registry) {
		r.introspector = introspector
	}
}

// WithRegistryLogger 为 Registry 指定 Logger。
func WithRegistryLogger(logger *log.MLogger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry 创建一个只包含内置类型的 Registry。
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		introspector: ReflectIntrospector{},
		byType:       make(map[reflect.Type]*typeEntry),
		byName:       make(map[string]*typeEntry),
		proxies:      make(map[string]*typeEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.With(log.FieldModule("objstream")).Component("registry")
	}
	if err := r.Register(&StreamError{}, WithName(streamErrorName)); err != nil {
		panic(err)
	}
	return r
}

var defaultRegistry = NewRegistry()

// DefaultRegistry 返回进程级的默认 Registry。
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register 在默认 Registry 中登记结构体类型。
func Register(sample any, opts ...TypeOption) error {
	return defaultRegistry.Register(sample, opts...)
}

// Register 登记结构体类型，sample 为该类型的值或指针。
//
// 结构体中唯一的、类型已登记的匿名嵌入结构体字段视为它的可序列化祖先，
// 其余字段按 ReflectIntrospector 的规则参与序列化。
func (r *Registry) Register(sample any, opts ...TypeOption) error {
	t := reflect.TypeOf(sample)
	if t == nil {
		return merr.WrapErrParameterInvalidMsg("register: nil sample")
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return merr.WrapErrParameterInvalidMsg("register %s: only struct types can be registered, use RegisterEnum for enumerations", t)
	}
	e := &typeEntry{typ: t, name: defaultTypeName(t)}
	for _, opt := range opts {
		opt(e)
	}
	if e.mismatch != nil {
		return e.mismatch
	}
	if e.isExternal() && (e.hooks.writeObject != nil || e.hooks.readObject != nil || e.hooks.readObjectNoData != nil) {
		return merr.WrapErrParameterInvalidMsg("register %s: external types cannot declare field hooks", e.name)
	}
	if e.isProxy() && e.isExternal() {
		return merr.WrapErrParameterInvalidMsg("register %s: proxy types cannot be external", e.name)
	}
	if e.isProxy() && len(e.proxyIfaces) == 0 {
		return merr.WrapErrParameterInvalidMsg("register %s: proxy types need at least one interface", e.name)
	}
	if len(e.proxyIfaces) > wire.MaxProxyInterfaces {
		return merr.WrapErrInvalidObject(fmt.Sprintf("register %s: interface limit exceeded: %d", e.name, len(e.proxyIfaces)))
	}
	return r.add(e)
}

// RegisterEnum 登记枚举类型，constants 为常量名到常量值的映射。
// 枚举值在流中只记录常量名。r 为 nil 时登记到默认 Registry。
func RegisterEnum[T comparable](r *Registry, constants map[string]T, opts ...TypeOption) error {
	if r == nil {
		r = defaultRegistry
	}
	t := reflect.TypeFor[T]()
	if isBasicType(t) || (primitiveCode(t.Kind()) == 0 && t.Kind() != reflect.String) {
		return merr.WrapErrParameterInvalidMsg("register enum %s: enumerations must be named integer or string types", t)
	}
	if len(constants) == 0 {
		return merr.WrapErrParameterInvalidMsg("register enum %s: no constants", t)
	}
	info := &enumInfo{
		byName:  make(map[string]reflect.Value, len(constants)),
		byValue: make(map[any]string, len(constants)),
	}
	for name, v := range constants {
		if prev, ok := info.byValue[v]; ok {
			return merr.WrapErrParameterInvalidMsg("register enum %s: constants %s and %s share a value", t, prev, name)
		}
		info.byName[name] = reflect.ValueOf(v)
		info.byValue[v] = name
	}
	e := &typeEntry{typ: t, name: defaultTypeName(t), enum: info}
	for _, opt := range opts {
		opt(e)
	}
	if len(e.hooks.names()) > 0 || e.isProxy() {
		return merr.WrapErrParameterInvalidMsg("register enum %s: enumerations cannot declare hooks", e.name)
	}
	return r.add(e)
}

func defaultTypeName(t reflect.Type) string {
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

func reservedName(name string) bool {
	if _, ok := basicTypes[name]; ok {
		return true
	}
	return name == "" || name == anyName || strings.HasPrefix(name, boxPrefix) || strings.HasPrefix(name, "[")
}

func (r *Registry) add(e *typeEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byType[e.typ]; ok {
		return merr.WrapErrParameterInvalidMsg("type %s already registered", e.typ)
	}
	names := append([]string{e.name}, e.aliases...)
	for _, name := range names {
		if reservedName(name) {
			return merr.WrapErrParameterInvalidMsg("register %s: name %q is reserved", e.typ, name)
		}
		if prev, ok := r.byName[name]; ok {
			return merr.WrapErrParameterInvalidMsg("register %s: name %q already used by %s", e.typ, name, prev.typ)
		}
	}
	var proxyKey string
	if e.isProxy() {
		proxyKey = strings.Join(e.proxyIfaces, ",")
		if prev, ok := r.proxies[proxyKey]; ok {
			return merr.WrapErrParameterInvalidMsg("register %s: interfaces %s already used by %s", e.typ, proxyKey, prev.typ)
		}
		r.proxies[proxyKey] = e
	}
	r.byType[e.typ] = e
	for _, name := range names {
		r.byName[name] = e
	}
	// 登记前的查找结果可能已经缓存为错误
	r.descs.Delete(e.typ)
	r.logger.Debug("type registered", log.FieldTypeName(e.name), zap.Stringer("type", e.typ))
	return nil
}

func (r *Registry) entry(t reflect.Type) *typeEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byType[t]
}

func (r *Registry) isRegisteredStruct(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return false
	}
	return r.entry(t) != nil
}

func (r *Registry) isEnum(t reflect.Type) bool {
	e := r.entry(t)
	return e != nil && e.enum != nil
}

// Lookup 返回类型 t 的本地描述符。
//
// *T 与 T 共用同一个描述符；预声明的基本类型返回装箱类型的描述符；
// 切片和数组返回数组描述符。
func (r *Registry) Lookup(t reflect.Type) (*TypeDescriptor, error) {
	if t == nil {
		return nil, merr.WrapErrParameterInvalidMsg("lookup: nil type")
	}
	if t.Kind() == reflect.Pointer {
		if elem := t.Elem(); r.isRegisteredStruct(elem) || isBasicType(elem) {
			t = elem
		}
	}
	v, loaded := r.descs.Load(t)
	if !loaded {
		v, loaded = r.descs.LoadOrStore(t, &descEntry{})
		if !loaded {
			metrics.DescriptorCacheMisses.Inc()
		}
	}
	de := v.(*descEntry)
	de.once.Do(func() {
		de.desc, de.err = r.build(t)
	})
	return de.desc, de.err
}

// LookupName 按流中的类型名查找本地描述符。
func (r *Registry) LookupName(name string) (*TypeDescriptor, error) {
	t, err := r.ResolveName(name)
	if err != nil {
		return nil, err
	}
	return r.localDesc(name, t)
}

// Preload 并发创建并缓存一组类型的描述符。
func (r *Registry) Preload(types ...reflect.Type) error {
	if len(types) == 0 {
		return nil
	}
	pool := conc.NewPool[*TypeDescriptor](min(runtime.GOMAXPROCS(0), len(types)), conc.WithName("registry"), conc.WithPreAlloc(true))
	defer pool.Release()

	futures := lo.Map(types, func(t reflect.Type, _ int) *conc.Future[*TypeDescriptor] {
		return pool.Submit(func() (*TypeDescriptor, error) {
			return r.Lookup(t)
		})
	})
	errs := lo.Map(futures, func(f *conc.Future[*TypeDescriptor], _ int) error {
		return f.Err()
	})
	return merr.Combine(errs...)
}

// ResolveName 将流中的类型名解析为本地类型。
func (r *Registry) ResolveName(name string) (reflect.Type, error) {
	r.mu.RLock()
	e := r.byName[name]
	r.mu.RUnlock()
	if e != nil {
		return e.typ, nil
	}
	if t, ok := basicTypes[name]; ok {
		return t, nil
	}
	if rest, ok := strings.CutPrefix(name, boxPrefix); ok {
		if t, ok := basicTypes[rest]; ok && t != stringType {
			return t, nil
		}
	}
	if name == anyName {
		return anyType, nil
	}
	if strings.HasPrefix(name, "[") {
		return r.typeForSignature(name)
	}
	return nil, merr.WrapErrClassNotFound(name)
}

// ResolveProxy 按接口名列表解析本地代理类型。
func (r *Registry) ResolveProxy(ifaces []string) (reflect.Type, error) {
	key := strings.Join(ifaces, ",")
	r.mu.RLock()
	e := r.proxies[key]
	r.mu.RUnlock()
	if e == nil {
		return nil, merr.WrapErrClassNotFound(proxyName(ifaces))
	}
	return e.typ, nil
}

func proxyName(ifaces []string) string {
	return "proxy(" + strings.Join(ifaces, ",") + ")"
}

// localDesc 返回与流中类型名对应的本地描述符。
// 基本类型名对应基本类型描述符，装箱类型名对应装箱描述符。
func (r *Registry) localDesc(name string, t reflect.Type) (*TypeDescriptor, error) {
	if !strings.HasPrefix(name, boxPrefix) && isBasicType(t) && t != stringType {
		return r.primitiveDesc(t), nil
	}
	return r.Lookup(t)
}

// classDescFor 返回类型记录（TC_CLASS）使用的描述符。
func (r *Registry) classDescFor(t reflect.Type) (*TypeDescriptor, error) {
	if isBasicType(t) && t != stringType {
		return r.primitiveDesc(t), nil
	}
	return r.Lookup(t)
}

func (r *Registry) primitiveDesc(t reflect.Type) *TypeDescriptor {
	if v, ok := r.primDescs.Load(t); ok {
		return v.(*TypeDescriptor)
	}
	d := &TypeDescriptor{name: t.Name(), primitive: true, typ: t}
	d.local = d
	v, _ := r.primDescs.LoadOrStore(t, d)
	return v.(*TypeDescriptor)
}

func (r *Registry) build(t reflect.Type) (*TypeDescriptor, error) {
	var (
		d   *TypeDescriptor
		err error
	)
	switch {
	case t == stringType:
		d = r.buildPlain(t, "string", true)
	case t == anyType:
		d = r.buildPlain(t, anyName, false)
	case isBasicType(t):
		d = r.buildBox(t)
	case t.Kind() == reflect.Slice || t.Kind() == reflect.Array:
		d, err = r.buildArray(t)
	default:
		e := r.entry(t)
		switch {
		case e == nil:
			return nil, merr.WrapErrNotSerializable(t.String())
		case e.enum != nil:
			d = r.buildEnum(e)
		default:
			d, err = r.buildStruct(e)
		}
	}
	if err != nil {
		return nil, err
	}
	r.logger.Debug("type descriptor created",
		log.FieldTypeName(d.name),
		zap.Int64("versionUID", d.suid),
		zap.Int("fields", len(d.fields)))
	return d, nil
}

func (r *Registry) buildPlain(t reflect.Type, name string, serializable bool) *TypeDescriptor {
	d := &TypeDescriptor{name: name, serializable: serializable, typ: t}
	d.local = d
	if serializable {
		d.suid = computeVersionUID(name, d.Flags(), nil, nil)
	}
	return d
}

// boxHooks 装箱对象读取完成后解开为基本类型的值。
var boxHooks = typeHooks{
	readResolve: func(obj reflect.Value) (any, error) {
		return obj.Elem().Interface(), nil
	},
}

func (r *Registry) buildBox(t reflect.Type) *TypeDescriptor {
	code := primitiveCode(t.Kind())
	d := &TypeDescriptor{
		name:         boxPrefix + t.Name(),
		serializable: true,
		typ:          t,
		hooks:        &boxHooks,
		fields: []*FieldDescriptor{{
			name:      "value",
			typeCode:  code,
			signature: string(code),
			accessor:  &fieldAccessor{index: []int{}, typ: t},
		}},
	}
	d.local = d
	d.primDataSize, d.numObjFields, _ = computeFieldOffsets(d.fields)
	d.suid = computeVersionUID(d.name, d.Flags(), d.fields, d.hooks)
	return d
}

func (r *Registry) buildArray(t reflect.Type) (*TypeDescriptor, error) {
	if t.Elem().Kind() != reflect.Interface && skippedKind(t.Elem().Kind()) {
		return nil, merr.WrapErrNotSerializable(t.String())
	}
	d := &TypeDescriptor{
		name:         r.signature(t),
		serializable: true,
		array:        true,
		typ:          t,
	}
	d.local = d
	d.suid = computeVersionUID(d.name, d.Flags(), nil, nil)
	return d, nil
}

func (r *Registry) buildEnum(e *typeEntry) *TypeDescriptor {
	d := &TypeDescriptor{
		name:         e.name,
		serializable: true,
		enum:         true,
		typ:          e.typ,
		entry:        e,
		aliases:      e.aliases,
	}
	d.local = d
	return d
}

func (r *Registry) buildStruct(e *typeEntry) (*TypeDescriptor, error) {
	t := e.typ
	d := &TypeDescriptor{
		name:         e.name,
		serializable: true,
		typ:          t,
		entry:        e,
		hooks:        &e.hooks,
		aliases:      e.aliases,
	}
	d.local = d

	var (
		own       []StructField
		superType reflect.Type
	)
	for _, f := range r.introspector.FieldsOf(t) {
		if f.Embedded && superType == nil && r.isRegisteredStruct(f.Type) {
			superType, d.superIndex = f.Type, f.Index
			continue
		}
		own = append(own, f)
	}
	if superType != nil {
		super, err := r.Lookup(superType)
		if err != nil {
			return nil, err
		}
		d.super = super
	}

	switch {
	case e.isProxy():
		d.proxy = true
		d.proxyIfaces = e.proxyIfaces
		own = nil
	case e.isExternal():
		d.externalizable = true
		d.blockExternal = true
		own = nil
	default:
		d.writeObjectData = e.hooks.writeObject != nil
	}

	seen := typeutil.NewSet[string]()
	d.fields = make([]*FieldDescriptor, 0, len(own))
	for _, f := range own {
		if !seen.TryInsert(f.Name) {
			return nil, merr.WrapErrInvalidClass(e.name, fmt.Sprintf("duplicate field name %s", f.Name))
		}
		d.fields = append(d.fields, &FieldDescriptor{
			name:      f.Name,
			typeCode:  r.typeCode(f.Type),
			signature: r.signature(f.Type),
			unshared:  f.Unshared,
			accessor:  &fieldAccessor{index: f.Index, typ: f.Type},
		})
	}
	sortFields(d.fields)
	d.primDataSize, d.numObjFields, _ = computeFieldOffsets(d.fields)

	switch {
	case e.suid != nil:
		d.suid = *e.suid
	case d.proxy:
	default:
		d.suid = computeVersionUID(d.name, d.Flags(), d.fields, d.hooks)
	}
	return d, nil
}

// typeCode 返回字段类型在线路上的类型码。登记过的枚举类型总是引用类型。
func (r *Registry) typeCode(t reflect.Type) byte {
	if c := primitiveCode(t.Kind()); c != 0 && !r.isEnum(t) {
		return c
	}
	if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		return wire.TypeArray
	}
	return wire.TypeObject
}

// signature 返回类型签名：基本类型为类型码，数组为 "[" + 元素签名，其他为 "L" + 类型名 + ";"。
func (r *Registry) signature(t reflect.Type) string {
	switch code := r.typeCode(t); code {
	case wire.TypeArray:
		return "[" + r.signature(t.Elem())
	case wire.TypeObject:
		return "L" + r.refName(t) + ";"
	default:
		return string(code)
	}
}

func (r *Registry) refName(t reflect.Type) string {
	if e := r.entry(t); e != nil {
		return e.name
	}
	switch t.Kind() {
	case reflect.Interface:
		return anyName
	case reflect.String:
		return "string"
	case reflect.Pointer:
		elem := t.Elem()
		if e := r.entry(elem); e != nil && e.enum == nil {
			return e.name
		}
		if primitiveCode(elem.Kind()) != 0 {
			return boxPrefix + elem.Kind().String()
		}
	}
	return t.String()
}

// typeForSignature 返回签名对应的规范本地类型，读取数组时使用。
func (r *Registry) typeForSignature(sig string) (reflect.Type, error) {
	if sig == "" {
		return nil, merr.WrapErrStreamCorrupted("empty type signature")
	}
	switch c := sig[0]; {
	case wire.IsPrimitiveCode(c) && len(sig) == 1:
		return canonicalPrimitives[c], nil
	case c == wire.TypeArray:
		elem, err := r.typeForSignature(sig[1:])
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil
	case c == wire.TypeObject && strings.HasSuffix(sig, ";"):
		return r.elemType(sig[1 : len(sig)-1])
	}
	return nil, merr.WrapErrStreamCorruptedf("invalid type signature %q", sig)
}

func (r *Registry) elemType(name string) (reflect.Type, error) {
	switch name {
	case "string":
		return stringType, nil
	case anyName:
		return anyType, nil
	}
	t, err := r.ResolveName(name)
	if err != nil {
		return nil, err
	}
	if r.isRegisteredStruct(t) {
		return reflect.PointerTo(t), nil
	}
	return t, nil
}
