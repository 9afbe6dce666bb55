package objstream

import (
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/lk2023060901/objstream-go/pkg/log"
	"github.com/lk2023060901/objstream-go/pkg/metrics"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

// reflectorKey 字段反射器的缓存键：同一个本地类型可能对应多种流中的字段形状。
type reflectorKey struct {
	typ reflect.Type
	sig string
}

type reflectorEntry struct {
	fields []*FieldDescriptor
	err    error
}

func fieldsSignature(fields []*FieldDescriptor) string {
	var sb strings.Builder
	for _, f := range fields {
		sb.WriteString(f.name)
		sb.WriteByte(' ')
		sb.WriteString(f.signature)
		sb.WriteByte(';')
	}
	return sb.String()
}

// reflector 返回按流中字段顺序排列、绑定了本地访问路径的字段列表。
func (r *Registry) reflector(local *TypeDescriptor, fields []*FieldDescriptor) ([]*FieldDescriptor, error) {
	key := reflectorKey{typ: local.typ, sig: fieldsSignature(fields)}
	if v, ok := r.reflectors.Load(key); ok {
		e := v.(*reflectorEntry)
		return e.fields, e.err
	}
	matched, err := matchFields(fields, local)
	v, _ := r.reflectors.LoadOrStore(key, &reflectorEntry{fields: matched, err: err})
	e := v.(*reflectorEntry)
	return e.fields, e.err
}

// matchFields 按名称将流中字段与本地字段配对。
// 没有对应本地字段的流中字段只读取不赋值；基本类型与引用类型不一致时视为不兼容。
func matchFields(fields []*FieldDescriptor, local *TypeDescriptor) ([]*FieldDescriptor, error) {
	matched := make([]*FieldDescriptor, len(fields))
	for i, f := range fields {
		m := &FieldDescriptor{
			name:      f.name,
			typeCode:  f.typeCode,
			signature: f.signature,
			offset:    f.offset,
		}
		if lf := local.Field(f.name); lf != nil {
			if (f.IsPrimitive() || lf.IsPrimitive()) && f.typeCode != lf.typeCode {
				return nil, merr.WrapErrInvalidClass(local.name,
					fmt.Sprintf("incompatible types for field %s: stream %c, local %c", f.name, f.typeCode, lf.typeCode))
			}
			m.unshared = lf.unshared
			m.accessor = lf.accessor
		}
		matched[i] = m
	}
	return matched, nil
}

// checkCompatible 检查流描述符能否绑定到本地描述符。
func checkCompatible(model, local *TypeDescriptor) error {
	if local.proxy {
		return merr.WrapErrInvalidClass(model.name, "cannot bind non-proxy descriptor to a proxy class")
	}
	if model.enum != local.enum {
		if model.enum {
			return merr.WrapErrInvalidClass(model.name, "cannot bind enum descriptor to a non-enum class")
		}
		return merr.WrapErrInvalidClass(model.name, "cannot bind non-enum descriptor to an enum class")
	}
	if model.serializable == local.serializable && !model.array && model.suid != local.suid {
		return merr.WrapErrInvalidClass(model.name, fmt.Sprintf(
			"local class incompatible: stream classdesc version = %d, local class version = %d",
			model.suid, local.suid))
	}
	if !local.unqualifiedMatches(model.name) {
		return merr.WrapErrInvalidClass(model.name, fmt.Sprintf(
			"local class name incompatible with stream class name %q", local.name))
	}
	if !model.enum && model.serializable == local.serializable && model.externalizable != local.externalizable {
		return merr.WrapErrInvalidClass(model.name, "Serializable incompatible with Externalizable")
	}
	return nil
}

// bindNonProxy 将流中读到的普通描述符绑定到本地类型 t。
// 任何不兼容都记录为 resolveErr，绑定被丢弃，所有字段只读取不赋值。
func (r *Registry) bindNonProxy(d *TypeDescriptor, t reflect.Type, resolveErr error) {
	if resolveErr == nil {
		resolveErr = r.tryBind(d, t)
	}
	if resolveErr != nil {
		d.resolveErr = resolveErr
		metrics.ResolutionFailures.WithLabelValues(merr.CodeName(resolveErr)).Inc()
		r.logger.Warn("type descriptor not resolved", log.FieldTypeName(d.name), zap.Error(resolveErr))
	}
}

func (r *Registry) tryBind(d *TypeDescriptor, t reflect.Type) error {
	local, err := r.localDesc(d.name, t)
	if err != nil {
		if merr.IsResolutionErr(err) {
			return err
		}
		return merr.WrapErrInvalidClass(d.name, err.Error())
	}
	if err := checkCompatible(d, local); err != nil {
		return err
	}
	if !d.enum && (d.serializable != local.serializable || d.externalizable != local.externalizable ||
		!(d.serializable || d.externalizable)) {
		d.deserializeErr = merr.WrapErrInvalidClass(d.name, "class invalid for deserialization")
	}
	fields, err := r.reflector(local, d.fields)
	if err != nil {
		return err
	}
	d.fields = fields
	d.bind(local)
	return nil
}

// bindProxy 将流中读到的代理描述符绑定到本地代理类型 t。
func (r *Registry) bindProxy(d *TypeDescriptor, t reflect.Type, resolveErr error) {
	if resolveErr == nil {
		local, err := r.Lookup(t)
		switch {
		case err != nil:
			resolveErr = merr.WrapErrInvalidClass(d.name, err.Error())
		case !local.proxy:
			resolveErr = merr.WrapErrInvalidClass(d.name, "cannot bind proxy descriptor to a non-proxy class")
		default:
			d.name = local.name
			d.bind(local)
		}
	}
	if resolveErr != nil {
		d.resolveErr = resolveErr
		metrics.ResolutionFailures.WithLabelValues(merr.CodeName(resolveErr)).Inc()
		r.logger.Warn("proxy descriptor not resolved", log.FieldTypeName(d.name), zap.Error(resolveErr))
	}
}

func (d *TypeDescriptor) bind(local *TypeDescriptor) {
	d.typ = local.typ
	d.local = local
	d.entry = local.entry
	d.hooks = local.hooks
	d.superIndex = local.superIndex
	d.aliases = local.aliases
}

// unbound 返回去掉本地绑定的副本，所有字段只读取不赋值。
func (d *TypeDescriptor) unbound() *TypeDescriptor {
	c := &TypeDescriptor{
		name:            d.name,
		suid:            d.suid,
		serializable:    d.serializable,
		externalizable:  d.externalizable,
		blockExternal:   d.blockExternal,
		writeObjectData: d.writeObjectData,
		enum:            d.enum,
		proxy:           d.proxy,
		array:           d.array,
		proxyIfaces:     d.proxyIfaces,
		primDataSize:    d.primDataSize,
		numObjFields:    d.numObjFields,
		super:           d.super,
		resolveErr:      d.resolveErr,
	}
	c.fields = make([]*FieldDescriptor, len(d.fields))
	for i, f := range d.fields {
		c.fields[i] = &FieldDescriptor{
			name:      f.name,
			typeCode:  f.typeCode,
			signature: f.signature,
			offset:    f.offset,
		}
	}
	return c
}
