package log

import (
	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameHandle    = "handle"
	FieldNameTypeName  = "typeName"
	FieldNameDepth     = "depth"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldHandle 返回一个包含对象句柄的 zap 字段。
func FieldHandle(handle int32) zap.Field {
	return zap.Int32(FieldNameHandle, handle)
}

// FieldTypeName 返回一个包含类型名的 zap 字段。
func FieldTypeName(name string) zap.Field {
	return zap.String(FieldNameTypeName, name)
}

// FieldDepth 返回一个包含递归深度的 zap 字段。
func FieldDepth(depth int) zap.Field {
	return zap.Int(FieldNameDepth, depth)
}
