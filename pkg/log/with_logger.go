package log

import "go.uber.org/atomic"

// Binder 嵌入到 Reader、Writer 中，保存带有模块和组件字段的流日志。
// 一个流的生命周期内只绑定一次，零值的 Binder 使用全局日志。
type Binder struct {
	logger atomic.Pointer[MLogger]
}

// Bind 在 logger 上附加模块和组件字段后绑定；logger 为 nil 时基于全局日志。
func (b *Binder) Bind(logger *MLogger, module, component string) {
	if logger == nil {
		logger = With()
	}
	b.logger.Store(logger.With(FieldModule(module)).Component(component))
}

// Logger 返回绑定的日志，尚未绑定时返回全局日志。
func (b *Binder) Logger() *MLogger {
	if l := b.logger.Load(); l != nil {
		return l
	}
	return With()
}
