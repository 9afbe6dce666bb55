package objstream

import (
	"reflect"

	"github.com/lk2023060901/objstream-go/pkg/log"
)

type streamOptions struct {
	cfg            Config
	logger         *log.MLogger
	replacer       func(obj any) (any, error)
	classResolver  func(name string) (reflect.Type, error)
	objectResolver func(obj any) (any, error)
}

func defaultStreamOptions() *streamOptions {
	return &streamOptions{cfg: DefaultConfig()}
}

// Option 读写流的选项，对不相关的一端无影响。
type Option func(opts *streamOptions)

// WithConfig 使用给定配置。已经通过 WithReplacer、WithObjectResolver 设置的函数保持启用，
// 与选项的先后顺序无关。
func WithConfig(cfg Config) Option {
	return func(opts *streamOptions) {
		cfg.initialize()
		cfg.EnableReplace = cfg.EnableReplace || opts.replacer != nil
		cfg.EnableResolve = cfg.EnableResolve || opts.objectResolver != nil
		opts.cfg = cfg
	}
}

// WithMaxDepth 设置对象嵌套的最大深度。
func WithMaxDepth(depth int) Option {
	return func(opts *streamOptions) {
		opts.cfg.MaxDepth = depth
		opts.cfg.initialize()
	}
}

// WithBufferSize 设置写端底层缓冲区大小。
func WithBufferSize(size int) Option {
	return func(opts *streamOptions) {
		opts.cfg.BufferSize = size
	}
}

// WithLogger 为读写流绑定 Logger。
func WithLogger(logger *log.MLogger) Option {
	return func(opts *streamOptions) {
		opts.logger = logger
	}
}

// WithReplacer 设置写端的流级替换函数并启用替换。
// 替换函数在类型自身的 WriteReplaceHook 之后调用，返回 nil 表示写出空值。
func WithReplacer(fn func(obj any) (any, error)) Option {
	return func(opts *streamOptions) {
		opts.replacer = fn
		opts.cfg.EnableReplace = fn != nil
	}
}

// WithClassResolver 设置读端由类型名查找本地类型的函数，优先于 Registry。
// 返回 reflect.Type 为 nil 且没有错误时继续交给 Registry 查找。
func WithClassResolver(fn func(name string) (reflect.Type, error)) Option {
	return func(opts *streamOptions) {
		opts.classResolver = fn
	}
}

// WithObjectResolver 设置读端的流级解析函数并启用解析。
// 函数在对象读取完成（包括 ReadResolveHook）之后调用，返回值替换句柄对应的对象。
func WithObjectResolver(fn func(obj any) (any, error)) Option {
	return func(opts *streamOptions) {
		opts.objectResolver = fn
		opts.cfg.EnableResolve = fn != nil
	}
}
