// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

// 叶子错误统一定义在这里。
// 命名规则：Err + 分类前缀 + 错误名。
// 新增错误前请先确认下面已有的错误是否可以复用。
var (
	// 流格式相关，均为致命错误，流不可继续使用。
	ErrStreamCorrupted = newStreamError("stream corrupted", 100, false)
	ErrStreamClosed    = newStreamError("stream closed", 101, false)
	ErrStreamActive    = newStreamError("stream active", 102, false)
	ErrWriteAborted    = newStreamError("writing aborted", 103, false)
	ErrDepthExceeded   = newStreamError("recursion depth exceeded", 104, false)

	// 类型解析相关，按句柄记录，只影响依赖它的对象。
	ErrClassNotFound    = newStreamError("class not found", 200, false)
	ErrInvalidClass     = newStreamError("invalid class", 201, false)
	ErrCircularAncestry = newStreamError("circular class ancestry", 202, false)

	// 协议使用相关。
	ErrNotSerializable = newStreamError("not serializable", 300, false, WithErrorType(InputError))
	ErrInvalidObject   = newStreamError("invalid object", 301, false)
	ErrNotActive       = newStreamError("not active", 302, false, WithErrorType(InputError))
	ErrTypeMismatch    = newStreamError("type mismatch", 303, false)
	ErrOptionalData    = newStreamError("optional data", 304, false)

	// 回调相关。
	ErrHookFailed = newStreamError("hook failed", 400, false)

	// IO 相关。
	ErrIoFailed      = newStreamError("IO failed", 1001, false)
	ErrIoUnexpectEOF = newStreamError("unexpected EOF", 1002, true)

	// 参数相关。
	ErrParameterInvalid = newStreamError("invalid parameter", 1100, false, WithErrorType(InputError))
	ErrNoSuchField      = newStreamError("no such field", 1101, false, WithErrorType(InputError))
	ErrParameterMissing = newStreamError("missing parameter", 1102, false, WithErrorType(InputError))

	// 通用。
	ErrOperationNotSupported = newStreamError("unsupported operation", 3000, false)

	// 不对外导出，仅用于把未知错误转换成 streamError。
	errUnexpected = newStreamError("unexpected error", (1<<16)-1, false)
)

type errorOption func(*streamError)

func WithDetail(detail string) errorOption {
	return func(err *streamError) {
		err.detail = detail
	}
}

func WithErrorType(etype ErrorType) errorOption {
	return func(err *streamError) {
		err.errType = etype
	}
}

type streamError struct {
	msg       string
	detail    string
	retriable bool
	errCode   int32
	errType   ErrorType
}

func newStreamError(msg string, code int32, retriable bool, options ...errorOption) streamError {
	err := streamError{
		msg:       msg,
		detail:    msg,
		retriable: retriable,
		errCode:   code,
	}

	for _, option := range options {
		option(&err)
	}
	return err
}

func (e streamError) code() int32 {
	return e.errCode
}

func (e streamError) Error() string {
	return e.msg
}

func (e streamError) Detail() string {
	return e.detail
}

func (e streamError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(streamError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// 多个错误的 cause 取最后一个，保证 Code/Is 能够穿透。
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
