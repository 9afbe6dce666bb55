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
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code 返回给定错误对应的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}
	var ce causeError
	if errors.As(err, &ce) {
		return ce.code()
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case streamError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		}
		var se streamError
		if errors.As(err, &se) {
			return se.code()
		}
		return errUnexpected.code()
	}
}

// CodeName 返回错误码对应的简短名称，用于指标标签。
func CodeName(err error) string {
	var ce causeError
	if errors.As(err, &ce) {
		return strings.ReplaceAll(ce.detailRoot(), " ", "_")
	}
	var se streamError
	if errors.As(err, &se) {
		return strings.ReplaceAll(se.detailRoot(), " ", "_")
	}
	if IsCanceledOrTimeout(err) {
		return "canceled"
	}
	return "unexpected"
}

func (e streamError) detailRoot() string {
	if idx := strings.IndexByte(e.msg, '['); idx > 0 {
		return e.msg[:idx]
	}
	if idx := strings.IndexByte(e.msg, ':'); idx > 0 {
		return e.msg[:idx]
	}
	return e.msg
}

func IsRetryableErr(err error) bool {
	var se streamError
	if errors.As(err, &se) {
		return se.retriable
	}
	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

// IsResolutionErr 判断错误是否为类型解析错误。
// 这类错误只记录在对应句柄上，流本身仍然可以继续读取。
func IsResolutionErr(err error) bool {
	return errors.IsAny(err, ErrClassNotFound, ErrInvalidClass)
}

// IsInputError 判断错误是否由调用方输入导致。
func IsInputError(err error) bool {
	var se streamError
	if errors.As(err, &se) {
		return se.errType == InputError
	}
	return false
}

// Stream related
func WrapErrStreamCorrupted(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrStreamCorrupted, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrStreamCorruptedf(format string, args ...any) error {
	return wrapFieldsWithDesc(ErrStreamCorrupted, fmt.Sprintf(format, args...))
}

func WrapErrStreamClosed(msg ...string) error {
	err := error(ErrStreamClosed)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrStreamActive(depth int, msg ...string) error {
	err := wrapFields(ErrStreamActive, value("depth", depth))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrWriteAborted(cause string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrWriteAborted, cause)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrDepthExceeded(depth, limit int, msg ...string) error {
	err := wrapFields(ErrDepthExceeded, value("depth", depth), value("limit", limit))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Class related
func WrapErrClassNotFound(name string, msg ...string) error {
	err := wrapFields(ErrClassNotFound, value("class", name))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrInvalidClass(name string, reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrInvalidClass, reason, value("class", name))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrCircularAncestry(name string, msg ...string) error {
	err := wrapFields(ErrCircularAncestry, value("class", name))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Protocol related
func WrapErrNotSerializable(typeName string, msg ...string) error {
	err := wrapFields(ErrNotSerializable, value("type", typeName))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrInvalidObject(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrInvalidObject, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrNotActive(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrNotActive, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrTypeMismatch[T any](expected, actual T, msg ...string) error {
	err := wrapFields(ErrTypeMismatch,
		value("expected", expected),
		value("actual", actual),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// WrapErrHookFailed 包装回调返回的错误。
// 回调里返回的流错误原样透传，其他错误打上 ErrHookFailed 标记并保留原因。
func WrapErrHookFailed(typeName, hook string, err error) error {
	if err == nil {
		return nil
	}
	var se streamError
	var ce causeError
	if errors.As(err, &se) || errors.As(err, &ce) {
		return err
	}
	return withCause(ErrHookFailed, err, value("type", typeName), value("hook", hook))
}

// IO related
func WrapErrIoFailed(op string, err error) error {
	if err == nil {
		return nil
	}
	return withCause(ErrIoFailed, err, value("op", op))
}

func WrapErrIoUnexpectEOF(op string, err error) error {
	if err == nil {
		return nil
	}
	return withCause(ErrIoUnexpectEOF, err, value("op", op))
}

// Parameter related
func WrapErrParameterInvalid[T any](expected, actual T, msg ...string) error {
	err := wrapFields(ErrParameterInvalid,
		value("expected", expected),
		value("actual", actual),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrParameterInvalidMsg(fmt string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, fmt, args...)
}

func WrapErrParameterMissing[T any](param T, msg ...string) error {
	err := wrapFields(ErrParameterMissing,
		value("missing_param", param),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrNoSuchField(name string, typeName string, msg ...string) error {
	err := wrapFields(ErrNoSuchField, value("field", name), value("type", typeName))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrOperationNotSupported(op string, msg ...string) error {
	err := wrapFields(ErrOperationNotSupported, value("op", op))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func wrapFields(err streamError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err streamError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	err.detail = err.msg
	return err
}

// causeError 在叶子错误之上保留底层原因，Is 匹配叶子错误，Unwrap 返回原因。
type causeError struct {
	streamError
	cause error
}

func withCause(err streamError, cause error, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return causeError{streamError: err, cause: cause}
}

func (e causeError) Error() string {
	return e.msg + ": " + e.cause.Error()
}

func (e causeError) Unwrap() error {
	return e.cause
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}
