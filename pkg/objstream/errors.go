package objstream

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

// OptionalDataError 读取对象时流中出现了基本类型数据。
//
// Length 为当前数据块中剩余的字节数；EOF 为 true 时表示块数据已经结束，
// 通常出现在自定义读回调读取了超出写端写出的对象数量时。
type OptionalDataError struct {
	Length int
	EOF    bool
}

func (e *OptionalDataError) Error() string {
	if e.EOF {
		return "optional data: end of block data"
	}
	return fmt.Sprintf("optional data: %d bytes of primitive data", e.Length)
}

// Is 使 errors.Is(err, merr.ErrOptionalData) 成立。
func (e *OptionalDataError) Is(target error) bool {
	return errors.Is(merr.ErrOptionalData, target)
}

// StreamError 写端中止时写入流中的错误记录。
type StreamError struct {
	Message string
	Code    int32
}

const streamErrorName = "objstream.StreamError"

func (e *StreamError) Error() string {
	return e.Message
}

func newStreamError(err error) *StreamError {
	return &StreamError{Message: err.Error(), Code: merr.Code(err)}
}
