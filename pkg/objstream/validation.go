package objstream

import (
	"slices"

	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

type validation struct {
	fn       func() error
	priority int
}

// validationList 按优先级排列的校验回调，优先级相同时后注册的排在前面。
type validationList struct {
	list []validation
}

func (l *validationList) register(fn func() error, priority int) {
	i := slices.IndexFunc(l.list, func(v validation) bool { return v.priority <= priority })
	if i < 0 {
		i = len(l.list)
	}
	l.list = slices.Insert(l.list, i, validation{fn: fn, priority: priority})
}

// run 依次执行所有回调，遇到第一个错误即停止。执行后列表被清空。
func (l *validationList) run() error {
	defer l.clear()
	for _, v := range l.list {
		if err := v.fn(); err != nil {
			return merr.WrapErrHookFailed("stream", "validateObject", err)
		}
	}
	return nil
}

func (l *validationList) clear() {
	l.list = nil
}
