package objstream

import (
	"reflect"
	"slices"

	"github.com/lk2023060901/objstream-go/pkg/util/merr"
	"github.com/lk2023060901/objstream-go/pkg/util/typeutil"
)

// ClassDataLayout 返回对象记录的数据段，按祖先到子孙的顺序排列。
//
// 流中描述符链与本地祖先链同时遍历：两边都有的祖先得到带数据的段，
// 只在流中出现的祖先得到不绑定本地类型的段（数据读取后丢弃），
// 只在本地出现的祖先得到无数据的段。
func (d *TypeDescriptor) ClassDataLayout() ([]ClassDataSlot, error) {
	d.layoutOnce.Do(func() {
		d.slots, d.layoutErr = d.computeLayout()
	})
	if d.layoutErr != nil && !merr.IsResolutionErr(d.layoutErr) {
		return nil, d.layoutErr
	}
	return d.slots, nil
}

// layoutResolveErr 返回计算布局时发现的祖先绑定错误。
func (d *TypeDescriptor) layoutResolveErr() error {
	if merr.IsResolutionErr(d.layoutErr) {
		return d.layoutErr
	}
	return nil
}

func (d *TypeDescriptor) computeLayout() ([]ClassDataSlot, error) {
	var (
		slots      []ClassDataSlot
		resolveErr error
	)
	seen := typeutil.NewSet[string]()
	start := d.local
	for w := d; w != nil; w = w.super {
		if !seen.TryInsert(w.name) {
			return nil, merr.WrapErrCircularAncestry(w.name)
		}

		searchName := w.name
		if w.local != nil {
			searchName = w.local.name
		}
		var match *TypeDescriptor
		for c := start; c != nil; c = c.super {
			if c.name == searchName {
				match = c
				break
			}
		}
		if match != nil {
			for c := start; c != match; c = c.super {
				slots = append(slots, ClassDataSlot{Desc: c, HasData: false})
			}
			start = match.super
		}
		variant := w
		if match == nil || w.local != match {
			variant = w.unbound()
			// 本地存在同名祖先但流中描述符无法绑定到它
			if match != nil && w.resolveErr != nil && resolveErr == nil {
				resolveErr = w.resolveErr
			}
		}
		slots = append(slots, ClassDataSlot{Desc: variant, HasData: true})
	}
	for c := start; c != nil; c = c.super {
		slots = append(slots, ClassDataSlot{Desc: c, HasData: false})
	}
	slices.Reverse(slots)
	return slots, resolveErr
}

// slotValue 从叶子对象出发，沿祖先链找到 target 对应的嵌入结构体值。
// leaf 为对象类型的本地描述符，obj 为可寻址的结构体值。
func slotValue(obj reflect.Value, leaf, target *TypeDescriptor) reflect.Value {
	for c := leaf; c != nil && c != target; c = c.super {
		obj = fieldByIndex(obj, c.superIndex)
	}
	return obj
}
