package objstream

import (
	"encoding/binary"
	"math"
	"reflect"

	"github.com/lk2023060901/objstream-go/internal/stream/wire"
)

func intOf(v reflect.Value) int64 {
	if v.CanInt() {
		return v.Int()
	}
	return int64(v.Uint())
}

func setInt(v reflect.Value, x int64) {
	if v.CanInt() {
		v.SetInt(x)
		return
	}
	v.SetUint(uint64(x))
}

// putPrimitive 将基本类型字段值按类型码编码到 buf 开头。
func putPrimitive(buf []byte, code byte, v reflect.Value) {
	switch code {
	case wire.TypeBoolean:
		buf[0] = 0
		if v.Bool() {
			buf[0] = 1
		}
	case wire.TypeByte:
		buf[0] = byte(intOf(v))
	case wire.TypeChar, wire.TypeShort:
		binary.BigEndian.PutUint16(buf, uint16(intOf(v)))
	case wire.TypeInt:
		binary.BigEndian.PutUint32(buf, uint32(intOf(v)))
	case wire.TypeLong:
		binary.BigEndian.PutUint64(buf, uint64(intOf(v)))
	case wire.TypeFloat:
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(v.Float())))
	case wire.TypeDouble:
		binary.BigEndian.PutUint64(buf, math.Float64bits(v.Float()))
	}
}

// getPrimitive 从 buf 开头解码基本类型值并写入字段 v。
// 无符号字段按同宽度的无符号数解释。
func getPrimitive(buf []byte, code byte, v reflect.Value) {
	switch code {
	case wire.TypeBoolean:
		v.SetBool(buf[0] != 0)
	case wire.TypeByte:
		if v.CanInt() {
			v.SetInt(int64(int8(buf[0])))
		} else {
			v.SetUint(uint64(buf[0]))
		}
	case wire.TypeChar:
		setInt(v, int64(binary.BigEndian.Uint16(buf)))
	case wire.TypeShort:
		if v.CanInt() {
			v.SetInt(int64(int16(binary.BigEndian.Uint16(buf))))
		} else {
			v.SetUint(uint64(binary.BigEndian.Uint16(buf)))
		}
	case wire.TypeInt:
		if v.CanInt() {
			v.SetInt(int64(int32(binary.BigEndian.Uint32(buf))))
		} else {
			v.SetUint(uint64(binary.BigEndian.Uint32(buf)))
		}
	case wire.TypeLong:
		setInt(v, int64(binary.BigEndian.Uint64(buf)))
	case wire.TypeFloat:
		v.SetFloat(float64(math.Float32frombits(binary.BigEndian.Uint32(buf))))
	case wire.TypeDouble:
		v.SetFloat(math.Float64frombits(binary.BigEndian.Uint64(buf)))
	}
}
