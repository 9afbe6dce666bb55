// Package wire 定义对象流的线路常量：流头、记录类型码、描述符标志位和基本类型码。
package wire

const (
	// StreamMagic 流头魔数。
	StreamMagic uint16 = 0xaced
	// StreamVersion 流协议版本。
	StreamVersion uint16 = 5

	// BaseWireHandle 第一个句柄在线路上的编码值。
	BaseWireHandle int32 = 0x7e0000

	// MaxBlockSize 单个数据块的最大长度。
	MaxBlockSize = 1024
	// MaxShortBlockSize 可以使用 1 字节长度短块头的最大块长度。
	MaxShortBlockSize = 0xff
	// MaxUTFLength 短字符串（2 字节长度）的最大编码长度。
	MaxUTFLength = 0xffff
	// MaxProxyInterfaces 代理描述符允许的最大接口数。
	MaxProxyInterfaces = 0xffff
)

// 记录类型码。
const (
	TcBase           byte = 0x70
	TcNull           byte = 0x70
	TcReference      byte = 0x71
	TcClassDesc      byte = 0x72
	TcObject         byte = 0x73
	TcString         byte = 0x74
	TcArray          byte = 0x75
	TcClass          byte = 0x76
	TcBlockData      byte = 0x77
	TcEndBlockData   byte = 0x78
	TcReset          byte = 0x79
	TcBlockDataLong  byte = 0x7a
	TcException      byte = 0x7b
	TcLongString     byte = 0x7c
	TcProxyClassDesc byte = 0x7d
	TcEnum           byte = 0x7e
	TcMax            byte = 0x7e
)

// 描述符标志位。
const (
	ScWriteMethod    byte = 0x01
	ScSerializable   byte = 0x02
	ScExternalizable byte = 0x04
	ScBlockData      byte = 0x08
	ScEnum           byte = 0x10
)

// 字段类型码。
const (
	TypeByte    byte = 'B'
	TypeChar    byte = 'C'
	TypeDouble  byte = 'D'
	TypeFloat   byte = 'F'
	TypeInt     byte = 'I'
	TypeLong    byte = 'J'
	TypeShort   byte = 'S'
	TypeBoolean byte = 'Z'
	TypeObject  byte = 'L'
	TypeArray   byte = '['
)

var tcNames = map[byte]string{
	TcNull:           "TC_NULL",
	TcReference:      "TC_REFERENCE",
	TcClassDesc:      "TC_CLASSDESC",
	TcObject:         "TC_OBJECT",
	TcString:         "TC_STRING",
	TcArray:          "TC_ARRAY",
	TcClass:          "TC_CLASS",
	TcBlockData:      "TC_BLOCKDATA",
	TcEndBlockData:   "TC_ENDBLOCKDATA",
	TcReset:          "TC_RESET",
	TcBlockDataLong:  "TC_BLOCKDATALONG",
	TcException:      "TC_EXCEPTION",
	TcLongString:     "TC_LONGSTRING",
	TcProxyClassDesc: "TC_PROXYCLASSDESC",
	TcEnum:           "TC_ENUM",
}

// TypeCodeName 返回记录类型码的名称，未知类型码返回空字符串。
func TypeCodeName(tc byte) string {
	return tcNames[tc]
}

// IsTypeCode 判断 tc 是否落在合法的记录类型码范围内。
func IsTypeCode(tc byte) bool {
	return tc >= TcBase && tc <= TcMax
}

// IsPrimitiveCode 判断字段类型码是否为基本类型。
func IsPrimitiveCode(c byte) bool {
	switch c {
	case TypeByte, TypeChar, TypeDouble, TypeFloat, TypeInt, TypeLong, TypeShort, TypeBoolean:
		return true
	}
	return false
}

// PrimitiveSize 返回基本类型在线路上的字节宽度，非基本类型返回 0。
func PrimitiveSize(c byte) int {
	switch c {
	case TypeByte, TypeBoolean:
		return 1
	case TypeChar, TypeShort:
		return 2
	case TypeInt, TypeFloat:
		return 4
	case TypeLong, TypeDouble:
		return 8
	}
	return 0
}
