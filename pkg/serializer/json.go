package serializer

import (
	"github.com/bytedance/sonic"
)

// JSONSerializer 使用 bytedance/sonic 实现 JSON 编解码，行为与 encoding/json 保持一致。
type JSONSerializer struct {
	// Indent 非空时输出带缩进的 JSON。
	Indent string
}

// 编译期断言：确保 JSONSerializer 实现了 Serializer 接口。
var _ Serializer = JSONSerializer{}

func (s JSONSerializer) Marshal(v any) ([]byte, error) {
	if s.Indent != "" {
		return sonic.ConfigStd.MarshalIndent(v, "", s.Indent)
	}
	return sonic.ConfigStd.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return sonic.ConfigStd.Unmarshal(data, v)
}
