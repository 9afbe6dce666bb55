package serializer

// Serializer 抽象了“对象 <-> 字节序列”的编解码能力。
//
// ObjectSerializer 使用对象流格式，保留对象图中的共享与循环引用；
// JSONSerializer 面向可读输出，例如 objdump 的 json 格式。
type Serializer interface {
	// Marshal 将任意对象编码为字节序列。
	Marshal(v any) ([]byte, error)

	// Unmarshal 将字节序列解码到目标对象。
	//
	// v 通常为指针类型，用于接收解码结果。
	Unmarshal(data []byte, v any) error
}
