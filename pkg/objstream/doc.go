// Package objstream 实现对象图的流式序列化。
//
// Writer 将可能带环的对象图写成字节流，Reader 从字节流重建对象图。
// 同一个对象只写一次，之后以句柄回引，因此共享和环在读端得到保留。
//
// 类型需要先在 Registry 中登记：
//
//	type Point struct {
//		X, Y int32
//	}
//
//	_ = objstream.Register(&Point{})
//
//	var buf bytes.Buffer
//	w, _ := objstream.NewWriter(&buf, nil)
//	_ = w.WriteObject(&Point{X: 1, Y: 2})
//	_ = w.Flush()
//
//	r, _ := objstream.NewReader(&buf, nil)
//	p, err := objstream.ReadAs[*Point](r)
//
// 流中每个类型带一个描述符，描述符记录类型名、版本号和字段表。
// 读端按名称把描述符绑定到本地类型；找不到类型或版本号不一致时，
// 错误只记录在依赖该类型的对象上，流中其余对象照常读出。
package objstream
