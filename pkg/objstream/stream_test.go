package objstream

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lk2023060901/objstream-go/internal/stream/wire"
	"github.com/lk2023060901/objstream-go/pkg/log"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
	"github.com/lk2023060901/objstream-go/pkg/util/typeutil"
)

type StreamSuite struct {
	testStream
}

func (s *StreamSuite) SetupTest() {
	s.reg = newCommonRegistry(&s.testStream)
}

func (s *StreamSuite) TestRoundTripShape() {
	shape := &Shape{
		Label:    "triangle",
		Origin:   Point{X: 1, Y: -1},
		Points:   []*Point{{X: 0, Y: 0}, {X: 3, Y: 0}, nil},
		Tags:     []string{"a", "", "c"},
		Data:     []byte{0, 1, 0xff},
		Scores:   []float64{0.5, -2.25},
		Grid:     [2]int16{-7, 7},
		Ref:      &Node{Name: "ref"},
		Count:    -1 << 40,
		Ratio:    1.5,
		Flag:     true,
		Small:    -8,
		Unsigned: 0xfffffffe,
		Ch:       0xffee,
		Skipped:  "dropped",
		renamed:  99,
		notify:   func() {},
	}
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(shape))
	})

	r := s.decode(s.reg, data)
	got, err := ReadAs[*Shape](r)
	s.Require().NoError(err)

	want := *shape
	want.Skipped = ""
	want.notify = nil
	got.notify = nil
	s.Equal(&want, got)
	s.Equal(int64(99), got.renamed)
}

func (s *StreamSuite) TestTopLevelValues() {
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject("hello"))
		s.NoError(w.WriteObject(42))
		s.NoError(w.WriteObject(int32(7)))
		s.NoError(w.WriteObject(nil))
		s.NoError(w.WriteObject(Point{X: 4, Y: 5}))
		s.NoError(w.WriteObject([]int32{1, 2, 3}))
		s.NoError(w.WriteObject([3]string{"x", "y", "z"}))
		s.NoError(w.WriteObject(true))
		s.NoError(w.WriteObject(uint64(1 << 63)))
	})

	r := s.decode(s.reg, data)
	expected := []any{
		"hello",
		42,
		int32(7),
		nil,
		&Point{X: 4, Y: 5},
		[]int32{1, 2, 3},
		[]string{"x", "y", "z"},
		true,
		uint64(1 << 63),
	}
	for i, want := range expected {
		got, err := r.ReadObject()
		s.Require().NoError(err, "object %d", i)
		s.Equal(want, got, "object %d", i)
	}
}

func (s *StreamSuite) TestStrings() {
	long := strings.Repeat("长", 30000)
	mixed := "nul\x00 é 世界 😀"
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(long))
		s.NoError(w.WriteObject(mixed))
		s.NoError(w.WriteObject(mixed))
	})
	s.Contains(string(data), string([]byte{wire.TcLongString}))

	r := s.decode(s.reg, data)
	for _, want := range []string{long, mixed, mixed} {
		got, err := ReadAs[string](r)
		s.Require().NoError(err)
		s.Equal(want, got)
	}
}

func (s *StreamSuite) TestInvalidUTF8() {
	data := s.encode(s.reg, func(w *Writer) {
		err := w.WriteObject("a\xffb")
		s.ErrorIs(err, merr.ErrParameterInvalid)
		s.Contains(err.Error(), "not valid UTF-8")
		s.ErrorIs(w.WriteObject(&Node{Name: "\xc3"}), merr.ErrParameterInvalid)
		s.ErrorIs(w.WriteUTF("\xc3"), merr.ErrParameterInvalid)
		s.NoError(w.WriteObject(&Node{Name: "after"}))
	})

	r := s.decode(s.reg, data)
	for range 2 {
		_, err := r.ReadObject()
		s.ErrorIs(err, merr.ErrWriteAborted)
	}
	got, err := ReadAs[*Node](r)
	s.NoError(err)
	s.Equal("after", got.Name)
}

func (s *StreamSuite) TestLargeArrays() {
	longs := make([]int64, maxArrayPrealloc*2+3)
	for i := range longs {
		longs[i] = int64(i) * -3
	}
	raw := bytes.Repeat([]byte{0xab}, maxArrayPrealloc+1)
	names := make([]string, maxArrayPrealloc+5)
	for i := range names {
		names[i] = fmt.Sprint(i % 7)
	}
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(longs))
		s.NoError(w.WriteObject(raw))
		s.NoError(w.WriteObject(names))
		s.NoError(w.WriteObject(longs))
	})

	r := s.decode(s.reg, data)
	gotLongs, err := ReadAs[[]int64](r)
	s.Require().NoError(err)
	s.Equal(longs, gotLongs)
	gotRaw, err := ReadAs[[]byte](r)
	s.Require().NoError(err)
	s.Equal(raw, gotRaw)
	gotNames, err := ReadAs[[]string](r)
	s.Require().NoError(err)
	s.Equal(names, gotNames)

	// 回引得到扩容后的最终数组
	again, err := ReadAs[[]int64](r)
	s.Require().NoError(err)
	s.Len(again, len(longs))
	again[0] = 42
	s.Equal(int64(42), gotLongs[0])
}

func (s *StreamSuite) TestSharedReferences() {
	a := &Node{Name: "a"}
	b := &Node{Name: "b", Next: a}
	a.Next = b

	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(a))
		s.NoError(w.WriteObject(b))
	})

	r := s.decode(s.reg, data)
	ga, err := ReadAs[*Node](r)
	s.Require().NoError(err)
	gb, err := ReadAs[*Node](r)
	s.Require().NoError(err)

	s.Equal("a", ga.Name)
	s.Same(gb, ga.Next)
	s.Same(ga, gb.Next)
}

func (s *StreamSuite) TestSharedSlices() {
	values := []int32{1, 2, 3}
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(values))
		s.NoError(w.WriteObject(values))
		s.NoError(w.WriteObject(values[:2]))
	})

	r := s.decode(s.reg, data)
	first, err := ReadAs[[]int32](r)
	s.Require().NoError(err)
	second, err := ReadAs[[]int32](r)
	s.Require().NoError(err)
	third, err := ReadAs[[]int32](r)
	s.Require().NoError(err)

	first[0] = 9
	s.Equal(int32(9), second[0])
	s.Equal([]int32{1, 2}, third)
}

func (s *StreamSuite) TestUnshared() {
	n := &Node{Name: "n"}
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteUnshared(n))
		s.NoError(w.WriteObject(n))
		s.NoError(w.WriteObject(n))
	})

	r := s.decode(s.reg, data)
	first, err := r.ReadUnshared()
	s.Require().NoError(err)
	second, err := r.ReadObject()
	s.Require().NoError(err)
	s.NotSame(first, second)
	s.Equal(first, second)

	// 第三个是指向第二个的回引，不能以非共享方式读取
	_, err = r.ReadUnshared()
	s.ErrorIs(err, merr.ErrInvalidObject)
}

func (s *StreamSuite) TestBackReferenceToUnshared() {
	n := &Node{Name: "n"}
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(n))
		s.NoError(w.WriteObject(n))
	})

	r := s.decode(s.reg, data)
	_, err := r.ReadUnshared()
	s.Require().NoError(err)
	_, err = r.ReadObject()
	s.ErrorIs(err, merr.ErrInvalidObject)
}

func (s *StreamSuite) TestReset() {
	n := &Node{Name: "n"}
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(n))
		s.NoError(w.Reset())
		s.NoError(w.WriteObject(n))
		s.NoError(w.WriteInt32(5))
		s.NoError(w.Reset())
		s.NoError(w.WriteInt32(6))
	})

	r := s.decode(s.reg, data)
	first, err := r.ReadObject()
	s.Require().NoError(err)
	second, err := r.ReadObject()
	s.Require().NoError(err)
	s.NotSame(first, second)
	s.Equal(first, second)

	// 数据块之间的重置对读取基本类型数据透明
	v, err := r.ReadInt32()
	s.NoError(err)
	s.Equal(int32(5), v)
	v, err = r.ReadInt32()
	s.NoError(err)
	s.Equal(int32(6), v)
}

func (s *StreamSuite) TestPrimitiveData() {
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteBool(true))
		s.NoError(w.WriteByte(0xfe))
		s.NoError(w.WriteInt16(-2))
		s.NoError(w.WriteChar('x'))
		s.NoError(w.WriteInt32(1 << 30))
		s.NoError(w.WriteInt64(-1 << 50))
		s.NoError(w.WriteFloat32(0.25))
		s.NoError(w.WriteFloat64(-0.125))
		s.NoError(w.WriteUTF("utf"))
		_, err := w.Write([]byte{1, 2, 3, 4})
		s.NoError(err)
	})

	r := s.decode(s.reg, data)
	b, err := r.ReadBool()
	s.NoError(err)
	s.True(b)
	by, err := r.ReadByte()
	s.NoError(err)
	s.Equal(byte(0xfe), by)
	i16, err := r.ReadInt16()
	s.NoError(err)
	s.Equal(int16(-2), i16)
	c, err := r.ReadChar()
	s.NoError(err)
	s.Equal(uint16('x'), c)
	i32, err := r.ReadInt32()
	s.NoError(err)
	s.Equal(int32(1<<30), i32)
	i64, err := r.ReadInt64()
	s.NoError(err)
	s.Equal(int64(-1<<50), i64)
	f32, err := r.ReadFloat32()
	s.NoError(err)
	s.Equal(float32(0.25), f32)
	f64, err := r.ReadFloat64()
	s.NoError(err)
	s.Equal(-0.125, f64)
	str, err := r.ReadUTF()
	s.NoError(err)
	s.Equal("utf", str)

	n, err := r.SkipBytes(1)
	s.NoError(err)
	s.Equal(1, n)
	buf := make([]byte, 3)
	s.NoError(r.ReadFull(buf))
	s.Equal([]byte{2, 3, 4}, buf)
}

func (s *StreamSuite) TestBulkEqualsIndividual() {
	bulk := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteInt32s([]int32{1, -2, 3}))
	})
	single := s.encode(s.reg, func(w *Writer) {
		for _, v := range []int32{1, -2, 3} {
			s.NoError(w.WriteInt32(v))
		}
	})
	s.Equal(bulk, single)

	chars := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteChars("ab"))
	})
	perChar := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteChar('a'))
		s.NoError(w.WriteChar('b'))
	})
	s.Equal(chars, perChar)
}

func (s *StreamSuite) TestOptionalData() {
	n := &Node{Name: "n"}
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteInt32(7))
		s.NoError(w.WriteObject(n))
	})

	r := s.decode(s.reg, data)
	_, err := r.ReadObject()
	var ode *OptionalDataError
	s.Require().True(errors.As(err, &ode))
	s.Equal(4, ode.Length)
	s.False(ode.EOF)
	s.ErrorIs(err, merr.ErrOptionalData)

	v, err := r.ReadInt32()
	s.NoError(err)
	s.Equal(int32(7), v)

	got, err := ReadAs[*Node](r)
	s.NoError(err)
	s.Equal(n, got)
}

func (s *StreamSuite) TestEnums() {
	p := &Palette{Primary: Green, Others: []Color{Red, Blue, Red}, Level: LevelHigh}
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(Blue))
		s.NoError(w.WriteObject(Blue))
		s.NoError(w.WriteObject(p))
		s.NoError(w.WriteObject(LevelLow))
		s.NoError(w.WriteObject("low"))
	})

	r := s.decode(s.reg, data)
	for range 2 {
		c, err := ReadAs[Color](r)
		s.NoError(err)
		s.Equal(Blue, c)
	}
	got, err := ReadAs[*Palette](r)
	s.NoError(err)
	s.Equal(p, got)

	level, err := r.ReadObject()
	s.NoError(err)
	s.Equal(LevelLow, level)
	plain, err := r.ReadObject()
	s.NoError(err)
	s.Equal("low", plain)
}

func (s *StreamSuite) TestUndefinedEnumConstant() {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, s.reg)
	s.Require().NoError(err)
	err = w.WriteObject(Color(99))
	s.ErrorIs(err, merr.ErrInvalidObject)
}

func (s *StreamSuite) TestInheritance() {
	d := &Dog{Animal: Animal{Name: "rex", Legs: 4}, Breed: "corgi"}
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(d))
		s.NoError(w.WriteObject(&d.Animal))
	})

	r := s.decode(s.reg, data)
	got, err := ReadAs[*Dog](r)
	s.Require().NoError(err)
	s.Equal(d, got)

	desc, err := s.reg.Lookup(reflect.TypeFor[Dog]())
	s.Require().NoError(err)
	s.Equal("test.Animal", desc.Super().Name())
	s.Len(desc.Fields(), 1)

	animal, err := ReadAs[*Animal](r)
	s.NoError(err)
	s.Equal(&d.Animal, animal)
}

func (s *StreamSuite) TestClassRecords() {
	nodeDesc, err := s.reg.Lookup(reflect.TypeFor[Node]())
	s.Require().NoError(err)

	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(reflect.TypeFor[*Node]()))
		s.NoError(w.WriteObject(reflect.TypeFor[*Node]()))
		s.NoError(w.WriteObject(reflect.TypeFor[int32]()))
		s.NoError(w.WriteObject(reflect.TypeFor[[]string]()))
		s.NoError(w.WriteObject(nodeDesc))
	})

	r := s.decode(s.reg, data)
	for _, want := range []reflect.Type{
		reflect.TypeFor[Node](),
		reflect.TypeFor[Node](),
		reflect.TypeFor[int32](),
		reflect.TypeFor[[]string](),
	} {
		got, err := r.ReadObject()
		s.Require().NoError(err)
		s.Equal(want, got)
	}
	obj, err := r.ReadObject()
	s.Require().NoError(err)
	desc, ok := obj.(*TypeDescriptor)
	s.Require().True(ok)
	s.Equal("test.Node", desc.Name())
	s.Equal(nodeDesc.VersionUID(), desc.VersionUID())
	s.Equal(reflect.TypeFor[Node](), desc.Type())
}

func (s *StreamSuite) TestWriteAborted() {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := WithLogger(&log.MLogger{Logger: zap.New(core)})
	data := s.encode(s.reg, func(w *Writer) {
		err := w.WriteObject(&Shape{Label: "bad", Ref: make(chan int)})
		s.ErrorIs(err, merr.ErrNotSerializable)
		s.Contains(err.Error(), "field Ref of test.Shape")
		s.NoError(w.WriteObject(&Node{Name: "after"}))
	}, logger)
	s.Equal(1, logs.FilterMessage("writing aborted").Len())

	r := s.decode(s.reg, data, logger)
	_, err := r.ReadObject()
	s.ErrorIs(err, merr.ErrWriteAborted)
	s.Contains(err.Error(), "not serializable")
	s.Equal(1, logs.FilterMessage("stream contains abort record").Len())

	got, err := ReadAs[*Node](r)
	s.NoError(err)
	s.Equal("after", got.Name)
}

func (s *StreamSuite) TestNotSerializable() {
	type unregistered struct{ A int }
	var buf bytes.Buffer
	w, err := NewWriter(&buf, s.reg)
	s.Require().NoError(err)
	s.ErrorIs(w.WriteObject(&unregistered{}), merr.ErrNotSerializable)
	s.ErrorIs(w.WriteObject(map[string]int{"a": 1}), merr.ErrNotSerializable)
	s.ErrorIs(w.WriteObject(func() {}), merr.ErrNotSerializable)
}

func (s *StreamSuite) TestDepthExceeded() {
	var head *Node
	for i := range 6 {
		head = &Node{Name: fmt.Sprint(i), Next: head}
	}

	core, logs := observer.New(zapcore.DebugLevel)
	var buf bytes.Buffer
	w, err := NewWriter(&buf, s.reg, WithMaxDepth(3), WithLogger(&log.MLogger{Logger: zap.New(core)}))
	s.Require().NoError(err)
	s.ErrorIs(w.WriteObject(head), merr.ErrDepthExceeded)
	s.Equal(1, logs.FilterMessage("recursion too deep").FilterField(log.FieldDepth(4)).Len())

	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(head))
	})
	r := s.decode(s.reg, data, WithMaxDepth(3))
	_, err = r.ReadObject()
	s.ErrorIs(err, merr.ErrDepthExceeded)

	r = s.decode(s.reg, data)
	got, err := ReadAs[*Node](r)
	s.NoError(err)
	s.Equal(head, got)
}

func (s *StreamSuite) TestClosed() {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, s.reg, WithBufferSize(64))
	s.Require().NoError(err)
	s.NoError(w.WriteObject(&Node{Name: "n"}))
	s.NoError(w.Close())
	s.NoError(w.Close())
	s.ErrorIs(w.WriteObject(&Node{}), merr.ErrStreamClosed)
	s.ErrorIs(w.WriteInt32(1), merr.ErrStreamClosed)
	s.ErrorIs(w.Reset(), merr.ErrStreamClosed)

	r := s.decode(s.reg, buf.Bytes())
	_, err = r.ReadObject()
	s.NoError(err)
	s.NoError(r.Close())
	s.NoError(r.Close())
	_, err = r.ReadObject()
	s.ErrorIs(err, merr.ErrStreamClosed)
}

func (s *StreamSuite) TestInvalidHeader() {
	_, err := NewReader(bytes.NewReader([]byte{0xac, 0xed, 0x00, 0x04}), s.reg)
	s.ErrorIs(err, merr.ErrStreamCorrupted)
	s.Contains(err.Error(), "ACED0004")

	_, err = NewReader(bytes.NewReader([]byte{0xac}), s.reg)
	s.Error(err)

	_, err = NewReader(nil, s.reg)
	s.ErrorIs(err, merr.ErrParameterInvalid)
	_, err = NewWriter(nil, s.reg)
	s.ErrorIs(err, merr.ErrParameterInvalid)
}

func (s *StreamSuite) TestHeaderBytes() {
	data := s.encode(s.reg, func(w *Writer) {})
	s.Equal([]byte{0xac, 0xed, 0x00, 0x05}, data)

	data = s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(nil))
	})
	s.Equal([]byte{0xac, 0xed, 0x00, 0x05, wire.TcNull}, data)
}

func (s *StreamSuite) TestConcurrentWriters() {
	const (
		workers = 8
		perWork = 16
	)
	var buf bytes.Buffer
	w, err := NewWriter(&buf, s.reg)
	s.Require().NoError(err)

	wg := sync.WaitGroup{}
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range perWork {
				s.NoError(w.WriteObject(&Node{Name: fmt.Sprintf("%d-%d", i, j)}))
			}
		}()
	}
	wg.Wait()
	s.NoError(w.Close())

	r := s.decode(s.reg, buf.Bytes())
	names := typeutil.NewSet[string]()
	for range workers * perWork {
		n, err := ReadAs[*Node](r)
		s.Require().NoError(err)
		names.Insert(n.Name)
	}
	s.Equal(workers*perWork, names.Len())
	s.True(names.Contain("0-0", "7-15"))
}

func (s *StreamSuite) TestReadAsMismatch() {
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(&Node{Name: "n"}))
		s.NoError(w.WriteObject(int32(3)))
	})
	r := s.decode(s.reg, data)
	_, err := ReadAs[string](r)
	s.ErrorIs(err, merr.ErrTypeMismatch)

	v, err := ReadAs[int64](r)
	s.NoError(err)
	s.Equal(int64(3), v)

	p, err := As[*int32](int32(4))
	s.NoError(err)
	s.Equal(int32(4), *p)
}

func TestStream(t *testing.T) {
	suite.Run(t, new(StreamSuite))
}
