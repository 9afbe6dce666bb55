package objstream

import (
	"bytes"
	"strings"

	"github.com/stretchr/testify/suite"
)

type Node struct {
	Name string
	Next *Node
}

type Point struct {
	X, Y int32
}

type Shape struct {
	Label    string
	Origin   Point
	Points   []*Point
	Tags     []string
	Data     []byte
	Scores   []float64
	Grid     [2]int16
	Ref      any
	Count    int
	Ratio    float32
	Flag     bool
	Small    int8
	Unsigned uint32
	Ch       uint16
	Skipped  string `objstream:"-"`
	renamed  int64  `objstream:"r"`
	notify   func()
}

type Color int32

const (
	Red Color = iota + 1
	Green
	Blue
)

type Level string

const (
	LevelLow  Level = "low"
	LevelHigh Level = "high"
)

type Palette struct {
	Primary Color
	Others  []Color
	Level   Level
}

type Animal struct {
	Name string
	Legs int32
}

type Dog struct {
	Animal
	Breed string
}

type Session struct {
	ID    string
	Seq   int32
	Token string `objstream:"-"`
}

type Temperature struct {
	Celsius float64
	Unit    string
}

type Blob struct {
	Kind    string
	Payload []byte
}

type Interned struct {
	Key string
}

type Secret struct {
	Value string
}

type Redacted struct {
	Length int32
}

type Holder struct {
	Name  string
	Extra *Payload
}

type Payload struct {
	Inner *Leaf
}

type Leaf struct {
	Value int32
}

// testStream 提供写入后读取的辅助方法。
type testStream struct {
	suite.Suite
	reg *Registry
}

func (s *testStream) encode(reg *Registry, fn func(w *Writer), opts ...Option) []byte {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, reg, opts...)
	s.Require().NoError(err)
	fn(w)
	s.Require().NoError(w.Close())
	return buf.Bytes()
}

func (s *testStream) decode(reg *Registry, data []byte, opts ...Option) *Reader {
	r, err := NewReader(bytes.NewReader(data), reg, opts...)
	s.Require().NoError(err)
	return r
}

func (s *testStream) mustRegister(reg *Registry, sample any, opts ...TypeOption) {
	s.Require().NoError(reg.Register(sample, opts...))
}

// registerCommon 登记各用例共用的类型，名称固定以便读写两端各自登记。
func (s *testStream) registerCommon(reg *Registry) {
	s.mustRegister(reg, Node{}, WithName("test.Node"))
	s.mustRegister(reg, Point{}, WithName("test.Point"))
	s.mustRegister(reg, Shape{}, WithName("test.Shape"))
	s.mustRegister(reg, Animal{}, WithName("test.Animal"))
	s.mustRegister(reg, Dog{}, WithName("test.Dog"))
	s.Require().NoError(RegisterEnum(reg, map[string]Color{"RED": Red, "GREEN": Green, "BLUE": Blue}, WithName("test.Color")))
	s.Require().NoError(RegisterEnum(reg, map[string]Level{"LOW": LevelLow, "HIGH": LevelHigh}, WithName("test.Level")))
	s.mustRegister(reg, Palette{}, WithName("test.Palette"))
}

func newCommonRegistry(s *testStream) *Registry {
	reg := NewRegistry()
	s.registerCommon(reg)
	return reg
}

func upper(v string) string {
	return strings.ToUpper(v)
}
