package objstream

import (
	"encoding/binary"
	"reflect"
	"runtime"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lk2023060901/objstream-go/internal/stream/wire"
	"github.com/lk2023060901/objstream-go/pkg/log"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

type PointV1 struct {
	X, Y int32
}

type PointV2 struct {
	X, Y, Z int32
}

type RecordV1 struct {
	Age int32
}

type RecordV2 struct {
	Age int64
}

type ProfileV1 struct {
	Name   string
	Age    int32
	Legacy string
}

type ProfileV2 struct {
	Name  string
	Age   int32
	Email string
	Score float64
}

type CatV1 struct {
	Name string
}

type Pet struct {
	Owner string
}

type CatV2 struct {
	Pet
	Name string
}

type BaseV1 struct {
	ID int32
}

type ItemV1 struct {
	BaseV1
	Title string
}

type ItemV2 struct {
	Title string
}

type holderNoExtra struct {
	Name string
}

type holderAnyExtra struct {
	Name  string
	Extra any
}

type Widget struct {
	Size int32
}

type kindStruct struct {
	V int32
}

// rawStream 手工拼装流字节，用于构造写端不会产生的记录。
type rawStream struct {
	buf []byte
}

func newRawStream() *rawStream {
	return (&rawStream{}).u16(wire.StreamMagic).u16(wire.StreamVersion)
}

func (r *rawStream) u8(vs ...byte) *rawStream {
	r.buf = append(r.buf, vs...)
	return r
}

func (r *rawStream) u16(v uint16) *rawStream {
	r.buf = binary.BigEndian.AppendUint16(r.buf, v)
	return r
}

func (r *rawStream) i32(v int32) *rawStream {
	r.buf = binary.BigEndian.AppendUint32(r.buf, uint32(v))
	return r
}

func (r *rawStream) i64(v int64) *rawStream {
	r.buf = binary.BigEndian.AppendUint64(r.buf, uint64(v))
	return r
}

func (r *rawStream) utf(s string) *rawStream {
	return r.u16(uint16(len(s))).u8([]byte(s)...)
}

// classDesc 写出一个没有字段、注解为空的普通描述符，不含父描述符。
func (r *rawStream) classDesc(name string, suid int64, flags byte) *rawStream {
	return r.u8(wire.TcClassDesc).utf(name).i64(suid).u8(flags).u16(0).u8(wire.TcEndBlockData)
}

type EvolutionSuite struct {
	testStream
}

func (s *EvolutionSuite) SetupTest() {
	s.reg = NewRegistry()
	s.mustRegister(s.reg, Node{}, WithName("test.Node"))
}

func (s *EvolutionSuite) reader(register func(reg *Registry)) *Registry {
	reg := NewRegistry()
	s.mustRegister(reg, Node{}, WithName("test.Node"))
	if register != nil {
		register(reg)
	}
	return reg
}

func (s *EvolutionSuite) TestVersionMismatch() {
	s.mustRegister(s.reg, PointV1{}, WithName("test.Point"))
	p := &PointV1{X: 1, Y: 2}
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(p))
		s.NoError(w.WriteObject(p))
		s.NoError(w.WriteObject(&Node{Name: "after"}))
	})

	reg := s.reader(func(reg *Registry) {
		s.mustRegister(reg, PointV2{}, WithName("test.Point"))
	})
	r := s.decode(reg, data)
	_, err := r.ReadObject()
	s.ErrorIs(err, merr.ErrInvalidClass)
	s.Contains(err.Error(), "local class incompatible")

	// 回引到失败的对象得到同样的错误
	_, err = r.ReadObject()
	s.ErrorIs(err, merr.ErrInvalidClass)

	n, err := ReadAs[*Node](r)
	s.NoError(err)
	s.Equal("after", n.Name)
}

func (s *EvolutionSuite) TestIncompatibleFieldType() {
	s.mustRegister(s.reg, RecordV1{}, WithName("test.Record"), WithVersionUID(7))
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(&RecordV1{Age: 3}))
	})

	reg := s.reader(func(reg *Registry) {
		s.mustRegister(reg, RecordV2{}, WithName("test.Record"), WithVersionUID(7))
	})
	_, err := s.decode(reg, data).ReadObject()
	s.ErrorIs(err, merr.ErrInvalidClass)
	s.Contains(err.Error(), "incompatible types for field Age")
}

func (s *EvolutionSuite) TestFieldEvolution() {
	s.mustRegister(s.reg, ProfileV1{}, WithName("test.Profile"), WithVersionUID(5))
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(&ProfileV1{Name: "ann", Age: 30, Legacy: "old"}))
	})

	reg := s.reader(func(reg *Registry) {
		s.mustRegister(reg, ProfileV2{}, WithName("test.Profile"), WithVersionUID(5))
	})
	got, err := ReadAs[*ProfileV2](s.decode(reg, data))
	s.Require().NoError(err)
	s.Equal(&ProfileV2{Name: "ann", Age: 30}, got)
}

func (s *EvolutionSuite) TestAncestorAddedLocally() {
	s.mustRegister(s.reg, CatV1{}, WithName("test.Cat"), WithVersionUID(9))
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(&CatV1{Name: "tom"}))
	})

	reg := s.reader(func(reg *Registry) {
		s.mustRegister(reg, Pet{}, WithName("test.Pet"), ReadObjectNoDataHook(func(p *Pet) error {
			p.Owner = "nobody"
			return nil
		}))
		s.mustRegister(reg, CatV2{}, WithName("test.Cat"), WithVersionUID(9))
	})
	got, err := ReadAs[*CatV2](s.decode(reg, data))
	s.Require().NoError(err)
	s.Equal(&CatV2{Pet: Pet{Owner: "nobody"}, Name: "tom"}, got)
}

func (s *EvolutionSuite) TestAncestorRemovedLocally() {
	s.mustRegister(s.reg, BaseV1{}, WithName("test.Base"))
	s.mustRegister(s.reg, ItemV1{}, WithName("test.Item"), WithVersionUID(11))
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(&ItemV1{BaseV1: BaseV1{ID: 4}, Title: "book"}))
	})

	reg := s.reader(func(reg *Registry) {
		s.mustRegister(reg, ItemV2{}, WithName("test.Item"), WithVersionUID(11))
	})
	got, err := ReadAs[*ItemV2](s.decode(reg, data))
	s.Require().NoError(err)
	s.Equal(&ItemV2{Title: "book"}, got)
}

func (s *EvolutionSuite) registerHolder(reg *Registry) {
	s.mustRegister(reg, Leaf{}, WithName("test.Leaf"), WithVersionUID(3))
	s.mustRegister(reg, Payload{}, WithName("test.Payload"), WithVersionUID(2))
	s.mustRegister(reg, Holder{}, WithName("test.Holder"), WithVersionUID(1))
}

func (s *EvolutionSuite) holderStream() []byte {
	s.registerHolder(s.reg)
	return s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(&Holder{Name: "h", Extra: &Payload{Inner: &Leaf{Value: 1}}}))
		s.NoError(w.WriteObject(&Node{Name: "after"}))
	})
}

func (s *EvolutionSuite) TestUnresolvedIsolation() {
	data := s.holderStream()

	// 读端没有 Leaf：Leaf、引用它的 Payload 和 Holder 都失败，之后的对象不受影响
	reg := s.reader(func(reg *Registry) {
		s.mustRegister(reg, Payload{}, WithName("test.Payload"), WithVersionUID(2))
		s.mustRegister(reg, Holder{}, WithName("test.Holder"), WithVersionUID(1))
	})
	r := s.decode(reg, data)
	_, err := r.ReadObject()
	s.ErrorIs(err, merr.ErrClassNotFound)
	s.Contains(err.Error(), "test.Leaf")

	n, err := ReadAs[*Node](r)
	s.NoError(err)
	s.Equal("after", n.Name)
}

func (s *EvolutionSuite) TestUnresolvedFiller() {
	data := s.holderStream()

	// 本地类型没有 Extra 字段，无法解析的 Payload 只是被跳过
	reg := s.reader(func(reg *Registry) {
		s.mustRegister(reg, holderNoExtra{}, WithName("test.Holder"), WithVersionUID(1))
	})
	r := s.decode(reg, data)
	got, err := ReadAs[*holderNoExtra](r)
	s.Require().NoError(err)
	s.Equal("h", got.Name)

	n, err := ReadAs[*Node](r)
	s.NoError(err)
	s.Equal("after", n.Name)
}

func (s *EvolutionSuite) TestUnresolvedMiddleType() {
	s.registerHolder(s.reg)
	leaf := &Leaf{Value: 7}
	payload := &Payload{Inner: leaf}
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(&Holder{Name: "h", Extra: payload}))
		s.NoError(w.WriteObject(leaf))
		s.NoError(w.WriteObject(payload))
	})

	// 读端只缺 Payload：它引用的 Leaf 照常读出，之后的回引仍然有效
	reg := s.reader(func(reg *Registry) {
		s.mustRegister(reg, Leaf{}, WithName("test.Leaf"), WithVersionUID(3))
		s.mustRegister(reg, holderNoExtra{}, WithName("test.Holder"), WithVersionUID(1))
	})
	core, logs := observer.New(zapcore.DebugLevel)
	r := s.decode(reg, data, WithLogger(&log.MLogger{Logger: zap.New(core)}))
	holder, err := ReadAs[*holderNoExtra](r)
	s.Require().NoError(err)
	s.Equal("h", holder.Name)

	got, err := ReadAs[*Leaf](r)
	s.Require().NoError(err)
	s.Equal(int32(7), got.Value)

	// 回引无法解析的对象得到它记录的解析错误
	_, err = r.ReadObject()
	s.ErrorIs(err, merr.ErrClassNotFound)
	s.Contains(err.Error(), "test.Payload")

	// Payload 作为 Holder 的字段在第二层读出
	failed := logs.FilterMessage("handle failed")
	s.NotZero(failed.Len())
	s.Equal(failed.Len(), failed.FilterField(log.FieldDepth(2)).Len())
	s.Contains(failed.All()[0].ContextMap(), log.FieldNameHandle)
}

func (s *EvolutionSuite) TestUnresolvedPoisonsHolder() {
	data := s.holderStream()

	reg := s.reader(func(reg *Registry) {
		s.mustRegister(reg, holderAnyExtra{}, WithName("test.Holder"), WithVersionUID(1))
	})
	r := s.decode(reg, data)
	_, err := r.ReadObject()
	s.ErrorIs(err, merr.ErrClassNotFound)
	s.Contains(err.Error(), "test.Payload")

	_, err = ReadAs[*Node](r)
	s.NoError(err)
}

func (s *EvolutionSuite) TestAliases() {
	s.mustRegister(s.reg, Widget{}, WithName("old.Widget"), WithVersionUID(21))
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(&Widget{Size: 8}))
	})

	reg := s.reader(func(reg *Registry) {
		s.mustRegister(reg, Widget{}, WithName("new.Gadget"), WithAliases("old.Widget"), WithVersionUID(21))
	})
	got, err := ReadAs[*Widget](s.decode(reg, data))
	s.Require().NoError(err)
	s.Equal(int32(8), got.Size)

	desc, err := reg.LookupName("old.Widget")
	s.NoError(err)
	s.Equal("new.Gadget", desc.Name())
}

func (s *EvolutionSuite) TestClassResolver() {
	s.mustRegister(s.reg, Widget{}, WithName("legacy.Widget"), WithVersionUID(21))
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(&Widget{Size: 8}))
		s.NoError(w.WriteObject(&Node{Name: "after"}))
	})

	reg := s.reader(func(reg *Registry) {
		s.mustRegister(reg, Widget{}, WithName("current.Widget"), WithVersionUID(21))
	})
	resolver := func(name string) (reflect.Type, error) {
		if name == "legacy.Widget" {
			return reflect.TypeFor[Widget](), nil
		}
		return nil, nil
	}
	r := s.decode(reg, data, WithClassResolver(resolver))
	got, err := ReadAs[*Widget](r)
	s.Require().NoError(err)
	s.Equal(int32(8), got.Size)
	_, err = ReadAs[*Node](r)
	s.NoError(err)

	// 解析函数返回的错误记为类型无法解析
	failing := func(name string) (reflect.Type, error) {
		return nil, errors.New("denied")
	}
	r = s.decode(reg, data, WithClassResolver(failing))
	_, err = r.ReadObject()
	s.ErrorIs(err, merr.ErrClassNotFound)
	s.Contains(err.Error(), "denied")
}

func (s *EvolutionSuite) TestEnumBoundToStruct() {
	s.Require().NoError(RegisterEnum(s.reg, map[string]Color{"RED": Red}, WithName("test.Kind")))
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(Red))
		s.NoError(w.WriteObject(&Node{Name: "after"}))
	})

	reg := s.reader(func(reg *Registry) {
		s.mustRegister(reg, kindStruct{}, WithName("test.Kind"))
	})
	r := s.decode(reg, data)
	_, err := r.ReadObject()
	s.ErrorIs(err, merr.ErrInvalidClass)
	_, err = ReadAs[*Node](r)
	s.NoError(err)
}

func (s *EvolutionSuite) TestMissingEnumConstant() {
	s.Require().NoError(RegisterEnum(s.reg, map[string]Color{"RED": Red, "BLUE": Blue}, WithName("test.Color")))
	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(Blue))
	})

	reg := s.reader(func(reg *Registry) {
		s.Require().NoError(RegisterEnum(reg, map[string]Color{"RED": Red}, WithName("test.Color")))
	})
	_, err := s.decode(reg, data).ReadObject()
	s.ErrorIs(err, merr.ErrInvalidObject)
	s.Contains(err.Error(), "BLUE")
}

func (s *EvolutionSuite) TestCircularAncestry() {
	data := newRawStream().
		u8(wire.TcObject).
		classDesc("test.Loop", 1, wire.ScSerializable).
		classDesc("test.Other", 2, wire.ScSerializable).
		u8(wire.TcReference).i32(wire.BaseWireHandle).
		buf
	_, err := s.decode(s.reg, data).ReadObject()
	s.ErrorIs(err, merr.ErrCircularAncestry)
}

func (s *EvolutionSuite) TestCorruptedRecords() {
	cases := []struct {
		name string
		data []byte
		want error
	}{
		{
			name: "invalid type code",
			data: newRawStream().u8(0x00).buf,
			want: merr.ErrStreamCorrupted,
		},
		{
			name: "invalid handle",
			data: newRawStream().u8(wire.TcReference).i32(wire.BaseWireHandle + 5).buf,
			want: merr.ErrStreamCorrupted,
		},
		{
			name: "negative array length",
			data: newRawStream().u8(wire.TcArray).classDesc("[I", 0, wire.ScSerializable).u8(wire.TcNull).i32(-1).buf,
			want: merr.ErrStreamCorrupted,
		},
		{
			name: "array length without data",
			data: newRawStream().u8(wire.TcArray).classDesc("[J", 0, wire.ScSerializable).u8(wire.TcNull).i32(0x7fffffff).buf,
			want: merr.ErrIoUnexpectEOF,
		},
		{
			name: "enum with version",
			data: newRawStream().u8(wire.TcEnum).classDesc("test.Color", 5, wire.ScSerializable|wire.ScEnum).buf,
			want: merr.ErrStreamCorrupted,
		},
		{
			name: "conflicting flags",
			data: newRawStream().u8(wire.TcObject).classDesc("test.X", 1, wire.ScSerializable|wire.ScExternalizable).buf,
			want: merr.ErrStreamCorrupted,
		},
		{
			name: "negative interface count",
			data: newRawStream().u8(wire.TcObject, wire.TcProxyClassDesc).i32(-1).buf,
			want: merr.ErrStreamCorrupted,
		},
		{
			name: "interface limit",
			data: newRawStream().u8(wire.TcObject, wire.TcProxyClassDesc).i32(70000).buf,
			want: merr.ErrInvalidObject,
		},
		{
			name: "unexpected end of block data",
			data: newRawStream().u8(wire.TcObject).u8(wire.TcEndBlockData).buf,
			want: merr.ErrStreamCorrupted,
		},
	}
	for _, c := range cases {
		s.Run(c.name, func() {
			_, err := s.decode(s.reg, c.data).ReadObject()
			s.ErrorIs(err, c.want)
		})
	}
}

func (s *EvolutionSuite) TestHugeArrayLength() {
	data := newRawStream().u8(wire.TcArray).classDesc("[J", 0, wire.ScSerializable).u8(wire.TcNull).i32(50_000_000).buf

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err := s.decode(s.reg, data).ReadObject()
	runtime.ReadMemStats(&after)

	s.ErrorIs(err, merr.ErrIoUnexpectEOF)
	s.Less(after.TotalAlloc-before.TotalAlloc, uint64(16<<20))
}

func TestEvolution(t *testing.T) {
	suite.Run(t, new(EvolutionSuite))
}
