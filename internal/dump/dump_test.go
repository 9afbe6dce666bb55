package dump

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/objstream-go/internal/stream/wire"
	"github.com/lk2023060901/objstream-go/pkg/objstream"
	"github.com/lk2023060901/objstream-go/pkg/serializer"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

type node struct {
	Name string
	Next *node
}

type base struct {
	ID int64
}

type derived struct {
	base
	Tags []string
}

type mood int32

const (
	happy mood = iota + 1
	grumpy
)

type ticket struct {
	Seat int32
}

type holder struct {
	Label string
	Ref   any
}

type packet struct {
	Kind string
}

type DumpSuite struct {
	suite.Suite

	reg *objstream.Registry
}

func (s *DumpSuite) SetupTest() {
	s.reg = objstream.NewRegistry()
	s.Require().NoError(s.reg.Register(node{}, objstream.WithName("test.Node")))
	s.Require().NoError(s.reg.Register(base{}, objstream.WithName("test.Base")))
	s.Require().NoError(s.reg.Register(derived{}, objstream.WithName("test.Derived")))
	s.Require().NoError(objstream.RegisterEnum(s.reg, map[string]mood{"HAPPY": happy, "GRUMPY": grumpy}, objstream.WithName("test.Mood")))
	s.Require().NoError(s.reg.Register(ticket{}, objstream.WithName("test.Ticket"),
		objstream.WriteObjectHook(func(v *ticket, out *objstream.ObjectOutput) error {
			if err := out.DefaultWriteObject(); err != nil {
				return err
			}
			return out.WriteInt32(99)
		})))
	s.Require().NoError(s.reg.Register(packet{}, objstream.WithName("test.Packet"), objstream.ExternalHooks(
		func(v *packet, out *objstream.ObjectOutput) error {
			return out.WriteUTF(v.Kind)
		},
		func(v *packet, in *objstream.ObjectInput) error {
			var err error
			v.Kind, err = in.ReadUTF()
			return err
		})))
}

func (s *DumpSuite) encode(fn func(w *objstream.Writer)) []byte {
	var buf bytes.Buffer
	w, err := objstream.NewWriter(&buf, s.reg)
	s.Require().NoError(err)
	fn(w)
	s.Require().NoError(w.Close())
	return buf.Bytes()
}

func (s *DumpSuite) TestObjectGraph() {
	a := &node{Name: "a"}
	a.Next = &node{Name: "b", Next: a}
	data := s.encode(func(w *objstream.Writer) {
		s.NoError(w.WriteObject(a))
	})

	st, err := Parse(bytes.NewReader(data), DefaultConfig())
	s.Require().NoError(err)
	s.Equal(wire.StreamVersion, st.Version)
	s.Require().Len(st.Classes, 1)
	c := st.Classes[0]
	s.Equal("test.Node", c.Name)
	s.Equal(wire.BaseWireHandle, c.Handle)
	s.Equal(wire.ScSerializable, c.Flags)
	s.Equal([]Field{{Name: "Name", Signature: "Lstring;"}, {Name: "Next", Signature: "Ltest.Node;"}}, c.Fields)

	s.Require().Len(st.Contents, 1)
	root := st.Contents[0]
	s.Equal(KindObject, root.Kind)
	s.Equal("test.Node", root.Class)
	s.Require().Len(root.Slots, 1)
	fields := root.Slots[0].Fields
	s.Require().Len(fields, 2)
	s.Equal("a", fields[0].Value.Text)

	next := fields[1].Value
	s.Equal(KindObject, next.Kind)
	back := next.Slots[0].Fields[1].Value
	s.Equal(KindRef, back.Kind)
	s.Equal(root.Handle, back.Ref)
}

func (s *DumpSuite) TestRecordKinds() {
	data := s.encode(func(w *objstream.Writer) {
		s.NoError(w.WriteObject(&derived{base: base{ID: 7}, Tags: []string{"x", "y"}}))
		s.NoError(w.WriteObject(grumpy))
		s.NoError(w.WriteObject([]byte{1, 2, 3}))
		s.NoError(w.WriteObject([]int16{4, 5}))
		s.NoError(w.WriteObject(&ticket{Seat: 12}))
		s.NoError(w.WriteObject(&packet{Kind: "ping"}))
		s.NoError(w.WriteInt32(42))
		s.NoError(w.Reset())
		s.NoError(w.WriteObject("tail"))
	})

	st, err := Parse(bytes.NewReader(data), DefaultConfig())
	s.Require().NoError(err)
	kinds := make([]string, 0, len(st.Contents))
	for _, v := range st.Contents {
		kinds = append(kinds, v.Kind)
	}
	s.Equal([]string{
		KindObject, KindEnum, KindArray, KindArray, KindObject, KindObject, KindBlock, KindReset, KindString,
	}, kinds)

	d := st.Contents[0]
	s.Require().Len(d.Slots, 2)
	s.Equal("test.Base", d.Slots[0].Class)
	s.Equal(int64(7), d.Slots[0].Fields[0].Value.Prim)
	tags := d.Slots[1].Fields[0].Value
	s.Equal("[Lstring;", tags.Class)
	s.Len(tags.Elements, 2)

	s.Equal("GRUMPY", st.Contents[1].Text)
	s.Equal([]byte{1, 2, 3}, st.Contents[2].Data)
	s.Equal(int16(5), st.Contents[3].Elements[1].Prim)

	custom := st.Contents[4].Slots[0].Custom
	s.Require().Len(custom, 1)
	s.Equal(KindBlock, custom[0].Kind)
	s.Equal([]byte{0, 0, 0, 99}, custom[0].Data)

	ext := st.Contents[5].Slots[0]
	s.Equal("test.Packet", ext.Class)
	s.Require().Len(ext.Custom, 1)
	s.Equal(6, ext.Custom[0].Length)

	s.Equal([]byte{0, 0, 0, 42}, st.Contents[6].Data)
	s.Equal(wire.BaseWireHandle, st.Contents[8].Handle)
}

func (s *DumpSuite) TestAbortRecord() {
	s.Require().NoError(s.reg.Register(holder{}, objstream.WithName("test.Holder")))
	data := s.encode(func(w *objstream.Writer) {
		s.Error(w.WriteObject(&holder{Label: "bad", Ref: make(chan int)}))
		s.NoError(w.WriteObject(&node{Name: "after"}))
	})

	st, err := Parse(bytes.NewReader(data), DefaultConfig())
	s.Require().NoError(err)
	s.Require().Len(st.Contents, 2)
	abort := st.Contents[0]
	s.Equal(KindException, abort.Kind)
	s.Require().Len(abort.Elements, 1)
	s.Equal("objstream.StreamError", abort.Elements[0].Class)
	s.Equal("test.Node", st.Contents[1].Class)
}

func (s *DumpSuite) TestRender() {
	data := s.encode(func(w *objstream.Writer) {
		s.NoError(w.WriteObject(&node{Name: "a"}))
		s.NoError(w.WriteObject(make([]byte, 100)))
	})
	st, err := Parse(bytes.NewReader(data), DefaultConfig())
	s.Require().NoError(err)

	var text bytes.Buffer
	s.Require().NoError(Render(&text, st, DefaultConfig()))
	out := text.String()
	s.Contains(out, "version 5")
	s.Contains(out, "007E0000 test.Node versionUID=")
	s.Contains(out, "flags=SC_SERIALIZABLE")
	s.Contains(out, "Lstring; Name")
	s.Contains(out, "object 007E0003 test.Node")
	s.Contains(out, `Name: string 007E0004 "a"`)
	s.Contains(out, "Next: null")
	s.Contains(out, "[100] "+strings.Repeat("00", defaultMaxBytes)+"...")

	var js bytes.Buffer
	s.Require().NoError(Render(&js, st, Config{Format: "JSON"}))
	var decoded Stream
	s.Require().NoError(serializer.JSONSerializer{}.Unmarshal(js.Bytes(), &decoded))
	s.Len(decoded.Classes, 2)
	s.Equal("test.Node", decoded.Contents[0].Class)

	s.ErrorIs(Render(&js, st, Config{Format: "xml"}), merr.ErrParameterInvalid)
}

func (s *DumpSuite) TestFlagString() {
	s.Equal("0", FlagString(0))
	s.Equal("SC_WRITE_METHOD|SC_SERIALIZABLE", FlagString(wire.ScWriteMethod|wire.ScSerializable))
	s.Equal("SC_EXTERNALIZABLE|SC_BLOCK_DATA", FlagString(wire.ScExternalizable|wire.ScBlockData))
}

func (s *DumpSuite) TestCorrupted() {
	data := s.encode(func(w *objstream.Writer) {
		s.NoError(w.WriteObject(&node{Name: "a"}))
		s.NoError(w.WriteObject(&node{Name: "b"}))
	})

	_, err := Parse(bytes.NewReader([]byte{0xAC, 0xED, 0x00, 0x04}), DefaultConfig())
	s.ErrorIs(err, merr.ErrStreamCorrupted)
	_, err = Parse(nil, DefaultConfig())
	s.ErrorIs(err, merr.ErrParameterInvalid)

	// 截断的流返回已解析的部分
	st, err := Parse(bytes.NewReader(data[:len(data)-2]), DefaultConfig())
	s.ErrorIs(err, merr.ErrIoUnexpectEOF)
	s.Require().NotNil(st)
	s.Len(st.Contents, 1)

	bad := append(bytes.Clone(data[:4]), wire.TcReference, 0x00, 0x7E, 0x00, 0x05)
	_, err = Parse(bytes.NewReader(bad), DefaultConfig())
	s.ErrorIs(err, merr.ErrStreamCorrupted)

	_, err = Parse(bytes.NewReader(data), Config{MaxDepth: 1})
	s.ErrorIs(err, merr.ErrDepthExceeded)
}

func (s *DumpSuite) TestCircularAncestry() {
	var buf bytes.Buffer
	buf.Write([]byte{0xAC, 0xED, 0x00, 0x05, wire.TcObject, wire.TcClassDesc})
	buf.Write([]byte{0x00, 0x04})
	buf.WriteString("Loop")
	buf.Write(make([]byte, 8))
	buf.Write([]byte{wire.ScSerializable, 0x00, 0x00, wire.TcEndBlockData})
	buf.Write([]byte{wire.TcReference, 0x00, 0x7E, 0x00, 0x00})

	_, err := Parse(&buf, DefaultConfig())
	s.ErrorIs(err, merr.ErrCircularAncestry)
}

func TestDump(t *testing.T) {
	suite.Run(t, new(DumpSuite))
}
