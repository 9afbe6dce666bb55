// Package dump 在不依赖本地类型的情况下解析对象流，输出记录结构。
package dump

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/objstream-go/internal/stream/blockdata"
	"github.com/lk2023060901/objstream-go/internal/stream/wire"
	"github.com/lk2023060901/objstream-go/pkg/log"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
	"github.com/lk2023060901/objstream-go/pkg/util/typeutil"
)

// abortError 在对象中途遇到中止记录时沿调用栈返回，顶层把中止记录作为一条内容。
type abortError struct {
	record *Value
}

func (e *abortError) Error() string {
	return "stream contains abort record"
}

type parser struct {
	in      *blockdata.Input
	cfg     Config
	stream  *Stream
	handles []any
	depth   int
}

// Parse 解析 r 中的整条流。
//
// 出错时返回已经解析出的部分以及错误，Contents 中包含出错之前的全部顶层记录。
func Parse(r io.Reader, cfg Config) (*Stream, error) {
	if r == nil {
		return nil, merr.WrapErrParameterInvalidMsg("dump: nil reader")
	}
	cfg.initialize()
	p := &parser{in: blockdata.NewInput(r), cfg: cfg}
	defer p.in.Release()

	magic, err := p.in.ReadInt16()
	if err != nil {
		return nil, err
	}
	version, err := p.in.ReadInt16()
	if err != nil {
		return nil, err
	}
	if uint16(magic) != wire.StreamMagic || uint16(version) != wire.StreamVersion {
		return nil, merr.WrapErrStreamCorruptedf("invalid stream header: %04X%04X", uint16(magic), uint16(version))
	}
	p.stream = &Stream{Version: uint16(version)}

	for {
		b, err := p.in.Peek()
		if err != nil {
			return p.stream, err
		}
		if b < 0 {
			break
		}
		v, err := p.readContent()
		var abort *abortError
		if errors.As(err, &abort) {
			v, err = abort.record, nil
		}
		if err != nil {
			return p.stream, errors.Wrapf(err, "content %d at offset %d", len(p.stream.Contents), p.in.Count())
		}
		p.stream.Contents = append(p.stream.Contents, v)
	}
	log.Debug("stream parsed",
		log.FieldComponent("dump"),
		zap.Int("classes", len(p.stream.Classes)),
		zap.Int("contents", len(p.stream.Contents)),
		zap.Int64("bytes", p.in.Count()))
	return p.stream, nil
}

func (p *parser) assign(obj any) int32 {
	p.handles = append(p.handles, obj)
	return wire.BaseWireHandle + int32(len(p.handles)-1)
}

func (p *parser) lookup(h int32) (any, error) {
	idx := int(h - wire.BaseWireHandle)
	if h < wire.BaseWireHandle || idx >= len(p.handles) {
		return nil, merr.WrapErrStreamCorruptedf("invalid handle value: %08X", h)
	}
	return p.handles[idx], nil
}

func (p *parser) reset() {
	p.handles = p.handles[:0]
}

// readContent 读取一条内容记录：数据块或对象。
func (p *parser) readContent() (*Value, error) {
	tc, err := p.in.PeekByte()
	if err != nil {
		return nil, err
	}
	if tc == wire.TcBlockData || tc == wire.TcBlockDataLong {
		return p.readBlock()
	}
	return p.readObject()
}

func (p *parser) readBlock() (*Value, error) {
	tc, err := p.in.ReadByte()
	if err != nil {
		return nil, err
	}
	var n int64
	if tc == wire.TcBlockData {
		b, err := p.in.ReadByte()
		if err != nil {
			return nil, err
		}
		n = int64(b)
	} else {
		l, err := p.in.ReadInt32()
		if err != nil {
			return nil, err
		}
		if l < 0 {
			return nil, merr.WrapErrStreamCorruptedf("illegal block data header length: %d", l)
		}
		n = int64(l)
	}
	data, err := p.readBytes(n)
	if err != nil {
		return nil, err
	}
	return &Value{Kind: KindBlock, Length: len(data), Data: data}, nil
}

// readBytes 读取 n 个字节，长度来自流中，按实际读到的数据增长缓冲区。
func (p *parser) readBytes(n int64) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, p.in, n); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, merr.WrapErrIoUnexpectEOF("read", io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *parser) readObject() (*Value, error) {
	tc, err := p.in.ReadByte()
	if err != nil {
		return nil, err
	}
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > p.cfg.MaxDepth {
		return nil, merr.WrapErrDepthExceeded(p.depth, p.cfg.MaxDepth)
	}

	switch tc {
	case wire.TcNull:
		return &Value{Kind: KindNull}, nil
	case wire.TcReference:
		h, err := p.in.ReadInt32()
		if err != nil {
			return nil, err
		}
		if _, err := p.lookup(h); err != nil {
			return nil, err
		}
		return &Value{Kind: KindRef, Ref: h}, nil
	case wire.TcClass:
		c, err := p.readClassDesc()
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, merr.WrapErrStreamCorrupted("null class descriptor")
		}
		return &Value{Kind: KindClass, Handle: p.assign(nil), Class: c.Name}, nil
	case wire.TcClassDesc, wire.TcProxyClassDesc:
		c, err := p.readDescBody(tc)
		if err != nil {
			return nil, err
		}
		return &Value{Kind: KindClassDesc, Handle: c.Handle, Class: c.Name}, nil
	case wire.TcString, wire.TcLongString:
		s, err := p.readUTF(tc)
		if err != nil {
			return nil, err
		}
		return &Value{Kind: KindString, Handle: p.assign(s), Text: s}, nil
	case wire.TcArray:
		return p.readArray()
	case wire.TcEnum:
		return p.readEnum()
	case wire.TcObject:
		return p.readOrdinaryObject()
	case wire.TcException:
		p.reset()
		cause, err := p.readObject()
		p.reset()
		if err != nil {
			return nil, err
		}
		return nil, &abortError{record: &Value{Kind: KindException, Elements: []*Value{cause}}}
	case wire.TcReset:
		p.reset()
		return &Value{Kind: KindReset}, nil
	}
	return nil, merr.WrapErrStreamCorruptedf("invalid type code: %02X", tc)
}

func (p *parser) readUTF(tc byte) (string, error) {
	if tc == wire.TcLongString {
		return p.in.ReadLongUTF()
	}
	return p.in.ReadUTF()
}

func (p *parser) readClassDesc() (*Class, error) {
	tc, err := p.in.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tc {
	case wire.TcNull:
		return nil, nil
	case wire.TcReference:
		h, err := p.in.ReadInt32()
		if err != nil {
			return nil, err
		}
		obj, err := p.lookup(h)
		if err != nil {
			return nil, err
		}
		c, ok := obj.(*Class)
		if !ok {
			return nil, merr.WrapErrStreamCorruptedf("handle %08X is not a class descriptor", h)
		}
		return c, nil
	case wire.TcClassDesc, wire.TcProxyClassDesc:
		return p.readDescBody(tc)
	}
	return nil, merr.WrapErrStreamCorruptedf("invalid type code: %02X", tc)
}

// readDescBody 读取类型码之后的描述符内容，句柄在读取内容之前分配。
func (p *parser) readDescBody(tc byte) (*Class, error) {
	c := &Class{}
	c.Handle = p.assign(c)
	p.stream.Classes = append(p.stream.Classes, c)

	if tc == wire.TcProxyClassDesc {
		if err := p.readProxyInterfaces(c); err != nil {
			return nil, err
		}
	} else if err := p.readClassFields(c); err != nil {
		return nil, err
	}

	ann, err := p.readAnnotations()
	if err != nil {
		return nil, err
	}
	c.Annotations = ann
	super, err := p.readClassDesc()
	if err != nil {
		return nil, err
	}
	if super != nil {
		c.super = super
		c.SuperHandle, c.SuperName = super.Handle, super.Name
	}
	return c, nil
}

func (p *parser) readProxyInterfaces(c *Class) error {
	n, err := p.in.ReadInt32()
	if err != nil {
		return err
	}
	if n < 0 {
		return merr.WrapErrStreamCorruptedf("negative interface count: %d", n)
	}
	if n > wire.MaxProxyInterfaces {
		return merr.WrapErrInvalidObject(fmt.Sprintf("interface limit exceeded: %d", n))
	}
	c.Proxy = true
	c.Interfaces = make([]string, n)
	for i := range c.Interfaces {
		if c.Interfaces[i], err = p.in.ReadUTF(); err != nil {
			return err
		}
	}
	c.Name = "proxy(" + strings.Join(c.Interfaces, ",") + ")"
	return nil
}

func (p *parser) readClassFields(c *Class) error {
	var err error
	if c.Name, err = p.in.ReadUTF(); err != nil {
		return err
	}
	if c.VersionUID, err = p.in.ReadInt64(); err != nil {
		return err
	}
	if c.Flags, err = p.in.ReadByte(); err != nil {
		return err
	}
	n, err := p.in.ReadInt16()
	if err != nil {
		return err
	}
	if n < 0 {
		return merr.WrapErrStreamCorruptedf("%s: negative field count: %d", c.Name, n)
	}
	c.Fields = make([]Field, n)
	for i := range c.Fields {
		code, err := p.in.ReadByte()
		if err != nil {
			return err
		}
		f := &c.Fields[i]
		if f.Name, err = p.in.ReadUTF(); err != nil {
			return err
		}
		f.Signature = string(code)
		switch {
		case code == wire.TypeObject || code == wire.TypeArray:
			if f.Signature, err = p.readTypeString(); err != nil {
				return err
			}
		case !wire.IsPrimitiveCode(code):
			return merr.WrapErrStreamCorruptedf("%s: invalid descriptor for field %s", c.Name, f.Name)
		}
	}
	return nil
}

func (p *parser) readTypeString() (string, error) {
	tc, err := p.in.ReadByte()
	if err != nil {
		return "", err
	}
	switch tc {
	case wire.TcNull:
		return "", nil
	case wire.TcReference:
		h, err := p.in.ReadInt32()
		if err != nil {
			return "", err
		}
		obj, err := p.lookup(h)
		if err != nil {
			return "", err
		}
		s, ok := obj.(string)
		if !ok {
			return "", merr.WrapErrStreamCorruptedf("handle %08X is not a type string", h)
		}
		return s, nil
	case wire.TcString, wire.TcLongString:
		s, err := p.readUTF(tc)
		if err != nil {
			return "", err
		}
		p.assign(s)
		return s, nil
	}
	return "", merr.WrapErrStreamCorruptedf("invalid type code: %02X", tc)
}

// readAnnotations 读取到 TC_ENDBLOCKDATA 为止的内容记录。
func (p *parser) readAnnotations() ([]*Value, error) {
	var values []*Value
	for {
		tc, err := p.in.PeekByte()
		if err != nil {
			return nil, err
		}
		if tc == wire.TcEndBlockData {
			_, err := p.in.ReadByte()
			return values, err
		}
		v, err := p.readContent()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
}

func (p *parser) readArray() (*Value, error) {
	c, err := p.readClassDesc()
	if err != nil {
		return nil, err
	}
	if c == nil || len(c.Name) < 2 || c.Name[0] != '[' {
		return nil, merr.WrapErrStreamCorrupted("array record without array descriptor")
	}
	v := &Value{Kind: KindArray, Class: c.Name}
	v.Handle = p.assign(v)
	n, err := p.in.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, merr.WrapErrStreamCorruptedf("%s: negative array length: %d", c.Name, n)
	}
	v.Length = int(n)

	code := c.Name[1]
	switch {
	case code == wire.TypeByte:
		v.Data, err = p.readBytes(int64(n))
		return v, err
	case wire.IsPrimitiveCode(code):
		v.Elements = make([]*Value, 0, min(int(n), wire.MaxBlockSize))
		for range n {
			prim, err := p.readPrim(code)
			if err != nil {
				return nil, err
			}
			v.Elements = append(v.Elements, &Value{Kind: KindPrim, Prim: prim})
		}
	default:
		v.Elements = make([]*Value, 0, min(int(n), wire.MaxBlockSize))
		for i := range n {
			e, err := p.readObject()
			if err != nil {
				return nil, errors.Wrapf(err, "element %d of %s", i, c.Name)
			}
			v.Elements = append(v.Elements, e)
		}
	}
	return v, nil
}

func (p *parser) readPrim(code byte) (any, error) {
	switch code {
	case wire.TypeByte:
		b, err := p.in.ReadByte()
		return int8(b), err
	case wire.TypeChar:
		return p.in.ReadChar()
	case wire.TypeDouble:
		return p.in.ReadFloat64()
	case wire.TypeFloat:
		return p.in.ReadFloat32()
	case wire.TypeInt:
		return p.in.ReadInt32()
	case wire.TypeLong:
		return p.in.ReadInt64()
	case wire.TypeShort:
		return p.in.ReadInt16()
	case wire.TypeBoolean:
		return p.in.ReadBool()
	}
	return nil, merr.WrapErrStreamCorruptedf("invalid primitive type code: %c", code)
}

func (p *parser) readEnum() (*Value, error) {
	c, err := p.readClassDesc()
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, merr.WrapErrStreamCorrupted("null enum descriptor")
	}
	v := &Value{Kind: KindEnum, Class: c.Name}
	v.Handle = p.assign(v)
	name, err := p.readObject()
	if err != nil {
		return nil, err
	}
	switch name.Kind {
	case KindString:
		v.Text = name.Text
	case KindRef:
		obj, _ := p.lookup(name.Ref)
		s, ok := obj.(string)
		if !ok {
			return nil, merr.WrapErrStreamCorruptedf("%s: enum constant name is not a string", c.Name)
		}
		v.Text = s
	default:
		return nil, merr.WrapErrStreamCorruptedf("%s: enum constant name is not a string", c.Name)
	}
	return v, nil
}

func (p *parser) readOrdinaryObject() (*Value, error) {
	c, err := p.readClassDesc()
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, merr.WrapErrStreamCorrupted("null object descriptor")
	}
	v := &Value{Kind: KindObject, Class: c.Name}
	v.Handle = p.assign(v)

	if c.externalizable() {
		if !c.blockExternal() {
			return nil, merr.WrapErrStreamCorruptedf("%s: external data without block framing cannot be parsed", c.Name)
		}
		custom, err := p.readAnnotations()
		if err != nil {
			return nil, err
		}
		v.Slots = []*Slot{{Class: c.Name, Custom: custom}}
		return v, nil
	}

	chain, err := hierarchy(c)
	if err != nil {
		return nil, err
	}
	for _, k := range chain {
		slot, err := p.readSlot(k)
		if err != nil {
			return nil, errors.Wrapf(err, "data of %s", k.Name)
		}
		v.Slots = append(v.Slots, slot)
	}
	return v, nil
}

// readSlot 读取一层类型的字段值：先是全部基本类型字段，再是引用字段。
func (p *parser) readSlot(c *Class) (*Slot, error) {
	slot := &Slot{Class: c.Name}
	for _, f := range c.Fields {
		if !isPrimSignature(f.Signature) {
			continue
		}
		prim, err := p.readPrim(f.Signature[0])
		if err != nil {
			return nil, err
		}
		slot.Fields = append(slot.Fields, &FieldValue{Name: f.Name, Value: &Value{Kind: KindPrim, Prim: prim}})
	}
	for _, f := range c.Fields {
		if isPrimSignature(f.Signature) {
			continue
		}
		val, err := p.readObject()
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", f.Name)
		}
		slot.Fields = append(slot.Fields, &FieldValue{Name: f.Name, Value: val})
	}
	if c.hasWriteMethod() {
		custom, err := p.readAnnotations()
		if err != nil {
			return nil, err
		}
		slot.Custom = custom
	}
	return slot, nil
}

func isPrimSignature(sig string) bool {
	return len(sig) == 1 && wire.IsPrimitiveCode(sig[0])
}

// hierarchy 返回从最远祖先到 c 的描述符链。
func hierarchy(c *Class) ([]*Class, error) {
	seen := typeutil.NewSet[*Class]()
	var chain []*Class
	for k := c; k != nil; k = k.super {
		if !seen.TryInsert(k) {
			return nil, merr.WrapErrCircularAncestry(c.Name)
		}
		chain = append(chain, k)
	}
	slices.Reverse(chain)
	return chain, nil
}
