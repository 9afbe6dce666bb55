package dump

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/samber/lo"

	"github.com/lk2023060901/objstream-go/internal/stream/wire"
	"github.com/lk2023060901/objstream-go/pkg/serializer"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

type flagName struct {
	flag byte
	name string
}

var flagNames = []flagName{
	{wire.ScWriteMethod, "SC_WRITE_METHOD"},
	{wire.ScSerializable, "SC_SERIALIZABLE"},
	{wire.ScExternalizable, "SC_EXTERNALIZABLE"},
	{wire.ScBlockData, "SC_BLOCK_DATA"},
	{wire.ScEnum, "SC_ENUM"},
}

// FlagString 返回描述符标志位的可读形式。
func FlagString(flags byte) string {
	names := lo.FilterMap(flagNames, func(f flagName, _ int) (string, bool) {
		return f.name, flags&f.flag != 0
	})
	if len(names) == 0 {
		return "0"
	}
	return strings.Join(names, "|")
}

// Render 按 cfg.Format 将 s 写到 w。
func Render(w io.Writer, s *Stream, cfg Config) error {
	cfg.initialize()
	switch cfg.Format {
	case FormatText:
		p := &printer{w: w, maxBytes: cfg.MaxBytes}
		p.stream(s)
		return p.err
	case FormatJSON:
		data, err := serializer.JSONSerializer{Indent: "  "}.Marshal(s)
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err
	}
	return merr.WrapErrParameterInvalid("text or json", cfg.Format, "dump format")
}

type printer struct {
	w        io.Writer
	maxBytes int
	indent   int
	err      error
}

func (p *printer) line(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, "%s"+format+"\n", append([]any{strings.Repeat("  ", p.indent)}, args...)...)
}

func (p *printer) nested(fn func()) {
	p.indent++
	fn()
	p.indent--
}

func (p *printer) stream(s *Stream) {
	p.line("version %d", s.Version)
	p.line("classes:")
	p.nested(func() {
		for _, c := range s.Classes {
			p.class(c)
		}
	})
	p.line("contents:")
	p.nested(func() {
		for _, v := range s.Contents {
			p.value("", v)
		}
	})
}

func (p *printer) class(c *Class) {
	if c.Proxy {
		p.line("%08X proxy %s", c.Handle, strings.Join(c.Interfaces, ", "))
	} else {
		p.line("%08X %s versionUID=%d flags=%s", c.Handle, c.Name, c.VersionUID, FlagString(c.Flags))
	}
	p.nested(func() {
		for _, f := range c.Fields {
			p.line("%s %s", f.Signature, f.Name)
		}
		for _, a := range c.Annotations {
			p.value("annotation: ", a)
		}
		if c.SuperHandle != 0 {
			p.line("super %08X %s", c.SuperHandle, c.SuperName)
		}
	})
}

func (p *printer) value(label string, v *Value) {
	switch v.Kind {
	case KindNull, KindReset:
		p.line("%s%s", label, v.Kind)
	case KindRef:
		p.line("%sref %08X", label, v.Ref)
	case KindPrim:
		p.line("%s%v", label, v.Prim)
	case KindString:
		p.line("%sstring %08X %q", label, v.Handle, v.Text)
	case KindEnum:
		p.line("%senum %08X %s.%s", label, v.Handle, v.Class, v.Text)
	case KindClass, KindClassDesc:
		p.line("%s%s %08X %s", label, v.Kind, v.Handle, v.Class)
	case KindBlock:
		p.line("%sblock [%d] %s", label, v.Length, p.hex(v.Data))
	case KindException:
		p.line("%sexception", label)
		p.nested(func() {
			for _, e := range v.Elements {
				p.value("cause: ", e)
			}
		})
	case KindArray:
		if v.Data != nil {
			p.line("%sarray %08X %s [%d] %s", label, v.Handle, v.Class, v.Length, p.hex(v.Data))
			return
		}
		p.line("%sarray %08X %s [%d]", label, v.Handle, v.Class, v.Length)
		p.nested(func() {
			for i, e := range v.Elements {
				p.value(fmt.Sprintf("%d: ", i), e)
			}
		})
	case KindObject:
		p.line("%sobject %08X %s", label, v.Handle, v.Class)
		p.nested(func() {
			for _, slot := range v.Slots {
				p.slot(slot)
			}
		})
	}
}

func (p *printer) slot(s *Slot) {
	p.line("[%s]", s.Class)
	p.nested(func() {
		for _, f := range s.Fields {
			p.value(f.Name+": ", f.Value)
		}
		for _, c := range s.Custom {
			p.value("custom: ", c)
		}
	})
}

func (p *printer) hex(data []byte) string {
	if p.maxBytes < 0 || len(data) <= p.maxBytes {
		return hex.EncodeToString(data)
	}
	return hex.EncodeToString(data[:p.maxBytes]) + "..."
}
