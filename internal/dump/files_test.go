package dump

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/lk2023060901/objstream-go/pkg/objstream"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

func (s *DumpSuite) writeFile(name string, data []byte) string {
	path := filepath.Join(s.T().TempDir(), name)
	s.Require().NoError(os.WriteFile(path, data, 0o600))
	return path
}

func (s *DumpSuite) TestDumpFiles() {
	first := s.writeFile("first.ser", s.encode(func(w *objstream.Writer) {
		s.NoError(w.WriteObject(&node{Name: "first"}))
	}))
	second := s.writeFile("second.ser", s.encode(func(w *objstream.Writer) {
		s.NoError(w.WriteObject(&node{Name: "second"}))
	}))

	var out bytes.Buffer
	s.Require().NoError(DumpFiles(&out, []string{second, first}, Config{Workers: 2}))
	text := out.String()
	s.Less(strings.Index(text, "==> "+second), strings.Index(text, "==> "+first))
	s.Less(strings.Index(text, `"second"`), strings.Index(text, `"first"`))

	out.Reset()
	s.Require().NoError(DumpFiles(&out, []string{first}, DefaultConfig()))
	s.NotContains(out.String(), "==>")
	s.True(strings.HasPrefix(out.String(), "version 5"))
}

func (s *DumpSuite) TestDumpFilesErrors() {
	good := s.encode(func(w *objstream.Writer) {
		s.NoError(w.WriteObject(&node{Name: "a"}))
		s.NoError(w.WriteObject(&node{Name: "b"}))
	})
	truncated := s.writeFile("truncated.ser", good[:len(good)-2])
	missing := filepath.Join(s.T().TempDir(), "missing.ser")
	ok := s.writeFile("ok.ser", good)

	var out bytes.Buffer
	err := DumpFiles(&out, []string{truncated, missing, ok}, DefaultConfig())
	s.Require().Error(err)
	s.ErrorIs(err, merr.ErrIoUnexpectEOF)
	s.ErrorIs(err, os.ErrNotExist)
	s.Contains(err.Error(), truncated)

	// 截断文件中已解析的对象仍然输出
	text := out.String()
	s.Equal(3, strings.Count(text, "==> "))
	s.Equal(2, strings.Count(text, `"a"`))
	s.Equal(1, strings.Count(text, `"b"`))
	s.Len(multierr.Errors(err), 2)
}
