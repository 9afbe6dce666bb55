package objstream

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/objstream-go/internal/stream/wire"
	"github.com/lk2023060901/objstream-go/pkg/metrics"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

type Clash struct {
	A int32
	B int32 `objstream:"A"`
}

type Tagged struct {
	Name  string `objstream:"n"`
	Owner *Node  `objstream:",unshared"`
	Z     bool
	A     int64
}

type RegistrySuite struct {
	testStream
}

func (s *RegistrySuite) SetupTest() {
	s.reg = newCommonRegistry(&s.testStream)
}

func (s *RegistrySuite) TestStructDescriptor() {
	desc, err := s.reg.Lookup(reflect.TypeFor[Shape]())
	s.Require().NoError(err)
	s.Equal("test.Shape", desc.Name())
	s.True(desc.IsSerializable())
	s.Equal(wire.ScSerializable, desc.Flags())
	s.Nil(desc.Field("Skipped"))
	s.Nil(desc.Field("notify"))
	s.NotNil(desc.Field("r"))

	// 基本类型字段在前，各自按名称排序
	names := lo.Map(desc.Fields(), func(f *FieldDescriptor, _ int) string { return f.Name() })
	s.Equal([]string{
		"Ch", "Count", "Flag", "Ratio", "Small", "Unsigned", "r",
		"Data", "Grid", "Label", "Origin", "Points", "Ref", "Scores", "Tags",
	}, names)

	f := desc.Field("Count")
	s.Equal(byte(wire.TypeLong), f.TypeCode())
	s.Equal("J", f.Signature())
	s.Equal("[Ltest.Point;", desc.Field("Points").Signature())
	s.Equal("[B", desc.Field("Data").Signature())
	s.Equal("Ltest.Point;", desc.Field("Origin").Signature())
	s.Equal("Lany;", desc.Field("Ref").Signature())
}

func (s *RegistrySuite) TestTagsAndOffsets() {
	s.mustRegister(s.reg, Tagged{}, WithName("test.Tagged"))
	desc, err := s.reg.Lookup(reflect.TypeFor[*Tagged]())
	s.Require().NoError(err)

	names := lo.Map(desc.Fields(), func(f *FieldDescriptor, _ int) string { return f.Name() })
	s.Equal([]string{"A", "Z", "Owner", "n"}, names)
	s.Equal(0, desc.Field("A").Offset())
	s.Equal(8, desc.Field("Z").Offset())
	s.Equal(0, desc.Field("Owner").Offset())
	s.Equal(1, desc.Field("n").Offset())
	s.True(desc.Field("Owner").Unshared())
	s.False(desc.Field("n").Unshared())
}

func (s *RegistrySuite) TestPointerSharesDescriptor() {
	a, err := s.reg.Lookup(reflect.TypeFor[Node]())
	s.Require().NoError(err)
	b, err := s.reg.Lookup(reflect.TypeFor[*Node]())
	s.NoError(err)
	s.Same(a, b)
	s.Equal(a.VersionUID(), b.VersionUID())
}

func (s *RegistrySuite) TestVersionUIDStable() {
	other := newCommonRegistry(&s.testStream)
	for _, t := range []reflect.Type{reflect.TypeFor[Node](), reflect.TypeFor[Shape](), reflect.TypeFor[Dog]()} {
		a, err := s.reg.Lookup(t)
		s.Require().NoError(err)
		b, err := other.Lookup(t)
		s.Require().NoError(err)
		s.Equal(a.VersionUID(), b.VersionUID(), t.String())
		s.NotZero(a.VersionUID())
	}

	s.mustRegister(s.reg, Tagged{}, WithName("test.Tagged"), WithVersionUID(77))
	desc, err := s.reg.LookupName("test.Tagged")
	s.Require().NoError(err)
	s.Equal(int64(77), desc.VersionUID())
}

func (s *RegistrySuite) TestInheritedDescriptor() {
	desc, err := s.reg.Lookup(reflect.TypeFor[Dog]())
	s.Require().NoError(err)
	s.Require().NotNil(desc.Super())
	s.Equal("test.Animal", desc.Super().Name())
	s.Len(desc.Fields(), 1)
	s.Nil(desc.Super().Super())

	slots, err := desc.ClassDataLayout()
	s.Require().NoError(err)
	s.Require().Len(slots, 2)
	s.Equal("test.Animal", slots[0].Desc.Name())
	s.True(slots[0].HasData)
	s.Equal("test.Dog", slots[1].Desc.Name())
}

func (s *RegistrySuite) TestBuiltinDescriptors() {
	cases := []struct {
		name string
		typ  reflect.Type
	}{
		{"string", reflect.TypeFor[string]()},
		{"box.int32", reflect.TypeFor[int32]()},
		{"[I", reflect.TypeFor[[]int32]()},
		{"[Lstring;", reflect.TypeFor[[]string]()},
		{"[Ltest.Point;", reflect.TypeFor[[]*Point]()},
		{"test.Color", reflect.TypeFor[Color]()},
	}
	for _, c := range cases {
		desc, err := s.reg.Lookup(c.typ)
		s.Require().NoError(err, c.name)
		s.Equal(c.name, desc.Name())

		t, err := s.reg.ResolveName(c.name)
		s.NoError(err, c.name)
		s.NotNil(t)
	}

	desc, err := s.reg.Lookup(reflect.TypeFor[[]int32]())
	s.NoError(err)
	s.True(desc.IsArray())
	desc, err = s.reg.Lookup(reflect.TypeFor[Color]())
	s.NoError(err)
	s.True(desc.IsEnum())
	s.Zero(desc.VersionUID())

	_, err = s.reg.ResolveName("test.Missing")
	s.ErrorIs(err, merr.ErrClassNotFound)
	_, err = s.reg.ResolveProxy([]string{"test.Missing"})
	s.ErrorIs(err, merr.ErrClassNotFound)
}

func (s *RegistrySuite) TestLookupErrors() {
	_, err := s.reg.Lookup(nil)
	s.ErrorIs(err, merr.ErrParameterInvalid)

	type unregistered struct{ A int32 }
	_, err = s.reg.Lookup(reflect.TypeFor[unregistered]())
	s.ErrorIs(err, merr.ErrNotSerializable)

	s.mustRegister(s.reg, Clash{}, WithName("test.Clash"))
	_, err = s.reg.Lookup(reflect.TypeFor[Clash]())
	s.ErrorIs(err, merr.ErrInvalidClass)
	s.Contains(err.Error(), "duplicate field name A")
}

func (s *RegistrySuite) TestRegisterAfterFailedLookup() {
	type late struct{ A int32 }
	t := reflect.TypeFor[late]()
	_, err := s.reg.Lookup(t)
	s.ErrorIs(err, merr.ErrNotSerializable)

	s.mustRegister(s.reg, late{}, WithName("test.Late"))
	desc, err := s.reg.Lookup(t)
	s.NoError(err)
	s.Equal("test.Late", desc.Name())
}

func (s *RegistrySuite) TestPreload() {
	types := []reflect.Type{
		reflect.TypeFor[Node](),
		reflect.TypeFor[Shape](),
		reflect.TypeFor[Dog](),
		reflect.TypeFor[Palette](),
		reflect.TypeFor[[]*Point](),
		reflect.TypeFor[Color](),
	}
	s.NoError(s.reg.Preload(types...))
	s.NoError(s.reg.Preload())

	type unregistered struct{ A int32 }
	err := s.reg.Preload(append(types, reflect.TypeFor[unregistered]())...)
	s.ErrorIs(err, merr.ErrNotSerializable)
}

func (s *RegistrySuite) TestDescriptorCacheMetrics() {
	reg := newCommonRegistry(&s.testStream)
	before := testutil.ToFloat64(metrics.DescriptorCacheMisses)
	_, err := reg.Lookup(reflect.TypeFor[Node]())
	s.Require().NoError(err)
	_, err = reg.Lookup(reflect.TypeFor[*Node]())
	s.Require().NoError(err)
	s.Equal(before+1, testutil.ToFloat64(metrics.DescriptorCacheMisses))
}

func (s *RegistrySuite) TestStreamMetrics() {
	objects := metrics.StreamRecords.WithLabelValues(metrics.SideWrite, "TC_OBJECT")
	resets := metrics.StreamResets.WithLabelValues(metrics.SideRead)
	failures := metrics.ResolutionFailures.WithLabelValues("class_not_found")
	objBefore := testutil.ToFloat64(objects)
	resetBefore := testutil.ToFloat64(resets)
	failBefore := testutil.ToFloat64(failures)

	data := s.encode(s.reg, func(w *Writer) {
		s.NoError(w.WriteObject(&Node{Name: "a", Next: &Node{Name: "b"}}))
		s.NoError(w.Reset())
		s.NoError(w.WriteObject(&Point{X: 1}))
	})
	s.Equal(objBefore+3, testutil.ToFloat64(objects))

	reader := NewRegistry()
	s.mustRegister(reader, Node{}, WithName("test.Node"))
	r := s.decode(reader, data)
	_, err := r.ReadObject()
	s.NoError(err)
	_, err = r.ReadObject()
	s.ErrorIs(err, merr.ErrClassNotFound)
	s.Equal(resetBefore+1, testutil.ToFloat64(resets))
	s.Equal(failBefore+1, testutil.ToFloat64(failures))
}

type ConfigSuite struct {
	suite.Suite
}

func (s *ConfigSuite) writeFile(name, content string) string {
	path := filepath.Join(s.T().TempDir(), name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (s *ConfigSuite) TestDefaults() {
	cfg := DefaultConfig()
	s.Equal(defaultMaxDepth, cfg.MaxDepth)
	s.Equal(defaultInitialHandles, cfg.InitialHandles)
	s.Zero(cfg.BufferSize)
	s.False(cfg.EnableReplace)
	s.False(cfg.EnableResolve)
}

func (s *ConfigSuite) TestLoadYAML() {
	path := s.writeFile("objstream.yaml", `
objstream:
  max-depth: 64
  enable-replace: true
  buffer-size: 1024
other:
  key: value
`)
	cfg, err := LoadConfig(path)
	s.Require().NoError(err)
	s.Equal(64, cfg.MaxDepth)
	s.True(cfg.EnableReplace)
	s.False(cfg.EnableResolve)
	s.Equal(1024, cfg.BufferSize)
	s.Equal(defaultInitialHandles, cfg.InitialHandles)
}

func (s *ConfigSuite) TestLoadJSON() {
	path := s.writeFile("objstream.json", `{"objstream": {"enable-resolve": true, "initial-handles": 128, "buffer-size": -5}}`)
	cfg, err := LoadConfig(path)
	s.Require().NoError(err)
	s.True(cfg.EnableResolve)
	s.Equal(128, cfg.InitialHandles)
	s.Zero(cfg.BufferSize)
	s.Equal(defaultMaxDepth, cfg.MaxDepth)
}

func (s *ConfigSuite) TestLoadMissing() {
	_, err := LoadConfig(filepath.Join(s.T().TempDir(), "absent.yaml"))
	s.Error(err)
}

func TestRegistry(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func TestConfig(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}
