package module

import (
	"strings"
	"testing"

	"shinga/internal/modkit"
	perr "shinga/internal/platform/errors"
	phttp "shinga/internal/platform/net/http"
	kit "shinga/internal/platform/testkit"
)

type Drainer interface{ Drain() string }

type drainer string

func (d drainer) Drain() string { return string(d) }

type bundle struct {
	Drain   Drainer
	Workers int
	hidden  Drainer
}

type stubModule struct {
	name    string
	ports   any
	mounted *int
	closed  *[]string
}

func (m stubModule) Name() string   { return m.name }
func (m stubModule) Prefix() string { return strings.ToUpper(m.name) + "_" }
func (m stubModule) Ports() any     { return m.ports }
func (m stubModule) MountRoutes(phttp.Router) {
	if m.mounted != nil {
		*m.mounted++
	}
}

type closingModule struct{ stubModule }

func (m closingModule) Close() { *m.closed = append(*m.closed, m.name) }

func TestPortsOf(t *testing.T) {
	t.Parallel()

	if _, ok := PortsOf[Drainer](stubModule{name: "nil"}); ok {
		t.Fatalf("nil ports matched")
	}
	if d, ok := PortsOf[Drainer](stubModule{ports: drainer("direct")}); !ok || d.Drain() != "direct" {
		t.Fatalf("direct = %v %v", d, ok)
	}
	if d, ok := PortsOf[Drainer](stubModule{ports: bundle{Drain: drainer("field")}}); !ok || d.Drain() != "field" {
		t.Fatalf("field = %v %v", d, ok)
	}
	if d, ok := PortsOf[Drainer](stubModule{ports: &bundle{Drain: drainer("ptr")}}); !ok || d.Drain() != "ptr" {
		t.Fatalf("pointer bundle = %v %v", d, ok)
	}
	if _, ok := PortsOf[Drainer](stubModule{ports: bundle{hidden: drainer("x")}}); ok {
		t.Fatalf("unexported field matched")
	}
	if _, ok := PortsOf[Drainer](stubModule{ports: 7}); ok {
		t.Fatalf("non struct matched")
	}
}

func TestMustPortsOf_Panics(t *testing.T) {
	t.Parallel()

	kit.MustPanic(t, func() { _ = MustPortsOf[Drainer](stubModule{name: "updater", ports: bundle{}}) })
	if got := MustPortsOf[bundle](stubModule{ports: bundle{Workers: 3}}); got.Workers != 3 {
		t.Fatalf("bundle = %+v", got)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	var (
		reg     Registry
		mounted int
		closed  []string
	)
	first := closingModule{stubModule{name: "a", mounted: &mounted, closed: &closed}}
	second := stubModule{name: "updater", ports: bundle{Drain: drainer("ok")}, mounted: &mounted}
	third := closingModule{stubModule{name: "c", mounted: &mounted, closed: &closed}}
	for _, m := range []modkit.Module{first, second, third} {
		if err := reg.Add(m); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := reg.Add(second); !perr.IsCode(err, perr.ErrorCodeConflict) {
		t.Fatalf("duplicate = %v", err)
	}

	reg.MountAll(nil)
	if mounted != 3 {
		t.Fatalf("mounted = %d", mounted)
	}

	d, err := Lookup[Drainer](&reg, "updater")
	if err != nil || d.Drain() != "ok" {
		t.Fatalf("Lookup = %v, %v", d, err)
	}
	if _, err := Lookup[Drainer](&reg, "missing"); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("missing module = %v", err)
	}
	if _, err := Lookup[Drainer](&reg, "a"); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("missing port = %v", err)
	}

	reg.CloseAll()
	if strings.Join(closed, ",") != "c,a" {
		t.Fatalf("close order = %v", closed)
	}
}
