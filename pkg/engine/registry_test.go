package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openfroyo/hostfacts/pkg/facts"
	"github.com/openfroyo/hostfacts/pkg/source"
)

func noop(context.Context, *facts.Tree, source.Source) (*facts.Set, error) {
	return facts.NewSet(), nil
}

func resolver(info Info) Resolver {
	return NewFunc(info, noop)
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name     string
		existing []Info
		add      Info
		code     string
	}{
		{
			name: "valid resolver",
			add:  Info{Name: "kernel", Produces: []string{"kernelrelease"}},
		},
		{
			name: "empty name",
			add:  Info{Produces: []string{"x"}},
			code: ErrCodeInvalidResolver,
		},
		{
			name: "no produced paths",
			add:  Info{Name: "empty"},
			code: ErrCodeInvalidResolver,
		},
		{
			name: "invalid produced path",
			add:  Info{Name: "bad", Produces: []string{"os..name"}},
			code: ErrCodeInvalidPath,
		},
		{
			name:     "duplicate name",
			existing: []Info{{Name: "os", Produces: []string{"os.release"}}},
			add:      Info{Name: "os", Produces: []string{"os.architecture"}},
			code:     ErrCodeDuplicateResolver,
		},
		{
			name: "depends on own output",
			add: Info{
				Name:     "net",
				Produces: []string{"networking"},
				Depends:  Requires("networking.primary"),
			},
			code: ErrCodeDependencyCycle,
		},
		{
			name: "confined on own output",
			add: Info{
				Name:     "os",
				Produces: []string{"os.release"},
				Confines: []Confinement{Equal("os.release.major", "7")},
			},
			code: ErrCodeSelfConfinement,
		},
		{
			name: "two resolver cycle",
			existing: []Info{
				{Name: "a", Produces: []string{"a"}, Depends: Requires("b.value")},
			},
			add:  Info{Name: "b", Produces: []string{"b"}, Depends: Optionally("a.value")},
			code: ErrCodeDependencyCycle,
		},
		{
			name: "cycle through a confinement",
			existing: []Info{
				{Name: "a", Produces: []string{"a"}, Depends: Requires("b")},
			},
			add:  Info{Name: "b", Produces: []string{"b"}, Confines: []Confinement{Equal("a.kind", "x")}},
			code: ErrCodeDependencyCycle,
		},
		{
			name: "invalid matcher",
			add: Info{
				Name:     "m",
				Produces: []string{"m"},
				Confines: []Confinement{{Path: "kernel", Matcher: Matcher{Kind: MatchOneOf}}},
			},
			code: ErrCodeInvalidResolver,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for _, info := range tt.existing {
				if err := r.Register(resolver(info)); err != nil {
					t.Fatalf("Register(%s) error = %v", info.Name, err)
				}
			}

			err := r.Register(resolver(tt.add))
			if tt.code == "" {
				if err != nil {
					t.Fatalf("Register() error = %v", err)
				}
				return
			}

			if err == nil {
				t.Fatalf("Register() expected %s error", tt.code)
			}
			if !IsConfiguration(err) {
				t.Errorf("Register() error %v is not a configuration error", err)
			}
			var engErr *EngineError
			if !errors.As(err, &engErr) || engErr.Code != tt.code {
				t.Errorf("Register() error code = %v, want %s", err, tt.code)
			}
			if r.Len() != len(tt.existing) {
				t.Errorf("registry grew after a failed Register: %d resolvers", r.Len())
			}
		})
	}
}

func TestRegistry_CycleDetail(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(
		resolver(Info{Name: "a", Produces: []string{"a"}, Depends: Requires("c")}),
		resolver(Info{Name: "b", Produces: []string{"b"}, Depends: Requires("a")}),
	)

	err := r.Register(resolver(Info{Name: "c", Produces: []string{"c"}, Depends: Requires("b")}))
	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("expected EngineError, got %v", err)
	}
	cycle, ok := engErr.Details["cycle"].([]string)
	if !ok || len(cycle) != 4 {
		t.Fatalf("cycle detail = %v", engErr.Details["cycle"])
	}
	if cycle[0] != cycle[len(cycle)-1] {
		t.Errorf("cycle %v does not close", cycle)
	}
	if !strings.Contains(err.Error(), "->") {
		t.Errorf("error message %q does not show the cycle", err.Error())
	}
}

func TestRegistry_Describe(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(
		resolver(Info{Name: "kernel", Produces: []string{"kernelrelease", "kernelversion"}}),
		resolver(Info{Name: "os", Produces: []string{"os.release"}, Depends: Optionally("kernelversion")}),
		resolver(Info{
			Name:     "debian",
			Produces: []string{"debian"},
			Confines: []Confinement{Equal("os.release.major", "7")},
		}),
		resolver(Info{Name: "identity", Produces: []string{"identity"}}),
	)

	want := map[string]struct {
		level int
		after []string
	}{
		"kernel":   {0, nil},
		"os":       {1, []string{"kernel"}},
		"debian":   {2, []string{"os"}},
		"identity": {0, nil},
	}

	descs := r.Describe()
	if len(descs) != len(want) {
		t.Fatalf("Describe() returned %d entries", len(descs))
	}
	for i, name := range []string{"kernel", "os", "debian", "identity"} {
		d := descs[i]
		if d.Name != name {
			t.Errorf("entry %d = %s, want %s", i, d.Name, name)
			continue
		}
		w := want[name]
		if d.Level != w.level {
			t.Errorf("%s level = %d, want %d", name, d.Level, w.level)
		}
		if strings.Join(d.After, ",") != strings.Join(w.after, ",") {
			t.Errorf("%s after = %v, want %v", name, d.After, w.after)
		}
	}

	dot := r.DOT()
	for _, fragment := range []string{"digraph Resolvers", `"kernel" -> "os"`, `"os" -> "debian"`, "cluster_level_2"} {
		if !strings.Contains(dot, fragment) {
			t.Errorf("DOT output missing %q:\n%s", fragment, dot)
		}
	}
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustRegister did not panic on a duplicate")
		}
	}()

	r := NewRegistry()
	r.MustRegister(
		resolver(Info{Name: "x", Produces: []string{"x"}}),
		resolver(Info{Name: "x", Produces: []string{"y"}}),
	)
}
