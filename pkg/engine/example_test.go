package engine_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/hostfacts/pkg/engine"
	"github.com/openfroyo/hostfacts/pkg/facts"
	"github.com/openfroyo/hostfacts/pkg/source"
	"github.com/openfroyo/hostfacts/pkg/source/sourcetest"
)

// Example_resolveAll shows a detector, a resolver that depends on another
// one, and a resolver that is confined away.
func Example_resolveAll() {
	platform := engine.NewFunc(engine.Info{Name: "platform", Produces: []string{"kernel", "os.family"}},
		func(ctx context.Context, _ *facts.Tree, src source.Source) (*facts.Set, error) {
			u, err := src.Uname(ctx)
			if err != nil {
				return nil, err
			}
			set := facts.NewSet()
			set.Put("kernel", u.Sysname)
			set.Put("os.family", "Debian")
			return set, nil
		})

	reg := engine.NewRegistry()
	reg.MustRegister(
		engine.NewFunc(engine.Info{
			Name:     "greeting",
			Produces: []string{"greeting"},
			Depends:  engine.Requires("identity.user"),
		}, func(_ context.Context, snap *facts.Tree, _ source.Source) (*facts.Set, error) {
			user, _ := snap.Lookup("identity.user")
			set := facts.NewSet()
			set.Put("greeting", "hello "+user)
			return set, nil
		}),
		engine.NewFunc(engine.Info{
			Name:     "identity",
			Produces: []string{"identity"},
			Confines: []engine.Confinement{engine.Equal("kernel", "Linux")},
		}, func(ctx context.Context, _ *facts.Tree, src source.Source) (*facts.Set, error) {
			id, err := src.Identity(ctx)
			if err != nil {
				return nil, err
			}
			set := facts.NewSet()
			set.Put("identity.user", id.User)
			set.Put("identity.privileged", id.UID == 0)
			return set, nil
		}),
		engine.NewFunc(engine.Info{
			Name:     "registry-hive",
			Produces: []string{"windows"},
			Confines: []engine.Confinement{engine.Equal("os.family", "Windows")},
		}, func(context.Context, *facts.Tree, source.Source) (*facts.Set, error) {
			panic("never runs on Linux")
		}),
	)

	sched := engine.NewScheduler(reg, engine.WithDetector(platform))
	res, err := sched.ResolveAll(context.Background(), sourcetest.Debian(sourcetest.Wheezy))
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	out, _ := res.Tree.MarshalJSON()
	fmt.Println(string(out))
	for _, name := range []string{"identity", "greeting", "registry-hive"} {
		o, _ := res.Outcome(name)
		fmt.Printf("%s: %s\n", name, o.Status)
	}

	// Output:
	// {"greeting":"hello root","identity":{"privileged":true,"user":"root"},"kernel":"Linux","os":{"family":"Debian"}}
	// identity: resolved
	// greeting: resolved
	// registry-hive: skipped
}
