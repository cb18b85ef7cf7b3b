package resolvers

import (
	"context"
	"fmt"

	"github.com/openfroyo/hostfacts/pkg/engine"
	"github.com/openfroyo/hostfacts/pkg/facts"
	"github.com/openfroyo/hostfacts/pkg/source"
)

var kernelInfo = engine.Info{
	Name:     "kernel",
	Produces: []string{"kernelrelease", "kernelversion", "kernelmajversion"},
	Depends:  engine.Requires("kernel"),
}

// Kernel resolves the kernel release and the versions derived from it.
// kernelrelease is reported verbatim; kernelversion and kernelmajversion
// come from a single parse of it.
func Kernel() engine.Resolver {
	return engine.NewFunc(kernelInfo, resolveKernel)
}

func resolveKernel(ctx context.Context, _ *facts.Tree, src source.Source) (*facts.Set, error) {
	u, err := src.Uname(ctx)
	if err != nil {
		return nil, err
	}
	if u.Release == "" {
		return nil, engine.NewUnavailableError("kernel release is empty", nil)
	}

	set := facts.NewSet()
	set.Put("kernelrelease", u.Release)

	v, ok := parseVersion(u.Release)
	if !ok {
		set.Put("kernelversion", u.Release)
		return set, nil
	}
	set.Put("kernelversion", v.numeric)
	if _, hasMinor := v.minor(); hasMinor {
		set.Put("kernelmajversion", fmt.Sprintf("%d.%d", v.semver.Major, v.semver.Minor))
	} else {
		set.Put("kernelmajversion", v.major())
	}
	return set, nil
}
