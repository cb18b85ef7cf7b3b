package resolvers

import (
	"context"

	"github.com/openfroyo/hostfacts/pkg/engine"
	"github.com/openfroyo/hostfacts/pkg/facts"
	"github.com/openfroyo/hostfacts/pkg/source"
)

// posixKernels are the kernels with uid/gid based identity.
var posixKernels = []string{"Linux", "Darwin", "FreeBSD", "OpenBSD", "NetBSD", "DragonFly", "SunOS", "AIX"}

var identityInfo = engine.Info{
	Name:     "identity",
	Produces: []string{"identity"},
	Confines: []engine.Confinement{engine.OneOf("kernel", posixKernels...)},
}

// Identity resolves the effective user and group of the process.
func Identity() engine.Resolver {
	return engine.NewFunc(identityInfo, resolveIdentity)
}

func resolveIdentity(ctx context.Context, _ *facts.Tree, src source.Source) (*facts.Set, error) {
	id, err := src.Identity(ctx)
	if err != nil {
		return nil, err
	}

	set := facts.NewSet()
	set.Put("identity.uid", id.UID)
	set.Put("identity.gid", id.GID)
	putString(set, "identity.user", id.User)
	putString(set, "identity.group", id.Group)
	set.Put("identity.privileged", id.UID == 0)
	return set, nil
}
