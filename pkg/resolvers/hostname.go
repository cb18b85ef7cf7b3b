package resolvers

import (
	"context"
	"strings"

	"github.com/openfroyo/hostfacts/pkg/engine"
	"github.com/openfroyo/hostfacts/pkg/facts"
	"github.com/openfroyo/hostfacts/pkg/source"
)

var hostnameInfo = engine.Info{
	Name:     "hostname",
	Produces: []string{"networking.hostname", "networking.domain", "networking.fqdn"},
}

// Hostname splits the node name into host and domain.
func Hostname() engine.Resolver {
	return engine.NewFunc(hostnameInfo, resolveHostname)
}

func resolveHostname(ctx context.Context, _ *facts.Tree, src source.Source) (*facts.Set, error) {
	u, err := src.Uname(ctx)
	if err != nil {
		return nil, err
	}
	node := strings.TrimSuffix(strings.TrimSpace(u.Nodename), ".")
	if node == "" {
		return nil, engine.NewUnavailableError("node name is empty", nil)
	}

	set := facts.NewSet()
	host, domain, _ := strings.Cut(node, ".")
	set.Put("networking.hostname", host)
	putString(set, "networking.domain", domain)
	set.Put("networking.fqdn", node)
	return set, nil
}
