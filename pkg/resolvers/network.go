package resolvers

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/openfroyo/hostfacts/pkg/engine"
	"github.com/openfroyo/hostfacts/pkg/facts"
	"github.com/openfroyo/hostfacts/pkg/source"
)

var networkingInfo = engine.Info{
	Name: "networking",
	Produces: []string{
		"networking.interfaces",
		"networking.primary",
		"networking.ip",
		"networking.ip6",
		"networking.mac",
		"networking.mtu",
		"networking.netmask",
		"networking.netmask6",
		"networking.network",
		"networking.network6",
		"networking.dhcp",
	},
}

// Networking resolves interfaces, their bindings and the primary interface.
func Networking() engine.Resolver {
	return engine.NewFunc(networkingInfo, resolveNetworking)
}

// binding is one address of an interface, rendered.
type binding struct {
	address string
	netmask string
	network string
	local   bool
}

// netInterface is an interface as the resolver sees it. It lives only for
// the duration of one Resolve call.
type netInterface struct {
	name      string
	up        bool
	loopback  bool
	mac       string
	mtu       int
	bindings  []binding
	bindings6 []binding
	dhcp      string
}

func (i *netInterface) hasBindings() bool {
	return len(i.bindings)+len(i.bindings6) > 0
}

// ip6 is the first global IPv6 binding, or the first one when all are link
// local.
func (i *netInterface) ip6() (binding, bool) {
	for _, b := range i.bindings6 {
		if !b.local {
			return b, true
		}
	}
	if len(i.bindings6) > 0 {
		return i.bindings6[0], true
	}
	return binding{}, false
}

func resolveNetworking(ctx context.Context, _ *facts.Tree, src source.Source) (*facts.Set, error) {
	raw, err := src.Interfaces(ctx)
	if err != nil {
		return nil, err
	}

	// Routes and leases refine the result but are not required.
	routes, _ := src.Routes(ctx)
	leases, _ := src.DHCPServers(ctx)

	ifaces := buildInterfaces(raw, leases)

	set := facts.NewSet()
	for _, iface := range ifaces {
		// The name becomes one path segment; "eth0.100" would nest. Such
		// interfaces still take part in primary selection.
		if strings.Contains(iface.name, facts.Separator) {
			continue
		}
		putInterface(set, facts.JoinPath("networking.interfaces", iface.name), iface)
	}

	primary := selectPrimary(ifaces, routes)
	if primary == nil {
		return set, nil
	}
	set.Put("networking.primary", primary.name)
	putAddresses(set, "networking", primary)
	return set, nil
}

func buildInterfaces(raw []source.Interface, leases map[string]string) []*netInterface {
	out := make([]*netInterface, 0, len(raw))
	for _, r := range raw {
		if r.Name == "" {
			continue
		}
		iface := &netInterface{
			name:     r.Name,
			up:       r.Flags.Up,
			loopback: r.Flags.Loopback,
			mac:      strings.ToLower(r.MAC),
			mtu:      r.MTU,
			dhcp:     leases[r.Name],
		}
		for _, a := range r.Addrs {
			b, ok := bindingOf(a)
			if !ok {
				continue
			}
			if a.IsIPv4() {
				iface.bindings = append(iface.bindings, b)
			} else {
				iface.bindings6 = append(iface.bindings6, b)
			}
		}
		out = append(out, iface)
	}
	return out
}

// bindingOf renders an address. The network is computed from the mask when
// the source did not report it.
func bindingOf(a source.Addr) (binding, bool) {
	ip, mask := a.IP, a.Mask
	if ip == nil {
		return binding{}, false
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
		if len(mask) == net.IPv6len {
			mask = mask[12:]
		}
	}

	b := binding{address: ip.String(), local: ip.IsLinkLocalUnicast()}
	if len(mask) == len(ip) {
		b.netmask = net.IP(mask).String()
	}
	switch {
	case a.Network != nil:
		b.network = a.Network.String()
	case b.netmask != "":
		b.network = ip.Mask(mask).String()
	}
	return b, true
}

// selectPrimary picks the interface that holds the default route with the
// lowest metric (IPv4 first on ties, then enumeration order), or else the
// first candidate. Candidates are up, not loopback and have a binding.
func selectPrimary(ifaces []*netInterface, routes []source.Route) *netInterface {
	var candidates []*netInterface
	for _, iface := range ifaces {
		if iface.up && !iface.loopback && iface.hasBindings() {
			candidates = append(candidates, iface)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	var (
		best      *netInterface
		bestRoute source.Route
	)
	for _, iface := range candidates {
		for _, r := range routes {
			if r.Interface != iface.name {
				continue
			}
			if best == nil || routeLess(r, bestRoute) {
				best, bestRoute = iface, r
			}
		}
	}
	if best != nil {
		return best
	}
	return candidates[0]
}

// routeLess orders default routes by metric, then IPv4 before IPv6. Equal
// routes keep the earlier candidate.
func routeLess(a, b source.Route) bool {
	if a.Metric != b.Metric {
		return a.Metric < b.Metric
	}
	return !a.IPv6 && b.IPv6
}

func putInterface(set *facts.Set, prefix string, iface *netInterface) {
	for i, b := range iface.bindings {
		putBinding(set, facts.JoinPath(prefix, "bindings", strconv.Itoa(i)), b)
	}
	for i, b := range iface.bindings6 {
		putBinding(set, facts.JoinPath(prefix, "bindings6", strconv.Itoa(i)), b)
	}
	putAddresses(set, prefix, iface)
	if !iface.hasBindings() && iface.mac == "" && iface.mtu == 0 {
		// Keep address-less interfaces visible.
		set.Put(facts.JoinPath(prefix, "up"), iface.up)
	}
}

func putBinding(set *facts.Set, prefix string, b binding) {
	set.Put(facts.JoinPath(prefix, "address"), b.address)
	putString(set, facts.JoinPath(prefix, "netmask"), b.netmask)
	putString(set, facts.JoinPath(prefix, "network"), b.network)
}

// putAddresses writes the summary facts of iface under prefix: the first
// IPv4 binding, the preferred IPv6 binding, MAC, MTU and DHCP server.
func putAddresses(set *facts.Set, prefix string, iface *netInterface) {
	if len(iface.bindings) > 0 {
		b := iface.bindings[0]
		set.Put(facts.JoinPath(prefix, "ip"), b.address)
		putString(set, facts.JoinPath(prefix, "netmask"), b.netmask)
		putString(set, facts.JoinPath(prefix, "network"), b.network)
	}
	if b, ok := iface.ip6(); ok {
		set.Put(facts.JoinPath(prefix, "ip6"), b.address)
		putString(set, facts.JoinPath(prefix, "netmask6"), b.netmask)
		putString(set, facts.JoinPath(prefix, "network6"), b.network)
	}
	putString(set, facts.JoinPath(prefix, "mac"), iface.mac)
	if iface.mtu > 0 {
		set.Put(facts.JoinPath(prefix, "mtu"), iface.mtu)
	}
	putString(set, facts.JoinPath(prefix, "dhcp"), iface.dhcp)
}
