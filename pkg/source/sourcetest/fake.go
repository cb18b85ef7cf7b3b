// Package sourcetest provides an in-memory source with canned Debian hosts.
package sourcetest

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/openfroyo/hostfacts/pkg/source"
)

// Fake is a source.Source backed by plain fields. A probe listed in Fail
// returns an unavailable error, and a probe listed in Delay sleeps before
// answering (or until ctx is done).
type Fake struct {
	DistroData source.Distro
	UnameData  source.Uname
	Ifaces     []source.Interface
	RouteTable []source.Route
	Leases     map[string]string
	ID         source.Identity
	Processors []source.CPU

	Fail  map[string]bool
	Delay map[string]time.Duration

	mu    sync.Mutex
	calls map[string]int
}

var _ source.Source = (*Fake)(nil)

// Calls returns how many times probe was invoked.
func (f *Fake) Calls(probe string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[probe]
}

func (f *Fake) enter(ctx context.Context, probe string) error {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[probe]++
	delay := f.Delay[probe]
	fail := f.Fail[probe]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return source.Unavailable(probe, ctx.Err())
		}
	}
	if fail {
		return source.Unavailable(probe, nil)
	}
	return nil
}

func (f *Fake) Distro(ctx context.Context) (source.Distro, error) {
	if err := f.enter(ctx, source.ProbeDistro); err != nil {
		return source.Distro{}, err
	}
	return f.DistroData, nil
}

func (f *Fake) Uname(ctx context.Context) (source.Uname, error) {
	if err := f.enter(ctx, source.ProbeUname); err != nil {
		return source.Uname{}, err
	}
	return f.UnameData, nil
}

func (f *Fake) Interfaces(ctx context.Context) ([]source.Interface, error) {
	if err := f.enter(ctx, source.ProbeInterfaces); err != nil {
		return nil, err
	}
	return f.Ifaces, nil
}

func (f *Fake) Routes(ctx context.Context) ([]source.Route, error) {
	if err := f.enter(ctx, source.ProbeRoutes); err != nil {
		return nil, err
	}
	return f.RouteTable, nil
}

func (f *Fake) DHCPServers(ctx context.Context) (map[string]string, error) {
	if err := f.enter(ctx, source.ProbeDHCP); err != nil {
		return nil, err
	}
	return f.Leases, nil
}

func (f *Fake) Identity(ctx context.Context) (source.Identity, error) {
	if err := f.enter(ctx, source.ProbeIdentity); err != nil {
		return source.Identity{}, err
	}
	return f.ID, nil
}

func (f *Fake) CPUs(ctx context.Context) ([]source.CPU, error) {
	if err := f.enter(ctx, source.ProbeCPUs); err != nil {
		return nil, err
	}
	return f.Processors, nil
}

// Release describes a Debian release fixture.
type Release struct {
	Codename      string
	Version       string
	KernelRelease string
}

// Debian releases used by the fixtures.
var (
	Squeeze = Release{Codename: "squeeze", Version: "6.0.10", KernelRelease: "2.6.32-5-amd64"}
	Wheezy  = Release{Codename: "wheezy", Version: "7.8", KernelRelease: "3.2.0-4-amd64"}
	Jessie  = Release{Codename: "jessie", Version: "8.2", KernelRelease: "3.16.0-4-amd64"}
)

// Debian returns a root-owned x86_64 Debian host with a loopback and one
// ethernet interface that holds the default route.
func Debian(rel Release) *Fake {
	major := rel.Version
	for i, r := range rel.Version {
		if r == '.' {
			major = rel.Version[:i]
			break
		}
	}
	return &Fake{
		DistroData: source.Distro{
			OSRelease: map[string]string{
				"PRETTY_NAME": "Debian GNU/Linux " + major + " (" + rel.Codename + ")",
				"NAME":        "Debian GNU/Linux",
				"VERSION_ID":  major,
				"VERSION":     major + " (" + rel.Codename + ")",
				"ID":          "debian",
			},
			VersionFile: rel.Version,
		},
		UnameData: source.Uname{
			Sysname:   "Linux",
			Nodename:  "debian-" + rel.Codename + ".example.com",
			Release:   rel.KernelRelease,
			Version:   "#1 SMP Debian",
			Machine:   "x86_64",
			Processor: "unknown",
		},
		Ifaces: []source.Interface{
			{
				Name:  "lo",
				Index: 1,
				Flags: source.Flags{Up: true, Loopback: true},
				MTU:   65536,
				Addrs: []source.Addr{
					{IP: net.ParseIP("127.0.0.1").To4(), Mask: net.CIDRMask(8, 32)},
					{IP: net.ParseIP("::1"), Mask: net.CIDRMask(128, 128)},
				},
			},
			{
				Name:  "eth0",
				Index: 2,
				Flags: source.Flags{Up: true},
				MAC:   "08:00:27:8d:c0:4d",
				MTU:   1500,
				Addrs: []source.Addr{
					{IP: net.ParseIP("10.0.2.15").To4(), Mask: net.CIDRMask(24, 32)},
					{IP: net.ParseIP("fe80::a00:27ff:fe8d:c04d"), Mask: net.CIDRMask(64, 128)},
				},
			},
		},
		RouteTable: []source.Route{
			{Interface: "eth0", Gateway: net.ParseIP("10.0.2.2").To4(), Metric: 0},
		},
		Leases: map[string]string{"eth0": "10.0.2.2"},
		ID:     source.Identity{UID: 0, GID: 0, User: "root", Group: "root"},
		Processors: []source.CPU{
			{Processor: 0, PhysicalID: "0", CoreID: "0", ModelName: "Intel(R) Xeon(R) CPU E5-2670 0 @ 2.60GHz", MHz: 2600.0},
			{Processor: 1, PhysicalID: "0", CoreID: "1", ModelName: "Intel(R) Xeon(R) CPU E5-2670 0 @ 2.60GHz", MHz: 2600.0},
		},
	}
}
