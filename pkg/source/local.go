package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Local probes the host the process runs on.
type Local struct {
	root   string
	logger zerolog.Logger
}

// LocalOption configures a Local source.
type LocalOption func(*Local)

// WithRoot reads /etc and /proc files below root instead of /. It is used to
// point the source at a captured filesystem.
func WithRoot(root string) LocalOption {
	return func(l *Local) { l.root = root }
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger zerolog.Logger) LocalOption {
	return func(l *Local) { l.logger = logger }
}

// NewLocal returns a source for the running host.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{root: "/", logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ Source = (*Local)(nil)

func (l *Local) path(p string) string {
	return filepath.Join(l.root, p)
}

func (l *Local) readFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(l.path(p))
}

// Distro reads os-release, lsb-release and the distro version files.
func (l *Local) Distro(ctx context.Context) (Distro, error) {
	var d Distro

	for _, p := range []string{"/etc/os-release", "/usr/lib/os-release"} {
		data, err := l.readFile(ctx, p)
		if err != nil {
			continue
		}
		if kv, err := ParseKeyValues(data); err == nil {
			d.OSRelease = kv
			break
		}
	}
	if data, err := l.readFile(ctx, "/etc/lsb-release"); err == nil {
		if kv, err := ParseKeyValues(data); err == nil {
			d.LSB = kv
		}
	}
	for _, p := range versionFiles {
		if data, err := l.readFile(ctx, p); err == nil {
			d.VersionFile = strings.TrimSpace(string(data))
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return Distro{}, Unavailable(ProbeDistro, err)
	}
	if d.Empty() {
		return Distro{}, Unavailable(ProbeDistro, errors.New("no release files found"))
	}
	return d, nil
}

// versionFiles hold a bare release number on distros that predate or extend
// os-release.
var versionFiles = []string{
	"/etc/debian_version",
	"/etc/redhat-release",
	"/etc/alpine-release",
	"/etc/SuSE-release",
}

// Interfaces enumerates interfaces with the net package.
func (l *Local) Interfaces(ctx context.Context) ([]Interface, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable(ProbeInterfaces, err)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, Unavailable(ProbeInterfaces, err)
	}

	out := make([]Interface, 0, len(ifaces))
	for _, ni := range ifaces {
		iface := Interface{
			Name:  ni.Name,
			Index: ni.Index,
			MTU:   ni.MTU,
			MAC:   ni.HardwareAddr.String(),
			Flags: Flags{
				Up:           ni.Flags&net.FlagUp != 0,
				Loopback:     ni.Flags&net.FlagLoopback != 0,
				PointToPoint: ni.Flags&net.FlagPointToPoint != 0,
			},
		}
		addrs, err := ni.Addrs()
		if err != nil {
			l.logger.Debug().Err(err).Str("interface", ni.Name).Msg("failed to list interface addresses")
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP
			if v4 := ip.To4(); v4 != nil {
				ip = v4
			}
			iface.Addrs = append(iface.Addrs, Addr{IP: ip, Mask: ipnet.Mask})
		}
		out = append(out, iface)
	}
	return out, nil
}

// Routes reads the IPv4 and IPv6 routing tables from /proc.
func (l *Local) Routes(ctx context.Context) ([]Route, error) {
	var routes []Route
	var found bool

	if data, err := l.readFile(ctx, "/proc/net/route"); err == nil {
		found = true
		r, err := ParseProcNetRoute(data)
		if err != nil {
			return nil, Unavailable(ProbeRoutes, err)
		}
		routes = append(routes, r...)
	}
	if data, err := l.readFile(ctx, "/proc/net/ipv6_route"); err == nil {
		found = true
		r, err := ParseIPv6Route(data)
		if err != nil {
			return nil, Unavailable(ProbeRoutes, err)
		}
		routes = append(routes, r...)
	}
	if !found {
		return nil, Unavailable(ProbeRoutes, errors.New("no routing table available"))
	}
	return routes, nil
}

var leaseGlobs = []string{
	"/var/lib/dhcp/*.leases",
	"/var/lib/dhclient/*.leases",
	"/var/lib/dhcp3/*.leases",
}

// DHCPServers reads dhclient lease files.
func (l *Local) DHCPServers(ctx context.Context) (map[string]string, error) {
	var buf bytes.Buffer
	for _, g := range leaseGlobs {
		matches, _ := filepath.Glob(l.path(g))
		for _, m := range matches {
			if err := ctx.Err(); err != nil {
				return nil, Unavailable(ProbeDHCP, err)
			}
			data, err := os.ReadFile(m)
			if err != nil {
				continue
			}
			buf.Write(data)
			buf.WriteByte('\n')
		}
	}
	if buf.Len() == 0 {
		return nil, Unavailable(ProbeDHCP, errors.New("no dhcp lease files found"))
	}
	return ParseDHCPLeases(buf.Bytes()), nil
}

// Identity returns the effective uid and gid and their names.
func (l *Local) Identity(ctx context.Context) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, Unavailable(ProbeIdentity, err)
	}
	uid, gid := effectiveIDs()
	if uid < 0 {
		return Identity{}, Unavailable(ProbeIdentity, fmt.Errorf("effective uid not supported on this platform"))
	}

	id := Identity{UID: uid, GID: gid}
	if u, err := user.LookupId(strconv.Itoa(uid)); err == nil {
		id.User = u.Username
	} else {
		l.logger.Debug().Err(err).Int("uid", uid).Msg("user lookup failed")
	}
	if g, err := user.LookupGroupId(strconv.Itoa(gid)); err == nil {
		id.Group = g.Name
	} else {
		l.logger.Debug().Err(err).Int("gid", gid).Msg("group lookup failed")
	}
	return id, nil
}

// CPUs reads /proc/cpuinfo.
func (l *Local) CPUs(ctx context.Context) ([]CPU, error) {
	data, err := l.readFile(ctx, "/proc/cpuinfo")
	if err != nil {
		return nil, Unavailable(ProbeCPUs, err)
	}
	cpus := ParseCPUInfo(data)
	if len(cpus) == 0 {
		return nil, Unavailable(ProbeCPUs, errors.New("no processors listed in cpuinfo"))
	}
	return cpus, nil
}
