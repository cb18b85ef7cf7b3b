package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Runner executes commands and reads files on a remote host. The SSH
// transport implements it.
type Runner interface {
	ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// Remote probes a host through a Runner. Files are read directly and the
// kernel, identity and link data come from uname, id and ip.
type Remote struct {
	runner Runner
	logger zerolog.Logger
}

// NewRemote returns a source backed by runner.
func NewRemote(runner Runner, logger zerolog.Logger) *Remote {
	return &Remote{runner: runner, logger: logger}
}

var _ Source = (*Remote)(nil)

func (r *Remote) run(ctx context.Context, probe, cmd string) (string, error) {
	stdout, stderr, err := r.runner.ExecuteCommand(ctx, cmd)
	if err != nil {
		r.logger.Debug().Err(err).Str("probe", probe).Str("stderr", stderr).Msg("remote command failed")
		return "", Unavailable(probe, err)
	}
	return stdout, nil
}

// Distro implements Source.
func (r *Remote) Distro(ctx context.Context) (Distro, error) {
	var d Distro
	for _, p := range []string{"/etc/os-release", "/usr/lib/os-release"} {
		data, err := r.runner.ReadFile(ctx, p)
		if err != nil {
			continue
		}
		if kv, err := ParseKeyValues(data); err == nil {
			d.OSRelease = kv
			break
		}
	}
	if data, err := r.runner.ReadFile(ctx, "/etc/lsb-release"); err == nil {
		if kv, err := ParseKeyValues(data); err == nil {
			d.LSB = kv
		}
	}
	for _, p := range versionFiles {
		if data, err := r.runner.ReadFile(ctx, p); err == nil {
			d.VersionFile = strings.TrimSpace(string(data))
			break
		}
	}
	if d.Empty() {
		return Distro{}, Unavailable(ProbeDistro, errors.New("no release files found on remote host"))
	}
	return d, nil
}

const unameCmd = "uname -s; uname -n; uname -r; uname -v; uname -m; uname -p"

// Uname implements Source.
func (r *Remote) Uname(ctx context.Context) (Uname, error) {
	out, err := r.run(ctx, ProbeUname, unameCmd)
	if err != nil {
		return Uname{}, err
	}
	lines := strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n")
	if len(lines) < 5 {
		return Uname{}, Unavailable(ProbeUname, fmt.Errorf("unexpected uname output %q", out))
	}
	u := Uname{
		Sysname:  strings.TrimSpace(lines[0]),
		Nodename: strings.TrimSpace(lines[1]),
		Release:  strings.TrimSpace(lines[2]),
		Version:  strings.TrimSpace(lines[3]),
		Machine:  strings.TrimSpace(lines[4]),
	}
	if len(lines) > 5 {
		u.Processor = strings.TrimSpace(lines[5])
	}
	return u, nil
}

// Interfaces implements Source.
func (r *Remote) Interfaces(ctx context.Context) ([]Interface, error) {
	links, err := r.run(ctx, ProbeInterfaces, "ip -o link show")
	if err != nil {
		return nil, err
	}
	addrs, err := r.run(ctx, ProbeInterfaces, "ip -o addr show")
	if err != nil {
		return nil, err
	}
	ifaces := ParseIPAddr([]byte(addrs), ParseIPLink([]byte(links)))
	if len(ifaces) == 0 {
		return nil, Unavailable(ProbeInterfaces, errors.New("no interfaces reported"))
	}
	return ifaces, nil
}

// Routes implements Source.
func (r *Remote) Routes(ctx context.Context) ([]Route, error) {
	var routes []Route
	var found bool
	if data, err := r.runner.ReadFile(ctx, "/proc/net/route"); err == nil {
		found = true
		v4, err := ParseProcNetRoute(data)
		if err != nil {
			return nil, Unavailable(ProbeRoutes, err)
		}
		routes = append(routes, v4...)
	}
	if data, err := r.runner.ReadFile(ctx, "/proc/net/ipv6_route"); err == nil {
		found = true
		v6, err := ParseIPv6Route(data)
		if err != nil {
			return nil, Unavailable(ProbeRoutes, err)
		}
		routes = append(routes, v6...)
	}
	if !found {
		return nil, Unavailable(ProbeRoutes, errors.New("routing table not readable on remote host"))
	}
	return routes, nil
}

// DHCPServers implements Source.
func (r *Remote) DHCPServers(ctx context.Context) (map[string]string, error) {
	var buf bytes.Buffer
	for _, g := range leaseGlobs {
		out, _, err := r.runner.ExecuteCommand(ctx, "cat "+g+" 2>/dev/null")
		if err == nil {
			buf.WriteString(out)
			buf.WriteByte('\n')
		}
	}
	if strings.TrimSpace(buf.String()) == "" {
		return nil, Unavailable(ProbeDHCP, errors.New("no dhcp leases on remote host"))
	}
	return ParseDHCPLeases(buf.Bytes()), nil
}

// Identity implements Source.
func (r *Remote) Identity(ctx context.Context) (Identity, error) {
	out, err := r.run(ctx, ProbeIdentity, "id -u; id -g; id -un; id -gn")
	if err != nil {
		return Identity{}, err
	}
	lines := ParseLines(out)
	if len(lines) < 2 {
		return Identity{}, Unavailable(ProbeIdentity, fmt.Errorf("unexpected id output %q", out))
	}
	uid, err := strconv.Atoi(lines[0])
	if err != nil {
		return Identity{}, Unavailable(ProbeIdentity, err)
	}
	gid, err := strconv.Atoi(lines[1])
	if err != nil {
		return Identity{}, Unavailable(ProbeIdentity, err)
	}
	id := Identity{UID: uid, GID: gid}
	if len(lines) > 2 {
		id.User = lines[2]
	}
	if len(lines) > 3 {
		id.Group = lines[3]
	}
	return id, nil
}

// CPUs implements Source.
func (r *Remote) CPUs(ctx context.Context) ([]CPU, error) {
	data, err := r.runner.ReadFile(ctx, "/proc/cpuinfo")
	if err != nil {
		return nil, Unavailable(ProbeCPUs, err)
	}
	cpus := ParseCPUInfo(data)
	if len(cpus) == 0 {
		return nil, Unavailable(ProbeCPUs, errors.New("no processors listed in cpuinfo"))
	}
	return cpus, nil
}
