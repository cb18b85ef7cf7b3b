// Package source defines the External System Data Source: the raw probes the
// resolvers normalize into facts. Local reads the running host, Remote reads
// a host over SSH. Every probe failure wraps ErrUnavailable.
package source

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUnavailable marks a probe whose data could not be obtained. Callers treat
// it as "not resolved" and never as a fatal error.
var ErrUnavailable = errors.New("data unavailable")

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(probe string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", probe, ErrUnavailable)
	}
	return &ProbeError{Probe: probe, Err: err}
}

// ProbeError is returned by probes that failed.
type ProbeError struct {
	Probe string
	Err   error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Probe, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Is makes every probe error match ErrUnavailable.
func (e *ProbeError) Is(target error) bool {
	return target == ErrUnavailable
}

// Probe names, used in errors, logs and metrics.
const (
	ProbeDistro     = "distro"
	ProbeUname      = "uname"
	ProbeInterfaces = "interfaces"
	ProbeRoutes     = "routes"
	ProbeDHCP       = "dhcp"
	ProbeIdentity   = "identity"
	ProbeCPUs       = "cpus"
)

// Source is the set of raw probes a resolution pass may call. Implementations
// must honor ctx and return errors wrapping ErrUnavailable.
type Source interface {
	// Distro returns the OS identification files.
	Distro(ctx context.Context) (Distro, error)
	// Uname returns kernel identification.
	Uname(ctx context.Context) (Uname, error)
	// Interfaces enumerates network interfaces with their addresses.
	Interfaces(ctx context.Context) ([]Interface, error)
	// Routes returns the default routes.
	Routes(ctx context.Context) ([]Route, error)
	// DHCPServers maps interface names to the DHCP server that leased them an address.
	DHCPServers(ctx context.Context) (map[string]string, error)
	// Identity returns the effective identity of the process.
	Identity(ctx context.Context) (Identity, error)
	// CPUs returns one entry per logical processor.
	CPUs(ctx context.Context) ([]CPU, error)
}

// Distro is raw OS identification. Any part may be empty.
type Distro struct {
	// OSRelease holds the key/value pairs of os-release.
	OSRelease map[string]string
	// LSB holds the key/value pairs of lsb-release.
	LSB map[string]string
	// VersionFile is the trimmed content of a distro version file such as
	// /etc/debian_version.
	VersionFile string
}

// Empty reports whether no identification source was found.
func (d Distro) Empty() bool {
	return len(d.OSRelease) == 0 && len(d.LSB) == 0 && d.VersionFile == ""
}

// Uname mirrors the fields of uname(1).
type Uname struct {
	Sysname  string
	Nodename string
	Release  string
	Version  string
	Machine  string
	// Processor is `uname -p`; often "unknown" on Linux.
	Processor string
}

// Flags are the interface flags the resolvers care about.
type Flags struct {
	Up           bool
	Loopback     bool
	PointToPoint bool
}

// Addr is one address assigned to an interface. Network is nil when the
// source did not report it.
type Addr struct {
	IP      net.IP
	Mask    net.IPMask
	Network net.IP
}

// IsIPv4 reports whether the address is IPv4.
func (a Addr) IsIPv4() bool { return a.IP.To4() != nil }

// Interface is a raw network interface in enumeration order.
type Interface struct {
	Name  string
	Index int
	Flags Flags
	MAC   string
	MTU   int
	Addrs []Addr
}

// Route is a default route candidate.
type Route struct {
	Interface string
	Gateway   net.IP
	Metric    int
	IPv6      bool
}

// Identity is the effective process identity. Names are empty when the
// lookup failed.
type Identity struct {
	UID   int
	GID   int
	User  string
	Group string
}

// CPU is one logical processor.
type CPU struct {
	Processor  int
	PhysicalID string
	CoreID     string
	ModelName  string
	MHz        float64
}
