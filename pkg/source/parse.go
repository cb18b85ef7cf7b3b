package source

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// ParseKeyValues parses shell style KEY=value files such as os-release and
// lsb-release. Quotes around values are removed.
func ParseKeyValues(data []byte) (map[string]string, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
		KeyValueDelimiters:      "=",
	}, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key/value data: %w", err)
	}
	out := make(map[string]string)
	for k, v := range cfg.Section(ini.DefaultSection).KeysHash() {
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

// ParseCPUInfo parses /proc/cpuinfo into one CPU per processor block.
func ParseCPUInfo(data []byte) []CPU {
	var (
		cpus []CPU
		cur  *CPU
	)
	flush := func() {
		if cur != nil {
			cpus = append(cpus, *cur)
			cur = nil
		}
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)

		if key == "processor" {
			flush()
			n, err := strconv.Atoi(val)
			if err != nil {
				continue
			}
			cur = &CPU{Processor: n}
			continue
		}
		if cur == nil {
			continue
		}
		switch key {
		case "physical id":
			cur.PhysicalID = val
		case "core id":
			cur.CoreID = val
		case "model name":
			cur.ModelName = val
		case "cpu MHz":
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				cur.MHz = f
			}
		}
	}
	flush()
	return cpus
}

const (
	rtfUp     = 0x0001
	rtfReject = 0x0200
)

// ParseProcNetRoute extracts IPv4 default routes from /proc/net/route.
func ParseProcNetRoute(data []byte) ([]Route, error) {
	var routes []Route
	sc := bufio.NewScanner(bytes.NewReader(data))
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 8 {
			continue
		}
		if fields[1] != "00000000" || fields[7] != "00000000" {
			continue
		}
		flags, err := strconv.ParseUint(fields[3], 16, 32)
		if err != nil || flags&rtfUp == 0 {
			continue
		}
		gw, err := hexToIPv4(fields[2])
		if err != nil {
			return nil, err
		}
		metric, _ := strconv.Atoi(fields[6])
		routes = append(routes, Route{Interface: fields[0], Gateway: gw, Metric: metric})
	}
	return routes, sc.Err()
}

// /proc/net/route stores addresses in host byte order.
func hexToIPv4(s string) (net.IP, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 4 {
		return nil, fmt.Errorf("invalid route address %q", s)
	}
	v := binary.LittleEndian.Uint32(b)
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip, nil
}

// ParseIPv6Route extracts IPv6 default routes from /proc/net/ipv6_route.
func ParseIPv6Route(data []byte) ([]Route, error) {
	var routes []Route
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 10 {
			continue
		}
		if fields[0] != strings.Repeat("0", 32) || fields[1] != "00" {
			continue
		}
		flags, err := strconv.ParseUint(fields[8], 16, 32)
		if err != nil || flags&rtfUp == 0 || flags&rtfReject != 0 {
			continue
		}
		if fields[9] == "lo" {
			continue
		}
		gwBytes, err := hex.DecodeString(fields[4])
		if err != nil || len(gwBytes) != 16 {
			return nil, fmt.Errorf("invalid ipv6 route gateway %q", fields[4])
		}
		metric, _ := strconv.ParseUint(fields[5], 16, 32)
		routes = append(routes, Route{
			Interface: fields[9],
			Gateway:   net.IP(gwBytes),
			Metric:    int(metric),
			IPv6:      true,
		})
	}
	return routes, sc.Err()
}

// ParseDHCPLeases reads dhclient lease files and maps each interface to the
// server of its most recent lease.
func ParseDHCPLeases(data []byte) map[string]string {
	out := make(map[string]string)
	var iface, server string
	inLease := false

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "lease") && strings.HasSuffix(line, "{"):
			inLease = true
			iface, server = "", ""
		case line == "}":
			if inLease && iface != "" && server != "" {
				out[iface] = server
			}
			inLease = false
		case inLease && strings.HasPrefix(line, "interface "):
			iface = strings.Trim(strings.TrimSuffix(strings.TrimPrefix(line, "interface "), ";"), `" `)
		case inLease && strings.HasPrefix(line, "option dhcp-server-identifier "):
			server = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(line, "option dhcp-server-identifier "), ";"))
		}
	}
	return out
}

// ParseIPLink parses `ip -o link show` output into interfaces without
// addresses.
func ParseIPLink(data []byte) []Interface {
	var out []Interface
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(fields[0], ":"))
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(fields[1], ":")
		if at := strings.Index(name, "@"); at >= 0 {
			name = name[:at]
		}
		iface := Interface{Name: name, Index: idx}

		flags := strings.Trim(fields[2], "<>")
		for _, f := range strings.Split(flags, ",") {
			switch f {
			case "UP":
				iface.Flags.Up = true
			case "LOOPBACK":
				iface.Flags.Loopback = true
			case "POINTOPOINT":
				iface.Flags.PointToPoint = true
			}
		}
		for i := 3; i+1 < len(fields); i++ {
			switch fields[i] {
			case "mtu":
				iface.MTU, _ = strconv.Atoi(fields[i+1])
			case "link/ether":
				iface.MAC = strings.ToLower(fields[i+1])
			}
		}
		out = append(out, iface)
	}
	return out
}

// ParseIPAddr parses `ip -o addr show` output and attaches the addresses to
// the matching interfaces, preserving the order the addresses are listed in.
func ParseIPAddr(data []byte, ifaces []Interface) []Interface {
	byName := make(map[string]int, len(ifaces))
	for i, iface := range ifaces {
		byName[iface.Name] = i
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		name := strings.TrimSuffix(fields[1], ":")
		family := fields[2]
		if family != "inet" && family != "inet6" {
			continue
		}
		ip, ipnet, err := net.ParseCIDR(fields[3])
		if err != nil {
			continue
		}
		i, ok := byName[name]
		if !ok {
			ifaces = append(ifaces, Interface{Name: name})
			i = len(ifaces) - 1
			byName[name] = i
		}
		if family == "inet" {
			ip = ip.To4()
		}
		ifaces[i].Addrs = append(ifaces[i].Addrs, Addr{IP: ip, Mask: ipnet.Mask})
	}
	return ifaces
}

// ParseLines returns the non-empty trimmed lines of a command output.
func ParseLines(data string) []string {
	var out []string
	for _, l := range strings.Split(data, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
