package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wheezyOSRelease = `PRETTY_NAME="Debian GNU/Linux 7 (wheezy)"
NAME="Debian GNU/Linux"
VERSION_ID="7"
VERSION="7 (wheezy)"
ID=debian
ANSI_COLOR="1;31"
HOME_URL="http://www.debian.org/"
# comment
BUG_REPORT_URL="http://bugs.debian.org/"
`

func TestParseKeyValues(t *testing.T) {
	kv, err := ParseKeyValues([]byte(wheezyOSRelease))
	require.NoError(t, err)

	assert.Equal(t, "Debian GNU/Linux 7 (wheezy)", kv["PRETTY_NAME"])
	assert.Equal(t, "debian", kv["ID"])
	assert.Equal(t, "7", kv["VERSION_ID"])
	assert.Equal(t, "http://www.debian.org/", kv["HOME_URL"])
}

const cpuinfo = `processor	: 0
vendor_id	: GenuineIntel
model name	: Intel(R) Xeon(R) CPU E5-2670 0 @ 2.60GHz
cpu MHz		: 2600.000
physical id	: 0
core id		: 0

processor	: 1
vendor_id	: GenuineIntel
model name	: Intel(R) Xeon(R) CPU E5-2670 0 @ 2.60GHz
cpu MHz		: 2600.000
physical id	: 1
core id		: 0
`

func TestParseCPUInfo(t *testing.T) {
	cpus := ParseCPUInfo([]byte(cpuinfo))
	require.Len(t, cpus, 2)

	assert.Equal(t, 1, cpus[1].Processor)
	assert.Equal(t, "1", cpus[1].PhysicalID)
	assert.Equal(t, "Intel(R) Xeon(R) CPU E5-2670 0 @ 2.60GHz", cpus[0].ModelName)
	assert.InDelta(t, 2600.0, cpus[0].MHz, 0.001)
}

const procNetRoute = `Iface	Destination	Gateway 	Flags	RefCnt	Use	Metric	Mask		MTU	Window	IRTT
eth0	0002000A	00000000	0001	0	0	0	00FFFFFF	0	0	0
eth1	00000000	0103A8C0	0003	0	0	100	00000000	0	0	0
eth0	00000000	0202000A	0003	0	0	0	00000000	0	0	0
`

func TestParseProcNetRoute(t *testing.T) {
	routes, err := ParseProcNetRoute([]byte(procNetRoute))
	require.NoError(t, err)
	require.Len(t, routes, 2)

	assert.Equal(t, "eth1", routes[0].Interface)
	assert.Equal(t, "192.168.3.1", routes[0].Gateway.String())
	assert.Equal(t, 100, routes[0].Metric)
	assert.Equal(t, "eth0", routes[1].Interface)
	assert.Equal(t, "10.0.2.2", routes[1].Gateway.String())
}

const ipv6Route = `fe800000000000000000000000000000 40 00000000000000000000000000000000 00 00000000000000000000000000000000 00000100 00000001 00000000 00000001     eth0
00000000000000000000000000000000 00 00000000000000000000000000000000 00 fe800000000000000000000000000001 00000400 00000001 00000000 00000003     eth0
00000000000000000000000000000000 00 00000000000000000000000000000000 00 00000000000000000000000000000000 ffffffff 00000001 00000000 00200200       lo
`

func TestParseIPv6Route(t *testing.T) {
	routes, err := ParseIPv6Route([]byte(ipv6Route))
	require.NoError(t, err)
	require.Len(t, routes, 1)

	assert.Equal(t, "eth0", routes[0].Interface)
	assert.True(t, routes[0].IPv6)
	assert.Equal(t, 1024, routes[0].Metric)
	assert.Equal(t, "fe80::1", routes[0].Gateway.String())
}

const leases = `lease {
  interface "eth0";
  fixed-address 10.0.2.15;
  option dhcp-server-identifier 10.0.2.2;
}
lease {
  interface "eth1";
  option dhcp-server-identifier 192.168.56.100;
}
lease {
  interface "eth0";
  option dhcp-server-identifier 10.0.2.3;
}
`

func TestParseDHCPLeases(t *testing.T) {
	got := ParseDHCPLeases([]byte(leases))
	assert.Equal(t, map[string]string{"eth0": "10.0.2.3", "eth1": "192.168.56.100"}, got)
}

const ipLink = `1: lo: <LOOPBACK,UP,LOWER_UP> mtu 65536 qdisc noqueue state UNKNOWN mode DEFAULT group default \    link/loopback 00:00:00:00:00:00 brd 00:00:00:00:00:00
2: eth0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 qdisc pfifo_fast state UP mode DEFAULT group default qlen 1000\    link/ether 08:00:27:8D:C0:4D brd ff:ff:ff:ff:ff:ff
3: veth1@if4: <BROADCAST,MULTICAST> mtu 1450 qdisc noop state DOWN\    link/ether 02:42:ac:11:00:02 brd ff:ff:ff:ff:ff:ff
`

const ipAddr = `1: lo    inet 127.0.0.1/8 scope host lo\       valid_lft forever preferred_lft forever
1: lo    inet6 ::1/128 scope host \       valid_lft forever preferred_lft forever
2: eth0    inet 10.0.2.15/24 brd 10.0.2.255 scope global eth0\       valid_lft forever preferred_lft forever
2: eth0    inet6 fe80::a00:27ff:fe8d:c04d/64 scope link \       valid_lft forever preferred_lft forever
`

func TestParseIPLinkAndAddr(t *testing.T) {
	ifaces := ParseIPAddr([]byte(ipAddr), ParseIPLink([]byte(ipLink)))
	require.Len(t, ifaces, 3)

	lo := ifaces[0]
	assert.True(t, lo.Flags.Loopback)
	assert.Equal(t, 65536, lo.MTU)
	require.Len(t, lo.Addrs, 2)

	eth0 := ifaces[1]
	assert.Equal(t, "eth0", eth0.Name)
	assert.True(t, eth0.Flags.Up)
	assert.Equal(t, "08:00:27:8d:c0:4d", eth0.MAC)
	require.Len(t, eth0.Addrs, 2)
	assert.True(t, eth0.Addrs[0].IsIPv4())
	assert.Equal(t, "10.0.2.15", eth0.Addrs[0].IP.String())
	assert.Equal(t, "ffffff00", eth0.Addrs[0].Mask.String())
	assert.False(t, eth0.Addrs[1].IsIPv4())

	veth := ifaces[2]
	assert.Equal(t, "veth1", veth.Name)
	assert.False(t, veth.Flags.Up)
	assert.Empty(t, veth.Addrs)
}
