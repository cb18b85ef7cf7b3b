package resolvers

import (
	"context"
	"strings"

	"github.com/openfroyo/hostfacts/pkg/engine"
	"github.com/openfroyo/hostfacts/pkg/facts"
	"github.com/openfroyo/hostfacts/pkg/source"
)

// distroIDs maps lowercase os-release / lsb-release identifiers to the
// canonical distro id.
var distroIDs = map[string]string{
	"debian":                 "Debian",
	"ubuntu":                 "Ubuntu",
	"linuxmint":              "LinuxMint",
	"raspbian":               "Raspbian",
	"devuan":                 "Devuan",
	"kali":                   "Kali",
	"centos":                 "CentOS",
	"rhel":                   "RedHat",
	"redhatenterpriseserver": "RedHat",
	"fedora":                 "Fedora",
	"amzn":                   "Amazon",
	"ol":                     "OracleLinux",
	"scientific":             "Scientific",
	"rocky":                  "Rocky",
	"almalinux":              "AlmaLinux",
	"sles":                   "SLES",
	"opensuse":               "OpenSuSE",
	"opensuse-leap":          "OpenSuSE",
	"opensuse-tumbleweed":    "OpenSuSE",
	"arch":                   "Archlinux",
	"manjaro":                "Manjaro",
	"alpine":                 "Alpine",
	"gentoo":                 "Gentoo",
}

// families groups distro ids into OS families.
var families = map[string]string{
	"Debian":      "Debian",
	"Ubuntu":      "Debian",
	"LinuxMint":   "Debian",
	"Raspbian":    "Debian",
	"Devuan":      "Debian",
	"Kali":        "Debian",
	"RedHat":      "RedHat",
	"CentOS":      "RedHat",
	"Fedora":      "RedHat",
	"Amazon":      "RedHat",
	"OracleLinux": "RedHat",
	"Scientific":  "RedHat",
	"Rocky":       "RedHat",
	"AlmaLinux":   "RedHat",
	"SLES":        "Suse",
	"OpenSuSE":    "Suse",
	"Archlinux":   "Archlinux",
	"Manjaro":     "Archlinux",
}

var platformInfo = engine.Info{
	Name: engine.DetectorName,
	Produces: []string{
		"kernel",
		"os.name",
		"os.family",
		"os.distro.id",
		"os.distro.codename",
		"os.hardware",
	},
}

// Platform returns the platform detector. It is not registered like the
// other resolvers: the scheduler runs it first so that confinements have
// kernel and os facts to look at.
func Platform() engine.Resolver {
	return engine.NewFunc(platformInfo, resolvePlatform)
}

func resolvePlatform(ctx context.Context, _ *facts.Tree, src source.Source) (*facts.Set, error) {
	u, unameErr := src.Uname(ctx)
	d, distroErr := src.Distro(ctx)
	if unameErr != nil && distroErr != nil {
		return nil, unameErr
	}

	set := facts.NewSet()
	if unameErr == nil {
		putString(set, "kernel", u.Sysname)
		putString(set, "os.hardware", u.Machine)
	}

	var id string
	if distroErr == nil {
		id = distroID(d)
		putString(set, "os.distro.id", id)
		putString(set, "os.distro.codename", codename(d))
	}

	// Without distro identification the kernel name stands in for both.
	name := id
	if name == "" {
		name = u.Sysname
	}
	if name != "" {
		set.Put("os.name", name)
		set.Put("os.family", family(name))
	}
	return set, nil
}

// distroID identifies the distribution from os-release, then lsb-release.
func distroID(d source.Distro) string {
	if raw := d.OSRelease["ID"]; raw != "" {
		if id, ok := distroIDs[strings.ToLower(raw)]; ok {
			return id
		}
		if fields := strings.Fields(d.OSRelease["NAME"]); len(fields) > 0 {
			return fields[0]
		}
		return strings.ToUpper(raw[:1]) + raw[1:]
	}
	if raw := d.LSB["DISTRIB_ID"]; raw != "" {
		if id, ok := distroIDs[strings.ToLower(raw)]; ok {
			return id
		}
		return raw
	}
	return ""
}

// codename prefers VERSION_CODENAME, then the LSB codename, then the
// parenthesized part of VERSION ("7 (wheezy)").
func codename(d source.Distro) string {
	if c := d.OSRelease["VERSION_CODENAME"]; c != "" {
		return c
	}
	if c := d.LSB["DISTRIB_CODENAME"]; c != "" {
		return c
	}
	v := d.OSRelease["VERSION"]
	open, end := strings.Index(v, "("), strings.LastIndex(v, ")")
	if open < 0 || end <= open {
		return ""
	}
	if fields := strings.Fields(v[open+1 : end]); len(fields) > 0 {
		return strings.TrimSuffix(fields[0], ",")
	}
	return ""
}

func family(name string) string {
	if f, ok := families[name]; ok {
		return f
	}
	return name
}

// putString records s unless it is empty.
func putString(set *facts.Set, path, s string) {
	if s != "" {
		set.Put(path, s)
	}
}
