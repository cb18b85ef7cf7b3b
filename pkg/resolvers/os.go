package resolvers

import (
	"context"
	"regexp"
	"strings"

	"github.com/openfroyo/hostfacts/pkg/engine"
	"github.com/openfroyo/hostfacts/pkg/facts"
	"github.com/openfroyo/hostfacts/pkg/source"
)

var osInfo = engine.Info{
	Name: "os",
	Produces: []string{
		"os.release",
		"os.distro.release",
		"os.distro.description",
		"os.architecture",
	},
	Depends: append(
		engine.Requires("os.name"),
		engine.Optionally("os.family", "os.hardware", "os.distro.codename")...,
	),
}

// OS resolves release numbers, the distro description and the package
// architecture.
func OS() engine.Resolver {
	return engine.NewFunc(osInfo, resolveOS)
}

func resolveOS(ctx context.Context, snap *facts.Tree, src source.Source) (*facts.Set, error) {
	set := facts.NewSet()

	family, _ := snap.Lookup("os.family")
	if hw, ok := snap.Lookup("os.hardware"); ok {
		set.Put("os.architecture", architecture(family, hw))
	}

	d, err := src.Distro(ctx)
	if err != nil {
		if set.Len() > 0 {
			return set, nil
		}
		return nil, err
	}

	full := releaseFull(d)
	if v, ok := parseVersion(full); ok {
		for _, prefix := range []string{"os.release", "os.distro.release"} {
			set.Put(prefix+".full", full)
			set.Put(prefix+".major", v.major())
			if minor, ok := v.minor(); ok {
				set.Put(prefix+".minor", minor)
			}
		}
	}

	name, _ := snap.Lookup("os.name")
	code, _ := snap.Lookup("os.distro.codename")
	putString(set, "os.distro.description", description(d, name, full, code))

	return set, nil
}

// releaseFull picks the most precise release string: the distro version
// file ("7.8" in /etc/debian_version), then lsb-release, then VERSION_ID
// ("7").
func releaseFull(d source.Distro) string {
	if v, ok := findVersion(d.VersionFile); ok {
		return v.numeric
	}
	if r := d.LSB["DISTRIB_RELEASE"]; r != "" {
		return r
	}
	return d.OSRelease["VERSION_ID"]
}

// description renders "Debian GNU/Linux 7.8 (wheezy)" when lsb-release does
// not provide one.
func description(d source.Distro, name, full, code string) string {
	if desc := d.LSB["DISTRIB_DESCRIPTION"]; desc != "" {
		return desc
	}
	base := d.OSRelease["NAME"]
	if base == "" {
		base = name
	}
	if base == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(base)
	if full != "" {
		sb.WriteString(" " + full)
	}
	if code != "" {
		sb.WriteString(" (" + code + ")")
	}
	return sb.String()
}

var ia32 = regexp.MustCompile(`^i[3-6]86$`)

// architecture maps the hardware name to the Debian package architecture on
// Debian-family hosts and keeps it as is elsewhere.
func architecture(family, hardware string) string {
	if family != "Debian" {
		return hardware
	}
	switch {
	case hardware == "x86_64":
		return "amd64"
	case ia32.MatchString(hardware):
		return "i386"
	case hardware == "aarch64":
		return "arm64"
	case strings.HasPrefix(hardware, "armv7"):
		return "armhf"
	default:
		return hardware
	}
}
