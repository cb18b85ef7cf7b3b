package resolvers_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/hostfacts/pkg/engine"
	"github.com/openfroyo/hostfacts/pkg/resolvers"
	"github.com/openfroyo/hostfacts/pkg/source"
	"github.com/openfroyo/hostfacts/pkg/source/sourcetest"
)

func resolveWith(t *testing.T, registry *engine.Registry, src source.Source) *engine.Result {
	t.Helper()
	sched := engine.NewScheduler(registry, engine.WithDetector(resolvers.Platform()))
	res, err := sched.ResolveAll(context.Background(), src)
	require.NoError(t, err)
	return res
}

func resolveBuiltin(t *testing.T, src source.Source) *engine.Result {
	t.Helper()
	registry := engine.NewRegistry()
	registry.MustRegister(resolvers.Builtin()...)
	return resolveWith(t, registry, src)
}

func TestDebianReleases(t *testing.T) {
	tests := []struct {
		rel  sourcetest.Release
		want map[string]string
	}{
		{
			rel: sourcetest.Squeeze,
			want: map[string]string{
				"os.release.full":  "6.0.10",
				"os.release.major": "6",
				"os.release.minor": "0",
				"kernelversion":    "2.6.32",
				"kernelmajversion": "2.6",
			},
		},
		{
			rel: sourcetest.Wheezy,
			want: map[string]string{
				"os.release.full":  "7.8",
				"os.release.major": "7",
				"os.release.minor": "8",
				"kernelversion":    "3.2.0",
				"kernelmajversion": "3.2",
			},
		},
		{
			rel: sourcetest.Jessie,
			want: map[string]string{
				"os.release.full":  "8.2",
				"os.release.major": "8",
				"os.release.minor": "2",
				"kernelversion":    "3.16.0",
				"kernelmajversion": "3.16",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.rel.Codename, func(t *testing.T) {
			res := resolveBuiltin(t, sourcetest.Debian(tt.rel))
			for path, want := range tt.want {
				got, ok := res.Tree.Lookup(path)
				if assert.True(t, ok, "%s is absent", path) {
					assert.Equal(t, want, got, path)
				}
			}
			codename, _ := res.Tree.Lookup("os.distro.codename")
			assert.Equal(t, tt.rel.Codename, codename)
			kernel, _ := res.Tree.Lookup("kernelrelease")
			assert.Equal(t, tt.rel.KernelRelease, kernel)
		})
	}
}

func TestWheezyFacts(t *testing.T) {
	res := resolveBuiltin(t, sourcetest.Debian(sourcetest.Wheezy))
	assert.Zero(t, res.Count(engine.StatusFailed))

	want := map[string]string{
		"kernel":                         "Linux",
		"os.name":                        "Debian",
		"os.family":                      "Debian",
		"os.distro.id":                   "Debian",
		"os.hardware":                    "x86_64",
		"os.architecture":                "amd64",
		"os.distro.description":          "Debian GNU/Linux 7.8 (wheezy)",
		"os.distro.release.full":         "7.8",
		"os.distro.release.major":        "7",
		"processors.count":               "2",
		"processors.physicalcount":       "1",
		"processors.models.0":            "Intel(R) Xeon(R) CPU E5-2670 0 @ 2.60GHz",
		"processors.isa":                 "unknown",
		"processors.speed":               "2.60 GHz",
		"identity.uid":                   "0",
		"identity.gid":                   "0",
		"identity.user":                  "root",
		"identity.group":                 "root",
		"identity.privileged":            "true",
		"networking.primary":             "eth0",
		"networking.ip":                  "10.0.2.15",
		"networking.netmask":             "255.255.255.0",
		"networking.network":             "10.0.2.0",
		"networking.ip6":                 "fe80::a00:27ff:fe8d:c04d",
		"networking.netmask6":            "ffff:ffff:ffff:ffff::",
		"networking.network6":            "fe80::",
		"networking.mac":                 "08:00:27:8d:c0:4d",
		"networking.mtu":                 "1500",
		"networking.dhcp":                "10.0.2.2",
		"networking.hostname":            "debian-wheezy",
		"networking.domain":              "example.com",
		"networking.fqdn":                "debian-wheezy.example.com",
		"networking.interfaces.eth0.bindings.0.address":  "10.0.2.15",
		"networking.interfaces.eth0.bindings.0.netmask":  "255.255.255.0",
		"networking.interfaces.eth0.bindings.0.network":  "10.0.2.0",
		"networking.interfaces.eth0.bindings6.0.address": "fe80::a00:27ff:fe8d:c04d",
		"networking.interfaces.eth0.dhcp":                "10.0.2.2",
		"networking.interfaces.lo.ip":                    "127.0.0.1",
		"networking.interfaces.lo.ip6":                   "::1",
		"networking.interfaces.lo.mtu":                   "65536",
	}
	for path, v := range want {
		got, ok := res.Tree.Lookup(path)
		if assert.True(t, ok, "%s is absent", path) {
			assert.Equal(t, v, got, path)
		}
	}

	_, ok := res.Tree.Lookup("networking.interfaces.lo.mac")
	assert.False(t, ok, "loopback has no MAC")
}

func TestOwnership(t *testing.T) {
	res := resolveBuiltin(t, sourcetest.Debian(sourcetest.Wheezy))

	owners := map[string]string{
		"kernel":              engine.DetectorName,
		"os.release.major":    "os",
		"kernelmajversion":    "kernel",
		"identity.privileged": "identity",
		"networking.ip":       "networking",
		"networking.fqdn":     "hostname",
	}
	for path, owner := range owners {
		assert.Equal(t, owner, res.Tree.Owner(path), path)
	}
}

func TestWithoutDistroFiles(t *testing.T) {
	src := sourcetest.Debian(sourcetest.Wheezy)
	src.Fail = map[string]bool{source.ProbeDistro: true}

	res := resolveBuiltin(t, src)

	name, _ := res.Tree.Lookup("os.name")
	assert.Equal(t, "Linux", name)
	family, _ := res.Tree.Lookup("os.family")
	assert.Equal(t, "Linux", family)
	arch, _ := res.Tree.Lookup("os.architecture")
	assert.Equal(t, "x86_64", arch, "no Debian mapping without a Debian family")

	_, ok := res.Tree.Lookup("os.release.full")
	assert.False(t, ok)
	_, ok = res.Tree.Lookup("os.distro.codename")
	assert.False(t, ok)
}

func TestNonLinuxKernel(t *testing.T) {
	src := sourcetest.Debian(sourcetest.Wheezy)
	src.UnameData.Sysname = "FreeBSD"
	src.Fail = map[string]bool{source.ProbeDistro: true}

	res := resolveBuiltin(t, src)

	o, ok := res.Outcome("processors")
	require.True(t, ok)
	assert.Equal(t, engine.StatusSkipped, o.Status)
	_, ok = res.Tree.Lookup("processors.count")
	assert.False(t, ok)

	o, _ = res.Outcome("identity")
	assert.Equal(t, engine.StatusResolved, o.Status)
}

func TestProbeFailuresLeaveOtherFacts(t *testing.T) {
	src := sourcetest.Debian(sourcetest.Wheezy)
	src.Fail = map[string]bool{
		source.ProbeInterfaces: true,
		source.ProbeCPUs:       true,
	}

	res := resolveBuiltin(t, src)

	for _, name := range []string{"networking", "processors"} {
		o, ok := res.Outcome(name)
		require.True(t, ok, name)
		assert.Equal(t, engine.StatusSkipped, o.Status, name)
	}
	_, ok := res.Tree.Lookup("networking.ip")
	assert.False(t, ok)
	fqdn, _ := res.Tree.Lookup("networking.fqdn")
	assert.Equal(t, "debian-wheezy.example.com", fqdn)
}

func TestRegistryWithExternalAndScriptedFacts(t *testing.T) {
	factsDir := t.TempDir()
	scriptDir := t.TempDir()

	write := func(dir, name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write(factsDir, "site.yaml", "os:\n  release:\n    full: \"7.99\"\nsite:\n  role: db\n")
	write(factsDir, "rack.txt", "rack=r12\n")
	write(factsDir, "broken.json", "{not json")
	write(scriptDir, "virtual.star", `
name = "virtual"
confine = {"kernel": "Linux"}
depends = ["processors.models"]
produces = ["virtual"]

def resolve(facts):
    for m in facts["processors"]["models"]:
        if "QEMU" in m:
            return {"virtual": "kvm"}
    return {"virtual": "physical", "rogue": 1}
`)

	registry, err := resolvers.NewRegistry(resolvers.Sources{
		ExternalDirs: []string{factsDir},
		ScriptDirs:   []string{scriptDir},
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, len(resolvers.Builtin())+3, registry.Len())

	res := resolveWith(t, registry, sourcetest.Debian(sourcetest.Wheezy))

	full, _ := res.Tree.Lookup("os.release.full")
	assert.Equal(t, "7.99", full, "external facts override builtins")
	assert.Equal(t, "external:site.yaml", res.Tree.Owner("os.release.full"))
	major, _ := res.Tree.Lookup("os.release.major")
	assert.Equal(t, "7", major)

	role, _ := res.Tree.Lookup("site.role")
	assert.Equal(t, "db", role)
	rack, _ := res.Tree.Lookup("rack")
	assert.Equal(t, "r12", rack)

	virtual, _ := res.Tree.Lookup("virtual")
	assert.Equal(t, "physical", virtual)
	assert.Equal(t, resolvers.ScriptedPrefix+"virtual", res.Tree.Owner("virtual"))
	_, ok := res.Tree.Lookup("rogue")
	assert.False(t, ok, "paths outside produces are dropped")
}

func TestRegistryRejectsConflictingScripts(t *testing.T) {
	script := func(name, depends string) string {
		return `
name = "` + name + `"
depends = ["` + depends + `"]
produces = ["` + name + `"]

def resolve(facts):
    return {"` + name + `": 1}
`
	}

	t.Run("cycle", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.star"), []byte(script("a", "b")), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "b.star"), []byte(script("b", "a")), 0o644))

		registry, err := resolvers.NewRegistry(resolvers.Sources{ScriptDirs: []string{dir}}, zerolog.Nop())
		require.Error(t, err)
		assert.Nil(t, registry)
		assert.True(t, engine.IsConfiguration(err))
		assert.Contains(t, err.Error(), "circular dependency")
	})

	t.Run("duplicate name", func(t *testing.T) {
		first, second := t.TempDir(), t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(first, "rack.star"), []byte(script("rack", "kernel")), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(second, "rack.star"), []byte(script("rack", "kernel")), 0o644))

		_, err := resolvers.NewRegistry(resolvers.Sources{ScriptDirs: []string{first, second}}, zerolog.Nop())
		require.Error(t, err)
		assert.True(t, engine.IsConfiguration(err))
		assert.Contains(t, err.Error(), "duplicate resolver name")
	})
}

func TestExternalFileRemoved(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"gone": {"soon": true}}`), 0o644))

	loaded := resolvers.LoadExternal([]string{dir}, zerolog.Nop())
	require.Len(t, loaded, 1)
	require.NoError(t, os.Remove(path))

	_, err := loaded[0].Resolve(context.Background(), nil, nil)
	assert.True(t, engine.IsUnavailable(err))
}
