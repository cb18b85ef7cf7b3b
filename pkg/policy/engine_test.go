package policy

import (
	"context"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/hostfacts/pkg/engine"
	"github.com/openfroyo/hostfacts/pkg/facts"
	"github.com/openfroyo/hostfacts/pkg/resolvers"
	"github.com/openfroyo/hostfacts/pkg/source/sourcetest"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func wheezyTree(t *testing.T) *facts.Tree {
	t.Helper()
	registry := engine.NewRegistry()
	registry.MustRegister(resolvers.Builtin()...)
	res, err := engine.NewScheduler(registry, engine.WithDetector(resolvers.Platform())).
		ResolveAll(context.Background(), sourcetest.Debian(sourcetest.Wheezy))
	if err != nil {
		t.Fatalf("Failed to resolve facts: %v", err)
	}
	return res.Tree
}

func treeOf(t *testing.T, entries map[string]any) *facts.Tree {
	t.Helper()
	set := facts.NewSet()
	for path, v := range entries {
		set.Put(path, v)
	}
	if err := set.Err(); err != nil {
		t.Fatalf("Invalid fact set: %v", err)
	}
	return facts.NewTree(set)
}

func violationPaths(report *Report, policy string) []string {
	var paths []string
	for _, v := range report.Violations {
		if v.Policy == policy {
			paths = append(paths, v.Path)
		}
	}
	return paths
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
		if !p.Builtin {
			t.Errorf("Policy %s should be builtin", p.Name)
		}
	}
	if want := []string{"consistency", "debian"}; !reflect.DeepEqual(names, want) {
		t.Errorf("Expected builtin policies %v, got %v", want, names)
	}
}

func TestEvaluate_ConsistentHost(t *testing.T) {
	eng := newTestEngine(t)

	report, err := eng.Evaluate(context.Background(), wheezyTree(t))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if !report.Passed {
		t.Errorf("Expected a consistent host to pass, got %+v", report.Violations)
	}
	if len(report.Violations) != 0 {
		t.Errorf("Expected no violations, got %+v", report.Violations)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", report.Warnings)
	}
	if want := []string{"consistency", "debian"}; !reflect.DeepEqual(report.Evaluated, want) {
		t.Errorf("Expected evaluated %v, got %v", want, report.Evaluated)
	}
}

func TestEvaluate_InconsistentHost(t *testing.T) {
	eng := newTestEngine(t)

	tree := treeOf(t, map[string]any{
		"os.name":                         "Debian",
		"os.family":                       "RedHat",
		"os.release.full":                 "7.8",
		"os.release.major":                "8",
		"kernelrelease":                   "3.2.0-4-amd64",
		"kernelmajversion":                "3.16",
		"identity.uid":                    1000,
		"identity.privileged":             true,
		"networking.primary":              "eth1",
		"networking.ip":                   "10.0.2.300",
		"networking.interfaces.eth0.mtu": 1500,
	})

	report, err := eng.Evaluate(context.Background(), tree)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if report.Passed {
		t.Error("Expected the check to fail")
	}

	wantConsistency := []string{
		"identity.privileged",
		"kernelmajversion",
		"networking.ip",
		"networking.primary",
		"os.release.major",
	}
	if got := violationPaths(report, "consistency"); !reflect.DeepEqual(got, wantConsistency) {
		t.Errorf("consistency violations = %v, want %v", got, wantConsistency)
	}

	wantDebian := []string{"os.distro.codename", "os.distro.id", "os.family"}
	if got := violationPaths(report, "debian"); !reflect.DeepEqual(got, wantDebian) {
		t.Errorf("debian violations = %v, want %v", got, wantDebian)
	}

	if n := report.Count(SeverityWarning); n != 1 {
		t.Errorf("Expected 1 warning violation, got %d", n)
	}
	if n := report.Count(SeverityError); n != 7 {
		t.Errorf("Expected 7 error violations, got %d", n)
	}
}

func TestEvaluate_PrimaryWithoutBinding(t *testing.T) {
	eng := newTestEngine(t)

	tree := treeOf(t, map[string]any{
		"networking.primary":             "eth0",
		"networking.interfaces.eth0.mtu": 1500,
	})

	report, err := eng.Evaluate(context.Background(), tree)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	got := violationPaths(report, "consistency")
	if want := []string{"networking.interfaces.eth0"}; !reflect.DeepEqual(got, want) {
		t.Errorf("violations = %v, want %v", got, want)
	}
}

func TestEvaluate_WarningsDoNotFail(t *testing.T) {
	eng := newTestEngine(t)

	tree := treeOf(t, map[string]any{
		"os.name":         "Debian",
		"os.family":       "Debian",
		"os.distro.id":    "Debian",
		"os.release.full": "7.8",
	})

	report, err := eng.Evaluate(context.Background(), tree)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !report.Passed {
		t.Errorf("Expected warnings only, got %+v", report.Violations)
	}
	if len(report.Violations) != 1 || report.Violations[0].Severity != SeverityWarning {
		t.Errorf("Expected one warning, got %+v", report.Violations)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)

	if err := eng.DisablePolicy("debian"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	p, err := eng.GetPolicy("debian")
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if p.Enabled {
		t.Error("Policy should be disabled")
	}

	tree := treeOf(t, map[string]any{"os.name": "Debian"})
	report, err := eng.Evaluate(context.Background(), tree)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(report.Violations) != 0 {
		t.Errorf("Disabled policy still reported %+v", report.Violations)
	}

	if err := eng.EnablePolicy("debian"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("Expected an error for an unknown policy")
	}
}

func TestAddAndReplacePolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{
		Name:     "site",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package site.rack

import rego.v1

deny contains "rack fact is missing" if not input.rack
`,
	}
	if err := eng.AddPolicies(ctx, []Policy{custom}); err != nil {
		t.Fatalf("AddPolicies failed: %v", err)
	}

	report, err := eng.Evaluate(ctx, treeOf(t, map[string]any{"kernel": "Linux"}))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(report.Violations) != 1 || report.Violations[0].Message != "rack fact is missing" {
		t.Fatalf("Expected the site violation, got %+v", report.Violations)
	}
	if report.Violations[0].Severity != SeverityError {
		t.Errorf("Plain string violations take the policy severity, got %s", report.Violations[0].Severity)
	}

	broken := Policy{Name: "broken", Enabled: true, Rego: "package broken\n\ndeny contains"}
	if err := eng.AddPolicies(ctx, []Policy{broken}); err == nil {
		t.Error("Expected a compile error")
	}
	if _, err := eng.GetPolicy("broken"); err == nil {
		t.Error("A policy that failed to compile was installed")
	}

	if err := eng.ReplacePolicies(ctx, nil); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}
	if _, err := eng.GetPolicy("site"); err == nil {
		t.Error("ReplacePolicies kept a loaded policy")
	}
	if _, err := eng.GetPolicy("consistency"); err != nil {
		t.Error("ReplacePolicies dropped a builtin policy")
	}
}
