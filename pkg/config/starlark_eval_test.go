package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const virtualScript = `
name = "virtual"
confine = {
    "kernel": "Linux",
    "os.family": ["Debian", "RedHat"],
    "os.hardware": "/^x86_64$/",
}
depends = ["processors.models"]
produces = ["virtual", "is_virtual"]
priority = 10

def resolve(facts):
    models = facts.get("processors", {}).get("models", [])
    virtual = "physical"
    for m in models:
        if "QEMU" in m:
            virtual = "kvm"
    return {"virtual": virtual, "is_virtual": virtual != "physical"}
`

func TestParseScript(t *testing.T) {
	s, err := ParseScript("virtual.star", []byte(virtualScript), zerolog.Nop())
	if err != nil {
		t.Fatalf("ParseScript() error = %v", err)
	}

	if s.Name != "virtual" || s.Priority != 10 {
		t.Errorf("Name = %q, Priority = %d", s.Name, s.Priority)
	}
	if !reflect.DeepEqual(s.Produces, []string{"virtual", "is_virtual"}) {
		t.Errorf("Produces = %v", s.Produces)
	}
	if !reflect.DeepEqual(s.Depends, []string{"processors.models"}) {
		t.Errorf("Depends = %v", s.Depends)
	}

	want := []ScriptConfine{
		{Path: "kernel", Values: []string{"Linux"}},
		{Path: "os.family", Values: []string{"Debian", "RedHat"}},
		{Path: "os.hardware", Pattern: "^x86_64$"},
	}
	if !reflect.DeepEqual(s.Confine, want) {
		t.Errorf("Confine = %+v, want %+v", s.Confine, want)
	}
}

func TestParseScript_Errors(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"syntax error", "def resolve(facts)\n    return {}\n"},
		{"no produces", "def resolve(facts):\n    return {}\n"},
		{"no resolve", "produces = [\"a\"]\n"},
		{"resolve arity", "produces = [\"a\"]\ndef resolve():\n    return {}\n"},
		{"bad confine", "produces = [\"a\"]\nconfine = [\"kernel\"]\ndef resolve(facts):\n    return {}\n"},
		{"bad name", "name = 3\nproduces = [\"a\"]\ndef resolve(facts):\n    return {}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseScript("bad.star", []byte(tt.script), zerolog.Nop()); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestScript_Call(t *testing.T) {
	s, err := ParseScript("virtual.star", []byte(virtualScript), zerolog.Nop())
	if err != nil {
		t.Fatalf("ParseScript() error = %v", err)
	}

	tests := []struct {
		name  string
		input map[string]any
		want  map[string]any
	}{
		{
			name:  "physical",
			input: map[string]any{"processors": map[string]any{"models": []any{"Intel(R) Xeon(R)"}}},
			want:  map[string]any{"virtual": "physical", "is_virtual": false},
		},
		{
			name:  "kvm",
			input: map[string]any{"processors": map[string]any{"models": []any{"QEMU Virtual CPU version 2.5+"}}},
			want:  map[string]any{"virtual": "kvm", "is_virtual": true},
		},
		{
			name:  "missing facts",
			input: map[string]any{},
			want:  map[string]any{"virtual": "physical", "is_virtual": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Call(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Call() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Call() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScript_CallReturnsDict(t *testing.T) {
	s, err := ParseScript("list.star", []byte("produces = [\"a\"]\ndef resolve(facts):\n    return [1]\n"), zerolog.Nop())
	if err != nil {
		t.Fatalf("ParseScript() error = %v", err)
	}
	if _, err := s.Call(context.Background(), nil); err == nil {
		t.Error("expected an error for a non-dict result")
	}
}

func TestScript_CallCanceled(t *testing.T) {
	src := `
produces = ["spin"]
def resolve(facts):
    n = 0
    for i in range(1000000000):
        n += i
    return {"spin": n}
`
	s, err := ParseScript("spin.star", []byte(src), zerolog.Nop())
	if err != nil {
		t.Fatalf("ParseScript() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = s.Call(ctx, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Call() error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("cancellation took %v", time.Since(start))
	}
}

func TestLoadScripts(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b_virtual.star": virtualScript,
		"a_broken.star":  "this is not starlark",
		"c_named.star":   "produces = [\"custom.value\"]\ndef resolve(facts):\n    return {\"custom.value\": 1}\n",
		"notes.txt":      "ignored",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	scripts := LoadScripts([]string{dir, filepath.Join(dir, "missing")}, zerolog.Nop())
	if len(scripts) != 2 {
		t.Fatalf("LoadScripts() returned %d scripts, want 2", len(scripts))
	}
	if scripts[0].Name != "virtual" {
		t.Errorf("scripts[0].Name = %q, want virtual", scripts[0].Name)
	}
	if scripts[1].Name != "c_named" {
		t.Errorf("scripts[1].Name = %q, want the file stem", scripts[1].Name)
	}
}

func TestStarlarkConversion(t *testing.T) {
	in := map[string]any{
		"s":    "x",
		"i":    int64(3),
		"b":    true,
		"list": []any{"a", int64(1)},
		"map":  map[string]any{"k": "v"},
		"nil":  nil,
	}
	sv, err := toStarlarkValue(in)
	if err != nil {
		t.Fatalf("toStarlarkValue() error = %v", err)
	}
	out, err := fromStarlarkValue(sv)
	if err != nil {
		t.Fatalf("fromStarlarkValue() error = %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("round trip = %v, want %v", out, in)
	}

	if _, err := toStarlarkValue(struct{}{}); err == nil {
		t.Error("expected an error for an unsupported type")
	}
}
