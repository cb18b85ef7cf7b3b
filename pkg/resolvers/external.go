package resolvers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/hostfacts/pkg/engine"
	"github.com/openfroyo/hostfacts/pkg/facts"
	"github.com/openfroyo/hostfacts/pkg/source"
)

// ExternalPriority ranks external facts above the builtin resolvers so that
// an operator can override core facts.
const ExternalPriority = 100

// ExternalPrefix starts the name of every external fact resolver.
const ExternalPrefix = "external:"

// externalExtensions are the file types read from a facts directory.
var externalExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
	".txt":  true,
}

// LoadExternal creates one resolver per fact file in dirs. Missing
// directories are ignored; unreadable or malformed files are logged and
// skipped. Files are visited in lexical order so registration is stable.
func LoadExternal(dirs []string, logger zerolog.Logger) []engine.Resolver {
	var out []engine.Resolver
	seen := make(map[string]bool)

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn().Err(err).Str("dir", dir).Msg("Cannot read external facts directory")
			}
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		for _, entry := range entries {
			if entry.IsDir() || !externalExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			name := ExternalPrefix + entry.Name()
			if seen[name] {
				logger.Warn().Str("file", path).Msg("External fact file shadowed by an earlier directory")
				continue
			}

			res, err := newExternal(name, path)
			if err != nil {
				logger.Warn().Err(err).Str("file", path).Msg("Skipping external fact file")
				continue
			}
			seen[name] = true
			out = append(out, res)
		}
	}
	return out
}

type external struct {
	info engine.Info
	path string
}

func newExternal(name, path string) (*external, error) {
	set, err := readFactFile(path)
	if err != nil {
		return nil, err
	}
	if set.Len() == 0 {
		return nil, fmt.Errorf("no facts in %s", path)
	}

	var produces []string
	seen := make(map[string]bool)
	for _, f := range set.Entries() {
		top := facts.Group(f.Path)
		if !seen[top] {
			seen[top] = true
			produces = append(produces, top)
		}
	}

	return &external{
		info: engine.Info{Name: name, Produces: produces, Priority: ExternalPriority},
		path: path,
	}, nil
}

func (e *external) Info() engine.Info { return e.info }

// Resolve rereads the file so that value changes show up without
// reloading the registry.
func (e *external) Resolve(_ context.Context, _ *facts.Tree, _ source.Source) (*facts.Set, error) {
	set, err := readFactFile(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, engine.NewUnavailableError("external fact file removed", err).WithResolver(e.info.Name)
		}
		return nil, err
	}
	return set, nil
}

// readFactFile parses a YAML, JSON or key=value file into a write-set.
// Keys may be dotted paths.
func readFactFile(path string) (*facts.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	set := facts.NewSet()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		kv, err := source.ParseKeyValues(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		for _, k := range sortedKeys(kv) {
			set.Put(strings.TrimSpace(k), kv[k])
		}
	default:
		// JSON is a subset of YAML, so one decoder handles both.
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		for _, k := range sortedKeys(doc) {
			set.Put(k, doc[k])
		}
	}

	if err := set.Err(); err != nil {
		return nil, fmt.Errorf("invalid facts in %s: %w", path, err)
	}
	return set, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
