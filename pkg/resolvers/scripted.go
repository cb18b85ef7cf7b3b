package resolvers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/hostfacts/pkg/config"
	"github.com/openfroyo/hostfacts/pkg/engine"
	"github.com/openfroyo/hostfacts/pkg/facts"
	"github.com/openfroyo/hostfacts/pkg/source"
)

// ScriptedPrefix starts the name of every scripted fact resolver.
const ScriptedPrefix = "script:"

type scripted struct {
	info   engine.Info
	script *config.Script
}

// Scripted adapts a loaded Starlark script to a resolver. Every declared
// dependency is required. Returned paths outside produces are dropped by
// the scheduler.
func Scripted(s *config.Script) (engine.Resolver, error) {
	info := engine.Info{
		Name:     ScriptedPrefix + s.Name,
		Produces: s.Produces,
		Priority: s.Priority,
	}
	if len(s.Depends) > 0 {
		info.Depends = engine.Requires(s.Depends...)
	}
	for _, c := range s.Confine {
		switch {
		case c.Pattern != "":
			conf, err := engine.Pattern(c.Path, c.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", s.Path, err)
			}
			info.Confines = append(info.Confines, conf)
		case len(c.Values) == 1:
			info.Confines = append(info.Confines, engine.Equal(c.Path, c.Values[0]))
		default:
			info.Confines = append(info.Confines, engine.OneOf(c.Path, c.Values...))
		}
	}
	return &scripted{info: info, script: s}, nil
}

// LoadScripted loads the scripts in dirs and adapts each of them.
func LoadScripted(dirs []string, logger zerolog.Logger) []engine.Resolver {
	var out []engine.Resolver
	for _, s := range config.LoadScripts(dirs, logger) {
		res, err := Scripted(s)
		if err != nil {
			logger.Warn().Err(err).Str("file", s.Path).Msg("Skipping scripted fact")
			continue
		}
		out = append(out, res)
	}
	return out
}

func (s *scripted) Info() engine.Info { return s.info }

func (s *scripted) Resolve(ctx context.Context, snap *facts.Tree, _ source.Source) (*facts.Set, error) {
	out, err := s.script.Call(ctx, snap.ToMap())
	if err != nil {
		return nil, err
	}
	set := facts.NewSet()
	for _, k := range sortedKeys(out) {
		set.Put(k, out[k])
	}
	return set, nil
}
