package resolvers

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/hostfacts/pkg/engine"
)

// Builtin returns the core resolvers in registration order. The platform
// detector is not among them; pass Platform to engine.WithDetector.
func Builtin() []engine.Resolver {
	return []engine.Resolver{
		OS(),
		Kernel(),
		Processors(),
		Identity(),
		Networking(),
		Hostname(),
	}
}

// Sources lists where additional resolvers are loaded from.
type Sources struct {
	ExternalDirs []string
	ScriptDirs   []string
}

// NewRegistry registers the builtin resolvers, then external facts, then
// scripted facts. Files that cannot be read or parsed are logged and left
// out by the loaders. A loaded resolver the registry rejects, such as a
// duplicate name or a dependency cycle, is a configuration error: every
// rejection is collected and returned.
func NewRegistry(src Sources, logger zerolog.Logger) (*engine.Registry, error) {
	registry := engine.NewRegistry()
	for _, res := range Builtin() {
		if err := registry.Register(res); err != nil {
			return nil, fmt.Errorf("failed to register builtin resolver: %w", err)
		}
	}

	extra := LoadExternal(src.ExternalDirs, logger)
	extra = append(extra, LoadScripted(src.ScriptDirs, logger)...)
	var errs []error
	for _, res := range extra {
		if err := registry.Register(res); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid resolver configuration: %w", errors.Join(errs...))
	}
	return registry, nil
}
