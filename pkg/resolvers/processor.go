package resolvers

import (
	"context"
	"fmt"

	"github.com/openfroyo/hostfacts/pkg/engine"
	"github.com/openfroyo/hostfacts/pkg/facts"
	"github.com/openfroyo/hostfacts/pkg/source"
)

var processorsInfo = engine.Info{
	Name:     "processors",
	Produces: []string{"processors"},
	Depends:  engine.Optionally("os.hardware"),
	Confines: []engine.Confinement{engine.Equal("kernel", "Linux")},
}

// Processors resolves processor topology from the per-processor entries of
// the source.
func Processors() engine.Resolver {
	return engine.NewFunc(processorsInfo, resolveProcessors)
}

func resolveProcessors(ctx context.Context, snap *facts.Tree, src source.Source) (*facts.Set, error) {
	cpus, err := src.CPUs(ctx)
	if err != nil {
		return nil, err
	}
	if len(cpus) == 0 {
		return nil, engine.NewUnavailableError("no processors reported", nil)
	}

	set := facts.NewSet()
	set.Put("processors.count", len(cpus))

	models, sockets := socketModels(cpus)
	set.Put("processors.physicalcount", sockets)
	set.Put("processors.models", models)

	set.Put("processors.isa", isa(ctx, snap, src))
	if speed := formatSpeed(cpus[0].MHz); speed != "" {
		set.Put("processors.speed", speed)
	}
	return set, nil
}

// socketModels returns one model name per physical package, in the order
// packages first appear, and the number of packages. Processors without a
// physical id count as one package.
func socketModels(cpus []source.CPU) ([]string, int) {
	seen := make(map[string]bool)
	var models []string
	for _, cpu := range cpus {
		if seen[cpu.PhysicalID] {
			continue
		}
		seen[cpu.PhysicalID] = true
		if cpu.ModelName != "" {
			models = append(models, cpu.ModelName)
		}
	}
	return models, len(seen)
}

// isa is `uname -p`, which Linux often reports as "unknown".
func isa(ctx context.Context, snap *facts.Tree, src source.Source) string {
	if u, err := src.Uname(ctx); err == nil && u.Processor != "" {
		return u.Processor
	}
	if hw, ok := snap.Lookup("os.hardware"); ok && hw != "" {
		return hw
	}
	return "unknown"
}

func formatSpeed(mhz float64) string {
	switch {
	case mhz <= 0:
		return ""
	case mhz >= 1000:
		return fmt.Sprintf("%.2f GHz", mhz/1000)
	default:
		return fmt.Sprintf("%.2f MHz", mhz)
	}
}
