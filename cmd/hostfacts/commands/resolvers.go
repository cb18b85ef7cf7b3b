package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/hostfacts/pkg/engine"
)

// resolverView is the printed form of a registered resolver.
type resolverView struct {
	Name     string   `json:"name" yaml:"name"`
	Priority int      `json:"priority" yaml:"priority"`
	Level    int      `json:"level" yaml:"level"`
	Produces []string `json:"produces" yaml:"produces"`
	Depends  []string `json:"depends,omitempty" yaml:"depends,omitempty"`
	Confines []string `json:"confines,omitempty" yaml:"confines,omitempty"`
	After    []string `json:"after,omitempty" yaml:"after,omitempty"`
}

func newResolversCommand() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "resolvers",
		Short: "List registered resolvers",
		Long: `List the resolvers of a pass with what they produce and depend on.

External fact files and scripted resolvers are included as they are on disk.
With --dot the dependency graph is printed in Graphviz format.`,
		Example: `  # Render the dependency graph
  hostfacts resolvers --dot | dot -Tsvg > resolvers.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := selectedFormat()
			if err != nil {
				return err
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			registry, err := a.registry()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if dot {
				_, err := fmt.Fprint(w, registry.DOT())
				return err
			}

			views := describe(registry)
			switch format {
			case formatJSON:
				data, err := json.MarshalIndent(views, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, string(data))
				return err
			case formatYAML:
				return encodeYAML(w, views)
			}

			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPRIORITY\tPRODUCES\tDEPENDS\tCONFINES")
			for _, v := range views {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
					v.Name, v.Priority, joinOrDash(v.Produces), joinOrDash(v.Depends), joinOrDash(v.Confines))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print the dependency graph in DOT format")

	return cmd
}

func describe(registry *engine.Registry) []resolverView {
	descs := registry.Describe()
	views := make([]resolverView, 0, len(descs))
	for _, d := range descs {
		v := resolverView{
			Name:     d.Name,
			Priority: d.Priority,
			Level:    d.Level,
			Produces: d.Produces,
			After:    d.After,
		}
		for _, dep := range d.Depends {
			p := dep.Path
			if dep.Optional {
				p += "?"
			}
			v.Depends = append(v.Depends, p)
		}
		for _, c := range d.Confines {
			v.Confines = append(v.Confines, c.String())
		}
		views = append(views, v)
	}
	return views
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
