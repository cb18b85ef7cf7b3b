package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/hostfacts/pkg/facts"
)

type outputFormat int

const (
	formatText outputFormat = iota
	formatJSON
	formatYAML
)

func selectedFormat() (outputFormat, error) {
	switch {
	case jsonOutput && yamlOutput:
		return formatText, fmt.Errorf("--json and --yaml are mutually exclusive")
	case jsonOutput:
		return formatJSON, nil
	case yamlOutput:
		return formatYAML, nil
	default:
		return formatText, nil
	}
}

func addStrictFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&strict, "strict", false, "exit 1 when a queried fact is absent")
}

func newResolveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [query...]",
		Short: "Resolve facts and print them",
		Long: `Run a resolution pass and print the result.

Without a query the whole tree is printed. A single query prints the bare
value; several queries print one "key => value" line each. Queries are dot
separated paths and numeric segments index lists, for example
networking.interfaces.eth0.bindings.0.address.

A query for a fact that could not be resolved prints nothing. With --strict
the command then exits with status 1.`,
		Example: `  # Print the operating system subtree as YAML
  hostfacts resolve os --yaml

  # Fail when the primary interface is unknown
  hostfacts resolve networking.primary --strict`,
		RunE: runResolve,
	}
	addStrictFlag(cmd)
	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	format, err := selectedFormat()
	if err != nil {
		return err
	}
	for _, q := range args {
		if !facts.ValidPath(q) {
			return fmt.Errorf("invalid query %q", q)
		}
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.resolve(cmd.Context())
	if err != nil {
		return err
	}

	missing, err := printFacts(cmd.OutOrStdout(), result.Tree, args, format)
	if err != nil {
		return err
	}
	if missing > 0 && strict {
		return &ExitError{Code: 1}
	}
	return nil
}

// printFacts writes the tree or the queried facts and returns how many
// queries were absent.
func printFacts(w io.Writer, tree *facts.Tree, queries []string, format outputFormat) (int, error) {
	if len(queries) == 0 {
		return 0, printTree(w, tree, format)
	}

	missing := 0
	found := make([]facts.Fact, 0, len(queries))
	present := make(map[string]bool, len(queries))
	for _, q := range queries {
		f, ok := tree.Get(q)
		if !ok {
			missing++
			continue
		}
		found = append(found, f)
		present[q] = true
	}

	switch format {
	case formatJSON, formatYAML:
		return missing, printQueried(w, queries, found, present, format)
	}

	if len(queries) == 1 {
		if len(found) == 1 {
			_, err := fmt.Fprintln(w, found[0].Value.String())
			return missing, err
		}
		return missing, nil
	}
	for _, f := range found {
		if _, err := fmt.Fprintf(w, "%s => %s\n", f.Path, f.Value.String()); err != nil {
			return missing, err
		}
	}
	return missing, nil
}

func printTree(w io.Writer, tree *facts.Tree, format outputFormat) error {
	switch format {
	case formatJSON:
		data, err := tree.MarshalJSON()
		if err != nil {
			return err
		}
		return writeIndented(w, data)
	case formatYAML:
		return encodeYAML(w, tree)
	}

	entries, _ := tree.GetSubtree("")
	for _, f := range entries {
		if _, err := fmt.Fprintf(w, "%s => %s\n", f.Path, f.Value.String()); err != nil {
			return err
		}
	}
	return nil
}

// printQueried writes queried facts as one mapping in query order. Absent
// queries map to null.
func printQueried(w io.Writer, queries []string, found []facts.Fact, present map[string]bool, format outputFormat) error {
	node := &yaml.Node{Kind: yaml.MappingNode}
	var buf []byte
	buf = append(buf, '{')
	i := 0
	for n, q := range queries {
		var value facts.Value
		var ok bool
		if present[q] {
			value, ok = found[i].Value, true
			i++
		}

		if format == formatYAML {
			v := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
			if ok {
				encoded, err := value.MarshalYAML()
				if err != nil {
					return err
				}
				v = encoded.(*yaml.Node)
			}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: q}, v)
			continue
		}

		if n > 0 {
			buf = append(buf, ',')
		}
		key, _ := json.Marshal(q)
		buf = append(buf, key...)
		buf = append(buf, ':')
		if !ok {
			buf = append(buf, "null"...)
			continue
		}
		encoded, err := value.MarshalJSON()
		if err != nil {
			return err
		}
		buf = append(buf, encoded...)
	}
	buf = append(buf, '}')

	if format == formatYAML {
		return encodeYAML(w, node)
	}
	return writeIndented(w, buf)
}

func writeIndented(w io.Writer, data []byte) error {
	out, err := json.MarshalIndent(json.RawMessage(data), "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')
	_, err = w.Write(out)
	return err
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
