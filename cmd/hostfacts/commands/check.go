package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/hostfacts/pkg/policy"
)

func newCheckCommand() *cobra.Command {
	var policyDirs []string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate fact policies against the resolved tree",
		Long: `Resolve facts and evaluate the builtin and configured Rego policies
against the tree.

Builtin policies check that facts agree with each other, for example that
networking.ip is bound to networking.primary. Additional policies are
loaded from policy.paths in the configuration and from --policy.

The command exits with status 1 when any violation has error severity.`,
		Example: `  # Check the local host
  hostfacts check

  # Check a remote host with site policies
  hostfacts check --host web1 --policy /etc/hostfacts/policy.d --json`,
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

			ctx := cmd.Context()
			engine, err := policy.NewEngine(a.logger)
			if err != nil {
				return fmt.Errorf("failed to create policy engine: %w", err)
			}
			paths := append(append([]string{}, a.cfg.Policy.Paths...), policyDirs...)
			if len(paths) > 0 {
				if err := engine.LoadPolicies(ctx, paths); err != nil {
					return err
				}
			}

			result, err := a.resolve(ctx)
			if err != nil {
				return err
			}
			report, err := engine.Evaluate(ctx, result.Tree)
			if err != nil {
				return err
			}

			a.logger.Debug().
				Bool("passed", report.Passed).
				Int("errors", report.Count(policy.SeverityError)).
				Int("warnings", report.Count(policy.SeverityWarning)).
				Msg("Policies evaluated")

			if err := printReport(cmd.OutOrStdout(), report, format); err != nil {
				return err
			}
			if !report.Passed {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyDirs, "policy", nil, "additional policy directory or file (repeatable)")

	return cmd
}

func printReport(w io.Writer, report *policy.Report, format outputFormat) error {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatYAML:
		return encodeYAML(w, report)
	}

	for _, v := range report.Violations {
		target := v.Policy
		if v.Path != "" {
			target += " " + v.Path
		}
		fmt.Fprintf(w, "%-7s %s: %s\n", v.Severity, target, v.Message)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "skipped %s\n", warning)
	}

	status := "passed"
	if !report.Passed {
		status = "failed"
	}
	_, err := fmt.Fprintf(w, "%s: %d policies, %d errors, %d warnings\n",
		status, len(report.Evaluated), report.Count(policy.SeverityError), report.Count(policy.SeverityWarning))
	return err
}
