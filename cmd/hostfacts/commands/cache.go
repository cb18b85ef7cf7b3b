package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/hostfacts/pkg/stores"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the fact cache",
		Long: `Inspect and clear the persistent fact cache.

Resolvers with a TTL in cache.ttls store their facts in a SQLite database
keyed by host and resolver. Later passes reuse the stored facts until the
entry expires.`,
	}

	cmd.AddCommand(newCacheListCommand())
	cmd.AddCommand(newCacheClearCommand())

	return cmd
}

func newCacheListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached resolver results",
		Args:  cobra.NoArgs,
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

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			return printEntries(cmd, entries, format)
		},
	}
}

func printEntries(cmd *cobra.Command, entries []stores.Entry, format outputFormat) error {
	w := cmd.OutOrStdout()
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatYAML:
		return encodeYAML(w, entries)
	}

	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "cache is empty")
		return err
	}

	now := time.Now()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HOST\tRESOLVER\tFACTS\tEXPIRES")
	for _, e := range entries {
		expires := e.ExpiresAt.Local().Format(time.RFC3339)
		if e.Expired(now) {
			expires = "expired"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.Host, e.Resolver, e.Facts, expires)
	}
	return tw.Flush()
}

func newCacheClearCommand() *cobra.Command {
	var (
		host        string
		expiredOnly bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached resolver results",
		Example: `  # Drop everything
  hostfacts cache clear

  # Drop the entries of one host
  hostfacts cache clear --for web1

  # Drop expired entries only
  hostfacts cache clear --expired`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if expiredOnly && host != "" {
				return fmt.Errorf("--expired and --for are mutually exclusive")
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var removed int64
			if expiredOnly {
				removed, err = store.Prune(ctx)
			} else {
				removed, err = store.Clear(ctx, host)
			}
			if err != nil {
				return err
			}

			a.logger.Debug().Str("host", host).Int64("removed", removed).Msg("Cache cleared")
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", removed)
			return err
		},
	}

	cmd.Flags().StringVar(&host, "for", "", "only clear entries of this host")
	cmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	return cmd
}
