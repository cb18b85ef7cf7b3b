package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
	yamlOutput bool
	logJSON    bool

	// Resolution flags
	remoteHost   string
	remoteUser   string
	identityFile string
	noCache      bool
	blocklist    []string
	strict       bool
)

var buildVersion = "dev"

// ExitError ends the process with Code without further logging. Commands
// return it after printing their own result.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hostfacts [query...]",
		Short: "hostfacts - system fact resolution",
		Long: `hostfacts discovers facts about a host (operating system, kernel,
processors, identity and networking) and prints them as a tree.

Facts are produced by resolvers that are confined to the platforms where
they are valid and run in dependency order. External facts (facts.d) and
Starlark scripted facts extend the builtin set.`,
		Example: `  # Print every fact
  hostfacts

  # Print a single fact
  hostfacts os.distro.codename

  # Print several facts as key => value
  hostfacts kernelrelease networking.ip

  # Resolve a remote host over SSH
  hostfacts --host web01 --user deploy --json`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runResolve,
	}

	// Persistent flags available to all commands
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file path (default "+defaultConfigHint+")")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVar(&logJSON, "log-json", false, "write logs as JSON")
	flags.BoolVar(&jsonOutput, "json", false, "output in JSON format")
	flags.BoolVar(&yamlOutput, "yaml", false, "output in YAML format")
	flags.StringVar(&remoteHost, "host", "", "resolve a remote host over SSH")
	flags.StringVar(&remoteUser, "user", "", "SSH user for --host")
	flags.StringVarP(&identityFile, "identity", "i", "", "SSH private key for --host")
	flags.BoolVar(&noCache, "no-cache", false, "bypass the fact cache")
	flags.StringSliceVar(&blocklist, "blocklist", nil, "fact path prefixes to never store")
	addStrictFlag(rootCmd)

	// Add subcommands
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newCacheCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newResolversCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
