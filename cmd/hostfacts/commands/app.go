package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/hostfacts/pkg/config"
	"github.com/openfroyo/hostfacts/pkg/engine"
	"github.com/openfroyo/hostfacts/pkg/resolvers"
	"github.com/openfroyo/hostfacts/pkg/source"
	"github.com/openfroyo/hostfacts/pkg/stores"
	"github.com/openfroyo/hostfacts/pkg/telemetry"
	"github.com/openfroyo/hostfacts/pkg/transports/ssh"
)

const defaultConfigHint = config.DefaultFile

// localSource builds the source for this host. Tests replace it.
var localSource = func(logger zerolog.Logger) source.Source {
	return source.NewLocal(source.WithLogger(logger))
}

// app is what a command needs to run a resolution pass: the configuration
// with flags applied and the telemetry built from it.
type app struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	logger zerolog.Logger
}

// newApp loads the configuration, applies the global flags and sets up
// logging, metrics and tracing.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg)

	tel, err := telemetry.NewTelemetry(telemetryConfig(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	// From here on the configured logger decides the level.
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	log.Logger = tel.Logger.Zerolog()

	return &app{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.Zerolog(),
	}, nil
}

// applyFlags lets command line flags override the configuration file.
func applyFlags(cfg *config.Config) {
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if logJSON {
		cfg.Logging.Format = "json"
	}
	if noCache {
		cfg.Cache.Enabled = false
	}
	cfg.Facts.Blocklist = append(cfg.Facts.Blocklist, blocklist...)
	if remoteHost != "" {
		cfg.Remote.Host = remoteHost
	}
	if remoteUser != "" {
		cfg.Remote.User = remoteUser
	}
	if identityFile != "" {
		cfg.Remote.AuthMethod = string(ssh.AuthMethodKey)
		cfg.Remote.PrivateKeyPath = identityFile
	}
}

func telemetryConfig(cfg *config.Config, stderr io.Writer) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = buildVersion
	tc.Logging.Level = cfg.Logging.Level
	tc.Logging.Format = cfg.Logging.Format
	if stderr != os.Stderr {
		tc.Logging.Writer = stderr
	}
	tc.Tracing.Exporter = cfg.Telemetry.Tracing.Exporter
	tc.Tracing.Endpoint = cfg.Telemetry.Tracing.Endpoint
	// Spans never go to stdout, which carries the facts.
	tc.Tracing.Output = stderr
	tc.Metrics.Enabled = cfg.Telemetry.MetricsEnabled
	return tc
}

// close flushes spans.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}

// host names the resolved host in the cache and in logs.
func (a *app) host() string {
	if a.cfg.Remote.Enabled() {
		return a.cfg.Remote.Host
	}
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "localhost"
}

// registry builds the resolver registry, including facts.d and scripted
// resolvers as they are on disk now.
func (a *app) registry() (*engine.Registry, error) {
	return resolvers.NewRegistry(resolvers.Sources{
		ExternalDirs: a.cfg.Facts.ExternalDirs,
		ScriptDirs:   a.cfg.Facts.ScriptDirs,
	}, a.logger)
}

// source returns the local source, or a remote one when a host is
// configured. The returned function releases the connection.
func (a *app) source(ctx context.Context) (source.Source, func(), error) {
	if !a.cfg.Remote.Enabled() {
		return localSource(a.logger), func() {}, nil
	}

	client, err := ssh.Dial(ctx, a.sshConfig(), a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", a.cfg.Remote.Host, err)
	}
	release := func() {
		if err := client.Disconnect(); err != nil {
			a.logger.Debug().Err(err).Msg("Disconnect failed")
		}
	}
	return source.NewRemote(client, a.logger.With().Str("host", a.cfg.Remote.Host).Logger()), release, nil
}

func (a *app) sshConfig() *ssh.Config {
	r := a.cfg.Remote
	name := r.User
	if name == "" {
		if u, err := user.Current(); err == nil {
			name = u.Username
		}
	}

	sc := ssh.DefaultConfig(r.Host, name)
	sc.Port = r.Port
	sc.AuthMethod = ssh.AuthMethod(r.AuthMethod)
	sc.Password = r.Password
	sc.PrivateKeyPath = r.PrivateKeyPath
	if r.KnownHostsPath != "" {
		sc.KnownHostsPath = r.KnownHostsPath
	}
	sc.StrictHostKeyChecking = r.StrictHostKeyChecking
	sc.CommandTimeout = a.cfg.Facts.ProbeTimeout.Std()
	return sc
}

// openCache opens the fact cache, or returns nil when it is disabled.
func (a *app) openCache(ctx context.Context) (*stores.SQLiteStore, error) {
	if !a.cfg.Cache.Enabled {
		return nil, nil
	}
	return a.openStore(ctx)
}

// openStore opens the cache database whether or not caching is enabled.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	path, err := a.cfg.CachePath()
	if err != nil {
		return nil, err
	}
	if path != stores.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	return stores.Open(ctx, stores.Config{
		Path:   path,
		Host:   a.host(),
		Logger: a.logger,
	})
}

// resolve runs one full resolution pass.
func (a *app) resolve(ctx context.Context) (*engine.Result, error) {
	registry, err := a.registry()
	if err != nil {
		return nil, err
	}

	src, release, err := a.source(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	opts := []engine.Option{
		engine.WithDetector(resolvers.Platform()),
		engine.WithParallelism(a.cfg.Facts.Parallelism),
		engine.WithProbeTimeout(a.cfg.Facts.ProbeTimeout.Std()),
		engine.WithResolverTimeout(a.cfg.Facts.ResolverTimeout.Std()),
		engine.WithBlocklist(a.cfg.Facts.Blocklist...),
	}
	opts = append(opts, a.tel.SchedulerOptions()...)

	cache, err := a.openCache(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Fact cache unavailable")
	}
	if cache != nil {
		defer cache.Close()
		opts = append(opts, engine.WithCache(cache, a.ttls()))
	}

	return engine.NewScheduler(registry, opts...).ResolveAll(ctx, src)
}

func (a *app) ttls() map[string]time.Duration {
	out := make(map[string]time.Duration, len(a.cfg.Cache.TTLs))
	for k, v := range a.cfg.Cache.TTLs {
		out[k] = v.Std()
	}
	return out
}
