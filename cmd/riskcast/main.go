package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	serveradapter "github.com/hylla/riskcast/internal/adapters/server"
	"github.com/hylla/riskcast/internal/config"
	"github.com/hylla/riskcast/internal/platform"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// version stores a package-level helper value.
var version = "dev"

// workspaceFs resolves the filesystem used for input tables and exports.
var workspaceFs = func() afero.Fs {
	return afero.NewOsFs()
}

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

// main handles main.
func main() {
	root := newRootCommand(os.Stdout, os.Stderr)
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	); err != nil {
		os.Exit(1)
	}
}

// run executes one command line without fang's styled output.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	root.SilenceErrors = true
	return root.ExecuteContext(ctx)
}

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool
	quiet      bool

	stdout io.Writer
	stderr io.Writer
}

// newRootCommand builds the riskcast command tree.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	opts := &globalOptions{stdout: stdout, stderr: stderr}

	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv("RISKCAST_DEV_MODE"); ok {
		defaultDevMode = envDev
	}
	defaultApp := platform.DefaultAppName
	if envApp := strings.TrimSpace(os.Getenv("RISKCAST_APP_NAME")); envApp != "" {
		defaultApp = envApp
	}

	root := &cobra.Command{
		Use:   "riskcast",
		Short: "Simulate schedule risk and plan mitigation spend",
		Long: `riskcast reads an activity table and a risk table, runs a Monte Carlo
simulation of each risk's impact on activity durations, ranks the results,
and solves for the mitigation spend that buys back the most schedule within
a contingency budget.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config TOML")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "path to sqlite run store")
	root.PersistentFlags().StringVar(&opts.appName, "app", defaultApp, "application name for config/data path resolution")
	root.PersistentFlags().BoolVar(&opts.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "mute console logs (the dev log file still records)")

	root.AddCommand(
		newRunCommand(opts),
		newCombosCommand(opts),
		newGroupsCommand(opts),
		newRunsCommand(opts),
		newReportCommand(opts),
		newServeCommand(opts),
		newPathsCommand(opts),
	)
	return root
}

// runtimeEnv carries the resolved paths, configuration, and logger of one command.
type runtimeEnv struct {
	paths      platform.Paths
	configPath string
	cfg        config.Config
	logger     *runtimeLogger
}

// Close releases the runtime log sinks.
func (e *runtimeEnv) Close(stderr io.Writer) {
	if e == nil {
		return
	}
	if err := e.logger.Close(); err != nil {
		_, _ = fmt.Fprintf(stderr, "warning: close runtime log sink: %v\n", err)
	}
}

// resolvePaths resolves per-OS config and data paths.
func (o *globalOptions) resolvePaths() (platform.Paths, error) {
	return platform.DefaultPathsWithOptions(platform.Options{
		AppName: o.appName,
		DevMode: o.devMode,
	})
}

// setup resolves paths, loads configuration, and configures the runtime logger.
func (o *globalOptions) setup(command string) (*runtimeEnv, error) {
	paths, err := o.resolvePaths()
	if err != nil {
		return nil, err
	}

	configPath := strings.TrimSpace(o.configPath)
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("RISKCAST_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	dbPath := strings.TrimSpace(o.dbPath)
	dbOverridden := dbPath != ""
	if !dbOverridden {
		dbPath = paths.DBPath
	}

	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}

	logger, err := newRuntimeLogger(o.stderr, o.appName, o.devMode, cfg.Logging, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	logger.SetConsoleEnabled(!o.quiet)
	logger.Info("startup configuration resolved", "app", o.appName, "dev_mode", o.devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", cfg.Database.Path)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Debug("dev file logging enabled", "path", devPath)
	}
	return &runtimeEnv{
		paths:      paths,
		configPath: configPath,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// newPathsCommand builds `riskcast paths`.
func newPathsCommand(opts *globalOptions) *cobra.Command {
	var create bool
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data, and run store paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := opts.resolvePaths()
			if err != nil {
				return err
			}
			if create {
				for _, path := range []string{paths.ConfigPath, paths.DBPath} {
					if err := config.EnsureConfigDir(path); err != nil {
						return fmt.Errorf("create directory for %s: %w", path, err)
					}
				}
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(out, "export_dir: %s\n", paths.ExportDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "create the config and data directories")
	return cmd
}

// parseBoolEnv reads one optional boolean environment variable.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
