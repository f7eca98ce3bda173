package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"
	"github.com/hylla/riskcast/internal/adapters/chart"
	"github.com/hylla/riskcast/internal/adapters/report"
	serveradapter "github.com/hylla/riskcast/internal/adapters/server"
	servercommon "github.com/hylla/riskcast/internal/adapters/server/common"
	"github.com/hylla/riskcast/internal/adapters/storage/sqlite"
	"github.com/hylla/riskcast/internal/adapters/tabular"
	"github.com/hylla/riskcast/internal/app"
	"github.com/hylla/riskcast/internal/config"
	"github.com/hylla/riskcast/internal/mitigation"
	"github.com/hylla/riskcast/internal/platform/otel"
	"github.com/hylla/riskcast/internal/simulation"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
)

// defaultChartLimit caps the tornado chart printed after a run.
const defaultChartLimit = 15

// runFlags holds `riskcast run` overrides; only flags the user set win over config.
type runFlags struct {
	activities    string
	risks         string
	iterations    int
	workers       int
	seed          uint64
	mode          string
	summary       string
	budget        float64
	outDir        string
	legacyUniform bool
	noExport      bool
	noPersist     bool
	chartLimit    int
	reportPath    string
	plain         bool
}

// newRunCommand builds `riskcast run`.
func newRunCommand(opts *globalOptions) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Simulate risk impacts and solve the mitigation plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.setup("run")
			if err != nil {
				return err
			}
			defer env.Close(opts.stderr)
			if err := applyRunFlags(cmd, flags, &env.cfg); err != nil {
				return err
			}
			return runSimulation(cmd.Context(), cmd.OutOrStdout(), env, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.activities, "activities", "", "activity table (CSV)")
	f.StringVar(&flags.risks, "risks", "", "risk register table (CSV)")
	f.IntVarP(&flags.iterations, "iterations", "n", 0, "Monte Carlo trials per risk and activity")
	f.IntVar(&flags.workers, "workers", 0, "parallel trial workers")
	f.Uint64Var(&flags.seed, "seed", 0, "fixed run seed (0 draws a fresh seed)")
	f.StringVar(&flags.mode, "mode", "", "simulation mode: individual or grouped")
	f.StringVar(&flags.summary, "summary", "", "summary key: activity_risk or risk")
	f.Float64Var(&flags.budget, "budget", 0, "mitigation budget (0 means the total contingency)")
	f.StringVarP(&flags.outDir, "out", "o", "", "output directory for exported tables")
	f.BoolVar(&flags.legacyUniform, "legacy-uniform", false, "make the unused uniform draw before each beta draw (reproduces reference sequences)")
	f.BoolVar(&flags.noExport, "no-export", false, "skip writing output tables")
	f.BoolVar(&flags.noPersist, "no-persist", false, "skip storing the run")
	f.IntVar(&flags.chartLimit, "chart-limit", defaultChartLimit, "rows in the printed tornado chart (0 hides it)")
	f.StringVar(&flags.reportPath, "report", "", "also write a markdown report to this path")
	f.BoolVar(&flags.plain, "plain", false, "disable styled output")
	return cmd
}

// applyRunFlags overlays changed run flags onto the loaded config.
func applyRunFlags(cmd *cobra.Command, flags *runFlags, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("activities") {
		cfg.Input.Activities = flags.activities
	}
	if changed("risks") {
		cfg.Input.Risks = flags.risks
	}
	if changed("iterations") {
		cfg.Simulation.Iterations = flags.iterations
	}
	if changed("workers") {
		cfg.Simulation.Workers = flags.workers
	}
	if changed("seed") {
		cfg.Simulation.Seed = flags.seed
	}
	if changed("mode") {
		cfg.Simulation.Mode = config.RunMode(strings.TrimSpace(flags.mode))
	}
	if changed("summary") {
		cfg.Simulation.Summary = config.SummaryMode(strings.TrimSpace(flags.summary))
	}
	if changed("budget") {
		cfg.Optimizer.Budget = flags.budget
	}
	if changed("out") {
		cfg.Export.Dir = flags.outDir
	}
	if changed("legacy-uniform") {
		cfg.Simulation.LegacyUniformDraw = flags.legacyUniform
	}
	return cfg.Validate()
}

// serviceConfig maps loaded configuration onto the app service settings.
func serviceConfig(cfg config.Config, exporter app.Exporter, logger app.Logger) (app.ServiceConfig, error) {
	mode, err := app.ParseRunMode(string(cfg.Simulation.Mode))
	if err != nil {
		return app.ServiceConfig{}, err
	}
	summary, err := simulation.ParseSummaryMode(string(cfg.Simulation.Summary))
	if err != nil {
		return app.ServiceConfig{}, err
	}
	return app.ServiceConfig{
		Simulation: simulation.Config{
			Iterations:        cfg.Simulation.Iterations,
			Workers:           cfg.Simulation.Workers,
			LegacyUniformDraw: cfg.Simulation.LegacyUniformDraw,
		},
		Mode:        mode,
		SummaryMode: summary,
		Seed:        cfg.Simulation.Seed,
		Optimizer: mitigation.Config{
			Budget:    cfg.Optimizer.Budget,
			Tolerance: cfg.Optimizer.Tolerance,
			Timeout:   cfg.Optimizer.Timeout.Std(),
		},
		Exporter: exporter,
		Logger:   logger,
	}, nil
}

// setupTelemetry starts tracing when an endpoint is configured.
func setupTelemetry(ctx context.Context, env *runtimeEnv) func() {
	shutdown, err := otel.Setup(ctx, otel.Options{
		ServiceName:    env.cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       env.cfg.Telemetry.OTelEndpoint,
	})
	if err != nil {
		env.logger.Warn("telemetry disabled", "err", err)
		return func() {}
	}
	return func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			env.logger.Warn("telemetry flush failed", "err", err)
		}
	}
}

// loadInputs reads the configured activity and risk tables.
func loadInputs(fs afero.Fs, cfg config.Config) (app.RunInput, error) {
	activities, err := tabular.LoadActivities(fs, cfg.Input.Activities)
	if err != nil {
		return app.RunInput{}, err
	}
	risks, err := tabular.LoadRisks(fs, cfg.Input.Risks)
	if err != nil {
		return app.RunInput{}, err
	}
	return app.RunInput{Activities: activities, Risks: risks}, nil
}

// runSimulation executes one full pipeline run and prints its outcome.
func runSimulation(ctx context.Context, out io.Writer, env *runtimeEnv, flags *runFlags) error {
	stopTelemetry := setupTelemetry(ctx, env)
	defer stopTelemetry()

	fs := workspaceFs()
	in, err := loadInputs(fs, env.cfg)
	if err != nil {
		env.logger.Error("run failed", "stage", "input", "err", err)
		return err
	}
	in.SkipExport = flags.noExport
	in.SkipPersist = flags.noPersist

	var repo app.Repository
	if !flags.noPersist {
		store, err := sqlite.Open(env.cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				env.logger.Warn("close run store", "err", closeErr)
			}
		}()
		repo = store
	}

	var (
		exporter app.Exporter
		tables   *tabular.Exporter
	)
	if !flags.noExport {
		tables = tabular.NewExporter(fs, env.cfg.Export.Dir)
		exporter = tables
	}
	svcCfg, err := serviceConfig(env.cfg, exporter, env.logger)
	if err != nil {
		return err
	}
	svc := app.NewService(repo, uuid.NewString, time.Now, svcCfg)
	result, err := svc.Run(ctx, in)
	if err != nil {
		env.logger.Error("run failed", "stage", "pipeline", "err", err)
		if app.IsInputError(err) {
			return fmt.Errorf("no usable input: %w", err)
		}
		return err
	}

	printRunOutcome(out, result, tables, flags)
	if path := strings.TrimSpace(flags.reportPath); path != "" {
		snap := app.SnapshotFromResult(result, result.Run.CreatedAt)
		md := report.Markdown(snap, report.Options{
			Language: language.English,
			Chart:    chart.Tornado(result.Ranked, chart.Options{Limit: flags.chartLimit, Plain: true}),
		})
		if err := afero.WriteFile(fs, path, []byte(md+"\n"), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		_, _ = fmt.Fprintf(out, "report: %s\n", path)
	}
	return nil
}

// printRunOutcome writes the run header, chart, and selected allocations.
func printRunOutcome(out io.Writer, result app.RunResult, tables *tabular.Exporter, flags *runFlags) {
	run := result.Run
	_, _ = fmt.Fprintf(out, "run %s\n", run.ID)
	_, _ = fmt.Fprintf(out, "mode: %s  summary: %s  trials: %d  seed: %d\n", run.Mode, run.SummaryMode, run.Iterations, run.Seed)
	_, _ = fmt.Fprintf(out, "baseline: %.1f days  risks: %d/%d simulated  samples: %d\n", run.Baseline, run.ValidRiskCount, run.RiskCount, run.SampleCount)
	if n := len(result.Diagnostics); n > 0 {
		_, _ = fmt.Fprintf(out, "skipped input: %d item(s)\n", n)
	}
	if flags.chartLimit > 0 && len(result.Ranked) > 0 {
		_, _ = fmt.Fprintln(out, chart.Tornado(result.Ranked, chart.Options{
			Limit: flags.chartLimit,
			Plain: flags.plain,
			Title: "Schedule impact (days)",
		}))
	}

	alloc := result.Allocation
	if alloc.Status != mitigation.StatusOptimal {
		_, _ = fmt.Fprintf(out, "allocation: %s (%s)\n", alloc.Status, alloc.Reason)
	} else {
		_, _ = fmt.Fprintf(out, "allocation: %s  objective: %.2f  budget: %.2f\n", alloc.Status, alloc.Objective, alloc.Budget)
		for _, item := range alloc.Selected() {
			_, _ = fmt.Fprintf(out, "  %s: %.2f days for %.2f\n", item.RiskID, item.Level, item.Spend)
		}
	}
	if tables != nil {
		_, _ = fmt.Fprintf(out, "tables: %s\n", tables.Dir())
	}
}

// inputFlags holds the table paths shared by the inspection commands.
type inputFlags struct {
	activities string
	risks      string
}

// bind registers the table path flags.
func (f *inputFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.activities, "activities", "", "activity table (CSV)")
	cmd.Flags().StringVar(&f.risks, "risks", "", "risk register table (CSV)")
}

// load reads the inputs after applying changed flags.
func (f *inputFlags) load(cmd *cobra.Command, cfg config.Config) (app.RunInput, error) {
	if cmd.Flags().Changed("activities") {
		cfg.Input.Activities = f.activities
	}
	if cmd.Flags().Changed("risks") {
		cfg.Input.Risks = f.risks
	}
	return loadInputs(workspaceFs(), cfg)
}

// newCombosCommand builds `riskcast combos`.
func newCombosCommand(opts *globalOptions) *cobra.Command {
	flags := &inputFlags{}
	cmd := &cobra.Command{
		Use:   "combos",
		Short: "List the risk interaction combinations of the register",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.setup("combos")
			if err != nil {
				return err
			}
			defer env.Close(opts.stderr)
			in, err := flags.load(cmd, env.cfg)
			if err != nil {
				return err
			}
			svc := app.NewService(nil, nil, nil, app.ServiceConfig{Logger: env.logger})
			combos, err := svc.EnumerateCombinations(in)
			if err != nil {
				return err
			}
			t := newTable("#", "Anchor", "Combination")
			for i, combo := range combos {
				t.Row(strconv.Itoa(i+1), combo.Anchor, strings.Join(combo.Risks, " + "))
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d combination(s)\n", len(combos))
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

// newGroupsCommand builds `riskcast groups`.
func newGroupsCommand(opts *globalOptions) *cobra.Command {
	flags := &inputFlags{}
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List activities grouped by their ordered risk set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.setup("groups")
			if err != nil {
				return err
			}
			defer env.Close(opts.stderr)
			in, err := flags.load(cmd, env.cfg)
			if err != nil {
				return err
			}
			svc := app.NewService(nil, nil, nil, app.ServiceConfig{Logger: env.logger})
			groups, err := svc.GroupActivities(in)
			if err != nil {
				return err
			}
			t := newTable("Risks", "Activities")
			for _, group := range groups {
				t.Row(strings.Join(group.Key, ", "), joinActivityIDs(group.ActivityIDs))
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

// openStore opens the configured run store.
func openStore(env *runtimeEnv) (*sqlite.Repository, func(), error) {
	store, err := sqlite.Open(env.cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open run store: %w", err)
	}
	closeFn := func() {
		if err := store.Close(); err != nil {
			env.logger.Warn("close run store", "err", err)
		}
	}
	return store, closeFn, nil
}

// openService opens the run store and wraps it in a read-side service.
func openService(env *runtimeEnv) (*app.Service, func(), error) {
	store, closeFn, err := openStore(env)
	if err != nil {
		return nil, nil, err
	}
	return app.NewService(store, uuid.NewString, time.Now, app.ServiceConfig{Logger: env.logger}), closeFn, nil
}

// newRunsCommand builds `riskcast runs`.
func newRunsCommand(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.setup("runs")
			if err != nil {
				return err
			}
			defer env.Close(opts.stderr)
			svc, closeStore, err := openService(env)
			if err != nil {
				return err
			}
			defer closeStore()
			runs, err := svc.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no stored runs")
				return nil
			}
			t := newTable("Run", "Created", "Mode", "Trials", "Baseline", "Allocation", "Objective")
			for _, run := range runs {
				t.Row(
					run.ID,
					run.CreatedAt.Local().Format("2006-01-02 15:04"),
					run.Mode,
					strconv.Itoa(run.Iterations),
					strconv.FormatFloat(run.Baseline, 'f', 1, 64),
					run.AllocationStatus,
					strconv.FormatFloat(run.Objective, 'f', 2, 64),
				)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", servercommon.DefaultListLimit, "maximum runs to list")
	cmd.AddCommand(newRunsRemoveCommand(opts))
	return cmd
}

// newRunsRemoveCommand builds `riskcast runs rm <run-id>...`.
func newRunsRemoveCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <run-id>...",
		Aliases: []string{"delete"},
		Short:   "Delete stored runs",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.setup("runs rm")
			if err != nil {
				return err
			}
			defer env.Close(opts.stderr)
			svc, closeStore, err := openService(env)
			if err != nil {
				return err
			}
			defer closeStore()
			for _, arg := range args {
				id := strings.TrimSpace(arg)
				if err := svc.DeleteRun(cmd.Context(), id); err != nil {
					if errors.Is(err, app.ErrNotFound) {
						return fmt.Errorf("run %q not found", id)
					}
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}
}

// newReportCommand builds `riskcast report <run-id>`.
func newReportCommand(opts *globalOptions) *cobra.Command {
	var (
		asJSON bool
		plain  bool
		topN   int
		lang   string
		style  string
		width  int
	)
	cmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Render the report of one stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.setup("report")
			if err != nil {
				return err
			}
			defer env.Close(opts.stderr)
			svc, closeStore, err := openService(env)
			if err != nil {
				return err
			}
			defer closeStore()

			snap, err := svc.ExportSnapshot(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				if errors.Is(err, app.ErrNotFound) {
					return fmt.Errorf("run %q not found", args[0])
				}
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			tag, err := language.Parse(strings.TrimSpace(lang))
			if err != nil {
				return fmt.Errorf("parse --lang %q: %w", lang, err)
			}
			md := report.Markdown(snap, report.Options{
				Language: tag,
				TopN:     topN,
				Chart:    chart.Tornado(snap.Ranked, chart.Options{Limit: topN, Plain: true}),
			})
			if plain {
				_, _ = fmt.Fprintln(out, md)
				return nil
			}
			rendered, err := report.NewRenderer(style).Render(md, width)
			if err != nil {
				return fmt.Errorf("render report: %w", err)
			}
			_, _ = fmt.Fprintln(out, rendered)
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&asJSON, "json", false, "print the run snapshot as JSON")
	f.BoolVar(&plain, "plain", false, "print raw markdown")
	f.IntVar(&topN, "top", defaultChartLimit, "ranked rows to include")
	f.StringVar(&lang, "lang", "en", "number formatting language (BCP 47)")
	f.StringVar(&style, "style", "dark", "glamour style")
	f.IntVar(&width, "width", 100, "wrap width")
	return cmd
}

// newServeCommand builds `riskcast serve`.
func newServeCommand(opts *globalOptions) *cobra.Command {
	var (
		bind        string
		apiEndpoint string
		mcpEndpoint string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs over HTTP JSON and MCP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.setup("serve")
			if err != nil {
				return err
			}
			defer env.Close(opts.stderr)
			if cmd.Flags().Changed("http") {
				env.cfg.Server.HTTPBind = bind
			}
			if cmd.Flags().Changed("api-endpoint") {
				env.cfg.Server.APIEndpoint = apiEndpoint
			}
			if cmd.Flags().Changed("mcp-endpoint") {
				env.cfg.Server.MCPEndpoint = mcpEndpoint
			}

			ctx := cmd.Context()
			stopTelemetry := setupTelemetry(ctx, env)
			defer stopTelemetry()

			store, closeStore, err := openStore(env)
			if err != nil {
				return err
			}
			defer closeStore()
			svc := app.NewService(store, uuid.NewString, time.Now, app.ServiceConfig{Logger: env.logger})

			env.logger.Info("serving stored runs",
				"http", env.cfg.Server.HTTPBind,
				"api", env.cfg.Server.APIEndpoint,
				"mcp", env.cfg.Server.MCPEndpoint,
			)
			err = serveCommandRunner(ctx, serveradapter.Config{
				HTTPBind:      env.cfg.Server.HTTPBind,
				APIEndpoint:   env.cfg.Server.APIEndpoint,
				MCPEndpoint:   env.cfg.Server.MCPEndpoint,
				ServerName:    env.cfg.Telemetry.ServiceName,
				ServerVersion: version,
			}, serveradapter.Dependencies{
				Runs:  servercommon.NewAppServiceAdapter(svc),
				Store: store,
			})
			if err != nil {
				env.logger.Error("serve stopped", "err", err)
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&bind, "http", "", "HTTP listen address")
	f.StringVar(&apiEndpoint, "api-endpoint", "", "HTTP JSON API base path")
	f.StringVar(&mcpEndpoint, "mcp-endpoint", "", "MCP streamable HTTP path")
	return cmd
}

// newTable builds one rounded lipgloss table with a bold header row.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("62"))).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

// joinActivityIDs renders activity ids as a comma list.
func joinActivityIDs(ids []int) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}
	return strings.Join(parts, ", ")
}
