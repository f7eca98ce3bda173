package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	serveradapter "github.com/hylla/riskcast/internal/adapters/server"
	servercommon "github.com/hylla/riskcast/internal/adapters/server/common"
	"github.com/hylla/riskcast/internal/adapters/tabular"
	"github.com/hylla/riskcast/internal/app"
	"github.com/hylla/riskcast/internal/config"
)

// TestMain sets deterministic environment defaults for CLI tests.
func TestMain(m *testing.M) {
	_ = os.Setenv("RISKCAST_DEV_MODE", "false")
	os.Exit(m.Run())
}

const testActivitiesCSV = `activityId,originalDuration
1,20
2,80
`

const testRisksCSV = `riskId,title,affectedActivity,probability,timeImpact,alpha,beta,minimum,maximum,riskMitigationCost,contingencyCost
R1,Late permit,1,0.5,0.5,2,2,5,15,10,50
R2,Supplier slip,"1,2",0.2,0.1,2,5,1,3,20,100
`

// workspace holds the temp paths one CLI test runs against.
type workspace struct {
	dir        string
	activities string
	risks      string
	db         string
	config     string
	out        string
}

// newWorkspace writes the input tables into a fresh temp dir.
func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	ws := workspace{
		dir:        dir,
		activities: filepath.Join(dir, "activities.csv"),
		risks:      filepath.Join(dir, "risks.csv"),
		db:         filepath.Join(dir, "riskcast.db"),
		config:     filepath.Join(dir, "config.toml"),
		out:        filepath.Join(dir, "out"),
	}
	if err := os.WriteFile(ws.activities, []byte(testActivitiesCSV), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(ws.risks, []byte(testRisksCSV), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return ws
}

// args prefixes the global flags that isolate a test from user paths.
func (ws workspace) args(rest ...string) []string {
	return append([]string{"--config", ws.config, "--db", ws.db}, rest...)
}

// runArgs returns a seeded run command over the workspace inputs.
func (ws workspace) runArgs(extra ...string) []string {
	base := ws.args("run",
		"--activities", ws.activities,
		"--risks", ws.risks,
		"--out", ws.out,
		"--iterations", "200",
		"--seed", "42",
		"--plain",
	)
	return append(base, extra...)
}

// runIDFrom extracts the run id from the first output line.
func runIDFrom(t *testing.T, output string) string {
	t.Helper()
	first, _, _ := strings.Cut(output, "\n")
	id, ok := strings.CutPrefix(first, "run ")
	if !ok || strings.TrimSpace(id) == "" {
		t.Fatalf("expected run id line, got %q", output)
	}
	return strings.TrimSpace(id)
}

// TestRunVersion verifies the version flag.
func TestRunVersion(t *testing.T) {
	var out strings.Builder
	if err := run(context.Background(), []string{"--version"}, &out, io.Discard); err != nil {
		t.Fatalf("run(version) error = %v", err)
	}
	if !strings.Contains(out.String(), "riskcast") {
		t.Fatalf("expected version output, got %q", out.String())
	}
}

// TestRunUnknownCommand verifies unknown commands fail.
func TestRunUnknownCommand(t *testing.T) {
	if err := run(context.Background(), []string{"simulate-all"}, io.Discard, io.Discard); err == nil {
		t.Fatal("expected unknown command error")
	}
}

// TestRunCommandExportsPersistsAndPrints verifies one full pipeline run end to end.
func TestRunCommandExportsPersistsAndPrints(t *testing.T) {
	ws := newWorkspace(t)
	reportPath := filepath.Join(ws.dir, "report.md")

	var out strings.Builder
	if err := run(context.Background(), ws.runArgs("--report", reportPath), &out, io.Discard); err != nil {
		t.Fatalf("run(run) error = %v", err)
	}
	output := out.String()
	runID := runIDFrom(t, output)
	for _, want := range []string{"seed: 42", "trials: 200", "baseline: 100.0 days", "risks: 2/2 simulated", "allocation:", "tables: " + ws.out} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in run output, got %q", want, output)
		}
	}
	for _, name := range []string{tabular.FileSummary, tabular.FileResults, tabular.FileAllocation, tabular.FileGroups, tabular.FileLinks} {
		if _, err := os.Stat(filepath.Join(ws.out, name)); err != nil {
			t.Fatalf("expected exported %s, stat error %v", name, err)
		}
	}
	content, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("ReadFile(report) error = %v", err)
	}
	if !strings.Contains(string(content), "# Risk run "+runID) {
		t.Fatalf("expected report header for %s, got %q", runID, string(content))
	}

	var listed strings.Builder
	if err := run(context.Background(), ws.args("runs"), &listed, io.Discard); err != nil {
		t.Fatalf("run(runs) error = %v", err)
	}
	if !strings.Contains(listed.String(), runID) {
		t.Fatalf("expected run %s in list, got %q", runID, listed.String())
	}
}

// TestRunCommandSkipsExportAndPersist verifies the opt-out flags leave no output behind.
func TestRunCommandSkipsExportAndPersist(t *testing.T) {
	ws := newWorkspace(t)
	var out strings.Builder
	if err := run(context.Background(), ws.runArgs("--no-export", "--no-persist", "--mode", "grouped"), &out, io.Discard); err != nil {
		t.Fatalf("run(run) error = %v", err)
	}
	if !strings.Contains(out.String(), "mode: grouped") {
		t.Fatalf("expected grouped mode in output, got %q", out.String())
	}
	if _, err := os.Stat(ws.out); !os.IsNotExist(err) {
		t.Fatalf("expected no export dir, stat error %v", err)
	}
	if _, err := os.Stat(ws.db); !os.IsNotExist(err) {
		t.Fatalf("expected no run store, stat error %v", err)
	}
}

// TestRunCommandRejectsBadInput verifies input failures abort before any output.
func TestRunCommandRejectsBadInput(t *testing.T) {
	ws := newWorkspace(t)
	missing := filepath.Join(ws.dir, "missing.csv")
	var logs bytes.Buffer
	if err := run(context.Background(), ws.runArgs("--risks", missing), io.Discard, &logs); err == nil {
		t.Fatal("expected missing risk table error")
	}
	if !strings.Contains(logs.String(), "run failed") {
		t.Fatalf("expected run failure in console log, got %q", logs.String())
	}
	if err := run(context.Background(), ws.runArgs("--mode", "bogus"), io.Discard, io.Discard); err == nil {
		t.Fatal("expected invalid mode error")
	}
	if _, err := os.Stat(ws.out); !os.IsNotExist(err) {
		t.Fatalf("expected no export dir after failed runs, stat error %v", err)
	}
}

// TestRunCommandSkipsOutOfRangeRisk verifies a bad parameter skips one risk, not the run.
func TestRunCommandSkipsOutOfRangeRisk(t *testing.T) {
	ws := newWorkspace(t)
	risks := testRisksCSV + "R3,Bad odds,2,1.5,0.1,2,2,1,3,5,10\nR4,Bad cost,2,0.3,0.1,2,2,1,3,-1,10\n"
	if err := os.WriteFile(ws.risks, []byte(risks), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	var out strings.Builder
	if err := run(context.Background(), ws.runArgs("--no-export", "--no-persist"), &out, io.Discard); err != nil {
		t.Fatalf("run(run) error = %v", err)
	}
	for _, want := range []string{"risks: 2/4 simulated", "skipped input: 2 item(s)"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in run output, got %q", want, out.String())
		}
	}
}

// TestRunQuietMutesConsoleLogs verifies --quiet silences the console sink.
func TestRunQuietMutesConsoleLogs(t *testing.T) {
	ws := newWorkspace(t)
	var logs bytes.Buffer
	if err := run(context.Background(), ws.args("combos", "--activities", ws.activities, "--risks", ws.risks), io.Discard, &logs); err != nil {
		t.Fatalf("run(combos) error = %v", err)
	}
	if !strings.Contains(logs.String(), "startup configuration resolved") {
		t.Fatalf("expected startup log on console, got %q", logs.String())
	}

	logs.Reset()
	if err := run(context.Background(), ws.args("--quiet", "combos", "--activities", ws.activities, "--risks", ws.risks), io.Discard, &logs); err != nil {
		t.Fatalf("run(--quiet combos) error = %v", err)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no console logs with --quiet, got %q", logs.String())
	}
}

// TestRunsRemoveCommand verifies stored runs can be deleted.
func TestRunsRemoveCommand(t *testing.T) {
	ws := newWorkspace(t)
	var out strings.Builder
	if err := run(context.Background(), ws.runArgs("--no-export"), &out, io.Discard); err != nil {
		t.Fatalf("run(run) error = %v", err)
	}
	runID := runIDFrom(t, out.String())

	var removed strings.Builder
	if err := run(context.Background(), ws.args("runs", "rm", runID), &removed, io.Discard); err != nil {
		t.Fatalf("run(runs rm) error = %v", err)
	}
	if !strings.Contains(removed.String(), "deleted "+runID) {
		t.Fatalf("expected delete confirmation, got %q", removed.String())
	}

	var listed strings.Builder
	if err := run(context.Background(), ws.args("runs"), &listed, io.Discard); err != nil {
		t.Fatalf("run(runs) error = %v", err)
	}
	if !strings.Contains(listed.String(), "no stored runs") {
		t.Fatalf("expected empty run list, got %q", listed.String())
	}
	if err := run(context.Background(), ws.args("runs", "rm", runID), io.Discard, io.Discard); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error on second delete, got %v", err)
	}
}

// TestRunReportCommand verifies JSON and markdown rendering of a stored run.
func TestRunReportCommand(t *testing.T) {
	ws := newWorkspace(t)
	var out strings.Builder
	if err := run(context.Background(), ws.runArgs("--no-export"), &out, io.Discard); err != nil {
		t.Fatalf("run(run) error = %v", err)
	}
	runID := runIDFrom(t, out.String())

	var jsonOut bytes.Buffer
	if err := run(context.Background(), ws.args("report", runID, "--json"), &jsonOut, io.Discard); err != nil {
		t.Fatalf("run(report --json) error = %v", err)
	}
	var snap app.Snapshot
	if err := json.Unmarshal(jsonOut.Bytes(), &snap); err != nil {
		t.Fatalf("Unmarshal(snapshot) error = %v", err)
	}
	if snap.Version != app.SnapshotVersion || snap.Run.ID != runID || snap.Run.Seed != 42 {
		t.Fatalf("unexpected snapshot %#v", snap.Run)
	}
	if len(snap.Ranked) == 0 {
		t.Fatal("expected ranked impacts in snapshot")
	}

	var md strings.Builder
	if err := run(context.Background(), ws.args("report", runID, "--plain"), &md, io.Discard); err != nil {
		t.Fatalf("run(report --plain) error = %v", err)
	}
	if !strings.Contains(md.String(), "## Ranked impacts") {
		t.Fatalf("expected markdown sections, got %q", md.String())
	}

	if err := run(context.Background(), ws.args("report", "no-such-run"), io.Discard, io.Discard); err == nil {
		t.Fatal("expected missing run error")
	}
}

// TestRunCombosAndGroupsCommands verifies the structural inspection commands.
func TestRunCombosAndGroupsCommands(t *testing.T) {
	ws := newWorkspace(t)

	var combos strings.Builder
	err := run(context.Background(), ws.args("combos", "--activities", ws.activities, "--risks", ws.risks), &combos, io.Discard)
	if err != nil {
		t.Fatalf("run(combos) error = %v", err)
	}
	if !strings.Contains(combos.String(), "R1 + R2") || !strings.Contains(combos.String(), "3 combination(s)") {
		t.Fatalf("unexpected combos output %q", combos.String())
	}

	var groups strings.Builder
	err = run(context.Background(), ws.args("groups", "--activities", ws.activities, "--risks", ws.risks), &groups, io.Discard)
	if err != nil {
		t.Fatalf("run(groups) error = %v", err)
	}
	if !strings.Contains(groups.String(), "R1, R2") {
		t.Fatalf("unexpected groups output %q", groups.String())
	}
}

// TestRunServeCommandWiresDependencies verifies serve flags and reader wiring.
func TestRunServeCommandWiresDependencies(t *testing.T) {
	orig := serveCommandRunner
	t.Cleanup(func() { serveCommandRunner = orig })

	var (
		gotCfg   serveradapter.Config
		gotDeps  serveradapter.Dependencies
		listErr  error
		listed   int
		pingErr  error
		hasStore bool
	)
	serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
		gotCfg = cfg
		gotDeps = deps
		// the store closes when the command returns, so query it here.
		if deps.Runs != nil {
			var list servercommon.RunList
			list, listErr = deps.Runs.ListRuns(ctx, servercommon.ListRunsRequest{})
			listed = len(list.Runs)
		}
		if deps.Store != nil {
			hasStore = true
			pingErr = deps.Store.Ping(ctx)
		}
		return nil
	}

	ws := newWorkspace(t)
	err := run(context.Background(), ws.args("serve", "--http", "127.0.0.1:9999", "--api-endpoint", "/v2"), io.Discard, io.Discard)
	if err != nil {
		t.Fatalf("run(serve) error = %v", err)
	}
	if gotCfg.HTTPBind != "127.0.0.1:9999" || gotCfg.APIEndpoint != "/v2" || gotCfg.MCPEndpoint != "/mcp" {
		t.Fatalf("unexpected serve config %#v", gotCfg)
	}
	if gotCfg.ServerName != "riskcast" {
		t.Fatalf("server name = %q, want riskcast", gotCfg.ServerName)
	}
	if gotDeps.Runs == nil {
		t.Fatal("expected run reader dependency")
	}
	if listErr != nil || listed != 0 {
		t.Fatalf("expected empty store, got %d runs, err %v", listed, listErr)
	}
	if !hasStore || pingErr != nil {
		t.Fatalf("expected reachable store for readiness, has=%t err=%v", hasStore, pingErr)
	}
}

// TestRunConfigAndEnvOverrides verifies config-file values, env paths, and flag precedence.
func TestRunConfigAndEnvOverrides(t *testing.T) {
	ws := newWorkspace(t)
	envDB := filepath.Join(ws.dir, "env.db")
	content := "[input]\nactivities = " + quote(ws.activities) + "\nrisks = " + quote(ws.risks) +
		"\n\n[simulation]\niterations = 50\nseed = 7\n\n[export]\ndir = " + quote(ws.out) + "\n"
	if err := os.WriteFile(ws.config, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("RISKCAST_CONFIG", ws.config)
	t.Setenv("RISKCAST_DB_PATH", envDB)

	var out strings.Builder
	if err := run(context.Background(), []string{"run", "--seed", "9", "--plain"}, &out, io.Discard); err != nil {
		t.Fatalf("run(run with env config) error = %v", err)
	}
	if !strings.Contains(out.String(), "trials: 50") || !strings.Contains(out.String(), "seed: 9") {
		t.Fatalf("expected config iterations and flag seed, got %q", out.String())
	}
	if _, err := os.Stat(envDB); err != nil {
		t.Fatalf("expected db created at env path, stat error %v", err)
	}
}

// quote renders a TOML basic string.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `\`, `\\`) + `"`
}

// TestRunRejectsInvalidLoggingLevelFromConfig verifies bad logging config aborts startup.
func TestRunRejectsInvalidLoggingLevelFromConfig(t *testing.T) {
	ws := newWorkspace(t)
	if err := os.WriteFile(ws.config, []byte("[logging]\nlevel = \"shout\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := run(context.Background(), ws.args("runs"), io.Discard, io.Discard); err == nil {
		t.Fatal("expected invalid logging level error")
	}
}

// TestRunLegacyUniformFlagHelp verifies the flag describes the extra draw it enables.
func TestRunLegacyUniformFlagHelp(t *testing.T) {
	cmd := newRunCommand(&globalOptions{stdout: io.Discard, stderr: io.Discard})
	flag := cmd.Flags().Lookup("legacy-uniform")
	if flag == nil {
		t.Fatal("expected --legacy-uniform flag")
	}
	if !strings.Contains(flag.Usage, "uniform draw before each beta draw") {
		t.Fatalf("unexpected --legacy-uniform help %q", flag.Usage)
	}
	if strings.Contains(flag.Usage, "worst case") {
		t.Fatalf("help still describes uniform impacts: %q", flag.Usage)
	}
}

// TestRunPathsCommand verifies resolved path output.
func TestRunPathsCommand(t *testing.T) {
	var out strings.Builder
	err := run(context.Background(), []string{"--app", "riskx", "--dev", "paths"}, &out, io.Discard)
	if err != nil {
		t.Fatalf("run(paths) error = %v", err)
	}
	output := out.String()
	for _, want := range []string{"app: riskx", "dev_mode: true", "db: ", "export_dir: "} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in paths output, got %q", want, output)
		}
	}
}

// TestRunPathsCreate verifies --create makes the config and data directories.
func TestRunPathsCreate(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG base dirs are linux only")
	}
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(base, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(base, "data"))

	var out strings.Builder
	if err := run(context.Background(), []string{"--app", "riskx", "--dev=false", "paths", "--create"}, &out, io.Discard); err != nil {
		t.Fatalf("run(paths --create) error = %v", err)
	}
	for _, dir := range []string{filepath.Join(base, "config", "riskx"), filepath.Join(base, "data", "riskx")} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, stat error %v", dir, err)
		}
	}
	if !strings.Contains(out.String(), "config: "+filepath.Join(base, "config", "riskx", "config.toml")) {
		t.Fatalf("unexpected paths output %q", out.String())
	}
}

// TestParseBoolEnv verifies optional boolean env parsing.
func TestParseBoolEnv(t *testing.T) {
	t.Setenv("RISKCAST_BOOL_TEST", "true")
	got, ok := parseBoolEnv("RISKCAST_BOOL_TEST")
	if !ok || !got {
		t.Fatalf("expected true bool env parse, got value=%t ok=%t", got, ok)
	}

	t.Setenv("RISKCAST_BOOL_TEST", "not-bool")
	if _, ok = parseBoolEnv("RISKCAST_BOOL_TEST"); ok {
		t.Fatal("expected invalid bool env to return ok=false")
	}
}

// TestWorkspaceRootFromUsesNearestMarker verifies workspace-root resolution behavior.
func TestWorkspaceRootFromUsesNearestMarker(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "risks.csv"), []byte("riskId\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	nested := filepath.Join(root, "plans", "q3")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if got := workspaceRootFrom(nested); filepath.Clean(got) != filepath.Clean(root) {
		t.Fatalf("expected workspace root %q, got %q", root, got)
	}
}

// TestDevLogFilePath verifies day-stamped names and sanitized stems.
func TestDevLogFilePath(t *testing.T) {
	dir := t.TempDir()
	got, err := devLogFilePath(dir, "risk cast/dev", time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("devLogFilePath() error = %v", err)
	}
	want := filepath.Join(dir, "risk-cast-dev-20260309.log")
	if got != want {
		t.Fatalf("devLogFilePath() = %q, want %q", got, want)
	}
	if stem := sanitizeLogFileStem("  "); stem != "riskcast" {
		t.Fatalf("sanitizeLogFileStem(blank) = %q, want riskcast", stem)
	}
}

// TestRunDevModeCreatesWorkspaceLogFile verifies dev mode writes the runtime log file.
func TestRunDevModeCreatesWorkspaceLogFile(t *testing.T) {
	ws := newWorkspace(t)
	t.Chdir(ws.dir)

	if err := run(context.Background(), ws.args("--dev", "runs"), io.Discard, io.Discard); err != nil {
		t.Fatalf("run(runs) error = %v", err)
	}
	matches, err := filepath.Glob(filepath.Join(ws.dir, ".riskcast", "log", "*.log"))
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one dev log file, got %v", matches)
	}
	content, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(content), "startup configuration resolved") {
		t.Fatalf("expected startup entry in dev log, got %q", string(content))
	}
}

// TestRuntimeLoggerCanMuteConsoleSink verifies console muting.
func TestRuntimeLoggerCanMuteConsoleSink(t *testing.T) {
	var console bytes.Buffer
	cfg := config.Default("/tmp/riskcast.db").Logging

	logger, err := newRuntimeLogger(&console, "riskcast", false, cfg, func() time.Time {
		return time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)
	})
	if err != nil {
		t.Fatalf("newRuntimeLogger() error = %v", err)
	}

	logger.Info("before")
	logger.SetConsoleEnabled(false)
	logger.Info("during")
	logger.SetConsoleEnabled(true)
	logger.Info("after")

	out := console.String()
	if !strings.Contains(out, "before") || strings.Contains(out, "during") || !strings.Contains(out, "after") {
		t.Fatalf("unexpected console output %q", out)
	}
}
