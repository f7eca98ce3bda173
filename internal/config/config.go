package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
)

// RunMode selects how trials are drawn across a risk's activities.
type RunMode string

// Supported run modes.
const (
	RunModeIndividual RunMode = "individual"
	RunModeGrouped    RunMode = "grouped"
)

// SummaryMode selects the aggregation key of the summary table.
type SummaryMode string

// Supported summary keys.
const (
	SummaryModeActivityRisk SummaryMode = "activity_risk"
	SummaryModeRisk         SummaryMode = "risk"
)

// Config is the full riskcast configuration, one field per TOML table.
type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	Logging    LoggingConfig    `toml:"logging"`
	Input      InputConfig      `toml:"input"`
	Simulation SimulationConfig `toml:"simulation"`
	Optimizer  OptimizerConfig  `toml:"optimizer"`
	Export     ExportConfig     `toml:"export"`
	Server     ServerConfig     `toml:"server"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
}

// DatabaseConfig locates the sqlite run store.
type DatabaseConfig struct {
	Path string `toml:"path" env:"RISKCAST_DB_PATH"`
}

// LoggingConfig sets the log level and the optional dev log file.
type LoggingConfig struct {
	Level   string        `toml:"level" env:"RISKCAST_LOG_LEVEL"`
	DevFile DevFileConfig `toml:"dev_file"`
}

// DevFileConfig enables a workspace log file in dev mode. A relative Dir
// resolves against the nearest workspace root.
type DevFileConfig struct {
	Enabled bool   `toml:"enabled" env:"RISKCAST_DEV_LOG"`
	Dir     string `toml:"dir"`
}

// InputConfig names the activity and risk tables.
type InputConfig struct {
	Activities string `toml:"activities" env:"RISKCAST_ACTIVITIES"`
	Risks      string `toml:"risks" env:"RISKCAST_RISKS"`
}

// SimulationConfig controls the Monte Carlo stage.
type SimulationConfig struct {
	Iterations        int         `toml:"iterations" env:"RISKCAST_ITERATIONS"`
	Workers           int         `toml:"workers" env:"RISKCAST_WORKERS"`
	Seed              uint64      `toml:"seed" env:"RISKCAST_SEED"`
	Mode              RunMode     `toml:"mode" env:"RISKCAST_MODE"`
	Summary           SummaryMode `toml:"summary" env:"RISKCAST_SUMMARY"`
	LegacyUniformDraw bool        `toml:"legacy_uniform_draw" env:"RISKCAST_LEGACY_UNIFORM_DRAW"`
}

// OptimizerConfig bounds the mitigation allocation solve.
type OptimizerConfig struct {
	// Budget of zero means the sum of the simulated risks' contingencies.
	Budget    float64  `toml:"budget" env:"RISKCAST_BUDGET"`
	Tolerance float64  `toml:"tolerance" env:"RISKCAST_SOLVER_TOLERANCE"`
	Timeout   Duration `toml:"timeout" env:"RISKCAST_SOLVER_TIMEOUT"`
}

// ExportConfig sets where the output tables are written.
type ExportConfig struct {
	Dir string `toml:"dir" env:"RISKCAST_EXPORT_DIR"`
}

// ServerConfig holds the listen address and endpoint paths of `riskcast serve`.
type ServerConfig struct {
	HTTPBind    string `toml:"http_bind" env:"RISKCAST_HTTP_BIND"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

// TelemetryConfig enables OTLP tracing when OTelEndpoint is set.
type TelemetryConfig struct {
	OTelEndpoint string `toml:"otel_endpoint" env:"RISKCAST_OTEL_ENDPOINT"`
	ServiceName  string `toml:"service_name"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the baseline configuration for a run store at dbPath.
func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".riskcast/log",
			},
		},
		Input: InputConfig{
			Activities: "activities.csv",
			Risks:      "risks.csv",
		},
		Simulation: SimulationConfig{
			Iterations: 1000,
			Workers:    1,
			Mode:       RunModeIndividual,
			Summary:    SummaryModeActivityRisk,
		},
		Optimizer: OptimizerConfig{
			Tolerance: 1e-10,
			Timeout:   Duration(30 * time.Second),
		},
		Export: ExportConfig{
			Dir: "out",
		},
		Server: ServerConfig{
			HTTPBind:    "127.0.0.1:5437",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "riskcast",
		},
	}
}

// Load reads the TOML file at path over defaults, applies RISKCAST_*
// environment overrides, and validates the result. A missing file keeps
// the defaults.
func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		case len(content) > 0:
			if err := toml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode toml: %w", err)
			}
		}
	}

	cfg, err := ApplyEnv(cfg)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays any RISKCAST_* variables that are set.
func ApplyEnv(cfg Config) (Config, error) {
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate rejects values no command can run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}

	switch strings.TrimSpace(strings.ToLower(c.Logging.Level)) {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	if c.Simulation.Iterations <= 0 {
		return fmt.Errorf("simulation.iterations must be > 0, got %d", c.Simulation.Iterations)
	}
	if c.Simulation.Workers < 0 {
		return fmt.Errorf("simulation.workers must be >= 0, got %d", c.Simulation.Workers)
	}
	switch c.Simulation.Mode {
	case RunModeIndividual, RunModeGrouped:
	default:
		return fmt.Errorf("invalid simulation.mode: %q", c.Simulation.Mode)
	}
	switch c.Simulation.Summary {
	case SummaryModeActivityRisk, SummaryModeRisk:
	default:
		return fmt.Errorf("invalid simulation.summary: %q", c.Simulation.Summary)
	}

	if c.Optimizer.Budget < 0 {
		return fmt.Errorf("optimizer.budget must be >= 0, got %g", c.Optimizer.Budget)
	}
	if c.Optimizer.Tolerance < 0 {
		return fmt.Errorf("optimizer.tolerance must be >= 0, got %g", c.Optimizer.Tolerance)
	}
	if c.Optimizer.Timeout < 0 {
		return fmt.Errorf("optimizer.timeout must be >= 0, got %s", c.Optimizer.Timeout.Std())
	}

	if strings.TrimSpace(c.Export.Dir) == "" {
		return errors.New("export.dir is required")
	}
	for name, endpoint := range map[string]string{
		"server.api_endpoint": c.Server.APIEndpoint,
		"server.mcp_endpoint": c.Server.MCPEndpoint,
	} {
		if !strings.HasPrefix(strings.TrimSpace(endpoint), "/") {
			return fmt.Errorf("%s must start with /: %q", name, endpoint)
		}
	}
	return nil
}

// EnsureConfigDir creates the parent directory of path.
func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
