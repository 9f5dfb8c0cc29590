package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration shared by the API server and
// the batch planner. Precedence: changed flag, environment, config file,
// default.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	DBMigrate   bool

	LogLevel       string
	LogDevelopment bool

	Scenario     string
	ScenarioFile string
	Solver       Solver

	// Requests per second allowed on mutating endpoints; zero disables.
	RateRPS   float64
	RateBurst int
	// Progress events per second published per run.
	ProgressRPS float64

	Webhook Webhook

	Inputs Inputs
}

// Webhook configures the run completion notifier. An empty URL disables it.
type Webhook struct {
	URL         string
	Secret      string
	MaxAttempts int
}

// Solver holds per-unit solve limits.
type Solver struct {
	TimeLimit time.Duration
	NodeLimit int
	Workers   int
	MaxPoints int
	Gap       float64
}

// Inputs are the planner's file locations.
type Inputs struct {
	Sites       string
	Demand      string
	Constraints string
	Out         string
	Units       []string
	// FromDB reads inputs from the database instead of the CSV files.
	FromDB bool
}

// RegisterFlags adds the flags common to every command.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "optional config file (yaml, json or toml)")
	fs.String("database-url", "", "Postgres DSN; empty uses the in-memory store")
	fs.String("redis-url", "", "Redis URL for progress fan-out")
	fs.Bool("db-migrate", true, "apply the embedded schema on startup")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.Bool("log-development", false, "human readable console logs")
	fs.String("scenario", "baseline", "cost scenario preset")
	fs.String("scenario-file", "", "YAML scenario overriding the preset")
	fs.Duration("time-limit", 0, "per-unit solve time limit (0 = none)")
	fs.Int("node-limit", 0, "per-unit branch-and-bound node limit (0 = none)")
	fs.Int("workers", 1, "parallel node relaxations")
	fs.Int("max-points", 0, "cap on recorded convergence points per unit (0 = unlimited)")
	fs.Float64("gap", 0, "default relative MIP gap (0 = 1e-4)")
	fs.String("webhook-url", "", "endpoint notified when a run finishes")
	fs.String("webhook-secret", "", "HMAC-SHA256 key for the X-Signature header")
	fs.Int("webhook-max-attempts", 5, "delivery attempts before giving up")
}

// RegisterServerFlags adds the API server flags.
func RegisterServerFlags(fs *pflag.FlagSet) {
	fs.String("port", "8080", "HTTP listen port")
	fs.Float64("rate-rps", 5, "allowed run submissions per second (0 = unlimited)")
	fs.Int("rate-burst", 10, "run submission burst")
	fs.Float64("progress-rps", 10, "progress events published per second per run")
}

// RegisterPlannerFlags adds the batch planner flags.
func RegisterPlannerFlags(fs *pflag.FlagSet) {
	fs.String("sites", "POI.csv", "candidate sites CSV")
	fs.String("demand", "PEOPLE.csv", "demand points CSV")
	fs.String("constraints", "CONSTRAINT.csv", "unit constraints CSV")
	fs.String("out", "out", "output directory")
	fs.StringSlice("units", nil, "units to solve (default: every constrained unit)")
	fs.Bool("from-db", false, "read inputs from --database-url instead of the CSV files")
}

// Load resolves the configuration from fs (already parsed), the environment
// and the optional config file. Environment keys are the flag names upper
// cased with dashes as underscores (DATABASE_URL, DB_MIGRATE, PORT).
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, err
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
	}
	c := Config{
		Port:           v.GetString("port"),
		DatabaseURL:    strings.TrimSpace(v.GetString("database-url")),
		RedisURL:       strings.TrimSpace(v.GetString("redis-url")),
		DBMigrate:      v.GetBool("db-migrate"),
		LogLevel:       v.GetString("log-level"),
		LogDevelopment: v.GetBool("log-development"),
		Scenario:       v.GetString("scenario"),
		ScenarioFile:   v.GetString("scenario-file"),
		Solver: Solver{
			TimeLimit: v.GetDuration("time-limit"),
			NodeLimit: v.GetInt("node-limit"),
			Workers:   v.GetInt("workers"),
			MaxPoints: v.GetInt("max-points"),
			Gap:       v.GetFloat64("gap"),
		},
		RateRPS:     v.GetFloat64("rate-rps"),
		RateBurst:   v.GetInt("rate-burst"),
		ProgressRPS: v.GetFloat64("progress-rps"),
		Webhook: Webhook{
			URL:         strings.TrimSpace(v.GetString("webhook-url")),
			Secret:      v.GetString("webhook-secret"),
			MaxAttempts: v.GetInt("webhook-max-attempts"),
		},
		Inputs: Inputs{
			Sites:       v.GetString("sites"),
			Demand:      v.GetString("demand"),
			Constraints: v.GetString("constraints"),
			Out:         v.GetString("out"),
			Units:       v.GetStringSlice("units"),
			FromDB:      v.GetBool("from-db"),
		},
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Solver.TimeLimit < 0 {
		errs = append(errs, errors.New("time-limit must be >= 0"))
	}
	if c.Solver.NodeLimit < 0 {
		errs = append(errs, errors.New("node-limit must be >= 0"))
	}
	if c.Solver.Workers < 0 {
		errs = append(errs, errors.New("workers must be >= 0"))
	}
	if c.Solver.MaxPoints < 0 {
		errs = append(errs, errors.New("max-points must be >= 0"))
	}
	if c.Solver.Gap < 0 || c.Solver.Gap >= 1 {
		errs = append(errs, errors.New("gap must be in [0,1)"))
	}
	if c.RateRPS < 0 || c.ProgressRPS < 0 {
		errs = append(errs, errors.New("rates must be >= 0"))
	}
	if c.Webhook.URL != "" && c.Webhook.MaxAttempts < 1 {
		errs = append(errs, errors.New("webhook-max-attempts must be >= 1"))
	}
	if c.Inputs.FromDB && c.DatabaseURL == "" {
		errs = append(errs, errors.New("from-db needs database-url"))
	}
	return errors.Join(errs...)
}
