// Command planner solves the charging-site model for every constrained unit
// of a dataset and writes the plans and convergence traces as CSV.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"evsiting/internal/buildinfo"
	"evsiting/internal/config"
	"evsiting/internal/integrations"
	"evsiting/internal/integrations/csvfiles"
	"evsiting/internal/logging"
	"evsiting/internal/mip"
	"evsiting/internal/model"
	"evsiting/internal/opt"
	"evsiting/internal/store"
	"evsiting/internal/webhooks"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailed    = 1
	exitUsage     = 2
	exitUnbounded = 3
	exitCancelled = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("planner", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.RegisterFlags(fs)
	config.RegisterPlannerFlags(fs)
	version := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *version {
		fmt.Fprintln(stdout, buildinfo.String("planner"))
		return exitOK
	}
	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return exitUsage
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(stderr, "logging: %v\n", err)
		return exitUsage
	}
	defer func() { _ = log.Sync() }()

	scenario, err := loadScenario(cfg)
	if err != nil {
		log.Error("scenario", zap.Error(err))
		return exitUsage
	}

	var pg *store.Postgres
	if cfg.DatabaseURL != "" {
		if pg, err = openStore(ctx, cfg); err != nil {
			log.Error("database", zap.Error(err))
			return exitFailed
		}
		defer pg.Close()
	}

	ds, err := loadDataset(ctx, cfg, pg)
	if err != nil {
		log.Error("load inputs", zap.Error(err))
		return exitFailed
	}
	sites, demand, units := ds.Counts()
	log.Info("inputs loaded", zap.Int("sites", sites), zap.Int("demand", demand), zap.Int("constrainedUnits", units))
	for _, u := range ds.Units() {
		for _, p := range ds.Unit(u).Problems {
			log.Warn("data problem", zap.String("unit", u), zap.String("problem", p))
		}
	}

	out, err := csvfiles.NewWriter(cfg.Inputs.Out)
	if err != nil {
		log.Error("output directory", zap.Error(err))
		return exitFailed
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Error("close outputs", zap.Error(err))
		}
	}()

	selected := cfg.Inputs.Units
	if len(selected) == 0 {
		selected = ds.ConstrainedUnits()
	}
	runID := ""
	var storeSink opt.Sink
	if pg != nil {
		r, err := pg.CreateRun(ctx, model.Run{Scenario: scenario.Name, Units: selected})
		if err != nil {
			log.Error("create run", zap.Error(err))
			return exitFailed
		}
		runID, storeSink = r.ID, integrations.StoreSink(pg, r.ID)
	}

	driver := opt.NewDriver(mip.NewBranchAndBound(), opt.DriverOptions{
		TimeLimit: cfg.Solver.TimeLimit,
		NodeLimit: cfg.Solver.NodeLimit,
		Workers:   cfg.Solver.Workers,
		MaxPoints: cfg.Solver.MaxPoints,
	})
	driver.OnProgress(func(ev opt.ProgressEvent) {
		log.Debug("progress", zap.String("unit", ev.Unit), zap.Float64("elapsed", ev.ElapsedSeconds),
			zap.Float64("incumbent", ev.Incumbent), zap.Float64("bound", ev.Bound), zap.Int("nodes", ev.Nodes))
	})
	runner := opt.NewRunner(opt.NewAssembler(scenario), driver, integrations.Tee(integrations.ExportSink(out, ds), storeSink), log)
	runner.RunID = runID
	if cfg.Solver.Gap > 0 {
		runner.Gap = cfg.Solver.Gap
	}

	sum, err := runner.Run(ctx, ds, selected)
	status, code := store.RunDone, exitOK
	switch {
	case errors.Is(err, opt.ErrModelUnbounded):
		status, code = store.RunFailed, exitUnbounded
	case errors.Is(err, opt.ErrCancelled):
		status, code = store.RunCancelled, exitCancelled
	case err != nil:
		status, code = store.RunFailed, exitFailed
	}
	if pg != nil {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		if ferr := pg.FinishRun(context.WithoutCancel(ctx), runID, status, sum.Solved, sum.Failed+sum.Cancelled, msg); ferr != nil {
			log.Error("finish run", zap.Error(ferr))
		}
	}
	if cfg.Webhook.URL != "" {
		n := webhooks.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.MaxAttempts, log)
		if nerr := n.Notify(context.WithoutCancel(ctx), "run.finished", map[string]any{
			"runId": runID, "status": status, "solved": sum.Solved, "degraded": sum.Degraded,
			"failed": sum.Failed, "cancelled": sum.Cancelled,
		}); nerr != nil {
			log.Warn("run webhook", zap.Error(nerr))
		}
	}
	fmt.Fprintf(stdout, "solved %d (degraded %d), failed %d, cancelled %d; outputs in %s\n",
		sum.Solved, sum.Degraded, sum.Failed, sum.Cancelled, cfg.Inputs.Out)
	if err != nil {
		log.Error("batch stopped", zap.Error(err))
	}
	return code
}

func loadScenario(cfg config.Config) (opt.Scenario, error) {
	if cfg.ScenarioFile != "" {
		return opt.LoadScenario(cfg.ScenarioFile)
	}
	s, ok := opt.Preset(cfg.Scenario)
	if !ok {
		return opt.Scenario{}, fmt.Errorf("unknown scenario %q", cfg.Scenario)
	}
	return s, nil
}

func openStore(ctx context.Context, cfg config.Config) (*store.Postgres, error) {
	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pg.Ping(ctx); err != nil {
		_ = pg.Close()
		return nil, err
	}
	if cfg.DBMigrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return pg, nil
}

// loadDataset reads the CSV inputs, or the database when --from-db is set.
// CSV inputs are mirrored into the database when one is configured.
func loadDataset(ctx context.Context, cfg config.Config, pg *store.Postgres) (*model.Dataset, error) {
	var src integrations.Source = csvfiles.Source{
		SitesPath:       cfg.Inputs.Sites,
		DemandPath:      cfg.Inputs.Demand,
		ConstraintsPath: cfg.Inputs.Constraints,
	}
	if cfg.Inputs.FromDB {
		src = pg
	}
	ds, err := src.LoadDataset(ctx)
	if err != nil {
		return nil, err
	}
	if pg != nil && !cfg.Inputs.FromDB {
		if err := pg.PutDataset(ctx, ds); err != nil {
			return nil, fmt.Errorf("store inputs: %w", err)
		}
	}
	return ds, nil
}
