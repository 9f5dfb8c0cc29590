package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"evsiting/internal/config"
	"evsiting/internal/integrations"
	"evsiting/internal/mip"
	"evsiting/internal/model"
	"evsiting/internal/opt"
	"evsiting/internal/store"
	"evsiting/internal/webhooks"
)

// ErrBusy is returned when a run is submitted while another one is solving.
// Units share one model workspace, so the server runs one batch at a time.
var ErrBusy = errors.New("a run is already in progress")

// runManager owns the single active batch.
type runManager struct {
	store  store.Store
	broker EventBroker
	log    *zap.Logger
	solver mip.Solver
	limits config.Solver
	rps    float64
	asm    *opt.Assembler
	base   context.Context
	notify *webhooks.Notifier

	mu     sync.Mutex
	active string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newRunManager(base context.Context, st store.Store, b EventBroker, log *zap.Logger, limits config.Solver, rps float64) *runManager {
	return &runManager{
		store: st, broker: b, log: log, solver: mip.NewBranchAndBound(),
		limits: limits, rps: rps, base: base,
	}
}

// runPlan is a validated submission.
type runPlan struct {
	scenario opt.Scenario
	units    []string
	limits   config.Solver
}

// Start creates the run record and launches the batch in the background.
func (m *runManager) Start(ctx context.Context, p runPlan) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != "" {
		return model.Run{}, ErrBusy
	}
	ds, err := m.store.LoadDataset(ctx)
	if err != nil {
		return model.Run{}, err
	}
	units := p.units
	if len(units) == 0 {
		units = ds.ConstrainedUnits()
	}
	run, err := m.store.CreateRun(ctx, model.Run{Scenario: p.scenario.Name, Units: units})
	if err != nil {
		return model.Run{}, err
	}
	// the assembler workspace survives across runs with the same scenario
	if m.asm == nil || m.asm.Scenario() != p.scenario {
		m.asm = opt.NewAssembler(p.scenario)
	}
	rctx, cancel := context.WithCancel(m.base)
	m.active, m.cancel = run.ID, cancel
	m.wg.Add(1)
	go m.execute(rctx, run, ds, units, p.limits, m.asm)
	return run, nil
}

// PutDataset replaces the stored dataset unless a run is active. It holds
// the lock Start takes, so a run never loads a half-replaced dataset.
func (m *runManager) PutDataset(ctx context.Context, ds *model.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != "" {
		return ErrBusy
	}
	return m.store.PutDataset(ctx, ds)
}

func (m *runManager) execute(ctx context.Context, run model.Run, ds *model.Dataset, units []string, limits config.Solver, asm *opt.Assembler) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.cancel()
		m.active, m.cancel = "", nil
		m.mu.Unlock()
	}()
	log := m.log.With(zap.String("run", run.ID))
	pub := newProgressPublisher(run.ID, m.broker, m.rps)

	driver := opt.NewDriver(m.solver, opt.DriverOptions{
		TimeLimit: limits.TimeLimit,
		NodeLimit: limits.NodeLimit,
		Workers:   limits.Workers,
		MaxPoints: limits.MaxPoints,
	})
	driver.OnProgress(pub.progress)
	events := opt.SinkFunc(func(_ context.Context, r opt.UnitResult) error {
		pub.unitDone(r)
		return nil
	})
	runner := opt.NewRunner(asm, driver, integrations.Tee(integrations.StoreSink(m.store, run.ID), events), log)
	runner.RunID = run.ID
	if limits.Gap > 0 {
		runner.Gap = limits.Gap
	}

	sum, err := runner.Run(ctx, ds, units)
	status, msg := store.RunDone, ""
	switch {
	case errors.Is(err, opt.ErrCancelled):
		status, msg = store.RunCancelled, err.Error()
	case err != nil:
		status, msg = store.RunFailed, err.Error()
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if ferr := m.store.FinishRun(fctx, run.ID, status, sum.Solved, sum.Failed+sum.Cancelled, msg); ferr != nil {
		log.Error("finish run", zap.Error(ferr))
	}
	pub.finished(status, sum)
	if m.notify != nil {
		payload := finishedPayload(run.ID, status, sum)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
			defer cancel()
			if err := m.notify.Notify(nctx, EventRunFinish, payload); err != nil {
				log.Warn("run webhook", zap.Error(err))
			}
		}()
	}
	log.Info("run finished", zap.String("status", status), zap.Int("solved", sum.Solved),
		zap.Int("failed", sum.Failed), zap.Int("cancelled", sum.Cancelled))
}

// Cancel stops the active run if it has the given id.
func (m *runManager) Cancel(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != runID || m.cancel == nil {
		return false
	}
	m.cancel()
	return true
}

// Active returns the id of the running batch, if any.
func (m *runManager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Wait blocks until no batch is running or ctx ends.
func (m *runManager) Wait(ctx context.Context) error {
	ch := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
