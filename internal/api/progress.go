package api

import (
	"math"

	"golang.org/x/time/rate"

	"evsiting/internal/metrics"
	"evsiting/internal/opt"
)

// progressPublisher forwards solver progress for one run to the broker,
// throttled to a fixed event rate. Unit and run completion events bypass the
// limiter.
type progressPublisher struct {
	runID   string
	broker  EventBroker
	limiter *rate.Limiter
}

func newProgressPublisher(runID string, b EventBroker, rps float64) *progressPublisher {
	lim := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), int(math.Max(1, math.Ceil(rps))))
	}
	return &progressPublisher{runID: runID, broker: b, limiter: lim}
}

// progress is installed as the driver's progress listener; it never blocks.
func (p *progressPublisher) progress(ev opt.ProgressEvent) {
	if !p.limiter.Allow() {
		metrics.ProgressEvents.WithLabelValues(p.broker.Name(), "throttled").Inc()
		return
	}
	p.publish(Event{Type: EventProgress, Data: map[string]any{
		"runId":          p.runID,
		"unit":           ev.Unit,
		"elapsedSeconds": ev.ElapsedSeconds,
		"incumbent":      jsonNumber(ev.Incumbent),
		"bound":          jsonNumber(ev.Bound),
		"nodes":          ev.Nodes,
	}})
}

func (p *progressPublisher) unitDone(r opt.UnitResult) {
	data := map[string]any{"runId": p.runID, "unit": r.Unit, "outcome": r.Stats.Outcome}
	if r.Record != nil {
		data["objective"] = jsonNumber(r.Record.Objective)
		data["gap"] = jsonNumber(r.Record.Gap)
		data["stations"] = len(r.Record.Stations())
	}
	if r.Err != nil {
		data["error"] = opt.Failure(r.Unit, r.Err).Detail
	}
	p.publish(Event{Type: EventUnitDone, Data: data})
}

func (p *progressPublisher) finished(status string, sum opt.Summary) {
	p.publish(Event{Type: EventRunFinish, Data: finishedPayload(p.runID, status, sum)})
}

func finishedPayload(runID, status string, sum opt.Summary) map[string]any {
	return map[string]any{
		"runId":     runID,
		"status":    status,
		"solved":    sum.Solved,
		"degraded":  sum.Degraded,
		"failed":    sum.Failed,
		"cancelled": sum.Cancelled,
	}
}

func (p *progressPublisher) publish(evt Event) {
	p.broker.Publish(p.runID, evt)
	metrics.ProgressEvents.WithLabelValues(p.broker.Name(), "published").Inc()
}

// jsonNumber maps non-finite values to nil so events stay encodable.
func jsonNumber(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}
