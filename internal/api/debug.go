package api

import (
	"net/http"
	"time"

	"evsiting/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":             c.Port,
			"SCENARIO":         s.Scenario.Name,
			"TIME_LIMIT":       c.Solver.TimeLimit.String(),
			"NODE_LIMIT":       c.Solver.NodeLimit,
			"WORKERS":          c.Solver.Workers,
			"MAX_POINTS":       c.Solver.MaxPoints,
			"RATE_RPS":         c.RateRPS,
			"RATE_BURST":       c.RateBurst,
			"PROGRESS_RPS":     c.ProgressRPS,
			"HAS_DATABASE_URL": c.DatabaseURL != "",
			"HAS_REDIS_URL":    c.RedisURL != "",
			"BROKER":           s.Broker.Name(),
		},
		"activeRun": s.runs.Active(),
	})
}
