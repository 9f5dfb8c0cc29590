package api

import (
	"fmt"
	"math"
	"strings"
	"time"

	"evsiting/internal/model"
	"evsiting/internal/opt"
)

// validateRunRequest checks a submission; current is the server's configured
// scenario, which is accepted by name even when it is not a preset.
func validateRunRequest(req *model.RunRequest, current string) error {
	if req.TimeLimitMs < 0 {
		return fmt.Errorf("timeLimitMs must be >= 0")
	}
	if req.NodeLimit < 0 {
		return fmt.Errorf("nodeLimit must be >= 0")
	}
	if math.IsNaN(req.Gap) || req.Gap < 0 || req.Gap >= 1 {
		return fmt.Errorf("gap must be in [0,1)")
	}
	if req.Scenario != "" && req.Scenario != current {
		if _, ok := opt.Preset(req.Scenario); !ok {
			names := []string{}
			for _, p := range opt.Presets() {
				names = append(names, p.Name)
			}
			return fmt.Errorf("unknown scenario: %s (allowed: %s)", req.Scenario, strings.Join(names, ","))
		}
	}
	seen := map[string]struct{}{}
	for _, u := range req.Units {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("units must not contain empty keys")
		}
		if _, dup := seen[u]; dup {
			return fmt.Errorf("duplicate unit: %s", u)
		}
		seen[u] = struct{}{}
	}
	return nil
}

// plan merges a validated request over the server defaults.
func (s *Server) plan(req model.RunRequest) runPlan {
	p := runPlan{scenario: s.Scenario, units: req.Units, limits: s.runs.limits}
	if req.Scenario != "" && req.Scenario != s.Scenario.Name {
		p.scenario, _ = opt.Preset(req.Scenario)
	}
	if req.TimeLimitMs > 0 {
		p.limits.TimeLimit = time.Duration(req.TimeLimitMs) * time.Millisecond
	}
	if req.NodeLimit > 0 {
		p.limits.NodeLimit = req.NodeLimit
	}
	if req.Gap > 0 {
		p.limits.Gap = req.Gap
	}
	return p
}
