package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"evsiting/internal/integrations/csvfiles"
	"evsiting/internal/model"
	"evsiting/internal/opt"
	"evsiting/internal/store"
)

// maxUpload bounds the multipart dataset upload.
const maxUpload = 64 << 20

// DatasetHandler handles GET/PUT /v1/dataset. PUT takes a multipart form
// with the files sites, demand and constraints in the planner CSV layout.
func (s *Server) DatasetHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/dataset" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		ds, err := s.Store.LoadDataset(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Load dataset failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, datasetSummary(ds))
	case http.MethodPut, http.MethodPost:
		if err := r.ParseMultipartForm(maxUpload); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid upload", err.Error(), r.URL.Path)
			return
		}
		readers := make([]io.Reader, 0, 3)
		for _, field := range []string{"sites", "demand", "constraints"} {
			f, _, err := r.FormFile(field)
			if err != nil {
				writeProblem(w, http.StatusBadRequest, "Missing file", field+": "+err.Error(), r.URL.Path)
				return
			}
			defer f.Close()
			readers = append(readers, f)
		}
		ds, err := csvfiles.Parse(readers[0], readers[1], readers[2])
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid dataset", err.Error(), r.URL.Path)
			return
		}
		if err := s.runs.PutDataset(r.Context(), ds); err != nil {
			if errors.Is(err, ErrBusy) {
				writeProblem(w, http.StatusConflict, "Run in progress", "dataset cannot change while a run is solving", r.URL.Path)
				return
			}
			writeProblem(w, http.StatusInternalServerError, "Store dataset failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, datasetSummary(ds))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func datasetSummary(ds *model.Dataset) map[string]any {
	sites, demand, constrained := ds.Counts()
	problems := map[string][]string{}
	for _, u := range ds.Units() {
		if p := ds.Unit(u).Problems; len(p) > 0 {
			problems[u] = p
		}
	}
	return map[string]any{
		"units":            ds.Units(),
		"constrainedUnits": ds.ConstrainedUnits(),
		"sites":            sites,
		"demandPoints":     demand,
		"constrained":      constrained,
		"problems":         problems,
	}
}

// RunsHandler handles POST /v1/runs.
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/runs" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.limiter.Allow() {
		writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "run submissions are rate limited", r.URL.Path)
		return
	}
	var req model.RunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateRunRequest(&req, s.Scenario.Name); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid run request", err.Error(), r.URL.Path)
		return
	}
	run, err := s.runs.Start(r.Context(), s.plan(req))
	if errors.Is(err, ErrBusy) {
		writeProblem(w, http.StatusConflict, "Run in progress", fmt.Sprintf("run %s is still solving", s.runs.Active()), r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Start run failed", err.Error(), r.URL.Path)
		return
	}
	w.Header().Set("Location", "/v1/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, run)
}

// RunByIDHandler handles everything under /v1/runs/{id}.
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/runs/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	id := parts[0]
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}
	unit := ""
	if len(parts) > 2 {
		unit = strings.Join(parts[2:], "/")
	}

	if sub == "cancel" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.runs.Cancel(id) {
			writeProblem(w, http.StatusConflict, "Run not active", "only the running batch can be cancelled", path)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"runId": id, "cancelling": true})
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch {
	case sub == "":
		s.getRun(w, r, id)
	case sub == "events" && unit == "stream":
		s.streamRun(w, r, id)
	case sub == "solutions" && unit == "":
		items, err := s.Store.ListSolutions(r.Context(), id)
		if err != nil {
			s.storeProblem(w, r, "List solutions failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case sub == "solutions":
		s.getSolution(w, r, id, unit)
	case sub == "convergence" && unit != "":
		pts, err := s.Store.GetConvergence(r.Context(), id, unit)
		if err != nil {
			s.storeProblem(w, r, "Get convergence failed", err)
			return
		}
		writeJSON(w, http.StatusOK, model.UnitTrace{Unit: unit, Points: pts})
	case sub == "failures":
		items, err := s.Store.ListUnitFailures(r.Context(), id)
		if err != nil {
			s.storeProblem(w, r, "List failures failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
	}
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request, id string) {
	run, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		s.storeProblem(w, r, "Get run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":    run,
		"active": s.runs.Active() == id,
		"stats":  opt.GetStats(id),
	})
}

// getSolution returns a unit's record with its station summary and, when
// the stored inputs still match the record, a cost breakdown.
func (s *Server) getSolution(w http.ResponseWriter, r *http.Request, id, unit string) {
	rec, err := s.Store.GetSolution(r.Context(), id, unit)
	if err != nil {
		s.storeProblem(w, r, "Get solution failed", err)
		return
	}
	body := map[string]any{"solution": rec, "stations": rec.Stations()}
	a, b := rec.TotalChargers()
	body["chargers"] = map[string]int{"typeA": a, "typeB": b}
	if cost, ok := s.breakdown(r.Context(), rec); ok {
		body["cost"] = map[string]float64{"land": cost.Land, "fixed": cost.Fixed, "transport": cost.Transport, "total": cost.Total()}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) breakdown(ctx context.Context, rec model.SolutionRecord) (opt.Breakdown, bool) {
	sc := s.Scenario
	if rec.Scenario != "" && rec.Scenario != sc.Name {
		p, ok := opt.Preset(rec.Scenario)
		if !ok {
			return opt.Breakdown{}, false
		}
		sc = p
	}
	ds, err := s.Store.LoadDataset(ctx)
	if err != nil {
		return opt.Breakdown{}, false
	}
	u := ds.Unit(rec.Unit)
	if len(u.Sites) != len(rec.SiteIDs) || len(u.Demand) != len(rec.DemandIDs) {
		return opt.Breakdown{}, false
	}
	for i, site := range u.Sites {
		if site.ID != rec.SiteIDs[i] {
			return opt.Breakdown{}, false
		}
	}
	for j, p := range u.Demand {
		if p.ID != rec.DemandIDs[j] {
			return opt.Breakdown{}, false
		}
	}
	return opt.NewCostModel(sc).Breakdown(u.Sites, u.Demand, rec.XA, rec.XB, rec.B), true
}

// streamRun serves the run's events as SSE until the client leaves or the
// run finishes.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.Store.GetRun(r.Context(), id); err != nil {
		s.storeProblem(w, r, "Get run failed", err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"runId\":%q,\"ts\":%q}\n\n", id, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	// a run that already ended will publish nothing more
	if s.runs.Active() != id {
		return
	}
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(evt.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
			if evt.Type == EventRunFinish {
				return
			}
		case <-ticker.C:
			heartbeat()
		}
	}
}

// ScenariosHandler lists the built-in cost scenarios and the active one.
func (s *Server) ScenariosHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/scenarios" || r.Method != http.MethodGet {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"default": s.Scenario, "presets": opt.Presets()})
}

func (s *Server) storeProblem(w http.ResponseWriter, r *http.Request, title string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
		return
	}
	writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	type pinger interface{ Ping(ctx context.Context) error }
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if pg, ok := s.Store.(pinger); ok {
		if err := pg.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "store: "+err.Error(), r.URL.Path)
			return
		}
	}
	if rb, ok := s.Broker.(pinger); ok {
		if err := rb.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "broker: "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
