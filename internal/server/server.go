// Package server exposes the FlowScript service over HTTP: flow CRUD,
// validation, execution, runtime queries, refinement, and an SSE event feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/taskloom/flowscript/internal/engine"
	"github.com/taskloom/flowscript/internal/flow"
	"github.com/taskloom/flowscript/internal/generate"
	"github.com/taskloom/flowscript/internal/runtime"
	"github.com/taskloom/flowscript/internal/store"
	"github.com/taskloom/flowscript/internal/validate"
)

const maxRequestBody = 8 << 20

type Server struct {
	engine      *engine.Engine
	store       store.Store
	gen         *generate.Service
	broadcaster *Broadcaster
	runs        *runRegistry
	logger      *log.Logger
	mux         *http.ServeMux
}

func New(eng *engine.Engine, st store.Store, gen *generate.Service, bc *Broadcaster, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if bc == nil {
		bc = NewBroadcaster()
	}
	s := &Server{
		engine:      eng,
		store:       st,
		gen:         gen,
		broadcaster: bc,
		runs:        newRunRegistry(),
		logger:      logger,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /api/projects/{project}/flows", s.handleSaveFlow)
	s.mux.HandleFunc("GET /api/projects/{project}/flows", s.handleListFlows)
	s.mux.HandleFunc("GET /api/projects/{project}/flows/{flow}", s.handleGetFlow)
	s.mux.HandleFunc("POST /api/projects/{project}/flows/{flow}/validate", s.handleValidate)
	s.mux.HandleFunc("POST /api/projects/{project}/flows/{flow}/execute", s.handleExecute)
	s.mux.HandleFunc("POST /api/projects/{project}/flows/{flow}/step", s.handleStep)
	s.mux.HandleFunc("POST /api/projects/{project}/flows/{flow}/refine", s.handleRefine)
	s.mux.HandleFunc("POST /api/projects/{project}/flows/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /api/runs/{run}", s.handleRuntime)
	s.mux.HandleFunc("POST /api/runs/{run}/cancel", s.handleCancel)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
}

func (s *Server) Handler() http.Handler { return s.mux }

// Publish forwards an engine event to SSE subscribers. Wire it as the
// engine's progress sink.
func (s *Server) Publish(ev engine.Event) {
	s.broadcaster.Publish(ev)
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Printf("[server] listening on %s", addr)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.broadcaster.Close()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: %v", err)
		return nil, false
	}
	return data, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSaveFlow(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	script, err := flow.Decode(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	diags := validate.Validate(script)
	for _, d := range diags {
		if d.Severity == validate.SeverityError {
			writeJSON(w, http.StatusUnprocessableEntity, saveFlowResponse{
				FlowID:      script.ID,
				Diagnostics: diags,
			})
			return
		}
	}
	rev, err := s.store.Save(project, script)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if diags == nil {
		diags = []validate.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, saveFlowResponse{FlowID: script.ID, Revision: rev, Diagnostics: diags})
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	ids := s.store.List(r.PathValue("project"))
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, listFlowsResponse{Flows: ids})
}

func (s *Server) loadFlow(w http.ResponseWriter, r *http.Request) (*flow.Script, string, bool) {
	script, rev, err := s.store.Get(r.PathValue("project"), r.PathValue("flow"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "%v", err)
		} else {
			writeError(w, http.StatusInternalServerError, "%v", err)
		}
		return nil, "", false
	}
	return script, rev, true
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	script, rev, ok := s.loadFlow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, getFlowResponse{Revision: rev, Flow: script})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	script, _, ok := s.loadFlow(w, r)
	if !ok {
		return
	}
	diags := validate.Validate(script)
	valid := true
	for _, d := range diags {
		if d.Severity == validate.SeverityError {
			valid = false
			break
		}
	}
	if diags == nil {
		diags = []validate.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: valid, Diagnostics: diags})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	script, _, ok := s.loadFlow(w, r)
	if !ok {
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var req executeRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			writeError(w, http.StatusBadRequest, "decode request: %v", err)
			return
		}
	}
	mode := req.Mode
	if mode == "" {
		mode = runtime.ModeSimulate
	}
	if mode != runtime.ModeSimulate && mode != runtime.ModeLive {
		writeError(w, http.StatusBadRequest, "unknown mode %q", mode)
		return
	}
	if err := validate.ValidateOrError(script); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "%v", err)
		return
	}

	runID, err := runtime.NewRunID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	// The run detaches from the request: canceling the HTTP call must not
	// cancel the workflow. The cancel endpoint is the only way to stop it.
	runCtx, cancel := context.WithCancelCause(context.Background())
	s.runs.add(runID, cancel)
	go func() {
		defer s.runs.remove(runID)
		defer cancel(nil)
		if _, err := s.engine.Execute(runCtx, script, mode, engine.Options{Seed: req.Seed, RunID: runID}); err != nil {
			s.logger.Printf("[server] run %s: %v", runID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, executeResponse{RunID: runID})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	script, _, ok := s.loadFlow(w, r)
	if !ok {
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var req stepRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: %v", err)
		return
	}
	if req.StepID == "" {
		writeError(w, http.StatusBadRequest, "step_id is required")
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = runtime.ModeSimulate
	}
	tr, err := s.engine.ExecuteStep(r.Context(), script, req.StepID, mode, req.Seed)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run")
	rt, ok := s.engine.Recorder().Runtime(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown run %q", runID)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run")
	canceled := s.runs.cancel(runID, errors.New("canceled by client"))
	if !canceled {
		if _, known := s.engine.Recorder().Runtime(runID); !known {
			writeError(w, http.StatusNotFound, "unknown run %q", runID)
			return
		}
	}
	writeJSON(w, http.StatusOK, cancelResponse{RunID: runID, Canceled: canceled})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var req generateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: %v", err)
		return
	}
	script, err := s.gen.Generate(r.Context(), req.Description)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "%v", err)
		return
	}
	rev, err := s.store.Save(project, script)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, getFlowResponse{Revision: rev, Flow: script})
}

func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	script, _, ok := s.loadFlow(w, r)
	if !ok {
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var req refineRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: %v", err)
		return
	}
	refined, err := s.gen.Refine(r.Context(), script, req.Instruction)
	if err != nil {
		// The stored script is untouched; report the failure.
		writeError(w, http.StatusUnprocessableEntity, "%v", err)
		return
	}
	rev, err := s.store.Save(project, refined)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, getFlowResponse{Revision: rev, Flow: refined})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := s.broadcaster.Subscribe()
	defer cancel()
	for {
		select {
		case <-r.Context().Done():
			return
		case data, open := <-ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
