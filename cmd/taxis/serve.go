package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/taxis-ai/taxis/pkg/config"
	"github.com/taxis-ai/taxis/pkg/engine"
	"github.com/taxis-ai/taxis/pkg/telemetry"
)

func runServe(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	workflowPath := cmd.String("workflow", "", "Path to the workflow document")
	addr := cmd.String("addr", cfg.Server.Addr, "Listen address")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if *workflowPath == "" {
		fatal(fmt.Errorf("usage: taxis serve --workflow <path>"))
	}

	wf, err := config.LoadWorkflow(*workflowPath)
	if err != nil {
		fatal(err)
	}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitWithConfig("taxis", "dev", telemetry.Config{
			Exporter:     cfg.Telemetry.Exporter,
			OTLPEndpoint: cfg.Telemetry.Endpoint,
			OTLPInsecure: true,
		})
		if err != nil {
			fatal(fmt.Errorf("failed to init telemetry: %w", err))
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "telemetry shutdown: %v\n", err)
			}
		}()
	}

	eng, audit, cleanup, err := buildEngine(ctx, cfg, wf)
	if err != nil {
		fatal(err)
	}
	defer cleanup()

	api := &apiServer{
		engine:  eng,
		audit:   audit,
		timeout: flags.Timeout,
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           api.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("serving workflow",
		slog.String("addr", *addr),
		slog.String("workflow", wf.Name),
		slog.String("flow_type", wf.Flow.Type))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal(err)
	}
}

type apiServer struct {
	engine  *engine.Engine
	audit   *engine.AuditStore
	timeout time.Duration
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/execute", s.handleExecute)
	mux.HandleFunc("POST /api/validate", s.handleValidate)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleRunEvents)
	return mux
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

type executeRequest struct {
	Query string `json:"query"`
}

func (s *apiServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if req.Query == "" {
		writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	result, err := s.engine.Execute(ctx, req.Query)
	if s.audit != nil && result != nil {
		if recordErr := s.audit.RecordRun(context.Background(), result); recordErr != nil {
			slog.Warn("audit record failed", slog.String("error", recordErr.Error()))
		}
	}
	if err != nil {
		writeJSONResponse(w, http.StatusUnprocessableEntity, result)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

func (s *apiServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "cannot read request body"})
		return
	}
	wf, err := config.ParseWorkflow(raw)
	if err != nil {
		writeJSONResponse(w, http.StatusUnprocessableEntity, map[string]any{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"valid":     true,
		"name":      wf.Name,
		"flow_type": wf.Flow.Type,
		"agents":    len(wf.Agents),
	})
}

func (s *apiServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSONResponse(w, http.StatusNotImplemented, map[string]string{"error": "audit persistence is not configured"})
		return
	}
	runs, err := s.audit.ListRuns(r.Context(), 50)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSONResponse(w, http.StatusOK, runs)
}

func (s *apiServer) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSONResponse(w, http.StatusNotImplemented, map[string]string{"error": "audit persistence is not configured"})
		return
	}
	runID := r.PathValue("id")
	events, err := s.audit.ListEvents(r.Context(), runID)
	if err != nil {
		writeJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(events) == 0 {
		writeJSONResponse(w, http.StatusNotFound, map[string]string{"error": "unknown run"})
		return
	}
	writeJSONResponse(w, http.StatusOK, events)
}

func writeJSONResponse(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		slog.Warn("response encode failed", slog.String("error", err.Error()))
	}
}
