package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/taxis-ai/taxis/pkg/config"
	"github.com/taxis-ai/taxis/pkg/engine"
)

func openAudit(cfg *config.Config) *engine.AuditStore {
	if cfg.Audit.Path == "" {
		fatal(fmt.Errorf("audit.path is not configured; set audit.path or TAXIS_AUDIT_PATH"))
	}
	store, err := engine.OpenAuditStore(cfg.Audit.Path)
	if err != nil {
		fatal(fmt.Errorf("audit store: %w", err))
	}
	return store
}

func runRuns(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := cmd.Int("limit", 20, "Maximum runs to list")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}

	store := openAudit(cfg)
	defer store.Close()

	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		fatal(err)
	}

	if flags.JSON {
		printJSON(runs)
		return
	}
	writer := newTabWriter()
	writeRow(writer, "RUN_ID", "FLOW", "STATUS", "ELAPSED", "QUERY")
	for _, run := range runs {
		elapsed := (time.Duration(run.ElapsedMS) * time.Millisecond).String()
		writeRow(writer, run.RunID, run.FlowType, run.Status, elapsed, truncate(run.Query, 60))
	}
	_ = writer.Flush()
}

func runEvents(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	if len(args) != 1 {
		fatal(fmt.Errorf("usage: taxis events <run_id>"))
	}
	runID := args[0]

	store := openAudit(cfg)
	defer store.Close()

	events, err := store.ListEvents(ctx, runID)
	if err != nil {
		fatal(err)
	}
	if len(events) == 0 {
		fatal(fmt.Errorf("no events recorded for run %q", runID))
	}

	if flags.JSON {
		printJSON(events)
		return
	}
	writer := newTabWriter()
	writeRow(writer, "TIME", "KIND", "AGENT", "PAYLOAD")
	for _, event := range events {
		payload := ""
		if event.Payload != nil {
			if encoded, err := json.Marshal(event.Payload); err == nil {
				payload = string(encoded)
			}
		}
		writeRow(writer,
			event.Timestamp.Format(time.RFC3339),
			string(event.Kind),
			event.AgentID,
			truncate(payload, 100))
	}
	_ = writer.Flush()
}
