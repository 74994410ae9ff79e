package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/taxis-ai/taxis/pkg/config"
	"github.com/taxis-ai/taxis/pkg/telemetry"
)

func runRun(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	workflowPath := cmd.String("workflow", "", "Path to the workflow document")
	noTelemetry := cmd.Bool("no-telemetry", false, "Disable telemetry output")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if *workflowPath == "" {
		fatal(fmt.Errorf("usage: taxis run --workflow <path> <query>"))
	}
	query := strings.TrimSpace(strings.Join(cmd.Args(), " "))
	if query == "" {
		fatal(fmt.Errorf("missing query; usage: taxis run --workflow <path> <query>"))
	}

	wf, err := config.LoadWorkflow(*workflowPath)
	if err != nil {
		fatal(err)
	}

	if cfg.Telemetry.Enabled && !*noTelemetry {
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

	ctx, cancel := context.WithTimeout(ctx, flags.Timeout)
	defer cancel()

	isTTY := isatty.IsTerminal(os.Stdout.Fd())
	if !flags.JSON && isTTY {
		fmt.Printf("Workflow: %s (%s)\n", wf.Name, wf.Flow.Type)
		fmt.Printf("Agents: %d\n\n", len(wf.Agents))
	}

	result, runErr := eng.Execute(ctx, query)
	if audit != nil && result != nil {
		if err := audit.RecordRun(context.Background(), result); err != nil {
			fmt.Fprintf(os.Stderr, "audit record: %v\n", err)
		}
	}

	if flags.JSON {
		printJSON(result)
		if runErr != nil {
			os.Exit(1)
		}
		return
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}

	fmt.Println(result.FinalOutput)
	if isTTY {
		fmt.Printf("\nrun_id=%s elapsed=%s events=%d\n",
			result.RunID, result.Elapsed.Round(time.Millisecond), len(result.Events))
	}
}
