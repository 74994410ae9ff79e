package main

import (
	"fmt"
	"os"

	"github.com/taxis-ai/taxis/pkg/config"
	taxiserrors "github.com/taxis-ai/taxis/pkg/errors"
)

func runValidate(flags globalFlags, args []string) {
	if len(args) != 1 {
		fatal(fmt.Errorf("usage: taxis validate <path>"))
	}
	path := args[0]

	wf, err := config.LoadWorkflow(path)
	if err != nil {
		if flags.JSON {
			out := map[string]any{"valid": false, "error": err.Error()}
			if taxisErr := taxiserrors.As(err); taxisErr != nil {
				if field, ok := taxisErr.Context["field"]; ok {
					out["field"] = field
				}
			}
			printJSON(out)
		} else {
			fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		}
		os.Exit(1)
	}

	if flags.JSON {
		printJSON(map[string]any{
			"valid":     true,
			"name":      wf.Name,
			"flow_type": wf.Flow.Type,
			"agents":    len(wf.Agents),
		})
		return
	}
	fmt.Printf("%s: valid (%s flow, %d agents)\n", path, wf.Flow.Type, len(wf.Agents))
}
