package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JasonWangA/bk-ci/internal/envelope"
	"github.com/JasonWangA/bk-ci/internal/orchestrator"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Seed the demo project and image once and exit",
	Long: `Bootstrap takes the fleet-wide lock, makes sure the demo project
exists and registers, finalizes and approves the demo image unless it is
already present.

The command prints a JSON result to stdout and exits 0 when the image was
seeded, was already present, or another instance holds the lock. It exits
non-zero when any step failed.`,
	RunE: runBootstrap,
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Bootstrap.Timeout)
	defer cancel()

	slog.InfoContext(ctx, "starting bootstrap")

	result, err := app.orchestrator.RunBootstrap(ctx)
	if result != nil {
		printBootstrapResult(result)
	}
	if err != nil {
		if result == nil {
			printResult(orchestrator.StatusError, err)
		}
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	slog.InfoContext(ctx, "bootstrap finished", "status", result.Status, "reason", result.Reason)
	return nil
}

func printBootstrapResult(result *orchestrator.BootstrapResult) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stdout, `{"status":%q}`+"\n", result.Status)
	}
}

// printResult reports a run that produced no result, including the upstream
// error code when there is one.
func printResult(status string, err error) {
	result := map[string]any{"status": status, "error": err.Error()}
	var ue *envelope.Error
	if errors.As(err, &ue) {
		result["statusCode"] = ue.StatusCode
		result["errorCode"] = ue.ErrorCode
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(result); encErr != nil {
		fmt.Fprintf(os.Stdout, `{"status":%q}`+"\n", status)
	}
}
