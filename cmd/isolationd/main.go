// Command isolationd runs the execution context isolation layer and the
// degradation coordinator behind a WebSocket event bridge.
//
//	isolationd serve --config isolationd.yaml
//	isolationd simulate --topology topology.yaml --fail llm --fail db --recover llm
//
// Every setting can be given as an ISOLATION_* environment variable, for
// example ISOLATION_SESSION_SECRET or ISOLATION_STORE_BACKEND=postgres.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "isolationd",
		Short:        "Per-user agent isolation and service degradation daemon",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildSimulateCmd())
	return root
}
