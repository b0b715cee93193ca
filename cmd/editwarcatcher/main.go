// Command editwarcatcher polls Wikipedia recent changes, records reverts and
// reports likely three-revert-rule violations and mutual edit wars.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.2.0"

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	format     string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "editwarcatcher",
		Short:         "Detect edit wars in Wikipedia recent changes",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "configs/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&flags.format, "format", "f", "", "Report format: text, wikitext or table (overrides report.format)")

	rootCmd.AddCommand(
		newRunCmd(flags),
		newDetectCmd(flags),
		newServeCmd(flags),
	)

	return rootCmd.ExecuteContext(ctx)
}
