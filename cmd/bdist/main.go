// Command bdist builds Balanced Distribution anomaly models from feature
// vectors and classifies new vectors against them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "bdist",
		Short:         "Balanced Distribution anomaly detection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(
		newGenerateCmd(flags),
		newClassifyCmd(flags),
		newInspectCmd(flags),
		newDeleteCmd(flags),
	)
	return cmd
}
