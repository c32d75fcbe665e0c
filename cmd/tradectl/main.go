// Command tradectl is the operator CLI: it runs the service and performs manual
// trade operations against the same database and exchange accounts.
package main

import (
	"context"
	"fmt"
	"os"

	"futuresDesk/config"
	"futuresDesk/internal/adapters/logger"
	"futuresDesk/internal/app"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tradectl",
		Short:         "Operate the futures order execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "", "override LOG_LEVEL")
	root.AddCommand(
		newRunCmd(),
		newOpenCmd(),
		newTakeProfitCmd(),
		newCloseCmd(),
		newTradesCmd(),
		newOrdersCmd(),
	)
	return root
}

// withComponents loads the configuration, wires the components and runs fn with them.
func withComponents(cmd *cobra.Command, fn func(ctx context.Context, c *app.Components) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = logger.ParseLevel(lvl)
	}
	appLogger := logger.NewLogrusLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogJSON)

	components, err := app.Build(cfg, appLogger)
	if err != nil {
		return err
	}
	defer components.Close()
	return fn(cmd.Context(), components)
}
