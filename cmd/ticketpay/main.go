package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ticketpay/cmd/internal/app"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ticketpay",
		Short:         "Ticket payment verification and fulfillment service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Bare invocation serves, matching the container entrypoint.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve()
		},
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(reconcileCmd())
	root.AddCommand(watchCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, webhooks, and realtime status feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve()
		},
	}
}

func serve() error {
	ctx, cancel := signalContext()
	defer cancel()
	return app.Serve(ctx)
}

func migrateCmd() *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the ticketpay schema and tables in TICKETPAY_DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.LoadConfig()
			if printOnly {
				for _, stmt := range app.SchemaStatements(cfg.DBSchema) {
					fmt.Fprintln(cmd.OutOrStdout(), stmt+";")
				}
				return nil
			}
			ctx, cancel := signalContext()
			defer cancel()
			return app.Migrate(ctx, cfg, app.NewLogger(cfg.LogLevel, cfg.LogFormat))
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "print the DDL instead of applying it")
	return cmd
}

func reconcileCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Mark orders fulfilled for successful payments whose order update was missed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := app.LoadConfig()
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("reconcile: TICKETPAY_DATABASE_URL is required")
			}
			log := app.NewLogger(cfg.LogLevel, cfg.LogFormat)

			a, err := app.New(cfg, log)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			defer a.Close(context.Background())

			rep, err := a.Service().Reconcile(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d fixed=%d failed=%d\n", rep.Scanned, rep.Fixed, rep.Failed)
			if rep.Failed > 0 {
				return fmt.Errorf("reconcile: %d order updates failed", rep.Failed)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 500, "maximum payments to examine")
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
