package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var shutdownTimeout int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat server",
	Long: `Start the chat server. It serves POST /api/chat as a server-sent event
stream, a websocket endpoint at /ws, and Prometheus metrics at /metrics.
SIGINT or SIGTERM drains open streams before exiting.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&shutdownTimeout, "shutdown-timeout", 30, "seconds to wait for open streams on shutdown")
	addCommand(groupServer, serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	flushTelemetry, err := initTelemetry(cfg)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		flushTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := svc.start(); err != nil {
		svc.close()
		return err
	}

	log.Info().
		Str("addr", svc.server.Addr()).
		Str("model", cfg.AI.DefaultModel).
		Int("profiles", len(cfg.AI.Profiles)).
		Msg("Briefing is serving")
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", svc.server.Addr())

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
	defer cancel()
	return svc.shutdown(shutdownCtx)
}
