package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/ledgersync/go/internal/dbconfig"
	"github.com/mcdev12/ledgersync/go/internal/engine"
	"github.com/mcdev12/ledgersync/go/internal/engineapi"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	Server     string
	Format     string // "json" | "text"
	Timeout    time.Duration

	config *Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "ledgersync",
		Short:         "Offline-first record store with a replayed outbox",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn().Err(err).Msg("could not load .env file")
			}
			cfg, err := loadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			opts.config = cfg
			setupLogging(cmd.ErrOrStderr(), cfg.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "http://localhost:8080", "address of a running ledgersync serve")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout for client commands")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newDrainCommand(opts))
	cmd.AddCommand(newFailuresCommand(opts))
	cmd.AddCommand(newResetCommand(opts))
	return cmd
}

func setupLogging(w io.Writer, level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its RPC, websocket and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts.config)
		},
	}
}

func serve(ctx context.Context, cfg *Config) error {
	services, err := setupServices(ctx, cfg, dbconfig.NewConfigFromEnv())
	if err != nil {
		return fmt.Errorf("failed to set up services: %w", err)
	}
	defer services.Close()

	go initEngine(ctx, services.Engine, 5*time.Second)
	go services.Gateway.Start(ctx)

	server := setupServer(cfg.HTTP.Addr, services)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// initEngine retries Init while storage times out. Requests meanwhile fail as
// unavailable.
func initEngine(ctx context.Context, eng *engine.Engine, backoff time.Duration) {
	for {
		err := eng.Init(ctx)
		if err == nil {
			return
		}
		if !errors.Is(err, engine.ErrInitializationTimeout) {
			log.Error().Err(err).Msg("engine initialization failed")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()
			status, err := opts.client().Status(ctx)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), status)
			}
			conn := "offline"
			if status.Online {
				conn = "online"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connection: %s\nunsynced:   %d\nfailed:     %d\n", conn, status.Unsynced, status.Failed)
			if status.LastSyncAt != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "last sync:  %s\n", status.LastSyncAt)
			}
			return nil
		},
	}
}

func newDrainCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay queued changes now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()
			res, err := opts.client().Drain(ctx)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d, failed %d, dropped %d, skipped %d, pending %d\n",
				res.Synced, res.Failed, res.Dropped, res.Skipped, res.Pending)
			if res.Interrupted {
				fmt.Fprintln(cmd.OutOrStdout(), "pass interrupted: connection lost")
			}
			return nil
		},
	}
}

func newFailuresCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Inspect and requeue entries dropped after exhausting their retries",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List dropped entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()
			failures, err := opts.client().ListFailures(ctx)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), failures)
			}
			if len(failures) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No failed entries.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTABLE\tRECORD\tOPERATION\tRETRIES\tERROR")
			for _, f := range failures {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", f.ID, f.Table, f.RecordID, f.Operation, f.Retries, f.LastError)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry <entry-id>",
		Short: "Move a dropped entry back onto the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()
			if err := opts.client().RetryFailure(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func newResetCommand(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all local records, queued changes and settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset discards unsynced changes; pass --yes to confirm")
			}
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()
			if err := opts.client().Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "local data cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func (o *rootOptions) client() *engineapi.Client {
	return engineapi.NewClient(http.DefaultClient, o.Server)
}

func (o *rootOptions) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, o.Timeout)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
