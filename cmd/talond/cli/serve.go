package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talon-ops/talon/internal/action"
	"github.com/talon-ops/talon/internal/config"
	"github.com/talon-ops/talon/internal/confirm"
	"github.com/talon-ops/talon/internal/gateway"
	"github.com/talon-ops/talon/internal/identity"
	"github.com/talon-ops/talon/internal/journal"
	"github.com/talon-ops/talon/internal/logging"
	"github.com/talon-ops/talon/internal/metrics"
	"github.com/talon-ops/talon/internal/notify"
	"github.com/talon-ops/talon/internal/panel"
	"github.com/talon-ops/talon/internal/policy"
)

// RegisterServeCommand adds the daemon entrypoint to the root.
func RegisterServeCommand(root *cobra.Command) {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the fleet operations daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg config.Config
				err error
			)
			if configPath != "" {
				cfg, err = config.LoadFrom(configPath)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.LogLevel)

			v, err := openVault()
			if err != nil {
				return err
			}
			defer v.Close()

			creds, err := v.Credentials()
			if err != nil {
				return fmt.Errorf("reading panel credentials: %w", err)
			}

			client := panel.NewClient(cfg.PanelURL, creds.ApplicationKey, creds.ClientKey, logger)

			if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0700); err != nil {
				return fmt.Errorf("preparing journal directory: %w", err)
			}
			jnl, err := journal.Open(cfg.JournalPath)
			if err != nil {
				return fmt.Errorf("opening journal: %w", err)
			}
			defer jnl.Close()

			nc, err := gateway.Connect(cfg.NATSURL, logger)
			if err != nil {
				return err
			}
			defer nc.Close()

			notifier := gateway.NewNotifier(nc, cfg.NotifyPrefix, 10*time.Second)
			sink := gateway.NewAuditSink(nc, cfg.AuditSubject)
			prompter := gateway.NewPrompter(nc, cfg.NotifyPrefix)

			gate := confirm.NewGate(prompter, time.Duration(cfg.ConfirmTimeoutSeconds)*time.Second, logger)
			resolver := identity.NewResolver(client, cfg.EmailDomain, logger)
			fanout := notify.NewFanout(notifier, sink, logger)
			access := policy.NewGate(cfg.AdminIDs)

			orch := action.New(client, resolver, gate, fanout, jnl, access, logger)

			server := gateway.NewServer(orch, cfg.CommandPrefix, logger)
			if err := server.Start(nc); err != nil {
				return fmt.Errorf("subscribing to command subjects: %w", err)
			}
			defer server.Stop()

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error().Err(err).Msg("metrics listener failed")
				}
			}()

			startupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			if err := client.TestConnection(startupCtx); err != nil {
				logger.Warn().Err(err).Msg("panel unreachable at startup; continuing")
			} else {
				logger.Info().Str("panel", cfg.PanelURL).Msg("panel connection verified")
			}
			cancel()

			logger.Info().
				Str("commands", cfg.CommandPrefix+".>").
				Str("metrics", cfg.MetricsAddr).
				Int("admins", len(cfg.AdminIDs)).
				Msg("talond ready")

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop

			logger.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			metricsSrv.Shutdown(shutdownCtx)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default ~/.talon/config.json)")

	root.AddCommand(cmd)
}
