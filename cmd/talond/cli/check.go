package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/talon-ops/talon/internal/config"
	"github.com/talon-ops/talon/internal/gateway"
	"github.com/talon-ops/talon/internal/logging"
	"github.com/talon-ops/talon/internal/panel"
)

// RegisterCheckCommand adds the connectivity check to the root.
func RegisterCheckCommand(root *cobra.Command) {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify panel and bus connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
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

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			client := panel.NewClient(cfg.PanelURL, creds.ApplicationKey, creds.ClientKey, logger)
			if err := client.TestConnection(ctx); err != nil {
				fmt.Printf("Panel:  FAIL (%v)\n", err)
			} else {
				fmt.Printf("Panel:  OK (%s)\n", cfg.PanelURL)
			}

			nc, err := gateway.Connect(cfg.NATSURL, logger)
			if err != nil {
				fmt.Printf("Bus:    FAIL (%v)\n", err)
				return nil
			}
			defer nc.Close()
			fmt.Printf("Bus:    OK (%s)\n", nc.ConnectedUrl())

			fmt.Printf("Admins: %d configured\n", len(cfg.AdminIDs))
			return nil
		},
	}

	root.AddCommand(cmd)
}
