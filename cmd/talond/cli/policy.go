package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/talon-ops/talon/internal/config"
)

// RegisterPolicyCommands adds access-policy management to the root. Edits
// apply to the config file; a running daemon picks them up on restart.
func RegisterPolicyCommands(root *cobra.Command) {
	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage the administrator allow-list",
	}

	policyCmd.AddCommand(newPolicyShowCmd())
	policyCmd.AddCommand(newPolicyAddAdminCmd())
	policyCmd.AddCommand(newPolicyRemoveAdminCmd())

	root.AddCommand(policyCmd)
}

func newPolicyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the configured administrators",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			if len(cfg.AdminIDs) == 0 {
				fmt.Println("No administrators configured. Every command will be rejected.")
				return nil
			}
			fmt.Printf("Administrators (%d):\n", len(cfg.AdminIDs))
			for _, id := range cfg.AdminIDs {
				fmt.Printf("  %s\n", id)
			}
			return nil
		},
	}
}

func newPolicyAddAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-admin <chat-id>",
		Short: "Add a chat identity to the allow-list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			id := args[0]
			for _, existing := range cfg.AdminIDs {
				if existing == id {
					fmt.Printf("%s is already an administrator\n", id)
					return nil
				}
			}

			cfg.AdminIDs = append(cfg.AdminIDs, id)
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			fmt.Printf("Added administrator %s (restart talond to apply)\n", id)
			return nil
		},
	}
}

func newPolicyRemoveAdminCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-admin <chat-id>",
		Short: "Remove a chat identity from the allow-list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			id := args[0]
			kept := cfg.AdminIDs[:0]
			found := false
			for _, existing := range cfg.AdminIDs {
				if existing == id {
					found = true
					continue
				}
				kept = append(kept, existing)
			}
			if !found {
				return fmt.Errorf("%s is not an administrator", id)
			}

			cfg.AdminIDs = kept
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			fmt.Printf("Removed administrator %s (restart talond to apply)\n", id)
			return nil
		},
	}
}
