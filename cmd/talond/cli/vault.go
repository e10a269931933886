package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/talon-ops/talon/internal/config"
	"github.com/talon-ops/talon/internal/logging"
	"github.com/talon-ops/talon/internal/vault"
)

// RegisterVaultCommands adds credential vault management to the root.
func RegisterVaultCommands(root *cobra.Command) {
	vaultCmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the encrypted panel credential vault",
	}

	vaultCmd.AddCommand(newVaultInitCmd())
	vaultCmd.AddCommand(newVaultSetKeysCmd())
	vaultCmd.AddCommand(newVaultShowCmd())

	root.AddCommand(vaultCmd)
}

func newVaultInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new credential vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := vaultPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("vault already exists at %s", path)
			}
			if err := os.MkdirAll(config.Dir(), 0700); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}

			passphrase, err := readPassphrase(true)
			if err != nil {
				return err
			}

			v, err := vault.Create(path, passphrase)
			if err != nil {
				return fmt.Errorf("creating vault: %w", err)
			}
			defer v.Close()

			fmt.Printf("Vault created at %s\n", path)
			fmt.Println("Store the panel keys with: talond vault set-keys")
			return nil
		},
	}
}

func newVaultSetKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-keys",
		Short: "Store the panel application and client API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			defer v.Close()

			appKey, err := readSecret("Application API key (ptla_...): ")
			if err != nil {
				return err
			}
			clientKey, err := readSecret("Client API key (ptlc_...): ")
			if err != nil {
				return err
			}
			if appKey == "" || clientKey == "" {
				return fmt.Errorf("both keys are required")
			}

			if err := v.SetCredentials(vault.Credentials{
				ApplicationKey: appKey,
				ClientKey:      clientKey,
			}); err != nil {
				return fmt.Errorf("storing credentials: %w", err)
			}
			if err := v.Save(); err != nil {
				return fmt.Errorf("saving vault: %w", err)
			}

			fmt.Println("Panel credentials stored.")
			return nil
		},
	}
}

func newVaultShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show which credentials are stored (values redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			defer v.Close()

			for _, key := range []string{vault.KeyApplication, vault.KeyClient} {
				if !v.Has(key) {
					fmt.Printf("%-24s (not set)\n", key)
					continue
				}
				value, err := v.Get(key)
				if err != nil {
					return err
				}
				fmt.Printf("%-24s %s\n", key, logging.RedactValue(string(value)))
			}
			return nil
		},
	}
}

func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	fmt.Fprintln(os.Stderr)
	return string(data), nil
}
