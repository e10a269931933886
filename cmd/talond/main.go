// talond — fleet operations daemon for Pterodactyl-compatible panels.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/talon-ops/talon/cmd/talond/cli"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "talond",
		Short: "talond — chat-driven fleet operations for game server panels",
		Long: `talond bridges a chat-platform frontend and a Pterodactyl-compatible
panel. Administrators drive server provisioning, suspension, resizing,
and account lifecycle from chat; talond enforces the access policy,
confirms destructive actions, and keeps a tamper-evident journal.`,
		Version:      version,
		SilenceUsage: true,
	}

	// Register command groups
	cli.RegisterServeCommand(rootCmd)
	cli.RegisterCheckCommand(rootCmd)
	cli.RegisterVaultCommands(rootCmd)
	cli.RegisterPolicyCommands(rootCmd)
	cli.RegisterJournalCommands(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
