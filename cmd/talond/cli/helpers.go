package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/talon-ops/talon/internal/config"
	"github.com/talon-ops/talon/internal/vault"
)

// readPassphrase prompts for the vault passphrase without echo.
func readPassphrase(confirm bool) (string, error) {
	fmt.Fprint(os.Stderr, "Enter vault passphrase: ")
	passBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	fmt.Fprintln(os.Stderr)

	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return "", fmt.Errorf("reading confirmation: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		if string(passBytes) != string(confirmBytes) {
			return "", fmt.Errorf("passphrases do not match")
		}
		if len(passBytes) < 8 {
			return "", fmt.Errorf("passphrase must be at least 8 characters")
		}
	}

	return string(passBytes), nil
}

// vaultPath returns the vault file location inside the config directory.
func vaultPath() string {
	return filepath.Join(config.Dir(), vault.FileName)
}

// openVault prompts for the passphrase and unlocks the vault.
func openVault() (*vault.Vault, error) {
	path := vaultPath()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no vault at %s; run 'talond vault init' first", path)
	}

	passphrase, err := readPassphrase(false)
	if err != nil {
		return nil, err
	}
	return vault.Open(path, passphrase)
}
