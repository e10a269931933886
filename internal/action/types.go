package action

import (
	"fmt"

	"github.com/talon-ops/talon/internal/identity"
	"github.com/talon-ops/talon/internal/notify"
	"github.com/talon-ops/talon/internal/panel"
)

// Kind names a fleet action in summaries, journal rows, and audit records.
type Kind string

const (
	Created       Kind = "created"
	Deleted       Kind = "deleted"
	Suspended     Kind = "suspended"
	Unsuspended   Kind = "unsuspended"
	Resized       Kind = "resized"
	AccountErased Kind = "account_erased"
	PasswordReset Kind = "password_reset"
	BackupTaken   Kind = "backup_taken"
	Maintenance   Kind = "maintenance"
)

// Resource envelope bounds. Envelopes outside these never reach the panel.
const (
	MinMemoryMB = 512
	MaxMemoryMB = 32768
	MinCPU      = 50
	MaxCPU      = 400
	MinDiskMB   = 1024
	MaxDiskMB   = 102400
)

// DefaultDockerImage is used when the egg carries no image of its own.
const DefaultDockerImage = "ghcr.io/pterodactyl/yolks:java_17"

// CreateInput holds the parameters of a server-create command.
type CreateInput struct {
	Name    string
	Memory  int
	CPU     int
	Disk    int
	Version string // display only, carried into the notification
	NodeID  int
	EggID   int
	Image   string // optional override; default derived from the egg
	Owner   identity.ExternalIdentity
}

// DeleteInput holds the parameters of a server-delete command.
type DeleteInput struct {
	ServerID int
	Owner    identity.ExternalIdentity
}

// SuspendInput holds the parameters of suspend/unsuspend commands.
type SuspendInput struct {
	ServerID int
	Owner    identity.ExternalIdentity
	Reason   string // free text; reaches only the notification and audit
}

// ResizeInput holds the parameters of a resize command. Nil fields are
// left unchanged on the server.
type ResizeInput struct {
	ServerID int
	Owner    identity.ExternalIdentity
	Memory   *int
	CPU      *int
	Disk     *int
}

// Summary is the structured outcome of a successful workflow, consumed by
// the fan-out and returned to the gateway for rendering.
type Summary struct {
	Action     Kind
	RunID      string
	Recipient  string // external chat ID of the affected user
	ServerID   int
	ServerName string
	NodeName   string
	Account    *panel.User
	Before     *panel.Limits
	After      *panel.Limits
	Reason     string
	Outcome    notify.Outcome

	// OneTimePassword is set only when the workflow minted a new account
	// or reset a password; it is forwarded to the notification and then
	// discarded.
	OneTimePassword string

	// AllocationFallback is true when the create workflow had to fall back
	// to the permissive default allocation.
	AllocationFallback bool
}

// validateEnvelope rejects out-of-range resource envelopes with a
// field-level error before any external call.
func validateEnvelope(memory, cpu, disk int) error {
	if memory < MinMemoryMB || memory > MaxMemoryMB {
		return &ValidationError{Field: "memory", Message: fmtRange(MinMemoryMB, MaxMemoryMB, "MB")}
	}
	if cpu < MinCPU || cpu > MaxCPU {
		return &ValidationError{Field: "cpu", Message: fmtRange(MinCPU, MaxCPU, "%")}
	}
	if disk < MinDiskMB || disk > MaxDiskMB {
		return &ValidationError{Field: "disk", Message: fmtRange(MinDiskMB, MaxDiskMB, "MB")}
	}
	return nil
}

func fmtRange(min, max int, unit string) string {
	return fmt.Sprintf("must be between %d and %d %s", min, max, unit)
}
