// Package policy implements the access gates evaluated before any workflow
// runs: the administrator allow-list and the maintenance-mode flag.
package policy

import (
	"errors"
	"fmt"
	"sync"
)

// Ruleset is the injected, versioned access configuration. The zero value
// denies everyone, which is the safe default for a misconfigured daemon.
type Ruleset struct {
	Admins      []string
	Maintenance bool
	Version     uint64
}

// Gate evaluates callers against the current ruleset. All checks are pure
// and side-effect-free; the only mutation path is Update.
type Gate struct {
	mu      sync.RWMutex
	ruleset Ruleset
}

// NewGate creates a gate with the initial ruleset at version 1.
func NewGate(admins []string) *Gate {
	return &Gate{ruleset: Ruleset{Admins: admins, Version: 1}}
}

// Ruleset returns a copy of the current ruleset.
func (g *Gate) Ruleset() Ruleset {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rs := g.ruleset
	rs.Admins = append([]string(nil), g.ruleset.Admins...)
	return rs
}

// Update replaces the ruleset fields and bumps the version. Last writer
// wins; updates are whole-field replacements so no finer locking is needed.
func (g *Gate) Update(admins []string, maintenance bool) Ruleset {
	g.mu.Lock()
	defer g.mu.Unlock()
	if admins != nil {
		g.ruleset.Admins = append([]string(nil), admins...)
	}
	g.ruleset.Maintenance = maintenance
	g.ruleset.Version++
	rs := g.ruleset
	rs.Admins = append([]string(nil), g.ruleset.Admins...)
	return rs
}

// SetMaintenance toggles maintenance mode only.
func (g *Gate) SetMaintenance(on bool) Ruleset {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ruleset.Maintenance = on
	g.ruleset.Version++
	rs := g.ruleset
	rs.Admins = append([]string(nil), g.ruleset.Admins...)
	return rs
}

// IsAdmin reports whether the caller is on the allow-list.
func (g *Gate) IsAdmin(caller string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, id := range g.ruleset.Admins {
		if id == caller {
			return true
		}
	}
	return false
}

// Authorize checks both gates for the caller. Non-admins are always
// rejected; during maintenance the rejection names the maintenance window
// so the gateway can render the right message.
func (g *Gate) Authorize(caller string) error {
	g.mu.RLock()
	admin := false
	for _, id := range g.ruleset.Admins {
		if id == caller {
			admin = true
			break
		}
	}
	maintenance := g.ruleset.Maintenance
	g.mu.RUnlock()

	if admin {
		return nil
	}
	if maintenance {
		return &MaintenanceError{Caller: caller}
	}
	return &AuthorizationError{Caller: caller}
}

// AuthorizationError marks a caller outside the administrator allow-list.
type AuthorizationError struct {
	Caller string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("caller %s is not an administrator", e.Caller)
}

// IsAuthorizationError checks if an error is an allow-list rejection.
func IsAuthorizationError(err error) bool {
	var e *AuthorizationError
	return errors.As(err, &e)
}

// MaintenanceError marks a non-admin caller rejected during maintenance.
type MaintenanceError struct {
	Caller string
}

func (e *MaintenanceError) Error() string {
	return fmt.Sprintf("maintenance mode is active; caller %s must wait", e.Caller)
}

// IsMaintenanceError checks if an error is a maintenance rejection.
func IsMaintenanceError(err error) bool {
	var e *MaintenanceError
	return errors.As(err, &e)
}
