package action

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/talon-ops/talon/internal/confirm"
	"github.com/talon-ops/talon/internal/identity"
	"github.com/talon-ops/talon/internal/panel"
	"github.com/talon-ops/talon/internal/policy"
)

// authorizeRead admits admins even while maintenance mode is on. Reads
// have no side effects, so only the allow-list applies.
func (o *Orchestrator) authorizeRead(caller string) error {
	if !o.access.IsAdmin(caller) {
		return &policy.AuthorizationError{Caller: caller}
	}
	return nil
}

// EraseAccount deletes the panel account behind an external identity. The
// account's servers are not touched; the panel rejects the call while any
// remain. Confirmation-gated like server deletion.
func (o *Orchestrator) EraseAccount(ctx context.Context, initiator string, target identity.ExternalIdentity) (*Summary, error) {
	if err := o.access.Authorize(initiator); err != nil {
		return nil, err
	}

	user, err := o.lookupAccount(ctx, target)
	if err != nil {
		return nil, err
	}

	decision := o.gate.Await(ctx, confirm.Request{
		Initiator: initiator,
		Title:     "Confirm account deletion",
		Detail:    fmt.Sprintf("Delete panel account %q (ID %d)? This is irreversible.", user.Email, user.ID),
	})
	if decision != confirm.Confirmed {
		return nil, &DeclinedError{Decision: decision.String()}
	}

	sum := &Summary{
		Action:    AccountErased,
		RunID:     uuid.New().String(),
		Recipient: target.ID,
		Account:   user,
	}

	err = o.panel.DeleteUser(ctx, user.ID)
	if err != nil {
		err = fmt.Errorf("deleting account: %w", err)
	}
	o.finish(ctx, initiator, sum, err)
	if err != nil {
		return nil, err
	}

	o.logger.Info().Int("user", user.ID).Str("initiator", initiator).Msg("account erased")
	return sum, nil
}

// ResetPassword sets a fresh generated password on the account behind an
// external identity. The new password travels only in the notification.
func (o *Orchestrator) ResetPassword(ctx context.Context, initiator string, target identity.ExternalIdentity) (*Summary, error) {
	if err := o.access.Authorize(initiator); err != nil {
		return nil, err
	}

	user, err := o.lookupAccount(ctx, target)
	if err != nil {
		return nil, err
	}

	password, err := identity.GeneratePassword()
	if err != nil {
		return nil, fmt.Errorf("generating password: %w", err)
	}

	sum := &Summary{
		Action:          PasswordReset,
		RunID:           uuid.New().String(),
		Recipient:       target.ID,
		Account:         user,
		OneTimePassword: password,
	}

	err = o.panel.UpdateUserPassword(ctx, user.ID, password)
	if err != nil {
		err = fmt.Errorf("resetting password: %w", err)
	}
	o.finish(ctx, initiator, sum, err)
	if err != nil {
		return nil, err
	}

	o.logger.Info().Int("user", user.ID).Str("initiator", initiator).Msg("password reset")
	return sum, nil
}

// TakeBackup starts a backup of a server over the client credential scope.
func (o *Orchestrator) TakeBackup(ctx context.Context, initiator string, input SuspendInput) (*Summary, error) {
	if err := o.access.Authorize(initiator); err != nil {
		return nil, err
	}

	server, err := o.panel.GetServer(ctx, input.ServerID)
	if err != nil {
		if panel.IsNotFound(err) {
			return nil, &NotFoundError{Kind: "server", ID: strconv.Itoa(input.ServerID)}
		}
		return nil, fmt.Errorf("looking up server: %w", err)
	}

	sum := &Summary{
		Action:     BackupTaken,
		RunID:      uuid.New().String(),
		Recipient:  input.Owner.ID,
		ServerID:   server.ID,
		ServerName: server.Name,
		Reason:     input.Reason,
	}

	backup, err := o.panel.CreateBackup(ctx, server.Identifier)
	if err != nil {
		err = fmt.Errorf("creating backup: %w", err)
	}
	o.finish(ctx, initiator, sum, err)
	if err != nil {
		return nil, err
	}

	o.logger.Info().Int("server", server.ID).Str("backup", backup.UUID).Msg("backup started")
	return sum, nil
}

// lookupAccount resolves an external identity to an existing panel account
// without creating one.
func (o *Orchestrator) lookupAccount(ctx context.Context, target identity.ExternalIdentity) (*panel.User, error) {
	email := o.resolver.Email(target)
	user, found, err := o.panel.LookupUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("looking up account: %w", err)
	}
	if !found {
		return nil, &NotFoundError{Kind: "account", ID: email}
	}
	return user, nil
}

// Servers returns one page of the fleet.
func (o *Orchestrator) Servers(ctx context.Context, caller string, page int) ([]panel.Server, panel.Pagination, error) {
	if err := o.authorizeRead(caller); err != nil {
		return nil, panel.Pagination{}, err
	}
	return o.panel.ListServers(ctx, page)
}

// ServerInfo returns one server together with its live usage snapshot.
// Usage is best effort: a panel without client credentials yields nil.
func (o *Orchestrator) ServerInfo(ctx context.Context, caller string, serverID int) (*panel.Server, *panel.Resources, error) {
	if err := o.authorizeRead(caller); err != nil {
		return nil, nil, err
	}

	server, err := o.panel.GetServer(ctx, serverID)
	if err != nil {
		if panel.IsNotFound(err) {
			return nil, nil, &NotFoundError{Kind: "server", ID: strconv.Itoa(serverID)}
		}
		return nil, nil, err
	}

	usage, err := o.panel.ServerResources(ctx, server.Identifier)
	if err != nil {
		o.logger.Debug().Err(err).Int("server", serverID).Msg("usage snapshot unavailable")
		usage = nil
	}
	return server, usage, nil
}

// FindServers returns fleet entries whose name contains the query,
// case-insensitive, walking all pages.
func (o *Orchestrator) FindServers(ctx context.Context, caller, query string) ([]panel.Server, error) {
	if err := o.authorizeRead(caller); err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var matches []panel.Server
	for page := 1; ; page++ {
		servers, meta, err := o.panel.ListServers(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, s := range servers {
			if strings.Contains(strings.ToLower(s.Name), needle) {
				matches = append(matches, s)
			}
		}
		if page >= meta.TotalPages {
			break
		}
	}
	return matches, nil
}

// Backups lists the backups of a server.
func (o *Orchestrator) Backups(ctx context.Context, caller string, serverID int) ([]panel.Backup, error) {
	if err := o.authorizeRead(caller); err != nil {
		return nil, err
	}
	server, err := o.panel.GetServer(ctx, serverID)
	if err != nil {
		if panel.IsNotFound(err) {
			return nil, &NotFoundError{Kind: "server", ID: strconv.Itoa(serverID)}
		}
		return nil, err
	}
	return o.panel.ListBackups(ctx, server.Identifier)
}

// Users returns one page of panel accounts.
func (o *Orchestrator) Users(ctx context.Context, caller string, page int) ([]panel.User, panel.Pagination, error) {
	if err := o.authorizeRead(caller); err != nil {
		return nil, panel.Pagination{}, err
	}
	return o.panel.ListUsers(ctx, page)
}

// FindUser resolves an external identity to its panel account, if any.
func (o *Orchestrator) FindUser(ctx context.Context, caller string, target identity.ExternalIdentity) (*panel.User, error) {
	if err := o.authorizeRead(caller); err != nil {
		return nil, err
	}
	return o.lookupAccount(ctx, target)
}

// Nodes lists the panel nodes.
func (o *Orchestrator) Nodes(ctx context.Context, caller string) ([]panel.Node, error) {
	if err := o.authorizeRead(caller); err != nil {
		return nil, err
	}
	return o.panel.ListNodes(ctx)
}

// Eggs lists the image templates of a nest.
func (o *Orchestrator) Eggs(ctx context.Context, caller string, nestID int) ([]panel.Egg, error) {
	if err := o.authorizeRead(caller); err != nil {
		return nil, err
	}
	return o.panel.ListEggs(ctx, nestID)
}

// Status reports reachability of the panel and the current policy state.
type Status struct {
	PanelReachable bool
	PanelError     string
	Maintenance    bool
	PolicyVersion  uint64
	PendingGates   int
}

// CheckStatus probes the panel and summarizes runtime state.
func (o *Orchestrator) CheckStatus(ctx context.Context, caller string) (*Status, error) {
	if err := o.authorizeRead(caller); err != nil {
		return nil, err
	}

	st := &Status{PanelReachable: true}
	if err := o.panel.TestConnection(ctx); err != nil {
		st.PanelReachable = false
		st.PanelError = err.Error()
	}

	rules := o.access.Ruleset()
	st.Maintenance = rules.Maintenance
	st.PolicyVersion = rules.Version
	st.PendingGates = o.gate.PendingCount()
	return st, nil
}

// SetMaintenance toggles maintenance mode. Admin-only, allowed even while
// maintenance is already on so it can be turned back off. The toggle is
// audited like any other action; there is no end user to notify.
func (o *Orchestrator) SetMaintenance(ctx context.Context, caller string, on bool) error {
	if err := o.authorizeRead(caller); err != nil {
		return err
	}
	o.access.SetMaintenance(on)

	state := "off"
	if on {
		state = "on"
	}
	sum := &Summary{
		Action: Maintenance,
		RunID:  uuid.New().String(),
		Reason: state,
	}
	o.finish(ctx, caller, sum, nil)

	o.logger.Info().Bool("maintenance", on).Str("initiator", caller).Msg("maintenance mode changed")
	return nil
}
