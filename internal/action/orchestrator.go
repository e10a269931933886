// Package action sequences the administrative workflows. Each workflow
// validates its input before touching the control plane and ends with
// exactly one notification attempt and one audit record.
package action

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/talon-ops/talon/internal/confirm"
	"github.com/talon-ops/talon/internal/identity"
	"github.com/talon-ops/talon/internal/journal"
	"github.com/talon-ops/talon/internal/metrics"
	"github.com/talon-ops/talon/internal/notify"
	"github.com/talon-ops/talon/internal/panel"
	"github.com/talon-ops/talon/internal/policy"
)

// Panel is the slice of the control-plane client the workflows use.
type Panel interface {
	identity.Directory

	GetServer(ctx context.Context, serverID int) (*panel.Server, error)
	ListServers(ctx context.Context, page int) ([]panel.Server, panel.Pagination, error)
	CreateServer(ctx context.Context, input panel.CreateServerInput) (*panel.Server, error)
	DeleteServer(ctx context.Context, serverID int, force bool) error
	SuspendServer(ctx context.Context, serverID int) error
	UnsuspendServer(ctx context.Context, serverID int) error
	UpdateServerBuild(ctx context.Context, serverID int, allocation int, limits panel.Limits) (*panel.Server, error)

	GetNode(ctx context.Context, nodeID int) (*panel.Node, error)
	ListNodes(ctx context.Context) ([]panel.Node, error)
	GetEgg(ctx context.Context, eggID int) (*panel.Egg, error)
	ListEggs(ctx context.Context, nestID int) ([]panel.Egg, error)
	FirstFreeAllocation(ctx context.Context, nodeID int) (id int, fallback bool)

	ListUsers(ctx context.Context, page int) ([]panel.User, panel.Pagination, error)
	DeleteUser(ctx context.Context, userID int) error
	UpdateUserPassword(ctx context.Context, userID int, password string) error

	ServerResources(ctx context.Context, serverUUID string) (*panel.Resources, error)
	ListBackups(ctx context.Context, serverUUID string) ([]panel.Backup, error)
	CreateBackup(ctx context.Context, serverUUID string) (*panel.Backup, error)
	TestConnection(ctx context.Context) error
}

// Orchestrator runs one workflow per command invocation. It is safe for
// concurrent use; workflows targeting the same server are not serialized
// here, the control plane arbitrates.
type Orchestrator struct {
	panel    Panel
	resolver *identity.Resolver
	gate     *confirm.Gate
	fanout   *notify.Fanout
	journal  *journal.Journal // optional
	access   *policy.Gate
	logger   zerolog.Logger
}

// New creates an orchestrator. journal may be nil to disable the local
// record.
func New(p Panel, resolver *identity.Resolver, gate *confirm.Gate, fanout *notify.Fanout, jnl *journal.Journal, access *policy.Gate, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		panel:    p,
		resolver: resolver,
		gate:     gate,
		fanout:   fanout,
		journal:  jnl,
		access:   access,
		logger:   logger,
	}
}

// Access exposes the policy gate for maintenance toggles.
func (o *Orchestrator) Access() *policy.Gate { return o.access }

// Resolve forwards a confirmation decision to the gate.
func (o *Orchestrator) Resolve(token string, approve bool) bool {
	return o.gate.Resolve(token, approve)
}

// finish emits the per-action effects exactly once: the notification
// fan-out, the local journal row, and the action counter. err is the
// workflow's own outcome and is reported, never altered.
func (o *Orchestrator) finish(ctx context.Context, initiator string, sum *Summary, err error) {
	ev := notify.Event{
		Action:          string(sum.Action),
		RunID:           sum.RunID,
		Initiator:       initiator,
		RecipientID:     sum.Recipient,
		ServerID:        sum.ServerID,
		ServerName:      sum.ServerName,
		Reason:          sum.Reason,
		OneTimePassword: sum.OneTimePassword,
	}
	if sum.Account != nil {
		ev.AccountID = sum.Account.ID
	}
	if sum.Before != nil && sum.After != nil {
		ev.Detail = map[string]string{
			"memory_before": strconv.Itoa(sum.Before.Memory),
			"memory_after":  strconv.Itoa(sum.After.Memory),
			"cpu_before":    strconv.Itoa(sum.Before.CPU),
			"cpu_after":     strconv.Itoa(sum.After.CPU),
			"disk_before":   strconv.Itoa(sum.Before.Disk),
			"disk_after":    strconv.Itoa(sum.After.Disk),
		}
	} else if sum.After != nil {
		ev.Detail = map[string]string{
			"memory": strconv.Itoa(sum.After.Memory),
			"cpu":    strconv.Itoa(sum.After.CPU),
			"disk":   strconv.Itoa(sum.After.Disk),
		}
	}
	if sum.AllocationFallback {
		if ev.Detail == nil {
			ev.Detail = map[string]string{}
		}
		ev.Detail["allocation_fallback"] = "true"
	}

	status := "success"
	if err != nil {
		status = "error"
		ev.Failed = true
		ev.Error = err.Error()
	}

	sum.Outcome = o.fanout.Dispatch(ctx, ev)
	metrics.Actions.WithLabelValues(string(sum.Action), status).Inc()

	if o.journal != nil {
		account := ""
		if sum.Account != nil {
			account = sum.Account.Email
		}
		detail := map[string]string{}
		for k, v := range ev.Detail {
			detail[k] = v
		}
		if sum.Reason != "" {
			detail["reason"] = sum.Reason
		}
		if jerr := o.journal.Append(sum.RunID, string(sum.Action), initiator, account, sum.ServerID, status, detail); jerr != nil {
			o.logger.Error().Err(jerr).Str("run", sum.RunID).Msg("journal append failed")
		}
	}
}

// Create provisions a new server. Every validation step short-circuits
// before any mutating call is issued.
func (o *Orchestrator) Create(ctx context.Context, initiator string, input CreateInput) (*Summary, error) {
	if err := o.access.Authorize(initiator); err != nil {
		return nil, err
	}
	if input.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if err := validateEnvelope(input.Memory, input.CPU, input.Disk); err != nil {
		return nil, err
	}

	node, err := o.panel.GetNode(ctx, input.NodeID)
	if err != nil {
		if panel.IsNotFound(err) {
			return nil, &NotFoundError{Kind: "node", ID: strconv.Itoa(input.NodeID)}
		}
		return nil, fmt.Errorf("checking node: %w", err)
	}

	egg, err := o.panel.GetEgg(ctx, input.EggID)
	if err != nil {
		if panel.IsNotFound(err) {
			return nil, &NotFoundError{Kind: "egg", ID: strconv.Itoa(input.EggID)}
		}
		// A flaky egg read must not block provisioning; the hard fallback
		// image covers it.
		o.logger.Warn().Err(err).Int("egg", input.EggID).Msg("egg read failed; using fallback image")
		egg = &panel.Egg{ID: input.EggID}
	}

	sum := &Summary{
		Action:     Created,
		RunID:      uuid.New().String(),
		Recipient:  input.Owner.ID,
		ServerName: input.Name,
		NodeName:   node.Name,
		Reason:     input.Version,
	}

	account, password, err := o.resolver.ResolveOrCreate(ctx, input.Owner)
	if err != nil {
		err = fmt.Errorf("resolving owner account: %w", err)
		o.finish(ctx, initiator, sum, err)
		return nil, err
	}
	sum.Account = account
	sum.OneTimePassword = password

	image := input.Image
	if image == "" {
		image = egg.DockerImage
	}
	if image == "" {
		image = DefaultDockerImage
	}

	allocation, fallback := o.panel.FirstFreeAllocation(ctx, input.NodeID)
	sum.AllocationFallback = fallback
	if fallback {
		o.logger.Warn().Int("node", input.NodeID).Int("allocation", allocation).Msg("creating server on fallback allocation")
	}

	server, err := o.panel.CreateServer(ctx, panel.CreateServerInput{
		Name:         input.Name,
		UserID:       account.ID,
		EggID:        input.EggID,
		DockerImage:  image,
		AllocationID: allocation,
		Memory:       input.Memory,
		CPU:          input.CPU,
		Disk:         input.Disk,
	})
	if err != nil {
		err = fmt.Errorf("creating server: %w", err)
		o.finish(ctx, initiator, sum, err)
		return nil, err
	}

	sum.ServerID = server.ID
	sum.After = &server.Limits
	o.finish(ctx, initiator, sum, nil)

	o.logger.Info().Int("server", server.ID).Str("name", input.Name).Str("initiator", initiator).Msg("server created")
	return sum, nil
}

// Delete removes a server after an explicit confirmation. A declined or
// expired confirmation aborts with no side effects at all.
func (o *Orchestrator) Delete(ctx context.Context, initiator string, input DeleteInput) (*Summary, error) {
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

	decision := o.gate.Await(ctx, confirm.Request{
		Initiator: initiator,
		Title:     "Confirm deletion",
		Detail:    fmt.Sprintf("Delete server %q (ID %d)? This is irreversible.", server.Name, server.ID),
	})
	if decision != confirm.Confirmed {
		return nil, &DeclinedError{Decision: decision.String()}
	}

	sum := &Summary{
		Action:     Deleted,
		RunID:      uuid.New().String(),
		Recipient:  input.Owner.ID,
		ServerID:   server.ID,
		ServerName: server.Name,
	}

	// One delete call and one fan-out, regardless of the call's outcome.
	err = o.panel.DeleteServer(ctx, server.ID, true)
	if err != nil {
		err = fmt.Errorf("deleting server: %w", err)
	}
	o.finish(ctx, initiator, sum, err)
	if err != nil {
		return nil, err
	}

	o.logger.Info().Int("server", server.ID).Str("initiator", initiator).Msg("server deleted")
	return sum, nil
}

// Suspend stops a server. Reversible, so no confirmation gate; the reason
// travels only in the notification and audit payloads.
func (o *Orchestrator) Suspend(ctx context.Context, initiator string, input SuspendInput) (*Summary, error) {
	if err := o.access.Authorize(initiator); err != nil {
		return nil, err
	}

	sum := &Summary{
		Action:    Suspended,
		RunID:     uuid.New().String(),
		Recipient: input.Owner.ID,
		ServerID:  input.ServerID,
		Reason:    input.Reason,
	}

	err := o.panel.SuspendServer(ctx, input.ServerID)
	if err != nil {
		err = fmt.Errorf("suspending server: %w", err)
	}
	o.finish(ctx, initiator, sum, err)
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// Unsuspend restores a suspended server.
func (o *Orchestrator) Unsuspend(ctx context.Context, initiator string, input SuspendInput) (*Summary, error) {
	if err := o.access.Authorize(initiator); err != nil {
		return nil, err
	}

	sum := &Summary{
		Action:    Unsuspended,
		RunID:     uuid.New().String(),
		Recipient: input.Owner.ID,
		ServerID:  input.ServerID,
		Reason:    input.Reason,
	}

	err := o.panel.UnsuspendServer(ctx, input.ServerID)
	if err != nil {
		err = fmt.Errorf("unsuspending server: %w", err)
	}
	o.finish(ctx, initiator, sum, err)
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// Resize updates a server's resource envelope. Supplied fields are merged
// over the current limits; unsupplied fields are preserved exactly.
func (o *Orchestrator) Resize(ctx context.Context, initiator string, input ResizeInput) (*Summary, error) {
	if err := o.access.Authorize(initiator); err != nil {
		return nil, err
	}
	if input.Memory == nil && input.CPU == nil && input.Disk == nil {
		return nil, &ValidationError{Message: "at least one of memory, cpu, disk must be supplied"}
	}

	server, err := o.panel.GetServer(ctx, input.ServerID)
	if err != nil {
		if panel.IsNotFound(err) {
			return nil, &NotFoundError{Kind: "server", ID: strconv.Itoa(input.ServerID)}
		}
		return nil, fmt.Errorf("reading current limits: %w", err)
	}

	before := server.Limits
	merged := before
	if input.Memory != nil {
		merged.Memory = *input.Memory
	}
	if input.CPU != nil {
		merged.CPU = *input.CPU
	}
	if input.Disk != nil {
		merged.Disk = *input.Disk
	}
	if err := validateEnvelope(merged.Memory, merged.CPU, merged.Disk); err != nil {
		return nil, err
	}

	sum := &Summary{
		Action:     Resized,
		RunID:      uuid.New().String(),
		Recipient:  input.Owner.ID,
		ServerID:   server.ID,
		ServerName: server.Name,
		Before:     &before,
	}

	updated, err := o.panel.UpdateServerBuild(ctx, server.ID, server.Allocation, merged)
	if err != nil {
		err = fmt.Errorf("updating build: %w", err)
		sum.After = &merged
		o.finish(ctx, initiator, sum, err)
		return nil, err
	}

	sum.After = &updated.Limits
	o.finish(ctx, initiator, sum, nil)
	return sum, nil
}
