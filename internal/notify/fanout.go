// Package notify guarantees that every completed fleet action produces one
// delivery attempt to the affected user and one audit record. The two
// effects are independent: failure of either never suppresses the other,
// and neither ever fails the parent workflow.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/talon-ops/talon/internal/metrics"
)

// Outcome classifies a single delivery attempt. Attempts are never retried.
type Outcome string

const (
	Delivered     Outcome = "delivered"
	Undeliverable Outcome = "undeliverable"
	DeliveryError Outcome = "delivery_error"
)

// ErrRecipientClosed is returned by a Notifier when the recipient has
// disabled direct messages. It is the only error classified as
// Undeliverable; anything else is a DeliveryError.
var ErrRecipientClosed = errors.New("recipient has direct messages disabled")

// Event is the structured payload describing one completed action.
type Event struct {
	Action      string            `json:"action"`
	RunID       string            `json:"run_id"`
	Initiator   string            `json:"initiator"`
	RecipientID string            `json:"recipient_id"`
	AccountID   int               `json:"account_id,omitempty"`
	ServerID    int               `json:"server_id,omitempty"`
	ServerName  string            `json:"server_name,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Detail      map[string]string `json:"detail,omitempty"`
	Failed      bool              `json:"failed,omitempty"`
	Error       string            `json:"error,omitempty"`

	// OneTimePassword is forwarded exactly once to the recipient when an
	// account was created for them. It must never reach logs or the audit
	// record.
	OneTimePassword string `json:"one_time_password,omitempty"`
}

// AuditRecord is what reaches the operational audit channel. It carries the
// event minus the one-time credential, plus the delivery annotation.
type AuditRecord struct {
	Event        Event   `json:"event"`
	Outcome      Outcome `json:"outcome"`
	DeliveryNote string  `json:"delivery_note,omitempty"`
}

// Notifier delivers a direct message to the affected end user.
type Notifier interface {
	SendDirect(ctx context.Context, ev Event) error
}

// AuditSink records one structured audit record per action attempt.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// Fanout dispatches events to the user notification channel and the audit
// channel with independent outcomes.
type Fanout struct {
	notifier Notifier
	sink     AuditSink
	logger   zerolog.Logger
}

// NewFanout creates a fan-out over the given channels.
func NewFanout(notifier Notifier, sink AuditSink, logger zerolog.Logger) *Fanout {
	return &Fanout{notifier: notifier, sink: sink, logger: logger}
}

// Dispatch attempts direct delivery, then emits the audit record. The
// returned outcome describes only the user notification; audit failures
// are logged locally and never escalated.
func (f *Fanout) Dispatch(ctx context.Context, ev Event) Outcome {
	outcome := Delivered
	var note string

	if err := f.notifier.SendDirect(ctx, ev); err != nil {
		if errors.Is(err, ErrRecipientClosed) {
			outcome = Undeliverable
			note = "recipient has direct messages disabled"
		} else {
			outcome = DeliveryError
			note = err.Error()
		}
		f.logger.Warn().
			Str("action", ev.Action).
			Str("recipient", ev.RecipientID).
			Str("outcome", string(outcome)).
			Msg("direct delivery failed")
	}

	rec := AuditRecord{Event: ev, Outcome: outcome, DeliveryNote: note}
	rec.Event.OneTimePassword = ""

	if err := f.sink.Record(ctx, rec); err != nil {
		// Best effort only: the audit channel being down must not affect
		// the action's own result.
		f.logger.Error().Err(err).Str("action", ev.Action).Str("run", ev.RunID).Msg("audit record delivery failed")
	}

	metrics.NotifyOutcomes.WithLabelValues(string(outcome)).Inc()
	return outcome
}
