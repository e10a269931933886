package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/talon-ops/talon/internal/confirm"
	"github.com/talon-ops/talon/internal/notify"
)

// Connect dials the bus with unbounded reconnects. The daemon survives bus
// restarts; undelivered notifications during an outage are lost by design,
// the journal keeps the durable record.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("talond"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("bus disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("bus reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to bus: %w", err)
	}
	return nc, nil
}

// deliveryReply is what the chat frontend answers on a DM request.
type deliveryReply struct {
	Status string `json:"status"` // delivered | dms_disabled | failed
	Detail string `json:"detail,omitempty"`
}

// Notifier delivers direct messages through the chat frontend via
// request-reply on <prefix>.<recipient>. The frontend owns the rendering;
// this side only ships the structured event.
type Notifier struct {
	nc      *nats.Conn
	prefix  string
	timeout time.Duration
}

// NewNotifier creates a bus-backed notifier, normally on "talon.dm".
func NewNotifier(nc *nats.Conn, prefix string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{nc: nc, prefix: prefix, timeout: timeout}
}

// SendDirect requests delivery and maps the frontend's answer onto the
// fan-out's outcome classes. An event without a recipient is undeliverable
// by definition, not an error.
func (n *Notifier) SendDirect(ctx context.Context, ev notify.Event) error {
	if ev.RecipientID == "" {
		return notify.ErrRecipientClosed
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	msg, err := n.nc.RequestWithContext(ctx, n.prefix+"."+ev.RecipientID, payload)
	if err != nil {
		return fmt.Errorf("requesting delivery: %w", err)
	}

	var reply deliveryReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("decoding delivery reply: %w", err)
	}
	switch reply.Status {
	case "delivered":
		return nil
	case "dms_disabled":
		return notify.ErrRecipientClosed
	default:
		if reply.Detail != "" {
			return errors.New(reply.Detail)
		}
		return fmt.Errorf("delivery failed with status %q", reply.Status)
	}
}

// AuditSink publishes audit records on a single subject, fire and forget.
// The subscriber side (ops channel relay, archiver) is free to be absent.
type AuditSink struct {
	nc      *nats.Conn
	subject string
}

// NewAuditSink creates a bus-backed audit sink, normally on "talon.audit".
func NewAuditSink(nc *nats.Conn, subject string) *AuditSink {
	return &AuditSink{nc: nc, subject: subject}
}

func (a *AuditSink) Record(ctx context.Context, rec notify.AuditRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding audit record: %w", err)
	}
	if err := a.nc.Publish(a.subject, payload); err != nil {
		return fmt.Errorf("publishing audit record: %w", err)
	}
	return nil
}

// promptMessage is the confirmation question shipped to the initiating
// administrator's DM subject. The frontend renders it with approve and
// decline controls that come back as a confirm command carrying the token.
type promptMessage struct {
	Type   string `json:"type"`
	Token  string `json:"token"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Prompter presents confirmation requests over the initiator's DM subject.
type Prompter struct {
	nc     *nats.Conn
	prefix string
}

// NewPrompter creates a bus-backed prompter on the DM prefix.
func NewPrompter(nc *nats.Conn, prefix string) *Prompter {
	return &Prompter{nc: nc, prefix: prefix}
}

func (p *Prompter) Present(ctx context.Context, req confirm.Request) error {
	payload, err := json.Marshal(promptMessage{
		Type:   "confirm",
		Token:  req.Token,
		Title:  req.Title,
		Detail: req.Detail,
	})
	if err != nil {
		return fmt.Errorf("encoding prompt: %w", err)
	}
	if err := p.nc.Publish(p.prefix+"."+req.Initiator, payload); err != nil {
		return fmt.Errorf("publishing prompt: %w", err)
	}
	return nil
}
