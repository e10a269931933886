// Package confirm implements the synchronous yes/no gate placed in front
// of irreversible mutations. Each pending confirmation parks only the
// goroutine of the workflow that requested it.
package confirm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/talon-ops/talon/internal/metrics"
)

// DefaultTimeout is how long a pending confirmation stays open before it
// expires. Expiry is treated identically to an explicit decline.
const DefaultTimeout = 60 * time.Second

// Decision is the terminal state of a confirmation request.
type Decision string

const (
	Confirmed Decision = "confirmed"
	Declined  Decision = "declined"
	Expired   Decision = "expired"
)

// Request describes the pending decision shown to the administrator.
type Request struct {
	Token     string // assigned by the gate
	Initiator string // administrator the question is addressed to
	Title     string
	Detail    string
}

// Prompter presents a pending decision to the requesting administrator.
// The external gateway renders it however the chat platform allows.
type Prompter interface {
	Present(ctx context.Context, req Request) error
}

// Gate tracks pending confirmations. Tokens are single-use and destroyed
// after first resolution or timeout.
type Gate struct {
	mu       sync.Mutex
	pending  map[string]chan bool
	prompter Prompter
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewGate creates a gate. A timeout of zero selects DefaultTimeout.
func NewGate(prompter Prompter, timeout time.Duration, logger zerolog.Logger) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{
		pending:  make(map[string]chan bool),
		prompter: prompter,
		timeout:  timeout,
		logger:   logger,
	}
}

// Await presents the request and blocks the calling goroutine until the
// decision is resolved, the timeout elapses, or the context is cancelled.
// Only Confirmed permits the caller to proceed; every other outcome must
// abort with no side effects.
func (g *Gate) Await(ctx context.Context, req Request) Decision {
	token := uuid.New().String()
	req.Token = token

	ch := make(chan bool, 1)
	g.mu.Lock()
	g.pending[token] = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, token)
		g.mu.Unlock()
	}()

	if err := g.prompter.Present(ctx, req); err != nil {
		g.logger.Warn().Err(err).Str("token", token).Msg("failed to present confirmation; declining")
		metrics.Confirmations.WithLabelValues(string(Declined)).Inc()
		return Declined
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	var decision Decision
	select {
	case approved := <-ch:
		if approved {
			decision = Confirmed
		} else {
			decision = Declined
		}
	case <-timer.C:
		decision = Expired
	case <-ctx.Done():
		decision = Declined
	}

	g.logger.Debug().Str("token", token).Str("decision", string(decision)).Msg("confirmation resolved")
	metrics.Confirmations.WithLabelValues(string(decision)).Inc()
	return decision
}

// Resolve delivers the administrator's answer for a pending token. It
// returns false when the token is unknown, already resolved, or expired;
// tokens are strictly single-use.
func (g *Gate) Resolve(token string, approve bool) bool {
	g.mu.Lock()
	ch, ok := g.pending[token]
	if ok {
		delete(g.pending, token)
	}
	g.mu.Unlock()

	if !ok {
		return false
	}
	ch <- approve
	return true
}

// PendingCount reports the number of open confirmations.
func (g *Gate) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

func (d Decision) String() string { return string(d) }
