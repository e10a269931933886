// Package identity maps chat-platform identities onto panel accounts,
// creating accounts lazily on first use.
package identity

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/rs/zerolog"

	"github.com/talon-ops/talon/internal/panel"
)

// passwordAlphabet is the character set for generated one-time passwords.
const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*"

const passwordLength = 16

// ExternalIdentity is a chat-platform user reference: an opaque numeric ID
// and the display name the email/username are derived from.
type ExternalIdentity struct {
	ID   string
	Name string
}

// Directory is the slice of the panel API the resolver needs.
type Directory interface {
	LookupUserByEmail(ctx context.Context, email string) (*panel.User, bool, error)
	CreateUser(ctx context.Context, input panel.CreateUserInput) (*panel.User, error)
}

// Resolver maps external identities to panel accounts. One panel account
// per external identity, keyed by the derived deterministic email.
type Resolver struct {
	directory Directory
	domain    string
	logger    zerolog.Logger
}

// NewResolver creates a resolver deriving emails under the given domain.
func NewResolver(directory Directory, domain string, logger zerolog.Logger) *Resolver {
	return &Resolver{directory: directory, domain: domain, logger: logger}
}

// Email returns the deterministic panel email for an external identity.
func (r *Resolver) Email(ext ExternalIdentity) string {
	return Normalize(ext.Name) + "@" + r.domain
}

// Normalize lower-cases a display name and replaces whitespace with
// underscores, producing a panel-safe username.
func Normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}

// ResolveOrCreate returns the panel account for an external identity,
// creating it on first use. When an account is created, the one-time
// plaintext password is returned exactly once; it is never persisted or
// logged. For a pre-existing account the password is empty.
//
// Lookup precedes create. Two concurrent first resolutions of the same
// identity can race into a duplicate create attempt; the panel's email
// uniqueness constraint arbitrates and the loser surfaces the panel error.
func (r *Resolver) ResolveOrCreate(ctx context.Context, ext ExternalIdentity) (*panel.User, string, error) {
	email := r.Email(ext)

	user, found, err := r.directory.LookupUserByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("looking up account: %w", err)
	}
	if found {
		r.logger.Debug().Str("email", email).Int("user", user.ID).Msg("resolved existing account")
		return user, "", nil
	}

	password, err := GeneratePassword()
	if err != nil {
		return nil, "", fmt.Errorf("generating password: %w", err)
	}

	user, err = r.directory.CreateUser(ctx, panel.CreateUserInput{
		Email:     email,
		Username:  Normalize(ext.Name),
		FirstName: ext.Name,
		LastName:  "Fleet",
		Password:  password,
	})
	if err != nil {
		return nil, "", fmt.Errorf("creating account: %w", err)
	}

	r.logger.Info().Str("email", email).Int("user", user.ID).Msg("created panel account")
	return user, password, nil
}

// GeneratePassword produces a 16-character high-entropy password from
// letters, digits, and a fixed symbol set.
func GeneratePassword() (string, error) {
	out := make([]byte, passwordLength)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
