package identity

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/talon-ops/talon/internal/panel"
)

// fakeDirectory is an in-memory stand-in for the panel user endpoints.
type fakeDirectory struct {
	users       map[string]panel.User
	lookupCalls int
	createCalls int
	nextID      int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: make(map[string]panel.User), nextID: 100}
}

func (f *fakeDirectory) LookupUserByEmail(ctx context.Context, email string) (*panel.User, bool, error) {
	f.lookupCalls++
	if u, ok := f.users[email]; ok {
		return &u, true, nil
	}
	return nil, false, nil
}

func (f *fakeDirectory) CreateUser(ctx context.Context, input panel.CreateUserInput) (*panel.User, error) {
	f.createCalls++
	f.nextID++
	u := panel.User{ID: f.nextID, Email: input.Email, Username: input.Username, FirstName: input.FirstName}
	f.users[input.Email] = u
	return &u, nil
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Steve":          "steve",
		"Herobrine Jr":   "herobrine_jr",
		"  Two  Spaces ": "two_spaces",
		"already_fine":   "already_fine",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveOrCreateNewAccount(t *testing.T) {
	dir := newFakeDirectory()
	r := NewResolver(dir, "panel.local", zerolog.Nop())

	user, password, err := r.ResolveOrCreate(context.Background(), ExternalIdentity{ID: "555", Name: "Steve"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user.Email != "steve@panel.local" {
		t.Errorf("email = %q", user.Email)
	}
	if len(password) != 16 {
		t.Errorf("expected 16-char one-time password, got %d chars", len(password))
	}
	if dir.createCalls != 1 {
		t.Errorf("expected one create call, got %d", dir.createCalls)
	}
}

func TestResolveOrCreateIsIdempotent(t *testing.T) {
	dir := newFakeDirectory()
	r := NewResolver(dir, "panel.local", zerolog.Nop())
	ctx := context.Background()
	ext := ExternalIdentity{ID: "555", Name: "Steve"}

	first, pw1, err := r.ResolveOrCreate(ctx, ext)
	if err != nil {
		t.Fatal(err)
	}
	second, pw2, err := r.ResolveOrCreate(ctx, ext)
	if err != nil {
		t.Fatal(err)
	}

	if first.ID != second.ID {
		t.Errorf("resolved different accounts: %d vs %d", first.ID, second.ID)
	}
	if dir.createCalls != 1 {
		t.Errorf("create issued %d times, want at most 1", dir.createCalls)
	}
	if pw1 == "" {
		t.Error("first resolution should mint a password")
	}
	if pw2 != "" {
		t.Error("pre-existing account must not produce a password")
	}
}

func TestGeneratePassword(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		pw, err := GeneratePassword()
		if err != nil {
			t.Fatal(err)
		}
		if len(pw) != 16 {
			t.Fatalf("length = %d", len(pw))
		}
		for _, ch := range pw {
			if !strings.ContainsRune(passwordAlphabet, ch) {
				t.Fatalf("character %q outside alphabet", ch)
			}
		}
		seen[pw] = true
	}
	if len(seen) < 30 {
		t.Errorf("passwords look non-random: %d unique of 32", len(seen))
	}
}
