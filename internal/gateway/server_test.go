package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/talon-ops/talon/internal/action"
	"github.com/talon-ops/talon/internal/confirm"
	"github.com/talon-ops/talon/internal/identity"
	"github.com/talon-ops/talon/internal/notify"
	"github.com/talon-ops/talon/internal/panel"
	"github.com/talon-ops/talon/internal/policy"
)

const adminID = "admin-1"

// stubPanel implements just enough of the control plane for dispatch tests.
type stubPanel struct {
	users   map[string]*panel.User
	servers map[int]*panel.Server
	nextID  int
}

func newStubPanel() *stubPanel {
	return &stubPanel{
		users:   map[string]*panel.User{},
		servers: map[int]*panel.Server{},
		nextID:  1,
	}
}

func (s *stubPanel) LookupUserByEmail(ctx context.Context, email string) (*panel.User, bool, error) {
	u, ok := s.users[email]
	return u, ok, nil
}

func (s *stubPanel) CreateUser(ctx context.Context, input panel.CreateUserInput) (*panel.User, error) {
	u := &panel.User{ID: s.nextID, Email: input.Email, Username: input.Username}
	s.nextID++
	s.users[input.Email] = u
	return u, nil
}

func (s *stubPanel) GetServer(ctx context.Context, serverID int) (*panel.Server, error) {
	sv, ok := s.servers[serverID]
	if !ok {
		return nil, &panel.APIError{Status: 404, Detail: "No server found"}
	}
	return sv, nil
}

func (s *stubPanel) ListServers(ctx context.Context, page int) ([]panel.Server, panel.Pagination, error) {
	var out []panel.Server
	for _, sv := range s.servers {
		out = append(out, *sv)
	}
	return out, panel.Pagination{Total: len(out), TotalPages: 1, CurrentPage: page}, nil
}

func (s *stubPanel) CreateServer(ctx context.Context, input panel.CreateServerInput) (*panel.Server, error) {
	sv := &panel.Server{
		ID:     s.nextID,
		Name:   input.Name,
		UserID: input.UserID,
		Limits: panel.Limits{Memory: input.Memory, CPU: input.CPU, Disk: input.Disk},
	}
	s.nextID++
	s.servers[sv.ID] = sv
	return sv, nil
}

func (s *stubPanel) DeleteServer(ctx context.Context, serverID int, force bool) error {
	delete(s.servers, serverID)
	return nil
}

func (s *stubPanel) SuspendServer(ctx context.Context, serverID int) error   { return nil }
func (s *stubPanel) UnsuspendServer(ctx context.Context, serverID int) error { return nil }

func (s *stubPanel) UpdateServerBuild(ctx context.Context, serverID int, allocation int, limits panel.Limits) (*panel.Server, error) {
	sv := s.servers[serverID]
	sv.Limits = limits
	return sv, nil
}

func (s *stubPanel) GetNode(ctx context.Context, nodeID int) (*panel.Node, error) {
	return &panel.Node{ID: nodeID, Name: "node-east"}, nil
}

func (s *stubPanel) ListNodes(ctx context.Context) ([]panel.Node, error) {
	return []panel.Node{{ID: 1, Name: "node-east"}}, nil
}

func (s *stubPanel) GetEgg(ctx context.Context, eggID int) (*panel.Egg, error) {
	return &panel.Egg{ID: eggID, Name: "paper", DockerImage: "ghcr.io/pterodactyl/yolks:java_21"}, nil
}

func (s *stubPanel) ListEggs(ctx context.Context, nestID int) ([]panel.Egg, error) {
	return []panel.Egg{{ID: 5, Name: "paper"}}, nil
}

func (s *stubPanel) FirstFreeAllocation(ctx context.Context, nodeID int) (int, bool) {
	return 12, false
}

func (s *stubPanel) ListUsers(ctx context.Context, page int) ([]panel.User, panel.Pagination, error) {
	var out []panel.User
	for _, u := range s.users {
		out = append(out, *u)
	}
	return out, panel.Pagination{Total: len(out), TotalPages: 1}, nil
}

func (s *stubPanel) DeleteUser(ctx context.Context, userID int) error { return nil }

func (s *stubPanel) UpdateUserPassword(ctx context.Context, userID int, password string) error {
	return nil
}

func (s *stubPanel) ServerResources(ctx context.Context, serverUUID string) (*panel.Resources, error) {
	return &panel.Resources{CurrentState: "running"}, nil
}

func (s *stubPanel) ListBackups(ctx context.Context, serverUUID string) ([]panel.Backup, error) {
	return nil, nil
}

func (s *stubPanel) CreateBackup(ctx context.Context, serverUUID string) (*panel.Backup, error) {
	return &panel.Backup{UUID: "bk-1"}, nil
}

func (s *stubPanel) TestConnection(ctx context.Context) error { return nil }

type nopNotifier struct{}

func (nopNotifier) SendDirect(ctx context.Context, ev notify.Event) error { return nil }

type nopSink struct{}

func (nopSink) Record(ctx context.Context, rec notify.AuditRecord) error { return nil }

type approvePrompter struct {
	gate *confirm.Gate
}

func (p *approvePrompter) Present(ctx context.Context, req confirm.Request) error {
	go p.gate.Resolve(req.Token, true)
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zerolog.Nop()
	p := newStubPanel()

	prompter := &approvePrompter{}
	gate := confirm.NewGate(prompter, time.Second, logger)
	prompter.gate = gate

	orch := action.New(
		p,
		identity.NewResolver(p, "fleet.example.com", logger),
		gate,
		notify.NewFanout(nopNotifier{}, nopSink{}, logger),
		nil,
		policy.NewGate([]string{adminID}),
		logger,
	)
	return NewServer(orch, "talon.cmd", logger)
}

func command(t *testing.T, initiator string, args any) []byte {
	t.Helper()
	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			t.Fatal(err)
		}
		raw = data
	}
	data, err := json.Marshal(Command{Initiator: initiator, Args: raw})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestDispatchUnknownOp(t *testing.T) {
	s := newTestServer(t)
	reply := s.Dispatch(context.Background(), "teleport", command(t, adminID, nil))
	if reply.OK || reply.Code != CodeUnknownOp {
		t.Errorf("reply = %+v", reply)
	}
}

func TestDispatchMalformedEnvelope(t *testing.T) {
	s := newTestServer(t)
	reply := s.Dispatch(context.Background(), "create", []byte("{not json"))
	if reply.OK || reply.Code != CodeMalformed {
		t.Errorf("reply = %+v", reply)
	}
}

func TestDispatchMissingInitiator(t *testing.T) {
	s := newTestServer(t)
	reply := s.Dispatch(context.Background(), "status", command(t, "", nil))
	if reply.OK || reply.Code != CodeMalformed {
		t.Errorf("reply = %+v", reply)
	}
}

func TestDispatchCreate(t *testing.T) {
	s := newTestServer(t)
	args := createArgs{
		Name:   "survival",
		Memory: 4096,
		CPU:    200,
		Disk:   10240,
		NodeID: 1,
		EggID:  5,
		Owner:  externalRef{ID: "555", Name: "Steve Crafter"},
	}

	reply := s.Dispatch(context.Background(), "create", command(t, adminID, args))
	if !reply.OK {
		t.Fatalf("reply = %+v", reply)
	}

	var view summaryView
	if err := json.Unmarshal(reply.Result, &view); err != nil {
		t.Fatal(err)
	}
	if view.Action != "created" {
		t.Errorf("action = %q", view.Action)
	}
	if !view.AccountCreated {
		t.Error("fresh owner should flag account creation")
	}
	if view.AccountEmail != "steve_crafter@fleet.example.com" {
		t.Errorf("email = %q", view.AccountEmail)
	}
}

func TestDispatchCreateValidationCode(t *testing.T) {
	s := newTestServer(t)
	args := createArgs{
		Name:   "survival",
		Memory: 64,
		CPU:    200,
		Disk:   10240,
		NodeID: 1,
		EggID:  5,
		Owner:  externalRef{ID: "555", Name: "Steve"},
	}

	reply := s.Dispatch(context.Background(), "create", command(t, adminID, args))
	if reply.OK || reply.Code != CodeValidation {
		t.Errorf("reply = %+v", reply)
	}
}

func TestDispatchUnauthorizedCode(t *testing.T) {
	s := newTestServer(t)
	reply := s.Dispatch(context.Background(), "servers", command(t, "rando-9", nil))
	if reply.OK || reply.Code != CodeUnauthorized {
		t.Errorf("reply = %+v", reply)
	}
}

func TestDispatchDeleteConfirmedRoundTrip(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	create := createArgs{
		Name:   "doomed",
		Memory: 2048,
		CPU:    100,
		Disk:   4096,
		NodeID: 1,
		EggID:  5,
		Owner:  externalRef{ID: "555", Name: "Steve"},
	}
	created := s.Dispatch(ctx, "create", command(t, adminID, create))
	if !created.OK {
		t.Fatalf("create failed: %+v", created)
	}
	var view summaryView
	json.Unmarshal(created.Result, &view)

	reply := s.Dispatch(ctx, "delete", command(t, adminID, serverArgs{ServerID: view.ServerID}))
	if !reply.OK {
		t.Fatalf("delete reply = %+v", reply)
	}
}

func TestDispatchConfirmUnknownToken(t *testing.T) {
	s := newTestServer(t)
	reply := s.Dispatch(context.Background(), "confirm", command(t, adminID, confirmArgs{Token: "gone", Approve: true}))
	if reply.OK || reply.Code != CodeUnknownToken {
		t.Errorf("reply = %+v", reply)
	}
}

func TestDispatchNotFoundCode(t *testing.T) {
	s := newTestServer(t)
	reply := s.Dispatch(context.Background(), "server_info", command(t, adminID, serverArgs{ServerID: 99}))
	if reply.OK || reply.Code != CodeNotFound {
		t.Errorf("reply = %+v", reply)
	}
}

func TestNotifierRequiresRecipient(t *testing.T) {
	n := NewNotifier(nil, "talon.dm", time.Second)
	err := n.SendDirect(context.Background(), notify.Event{Action: "suspended"})
	if err != notify.ErrRecipientClosed {
		t.Errorf("err = %v, want ErrRecipientClosed", err)
	}
}
