// Package gateway exposes the orchestrator over the message bus. The chat
// frontend is a separate process; it translates platform interactions into
// request-reply commands on talon.cmd.<op> and renders the replies. Direct
// messages to end users travel the other way on talon.dm.<recipient>.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/talon-ops/talon/internal/action"
)

// Confirmation-gated commands can park for the full gate timeout, so the
// per-command deadline has to exceed it.
const commandDeadline = 2 * time.Minute

// Server subscribes to the command subject tree and dispatches each
// message to an orchestrator workflow.
type Server struct {
	orch   *action.Orchestrator
	prefix string
	logger zerolog.Logger
	sub    *nats.Subscription
}

// NewServer creates a command server for the given subject prefix,
// normally "talon.cmd".
func NewServer(orch *action.Orchestrator, prefix string, logger zerolog.Logger) *Server {
	return &Server{orch: orch, prefix: prefix, logger: logger}
}

// Start subscribes on the bus. Each command runs in its own goroutine so a
// parked confirmation never delays unrelated commands.
func (s *Server) Start(nc *nats.Conn) error {
	sub, err := nc.QueueSubscribe(s.prefix+".>", "talond", func(msg *nats.Msg) {
		go s.handle(msg)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

// Stop drains the command subscription.
func (s *Server) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}

func (s *Server) handle(msg *nats.Msg) {
	op := strings.TrimPrefix(msg.Subject, s.prefix+".")

	ctx, cancel := context.WithTimeout(context.Background(), commandDeadline)
	defer cancel()

	reply := s.Dispatch(ctx, op, msg.Data)
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error().Err(err).Str("op", op).Msg("marshaling reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn().Err(err).Str("op", op).Msg("sending reply")
	}
}

// Dispatch decodes one command and runs the matching workflow. It is the
// transport-independent core of the server.
func (s *Server) Dispatch(ctx context.Context, op string, data []byte) Reply {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return errReply(CodeMalformed, err)
	}
	if cmd.Initiator == "" {
		return errReply(CodeMalformed, errors.New("missing initiator"))
	}

	s.logger.Debug().Str("op", op).Str("initiator", cmd.Initiator).Msg("command received")

	switch op {
	case "create":
		return s.create(ctx, cmd)
	case "delete":
		return s.delete(ctx, cmd)
	case "suspend":
		return s.suspend(ctx, cmd, true)
	case "unsuspend":
		return s.suspend(ctx, cmd, false)
	case "resize":
		return s.resize(ctx, cmd)
	case "erase_account":
		return s.eraseAccount(ctx, cmd)
	case "reset_password":
		return s.resetPassword(ctx, cmd)
	case "backup":
		return s.backup(ctx, cmd)
	case "confirm":
		return s.confirm(cmd)
	case "servers":
		return s.servers(ctx, cmd)
	case "server_info":
		return s.serverInfo(ctx, cmd)
	case "find_servers":
		return s.findServers(ctx, cmd)
	case "backups":
		return s.backups(ctx, cmd)
	case "users":
		return s.users(ctx, cmd)
	case "find_user":
		return s.findUser(ctx, cmd)
	case "nodes":
		return s.nodes(ctx, cmd)
	case "eggs":
		return s.eggs(ctx, cmd)
	case "status":
		return s.status(ctx, cmd)
	case "maintenance":
		return s.maintenance(ctx, cmd)
	default:
		return errReply(CodeUnknownOp, errors.New("unknown operation: "+op))
	}
}

func (s *Server) create(ctx context.Context, cmd Command) Reply {
	var args createArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return errReply(CodeMalformed, err)
	}
	sum, err := s.orch.Create(ctx, cmd.Initiator, action.CreateInput{
		Name:    args.Name,
		Memory:  args.Memory,
		CPU:     args.CPU,
		Disk:    args.Disk,
		Version: args.Version,
		NodeID:  args.NodeID,
		EggID:   args.EggID,
		Image:   args.Image,
		Owner:   args.Owner.identity(),
	})
	if err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(viewOf(sum))
}

func (s *Server) delete(ctx context.Context, cmd Command) Reply {
	var args serverArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return errReply(CodeMalformed, err)
	}
	sum, err := s.orch.Delete(ctx, cmd.Initiator, action.DeleteInput{
		ServerID: args.ServerID,
		Owner:    args.Owner.identity(),
	})
	if err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(viewOf(sum))
}

func (s *Server) suspend(ctx context.Context, cmd Command, suspend bool) Reply {
	var args serverArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return errReply(CodeMalformed, err)
	}
	input := action.SuspendInput{
		ServerID: args.ServerID,
		Owner:    args.Owner.identity(),
		Reason:   args.Reason,
	}
	var (
		sum *action.Summary
		err error
	)
	if suspend {
		sum, err = s.orch.Suspend(ctx, cmd.Initiator, input)
	} else {
		sum, err = s.orch.Unsuspend(ctx, cmd.Initiator, input)
	}
	if err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(viewOf(sum))
}

func (s *Server) resize(ctx context.Context, cmd Command) Reply {
	var args resizeArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return errReply(CodeMalformed, err)
	}
	sum, err := s.orch.Resize(ctx, cmd.Initiator, action.ResizeInput{
		ServerID: args.ServerID,
		Owner:    args.Owner.identity(),
		Memory:   args.Memory,
		CPU:      args.CPU,
		Disk:     args.Disk,
	})
	if err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(viewOf(sum))
}

func (s *Server) eraseAccount(ctx context.Context, cmd Command) Reply {
	var args accountArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return errReply(CodeMalformed, err)
	}
	sum, err := s.orch.EraseAccount(ctx, cmd.Initiator, args.Owner.identity())
	if err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(viewOf(sum))
}

func (s *Server) resetPassword(ctx context.Context, cmd Command) Reply {
	var args accountArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return errReply(CodeMalformed, err)
	}
	sum, err := s.orch.ResetPassword(ctx, cmd.Initiator, args.Owner.identity())
	if err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(viewOf(sum))
}

func (s *Server) backup(ctx context.Context, cmd Command) Reply {
	var args serverArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return errReply(CodeMalformed, err)
	}
	sum, err := s.orch.TakeBackup(ctx, cmd.Initiator, action.SuspendInput{
		ServerID: args.ServerID,
		Owner:    args.Owner.identity(),
		Reason:   args.Reason,
	})
	if err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(viewOf(sum))
}

func (s *Server) confirm(cmd Command) Reply {
	var args confirmArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return errReply(CodeMalformed, err)
	}
	if !s.orch.Resolve(args.Token, args.Approve) {
		return errReply(CodeUnknownToken, errors.New("confirmation token unknown or already resolved"))
	}
	return okReply(map[string]bool{"resolved": true})
}

func (s *Server) servers(ctx context.Context, cmd Command) Reply {
	var args pageArgs
	if len(cmd.Args) > 0 {
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return errReply(CodeMalformed, err)
		}
	}
	if args.Page < 1 {
		args.Page = 1
	}
	servers, meta, err := s.orch.Servers(ctx, cmd.Initiator, args.Page)
	if err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(map[string]any{"servers": servers, "pagination": meta})
}

func (s *Server) serverInfo(ctx context.Context, cmd Command) Reply {
	var args serverArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return errReply(CodeMalformed, err)
	}
	server, usage, err := s.orch.ServerInfo(ctx, cmd.Initiator, args.ServerID)
	if err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(map[string]any{"server": server, "usage": usage})
}

func (s *Server) findServers(ctx context.Context, cmd Command) Reply {
	var args queryArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return errReply(CodeMalformed, err)
	}
	matches, err := s.orch.FindServers(ctx, cmd.Initiator, args.Query)
	if err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(map[string]any{"servers": matches})
}

func (s *Server) backups(ctx context.Context, cmd Command) Reply {
	var args serverArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return errReply(CodeMalformed, err)
	}
	backups, err := s.orch.Backups(ctx, cmd.Initiator, args.ServerID)
	if err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(map[string]any{"backups": backups})
}

func (s *Server) users(ctx context.Context, cmd Command) Reply {
	var args pageArgs
	if len(cmd.Args) > 0 {
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return errReply(CodeMalformed, err)
		}
	}
	if args.Page < 1 {
		args.Page = 1
	}
	users, meta, err := s.orch.Users(ctx, cmd.Initiator, args.Page)
	if err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(map[string]any{"users": users, "pagination": meta})
}

func (s *Server) findUser(ctx context.Context, cmd Command) Reply {
	var args accountArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return errReply(CodeMalformed, err)
	}
	user, err := s.orch.FindUser(ctx, cmd.Initiator, args.Owner.identity())
	if err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(map[string]any{"user": user})
}

func (s *Server) nodes(ctx context.Context, cmd Command) Reply {
	nodes, err := s.orch.Nodes(ctx, cmd.Initiator)
	if err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(map[string]any{"nodes": nodes})
}

func (s *Server) eggs(ctx context.Context, cmd Command) Reply {
	var args nestArgs
	if len(cmd.Args) > 0 {
		if err := json.Unmarshal(cmd.Args, &args); err != nil {
			return errReply(CodeMalformed, err)
		}
	}
	if args.NestID < 1 {
		args.NestID = 1
	}
	eggs, err := s.orch.Eggs(ctx, cmd.Initiator, args.NestID)
	if err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(map[string]any{"eggs": eggs})
}

func (s *Server) status(ctx context.Context, cmd Command) Reply {
	st, err := s.orch.CheckStatus(ctx, cmd.Initiator)
	if err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(st)
}

func (s *Server) maintenance(ctx context.Context, cmd Command) Reply {
	var args maintenanceArgs
	if err := json.Unmarshal(cmd.Args, &args); err != nil {
		return errReply(CodeMalformed, err)
	}
	if err := s.orch.SetMaintenance(ctx, cmd.Initiator, args.On); err != nil {
		return errReply(codeFor(err), err)
	}
	return okReply(map[string]bool{"maintenance": args.On})
}
