package gateway

import (
	"encoding/json"

	"github.com/talon-ops/talon/internal/action"
	"github.com/talon-ops/talon/internal/identity"
	"github.com/talon-ops/talon/internal/panel"
	"github.com/talon-ops/talon/internal/policy"
)

// Command is the request envelope carried on talon.cmd.<op> subjects. The
// operation itself is the subject suffix; the envelope carries who asked
// and the operation's arguments.
type Command struct {
	Initiator string          `json:"initiator"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// Reply is the response envelope. Code is a stable machine-readable
// classification the chat frontend switches on to pick a message.
type Reply struct {
	OK     bool            `json:"ok"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Reply codes.
const (
	CodeValidation   = "validation"
	CodeNotFound     = "not_found"
	CodeDeclined     = "declined"
	CodeUnauthorized = "unauthorized"
	CodeMaintenance  = "maintenance"
	CodeTransport    = "panel_unreachable"
	CodeUnknownOp    = "unknown_op"
	CodeMalformed    = "malformed"
	CodeInternal     = "internal"
	CodeUnknownToken = "unknown_token"
)

// externalRef mirrors identity.ExternalIdentity on the wire.
type externalRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (r externalRef) identity() identity.ExternalIdentity {
	return identity.ExternalIdentity{ID: r.ID, Name: r.Name}
}

type createArgs struct {
	Name    string      `json:"name"`
	Memory  int         `json:"memory"`
	CPU     int         `json:"cpu"`
	Disk    int         `json:"disk"`
	Version string      `json:"version,omitempty"`
	NodeID  int         `json:"node_id"`
	EggID   int         `json:"egg_id"`
	Image   string      `json:"image,omitempty"`
	Owner   externalRef `json:"owner"`
}

type serverArgs struct {
	ServerID int         `json:"server_id"`
	Owner    externalRef `json:"owner,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

type resizeArgs struct {
	ServerID int         `json:"server_id"`
	Owner    externalRef `json:"owner,omitempty"`
	Memory   *int        `json:"memory,omitempty"`
	CPU      *int        `json:"cpu,omitempty"`
	Disk     *int        `json:"disk,omitempty"`
}

type accountArgs struct {
	Owner externalRef `json:"owner"`
}

type confirmArgs struct {
	Token   string `json:"token"`
	Approve bool   `json:"approve"`
}

type pageArgs struct {
	Page int `json:"page,omitempty"`
}

type queryArgs struct {
	Query string `json:"query"`
}

type nestArgs struct {
	NestID int `json:"nest_id,omitempty"`
}

type maintenanceArgs struct {
	On bool `json:"on"`
}

// summaryView is the wire form of a completed action.
type summaryView struct {
	Action         string        `json:"action"`
	RunID          string        `json:"run_id"`
	ServerID       int           `json:"server_id,omitempty"`
	ServerName     string        `json:"server_name,omitempty"`
	NodeName       string        `json:"node_name,omitempty"`
	AccountID      int           `json:"account_id,omitempty"`
	AccountEmail   string        `json:"account_email,omitempty"`
	Before         *panel.Limits `json:"before,omitempty"`
	After          *panel.Limits `json:"after,omitempty"`
	Notification   string        `json:"notification"`
	AllocationNote bool          `json:"allocation_fallback,omitempty"`
	AccountCreated bool          `json:"account_created,omitempty"`
}

func viewOf(sum *action.Summary) summaryView {
	v := summaryView{
		Action:         string(sum.Action),
		RunID:          sum.RunID,
		ServerID:       sum.ServerID,
		ServerName:     sum.ServerName,
		NodeName:       sum.NodeName,
		Before:         sum.Before,
		After:          sum.After,
		Notification:   string(sum.Outcome),
		AllocationNote: sum.AllocationFallback,
		AccountCreated: sum.OneTimePassword != "",
	}
	if sum.Account != nil {
		v.AccountID = sum.Account.ID
		v.AccountEmail = sum.Account.Email
	}
	return v
}

// codeFor maps workflow errors onto stable reply codes.
func codeFor(err error) string {
	switch {
	case action.IsValidationError(err):
		return CodeValidation
	case action.IsNotFoundError(err):
		return CodeNotFound
	case action.IsDeclinedError(err):
		return CodeDeclined
	case policy.IsAuthorizationError(err):
		return CodeUnauthorized
	case policy.IsMaintenanceError(err):
		return CodeMaintenance
	case panel.IsTransportError(err):
		return CodeTransport
	default:
		return CodeInternal
	}
}

func okReply(result any) Reply {
	raw, err := json.Marshal(result)
	if err != nil {
		return errReply(CodeInternal, err)
	}
	return Reply{OK: true, Result: raw}
}

func errReply(code string, err error) Reply {
	return Reply{OK: false, Code: code, Error: err.Error()}
}
