// Package panel is the typed client for the control-plane REST API. Every
// call is single-attempt: transport and application failures are normalized
// into TransportError and APIError, and callers compose their own retries
// if they need resilience.
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/talon-ops/talon/internal/metrics"
)

// FallbackAllocationID is returned by FirstFreeAllocation when no free
// allocation can be determined. It is a permissive default, not a
// guarantee; callers are expected to surface the fallback flag.
const FallbackAllocationID = 1

// Client talks to a Pterodactyl-compatible panel over two independent
// credential scopes. It is stateless per call and safe for concurrent use.
type Client struct {
	baseURL   string
	appKey    string
	clientKey string
	httpc     *http.Client
	logger    zerolog.Logger
}

// NewClient creates a panel client. appKey is the administrative
// (application) token; clientKey is the per-server (client) token.
func NewClient(baseURL, appKey, clientKey string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		appKey:    appKey,
		clientKey: clientKey,
		httpc:     &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

// SetHTTPClient overrides the underlying HTTP client (tests, custom TLS).
func (c *Client) SetHTTPClient(httpc *http.Client) { c.httpc = httpc }

// do performs one API call and normalizes the result: nil payload for 204,
// decoded body for 2xx, APIError for >= 400, TransportError otherwise.
func (c *Client) do(ctx context.Context, method, endpoint string, scope CredentialScope, body any) (json.RawMessage, error) {
	url := c.baseURL + "/api/" + endpoint

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	key := c.appKey
	if scope == ScopeClient {
		key = c.clientKey
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("method", method).Str("endpoint", endpoint).Str("scope", string(scope)).Msg("panel api call")

	resp, err := c.httpc.Do(req)
	if err != nil {
		metrics.ObservePanelRequest(string(scope), 0)
		return nil, &TransportError{Detail: err.Error()}
	}
	defer resp.Body.Close()

	metrics.ObservePanelRequest(string(scope), resp.StatusCode)

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Detail: err.Error()}
	}

	if resp.StatusCode >= 400 {
		detail := "Unknown error"
		var we wireErrors
		if json.Unmarshal(data, &we) == nil && len(we.Errors) > 0 && we.Errors[0].Detail != "" {
			detail = we.Errors[0].Detail
		}
		return nil, &APIError{Status: resp.StatusCode, Detail: detail}
	}

	return json.RawMessage(data), nil
}

func decodeObject[T any](raw json.RawMessage) (*T, error) {
	var obj wireObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decoding response envelope: %w", err)
	}
	var out T
	if err := json.Unmarshal(obj.Attributes, &out); err != nil {
		return nil, fmt.Errorf("decoding %s attributes: %w", obj.Object, err)
	}
	return &out, nil
}

func decodeList[T any](raw json.RawMessage) ([]T, Pagination, error) {
	var list wireList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, Pagination{}, fmt.Errorf("decoding list envelope: %w", err)
	}
	out := make([]T, 0, len(list.Data))
	for _, obj := range list.Data {
		var item T
		if err := json.Unmarshal(obj.Attributes, &item); err != nil {
			return nil, Pagination{}, fmt.Errorf("decoding %s attributes: %w", obj.Object, err)
		}
		out = append(out, item)
	}
	return out, list.Meta.Pagination, nil
}

// --- User management (application scope) ---

// LookupUserByEmail finds an account by exact email. Absence is not an
// error: the second return reports whether a match exists.
func (c *Client) LookupUserByEmail(ctx context.Context, email string) (*User, bool, error) {
	raw, err := c.do(ctx, http.MethodGet, "application/users?filter[email]="+email, ScopeApplication, nil)
	if err != nil {
		return nil, false, err
	}
	users, _, err := decodeList[User](raw)
	if err != nil {
		return nil, false, err
	}
	if len(users) == 0 {
		return nil, false, nil
	}
	return &users[0], true, nil
}

// CreateUser creates a new panel account.
func (c *Client) CreateUser(ctx context.Context, input CreateUserInput) (*User, error) {
	raw, err := c.do(ctx, http.MethodPost, "application/users", ScopeApplication, input)
	if err != nil {
		return nil, err
	}
	return decodeObject[User](raw)
}

// ListUsers returns one page of panel accounts.
func (c *Client) ListUsers(ctx context.Context, page int) ([]User, Pagination, error) {
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("application/users?page=%d", page), ScopeApplication, nil)
	if err != nil {
		return nil, Pagination{}, err
	}
	return decodeList[User](raw)
}

// DeleteUser removes a panel account.
func (c *Client) DeleteUser(ctx context.Context, userID int) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("application/users/%d", userID), ScopeApplication, nil)
	return err
}

// UpdateUserPassword sets a new password on an existing account.
func (c *Client) UpdateUserPassword(ctx context.Context, userID int, password string) error {
	_, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("application/users/%d", userID), ScopeApplication,
		map[string]string{"password": password})
	return err
}

// --- Server management (application scope) ---

// CreateServer issues the server-create call with a fully composed payload.
func (c *Client) CreateServer(ctx context.Context, input CreateServerInput) (*Server, error) {
	payload := map[string]any{
		"name":         input.Name,
		"user":         input.UserID,
		"egg":          input.EggID,
		"docker_image": input.DockerImage,
		"startup":      "",
		"environment":  map[string]any{},
		"limits": Limits{
			Memory: input.Memory,
			Swap:   0,
			Disk:   input.Disk,
			IO:     500,
			CPU:    input.CPU,
		},
		"feature_limits": FeatureLimits{
			Databases:   1,
			Allocations: 1,
			Backups:     2,
		},
		"allocation": map[string]int{"default": input.AllocationID},
	}

	raw, err := c.do(ctx, http.MethodPost, "application/servers", ScopeApplication, payload)
	if err != nil {
		return nil, err
	}
	return decodeObject[Server](raw)
}

// GetServer returns a server by panel ID.
func (c *Client) GetServer(ctx context.Context, serverID int) (*Server, error) {
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("application/servers/%d", serverID), ScopeApplication, nil)
	if err != nil {
		return nil, err
	}
	return decodeObject[Server](raw)
}

// ListServers returns one page of servers.
func (c *Client) ListServers(ctx context.Context, page int) ([]Server, Pagination, error) {
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("application/servers?page=%d", page), ScopeApplication, nil)
	if err != nil {
		return nil, Pagination{}, err
	}
	return decodeList[Server](raw)
}

// DeleteServer removes a server; force skips graceful wings teardown.
func (c *Client) DeleteServer(ctx context.Context, serverID int, force bool) error {
	endpoint := fmt.Sprintf("application/servers/%d", serverID)
	if force {
		endpoint += "/force"
	}
	_, err := c.do(ctx, http.MethodDelete, endpoint, ScopeApplication, nil)
	return err
}

// SuspendServer suspends a server.
func (c *Client) SuspendServer(ctx context.Context, serverID int) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("application/servers/%d/suspend", serverID), ScopeApplication, nil)
	return err
}

// UnsuspendServer lifts a suspension.
func (c *Client) UnsuspendServer(ctx context.Context, serverID int) error {
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("application/servers/%d/unsuspend", serverID), ScopeApplication, nil)
	return err
}

// UpdateServerBuild applies a new resource envelope. The caller merges
// unsupplied fields from the current limits before calling.
func (c *Client) UpdateServerBuild(ctx context.Context, serverID int, allocation int, limits Limits) (*Server, error) {
	payload := map[string]any{
		"allocation": allocation,
		"limits":     limits,
	}
	raw, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("application/servers/%d/build", serverID), ScopeApplication, payload)
	if err != nil {
		return nil, err
	}
	return decodeObject[Server](raw)
}

// --- Node management (application scope) ---

// ListNodes returns all nodes.
func (c *Client) ListNodes(ctx context.Context) ([]Node, error) {
	raw, err := c.do(ctx, http.MethodGet, "application/nodes", ScopeApplication, nil)
	if err != nil {
		return nil, err
	}
	nodes, _, err := decodeList[Node](raw)
	return nodes, err
}

// GetNode returns a node by ID.
func (c *Client) GetNode(ctx context.Context, nodeID int) (*Node, error) {
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("application/nodes/%d", nodeID), ScopeApplication, nil)
	if err != nil {
		return nil, err
	}
	return decodeObject[Node](raw)
}

// ListAllocations returns a node's network allocations in listing order.
func (c *Client) ListAllocations(ctx context.Context, nodeID int) ([]Allocation, error) {
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("application/nodes/%d/allocations", nodeID), ScopeApplication, nil)
	if err != nil {
		return nil, err
	}
	allocs, _, err := decodeList[Allocation](raw)
	return allocs, err
}

// FirstFreeAllocation scans a node's allocations in listing order and
// returns the first unassigned one. When none is free or the listing
// fails, it returns FallbackAllocationID with fallback=true and logs the
// degradation; the fallback may collide with an assigned allocation.
func (c *Client) FirstFreeAllocation(ctx context.Context, nodeID int) (id int, fallback bool) {
	allocs, err := c.ListAllocations(ctx, nodeID)
	if err != nil {
		c.logger.Warn().Err(err).Int("node", nodeID).Msg("allocation listing failed; using fallback allocation")
		return FallbackAllocationID, true
	}
	for _, a := range allocs {
		if !a.Assigned {
			return a.ID, false
		}
	}
	c.logger.Warn().Int("node", nodeID).Msg("no free allocation on node; using fallback allocation")
	return FallbackAllocationID, true
}

// --- Egg management (application scope) ---

// defaultNestID matches the panel's first nest, which holds the stock eggs.
const defaultNestID = 1

// ListEggs returns the eggs in a nest.
func (c *Client) ListEggs(ctx context.Context, nestID int) ([]Egg, error) {
	if nestID == 0 {
		nestID = defaultNestID
	}
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("application/nests/%d/eggs", nestID), ScopeApplication, nil)
	if err != nil {
		return nil, err
	}
	eggs, _, err := decodeList[Egg](raw)
	return eggs, err
}

// GetEgg returns an egg from the default nest.
func (c *Client) GetEgg(ctx context.Context, eggID int) (*Egg, error) {
	raw, err := c.do(ctx, http.MethodGet, fmt.Sprintf("application/nests/%d/eggs/%d", defaultNestID, eggID), ScopeApplication, nil)
	if err != nil {
		return nil, err
	}
	return decodeObject[Egg](raw)
}

// --- Runtime operations (client scope) ---

// ServerResources returns a server's live resource usage.
func (c *Client) ServerResources(ctx context.Context, serverUUID string) (*Resources, error) {
	raw, err := c.do(ctx, http.MethodGet, "client/servers/"+serverUUID+"/resources", ScopeClient, nil)
	if err != nil {
		return nil, err
	}
	return decodeObject[Resources](raw)
}

// ListBackups returns a server's backups.
func (c *Client) ListBackups(ctx context.Context, serverUUID string) ([]Backup, error) {
	raw, err := c.do(ctx, http.MethodGet, "client/servers/"+serverUUID+"/backups", ScopeClient, nil)
	if err != nil {
		return nil, err
	}
	backups, _, err := decodeList[Backup](raw)
	return backups, err
}

// CreateBackup starts a new backup for a server.
func (c *Client) CreateBackup(ctx context.Context, serverUUID string) (*Backup, error) {
	raw, err := c.do(ctx, http.MethodPost, "client/servers/"+serverUUID+"/backups", ScopeClient, nil)
	if err != nil {
		return nil, err
	}
	return decodeObject[Backup](raw)
}

// --- Utility ---

// TestConnection verifies the application credentials against the panel.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "application/users?page=1", ScopeApplication, nil)
	return err
}
