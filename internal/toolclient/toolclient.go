// Package toolclient implements the Sync Tool Facade: a single persistent
// MCP client session, fronted by one worker goroutine that serializes every
// call through a bounded job queue, so voice orchestrators (themselves
// synchronous state machines) never have to reason about the underlying
// async client/session lifecycle directly.
package toolclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/biosentry/biosentry/internal/model"
)

// Error kinds mirrored from the tool server's response contract.
const (
	KindUnauthenticated = "unauthenticated"
	KindUnavailable     = "unavailable"
	KindValidation      = "validation"
	KindNotFound        = "not_found"
	KindAlreadyExists   = "already_exists"
	KindInternal        = "internal"
)

// ToolError is returned when a tool call completes at the protocol level
// but the tool surface itself reports {"status":"error",...}.
type ToolError struct {
	Kind    string
	Message string
}

func (e *ToolError) Error() string { return fmt.Sprintf("toolclient: %s: %s", e.Kind, e.Message) }

// Options configures [New].
type Options struct {
	// Command is the executable path for the MCP tool server subprocess.
	Command string
	Args    []string
	Env     map[string]string

	// AccessToken is attached to every call's params.
	AccessToken string

	// QueueCapacity bounds the number of in-flight calls queued for the
	// worker goroutine. Default 32.
	QueueCapacity int
}

type job struct {
	ctx      context.Context
	toolName string
	args     map[string]any
	resultCh chan jobResult
}

type jobResult struct {
	out map[string]any
	err error
}

// Client is the synchronous facade. The zero value is not usable; create
// with [New]. A Client owns exactly one persistent session, established on
// [Client.Connect] and released on [Client.Close].
type Client struct {
	opts Options

	mu      sync.Mutex
	cmd     *exec.Cmd
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession

	calls chan job
	done  chan struct{}
}

// New constructs a disconnected [Client].
func New(opts Options) *Client {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 32
	}
	return &Client{opts: opts}
}

// Connect launches the tool server subprocess (if not already running),
// establishes the single persistent MCP session, and starts the worker
// goroutine. Calling Connect again while already connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, c.opts.Command, c.opts.Args...)
	for k, v := range c.opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	transport := &mcpsdk.CommandTransport{Command: cmd}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "biosentry-voice", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("toolclient: connect: %w", err)
	}

	c.cmd = cmd
	c.client = client
	c.connectSessionLocked(session)
	return nil
}

// connectSessionLocked installs session and starts the worker goroutine.
// Split out from Connect so tests can wire the facade against an in-memory
// transport pair instead of spawning a real subprocess.
func (c *Client) connectSessionLocked(session *mcpsdk.ClientSession) {
	c.session = session
	c.calls = make(chan job, c.opts.QueueCapacity)
	c.done = make(chan struct{})
	go c.run()
}

// Close stops accepting new calls, drains the queue, and tears down the
// session. Equivalent to the context-manager-exit half of the facade's
// acquire/release contract.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	close(c.calls)
	<-c.done
	err := c.session.Close()
	c.session = nil
	c.client = nil
	c.calls = nil
	c.done = nil
	return err
}

// run is the single long-lived worker goroutine that serializes every call
// onto the one persistent session.
func (c *Client) run() {
	defer close(c.done)
	for j := range c.calls {
		out, err := c.execute(j.ctx, j.toolName, j.args)
		j.resultCh <- jobResult{out: out, err: err}
	}
}

func (c *Client) execute(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("toolclient: call %q: %w", toolName, err)
	}
	out, ok := result.StructuredContent.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("toolclient: call %q: unexpected result shape %T", toolName, result.StructuredContent)
	}
	if status, _ := out["status"].(string); status == "error" {
		kind, _ := out["kind"].(string)
		message, _ := out["message"].(string)
		return nil, &ToolError{Kind: kind, Message: message}
	}
	return out, nil
}

// call enqueues a job on the worker goroutine and blocks for its result,
// the "run-until-complete" primitive the rest of the facade is built on.
func (c *Client) call(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
	c.mu.Lock()
	calls := c.calls
	c.mu.Unlock()
	if calls == nil {
		return nil, fmt.Errorf("toolclient: not connected")
	}

	args["access_token"] = c.opts.AccessToken
	resultCh := make(chan jobResult, 1)

	select {
	case calls <- job{ctx: ctx, toolName: toolName, args: args, resultCh: resultCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-resultCh:
		return res.out, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func decodeInto(out map[string]any, target any) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("toolclient: re-encode result: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("toolclient: decode result: %w", err)
	}
	return nil
}

// RegisterResult is the decoded response of RegisterUser.
type RegisterResult struct {
	Status        string           `json:"status"`
	User          model.UserRecord `json:"user"`
	QueuePosition int              `json:"queue_position"`
}

// RegisterUser registers a new user from a name and raw image bytes.
func (c *Client) RegisterUser(ctx context.Context, name string, image []byte, metadata map[string]string) (RegisterResult, error) {
	out, err := c.call(ctx, "register_user", map[string]any{
		"name":       name,
		"image_data": base64.StdEncoding.EncodeToString(image),
		"metadata":   metadata,
	})
	if err != nil {
		return RegisterResult{}, err
	}
	var res RegisterResult
	if err := decodeInto(out, &res); err != nil {
		return RegisterResult{}, err
	}
	return res, nil
}

// RecognizeResult is the decoded response of RecognizeFace.
type RecognizeResult struct {
	Status   string            `json:"status"`
	User     *model.UserRecord `json:"user,omitempty"`
	Distance float64           `json:"distance"`
}

// RecognizeFace matches a face image against registered users. threshold
// of 0 lets the server apply its configured default.
func (c *Client) RecognizeFace(ctx context.Context, image []byte, threshold float64) (RecognizeResult, error) {
	args := map[string]any{"image_data": base64.StdEncoding.EncodeToString(image)}
	if threshold > 0 {
		args["confidence_threshold"] = threshold
	}
	out, err := c.call(ctx, "recognize_face", args)
	if err != nil {
		return RecognizeResult{}, err
	}
	var res RecognizeResult
	if err := decodeInto(out, &res); err != nil {
		return RecognizeResult{}, err
	}
	return res, nil
}

// ListUsersResult is the decoded response of ListUsers.
type ListUsersResult struct {
	Total   int                `json:"total"`
	Count   int                `json:"count"`
	Offset  int                `json:"offset"`
	Limit   int                `json:"limit"`
	HasMore bool               `json:"has_more"`
	Users   []model.UserRecord `json:"users"`
}

// ListUsers returns a page of registered users.
func (c *Client) ListUsers(ctx context.Context, offset, limit int) (ListUsersResult, error) {
	out, err := c.call(ctx, "list_users", map[string]any{"offset": offset, "limit": limit})
	if err != nil {
		return ListUsersResult{}, err
	}
	var res ListUsersResult
	if err := decodeInto(out, &res); err != nil {
		return ListUsersResult{}, err
	}
	return res, nil
}

// GetUserProfile fetches the full record for user_id.
func (c *Client) GetUserProfile(ctx context.Context, userID string) (model.UserRecord, error) {
	out, err := c.call(ctx, "get_user_profile", map[string]any{"user_id": userID})
	if err != nil {
		return model.UserRecord{}, err
	}
	var res model.UserRecord
	if err := decodeInto(out, &res); err != nil {
		return model.UserRecord{}, err
	}
	return res, nil
}

// UpdateResult is the decoded response of UpdateUser.
type UpdateResult struct {
	Status string           `json:"status"`
	User   model.UserRecord `json:"user"`
}

// UpdateUser updates name and/or metadata for user_id. A nil name leaves
// the existing name unchanged.
func (c *Client) UpdateUser(ctx context.Context, userID string, name *string, metadata map[string]string) (UpdateResult, error) {
	args := map[string]any{"user_id": userID, "metadata": metadata}
	if name != nil {
		args["name"] = *name
	}
	out, err := c.call(ctx, "update_user", args)
	if err != nil {
		return UpdateResult{}, err
	}
	var res UpdateResult
	if err := decodeInto(out, &res); err != nil {
		return UpdateResult{}, err
	}
	return res, nil
}

// DeleteUser permanently removes user_id.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	_, err := c.call(ctx, "delete_user", map[string]any{"user_id": userID})
	return err
}

// DatabaseStats is the decoded response of GetDatabaseStats.
type DatabaseStats struct {
	Count     int    `json:"count"`
	Dims      int    `json:"dims"`
	IndexType string `json:"index_type"`
}

// GetDatabaseStats reports the vector index's size and configuration.
func (c *Client) GetDatabaseStats(ctx context.Context) (DatabaseStats, error) {
	out, err := c.call(ctx, "get_database_stats", map[string]any{})
	if err != nil {
		return DatabaseStats{}, err
	}
	var res DatabaseStats
	if err := decodeInto(out, &res); err != nil {
		return DatabaseStats{}, err
	}
	return res, nil
}

// GetHealthStatus reports the process-wide health snapshot.
func (c *Client) GetHealthStatus(ctx context.Context) (model.HealthSnapshot, error) {
	out, err := c.call(ctx, "get_health_status", map[string]any{})
	if err != nil {
		return model.HealthSnapshot{}, err
	}
	var res model.HealthSnapshot
	if err := decodeInto(out, &res); err != nil {
		return model.HealthSnapshot{}, err
	}
	return res, nil
}
