package mcpserver

import (
	"context"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/biosentry/biosentry/internal/identity"
	"github.com/biosentry/biosentry/internal/model"
	"github.com/biosentry/biosentry/internal/observe"
)

// instrumentTool wraps a tool handler so every call is recorded through
// [observe.Metrics.RecordToolCall] and [observe.Metrics.ToolExecutionDuration],
// regardless of which of the catalogue's many argument types the handler
// takes. status is "error" whenever the handler returns a Go error or its
// result map carries "status":"error", and "ok" otherwise.
func instrumentTool[T any](name string, h func(context.Context, *mcpsdk.CallToolRequest, T) (*mcpsdk.CallToolResult, any, error)) func(context.Context, *mcpsdk.CallToolRequest, T) (*mcpsdk.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, args T) (*mcpsdk.CallToolResult, any, error) {
		start := time.Now()
		result, out, err := h(ctx, req, args)
		metrics := observe.DefaultMetrics()
		metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())

		status := "ok"
		if err != nil {
			status = "error"
		} else if m, ok := out.(map[string]any); ok {
			if kind, ok := m["status"].(string); ok && kind == "error" {
				status = "error"
			}
		}
		metrics.RecordToolCall(ctx, name, status)
		return result, out, err
	}
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "register_user",
		Description: "Register a new user from a name and a face image. Returns registered, queued, or already_exists.",
	}, instrumentTool("register_user", s.handleRegisterUser))

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "recognize_face",
		Description: "Match a face image against registered users within a distance threshold.",
	}, instrumentTool("recognize_face", s.handleRecognizeFace))

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "list_users",
		Description: "List registered users with pagination.",
	}, instrumentTool("list_users", s.handleListUsers))

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "get_user_profile",
		Description: "Fetch the full profile of a registered user by user_id.",
	}, instrumentTool("get_user_profile", s.handleGetUserProfile))

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "update_user",
		Description: "Update a registered user's name and/or metadata. user_id never changes.",
	}, instrumentTool("update_user", s.handleUpdateUser))

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "delete_user",
		Description: "Permanently remove a registered user.",
	}, instrumentTool("delete_user", s.handleDeleteUser))

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "get_database_stats",
		Description: "Report the vector index's record count, dimensionality, and index type.",
	}, instrumentTool("get_database_stats", s.handleGetDatabaseStats))

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "get_health_status",
		Description: "Report the process-wide health snapshot: overall status, per-component states, derived capabilities, and queue depth.",
	}, instrumentTool("get_health_status", s.handleGetHealthStatus))

	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        "issue_token_info",
		Description: "Verify an access token and report its client_id and expiry, without issuing a new one.",
	}, instrumentTool("issue_token_info", s.handleIssueTokenInfo))
}

type registerUserArgs struct {
	AccessToken string            `json:"access_token"`
	Name        string            `json:"name"`
	ImageData   string            `json:"image_data"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleRegisterUser(ctx context.Context, _ *mcpsdk.CallToolRequest, args registerUserArgs) (*mcpsdk.CallToolResult, any, error) {
	clientID, toolErr := s.authenticate(args.AccessToken)
	if toolErr != nil {
		return nil, toolErr, nil
	}
	snap := s.health.Snapshot()
	if toolErr := requireCapability(clientID, snap, snap.Capabilities.CanRegister || snap.Capabilities.CanQueueRegistration, s.audit, "registration"); toolErr != nil {
		return nil, toolErr, nil
	}

	image, toolErr := decodeImage(args.ImageData)
	if toolErr != nil {
		return nil, toolErr, nil
	}

	res, err := s.identity.Register(ctx, clientID, args.Name, image, args.Metadata)
	if err != nil {
		return nil, classifyIdentityError(err), nil
	}

	if res.Status == identity.StatusQueued {
		return nil, map[string]any{
			"status": res.Status,
			"user": map[string]any{
				"name":           res.User.Name,
				"queue_position": res.QueuePosition,
			},
		}, nil
	}
	return nil, map[string]any{"status": res.Status, "user": res.User}, nil
}

type recognizeFaceArgs struct {
	AccessToken        string   `json:"access_token"`
	ImageData          string   `json:"image_data"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

func (s *Server) handleRecognizeFace(ctx context.Context, _ *mcpsdk.CallToolRequest, args recognizeFaceArgs) (*mcpsdk.CallToolResult, any, error) {
	clientID, toolErr := s.authenticate(args.AccessToken)
	if toolErr != nil {
		return nil, toolErr, nil
	}
	snap := s.health.Snapshot()
	if toolErr := requireCapability(clientID, snap, snap.Capabilities.CanRecognize, s.audit, "recognition"); toolErr != nil {
		return nil, toolErr, nil
	}

	image, toolErr := decodeImage(args.ImageData)
	if toolErr != nil {
		return nil, toolErr, nil
	}

	threshold := s.identity.DefaultThreshold()
	if args.ConfidenceThreshold != nil {
		threshold = *args.ConfidenceThreshold
	}

	res, err := s.identity.Recognize(ctx, clientID, image, threshold)
	if err != nil {
		return nil, classifyIdentityError(err), nil
	}

	out := map[string]any{"status": res.Status}
	if res.Status == identity.StatusRecognized {
		out["user"] = res.User
		out["distance"] = res.Distance
	}
	return nil, out, nil
}

type listUsersArgs struct {
	AccessToken string `json:"access_token"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

func (s *Server) handleListUsers(ctx context.Context, _ *mcpsdk.CallToolRequest, args listUsersArgs) (*mcpsdk.CallToolResult, any, error) {
	clientID, toolErr := s.authenticate(args.AccessToken)
	if toolErr != nil {
		return nil, toolErr, nil
	}
	snap := s.health.Snapshot()
	if toolErr := requireCapability(clientID, snap, snap.Capabilities.CanRecognize, s.audit, "list_users"); toolErr != nil {
		return nil, toolErr, nil
	}

	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := args.Offset
	if offset < 0 {
		offset = 0
	}

	total, users, hasMore, err := s.identity.List(ctx, offset, limit)
	if err != nil {
		return nil, classifyIdentityError(err), nil
	}

	return nil, map[string]any{
		"total":    total,
		"count":    len(users),
		"offset":   offset,
		"limit":    limit,
		"has_more": hasMore,
		"users":    users,
	}, nil
}

type getUserProfileArgs struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
}

func (s *Server) handleGetUserProfile(ctx context.Context, _ *mcpsdk.CallToolRequest, args getUserProfileArgs) (*mcpsdk.CallToolResult, any, error) {
	clientID, toolErr := s.authenticate(args.AccessToken)
	if toolErr != nil {
		return nil, toolErr, nil
	}
	snap := s.health.Snapshot()
	if toolErr := requireCapability(clientID, snap, snap.Capabilities.CanRecognize, s.audit, "get_user_profile"); toolErr != nil {
		return nil, toolErr, nil
	}

	rec, err := s.identity.GetProfile(ctx, args.UserID)
	if err != nil {
		return nil, classifyIdentityError(err), nil
	}
	return nil, rec, nil
}

type updateUserArgs struct {
	AccessToken string            `json:"access_token"`
	UserID      string            `json:"user_id"`
	Name        *string           `json:"name,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleUpdateUser(ctx context.Context, _ *mcpsdk.CallToolRequest, args updateUserArgs) (*mcpsdk.CallToolResult, any, error) {
	clientID, toolErr := s.authenticate(args.AccessToken)
	if toolErr != nil {
		return nil, toolErr, nil
	}
	snap := s.health.Snapshot()
	if toolErr := requireCapability(clientID, snap, snap.Capabilities.CanRegister, s.audit, "update"); toolErr != nil {
		return nil, toolErr, nil
	}

	rec, err := s.identity.Update(ctx, clientID, args.UserID, args.Name, args.Metadata)
	if err != nil {
		return nil, classifyIdentityError(err), nil
	}
	return nil, map[string]any{"status": "ok", "user": rec}, nil
}

type deleteUserArgs struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
}

func (s *Server) handleDeleteUser(ctx context.Context, _ *mcpsdk.CallToolRequest, args deleteUserArgs) (*mcpsdk.CallToolResult, any, error) {
	clientID, toolErr := s.authenticate(args.AccessToken)
	if toolErr != nil {
		return nil, toolErr, nil
	}
	snap := s.health.Snapshot()
	if toolErr := requireCapability(clientID, snap, snap.Capabilities.CanRegister, s.audit, "deletion"); toolErr != nil {
		return nil, toolErr, nil
	}

	if err := s.identity.Delete(ctx, clientID, args.UserID); err != nil {
		return nil, classifyIdentityError(err), nil
	}
	return nil, map[string]any{"status": "ok"}, nil
}

type getDatabaseStatsArgs struct {
	AccessToken string `json:"access_token"`
}

func (s *Server) handleGetDatabaseStats(ctx context.Context, _ *mcpsdk.CallToolRequest, args getDatabaseStatsArgs) (*mcpsdk.CallToolResult, any, error) {
	clientID, toolErr := s.authenticate(args.AccessToken)
	if toolErr != nil {
		return nil, toolErr, nil
	}
	snap := s.health.Snapshot()
	if toolErr := requireCapability(clientID, snap, snap.Capabilities.CanRecognize, s.audit, "get_database_stats"); toolErr != nil {
		return nil, toolErr, nil
	}

	count, dims, indexType, err := s.identity.Stats(ctx)
	if err != nil {
		return nil, classifyIdentityError(err), nil
	}
	return nil, map[string]any{"count": count, "dims": dims, "index_type": indexType}, nil
}

type getHealthStatusArgs struct {
	AccessToken string `json:"access_token"`
}

func (s *Server) handleGetHealthStatus(_ context.Context, _ *mcpsdk.CallToolRequest, args getHealthStatusArgs) (*mcpsdk.CallToolResult, any, error) {
	if _, toolErr := s.authenticate(args.AccessToken); toolErr != nil {
		return nil, toolErr, nil
	}
	return nil, s.health.Snapshot(), nil
}

type issueTokenInfoArgs struct {
	AccessToken string `json:"access_token"`
}

func (s *Server) handleIssueTokenInfo(_ context.Context, _ *mcpsdk.CallToolRequest, args issueTokenInfoArgs) (*mcpsdk.CallToolResult, any, error) {
	clientID, expiresAt, err := s.keystore.TokenInfo(args.AccessToken)
	if err != nil {
		s.audit.Log(model.AuditEvent{
			EventType:    "authentication",
			Outcome:      model.OutcomeDenied,
			ClientID:     "unknown",
			ErrorMessage: err.Error(),
		})
		return nil, errResult(kindUnauthenticated, "access token is invalid, malformed, or expired"), nil
	}
	return nil, map[string]any{"client_id": clientID, "expires_at": expiresAt}, nil
}
