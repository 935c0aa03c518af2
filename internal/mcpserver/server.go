// Package mcpserver exposes the Identity Service as a named-tool JSON-RPC
// server over stdio, using the official Model Context Protocol Go SDK. Every
// tool call is authenticated against the keystore; every tool except
// get_health_status and issue_token_info is also gated by the health
// registry's derived capabilities. Authentication failures, capability
// denials, and the identity service's register, recognize, update, and
// delete outcomes are audited. Successful list_users, get_user_profile,
// get_database_stats, get_health_status, and issue_token_info calls, and
// image_data decoding failures, write no audit event.
package mcpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/biosentry/biosentry/internal/audit"
	"github.com/biosentry/biosentry/internal/face"
	"github.com/biosentry/biosentry/internal/health"
	"github.com/biosentry/biosentry/internal/identity"
	"github.com/biosentry/biosentry/internal/keystore"
	"github.com/biosentry/biosentry/internal/model"
)

// Options supplies a Server's collaborators.
type Options struct {
	Keystore *keystore.Keystore
	Identity *identity.Service
	Health   *health.Registry
	Audit    *audit.Sink
}

// Server wraps an *mcpsdk.Server with biosentry's tool catalogue registered.
type Server struct {
	mcp      *mcpsdk.Server
	keystore *keystore.Keystore
	identity *identity.Service
	health   *health.Registry
	audit    *audit.Sink
}

// New builds a Server with every tool in the catalogue registered.
func New(opts Options) *Server {
	s := &Server{
		keystore: opts.Keystore,
		identity: opts.Identity,
		health:   opts.Health,
		audit:    opts.Audit,
	}
	s.mcp = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "biosentry-mcpserver", Version: "1.0.0"}, nil)
	s.registerTools()
	return s
}

// Run serves the tool catalogue over stdio until ctx is canceled or the
// transport closes.
func (s *Server) Run(ctx context.Context) error {
	if err := s.mcp.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcpserver: run: %w", err)
	}
	return nil
}

// Connect serves the tool catalogue over an arbitrary transport, returning
// once the session handshake completes. Used directly by tests against an
// in-memory transport pair; production code should prefer [Server.Run].
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

// authenticate verifies accessToken and logs an unauthenticated audit event
// on failure, per the catalogue's "client_id=unknown" rule.
func (s *Server) authenticate(accessToken string) (clientID string, toolErr map[string]any) {
	id, err := s.keystore.VerifyToken(accessToken)
	if err != nil {
		s.audit.Log(model.AuditEvent{
			EventType:    "authentication",
			Outcome:      model.OutcomeDenied,
			ClientID:     "unknown",
			ErrorMessage: err.Error(),
		})
		return "", errResult(kindUnauthenticated, "access token is invalid, malformed, or expired")
	}
	return id, nil
}

// requireCapability checks snap against the named capability flag, logging
// a denied audit event on failure.
func requireCapability(clientID string, snap model.HealthSnapshot, ok bool, auditSink *audit.Sink, eventType string) map[string]any {
	if ok {
		return nil
	}
	reason := fmt.Sprintf("capability unavailable; overall health is %s", snap.Overall)
	auditSink.Log(model.AuditEvent{
		EventType:    eventType,
		Outcome:      model.OutcomeDenied,
		ClientID:     clientID,
		ErrorMessage: reason,
	})
	return errResult(kindUnavailable, reason)
}

// decodeImage validates and decodes a base64-encoded image payload per the
// data model's minimum-size rule (checked on the encoded string, matching
// the face package's own defense-in-depth check on the decoded form).
func decodeImage(encoded string) ([]byte, map[string]any) {
	if len(encoded) < 100 {
		return nil, errResult(kindValidation, "image_data must be at least 100 base64 characters")
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errResult(kindValidation, "image_data is not valid base64")
	}
	return decoded, nil
}

// classifyIdentityError maps an error from the identity service to a
// tool-surface response, distinguishing validation/unavailable/internal
// per the operation catalogue's failure-semantics table.
func classifyIdentityError(err error) map[string]any {
	switch {
	case errors.Is(err, identity.ErrInvalidName):
		return errResult(kindValidation, err.Error())
	case errors.Is(err, identity.ErrUserNotFound):
		return errResult(kindNotFound, err.Error())
	case errors.Is(err, face.ErrNoFaceDetected), errors.Is(err, face.ErrMultipleFaces), errors.Is(err, face.ErrDecodeFailed):
		return errResult(kindValidation, err.Error())
	case errors.Is(err, face.ErrModelUnavailable):
		return errResult(kindUnavailable, err.Error())
	default:
		slog.Error("mcpserver: internal error", "error", err)
		return errResult(kindInternal, "internal error")
	}
}
