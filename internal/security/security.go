// Package security implements the MCP security gate (C13): the composition
// of rate limiting, circuit breaking, and audit logging around an outbound
// call to an external capability server.
package security

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/assadsharif/fte/internal/audit"
	"github.com/assadsharif/fte/internal/breaker"
	"github.com/assadsharif/fte/internal/ferrors"
	"github.com/assadsharif/fte/internal/ratelimit"
)

// CallOptions carries the HITL context an outbound call was authorized
// under, for audit purposes.
type CallOptions struct {
	Approved   bool
	RiskLevel  string
	ApprovalID string
	Nonce      string
}

// Gate composes a rate limiter, per-server breakers, and the audit log
// around every outbound capability call.
type Gate struct {
	RateLimiter      *ratelimit.Limiter
	AuditLog         *audit.Log
	FailureThreshold int
	RecoveryTimeout  time.Duration

	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
}

// New returns a Gate with the given failure threshold and recovery timeout
// for every per-server breaker it lazily creates.
func New(limiter *ratelimit.Limiter, auditLog *audit.Log, failureThreshold int, recoveryTimeout time.Duration) *Gate {
	return &Gate{
		RateLimiter:      limiter,
		AuditLog:         auditLog,
		FailureThreshold: failureThreshold,
		RecoveryTimeout:  recoveryTimeout,
		breakers:         map[string]*breaker.Breaker{},
	}
}

func (g *Gate) breakerFor(server string) *breaker.Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[server]
	if !ok {
		b = breaker.New("mcp:"+server, g.FailureThreshold, g.RecoveryTimeout)
		g.breakers[server] = b
	}
	return b
}

// BreakerState returns the breaker state for server, or "closed" if the
// server has never been called.
func (g *Gate) BreakerState(server string) breaker.State {
	g.mu.Lock()
	b, ok := g.breakers[server]
	g.mu.Unlock()
	if !ok {
		return breaker.Closed
	}
	return b.State()
}

// Call runs fn through the rate limiter and circuit breaker for
// (server, actionType), auditing every outcome as an mcp_action record.
func Call[T any](g *Gate, server, actionType string, opts CallOptions, fn func() (T, error)) (T, error) {
	var zero T

	if err := g.RateLimiter.Consume(server, actionType, 1); err != nil {
		g.auditMCP(server, actionType, opts, "rate_limit_exceeded", 0)
		return zero, err
	}

	b := g.breakerFor(server)
	start := time.Now()
	result, err := breaker.Call(b, fn)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		g.auditMCP(server, actionType, opts, classifyFailure(err), duration)
		return zero, err
	}

	g.auditMCP(server, actionType, opts, "success", duration)
	return result, nil
}

func classifyFailure(err error) string {
	var ferr *ferrors.FTEError
	if errors.As(err, &ferr) && ferr.Code == ferrors.CodeCircuitOpen {
		return "circuit_open"
	}
	return fmt.Sprintf("error:%T", err)
}

func (g *Gate) auditMCP(server, actionType string, opts CallOptions, result string, durationMs int64) {
	fields := map[string]interface{}{
		"server":      server,
		"action_type": actionType,
		"result":      result,
		"duration_ms": durationMs,
		"approved":    opts.Approved,
		"risk_level":  opts.RiskLevel,
	}
	if opts.ApprovalID != "" {
		fields["approval_id"] = opts.ApprovalID
	}
	_ = g.AuditLog.Append(audit.New(audit.EventMCPAction, fields))
}

// EmergencyAction records an audit-only incident response action (mass
// credential rotation, server isolation); no enforcement is wired in.
func (g *Gate) EmergencyAction(kind, reason string) error {
	return g.AuditLog.Append(audit.New(audit.EventIncidentAction, map[string]interface{}{
		"kind":   kind,
		"reason": reason,
	}))
}
