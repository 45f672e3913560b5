// Package remediation is the command remediation pipeline (C12): the
// action lifecycle state machine, FIFO per-server delivery via the
// heartbeat pipeline, and the synchronous operator-driven execute endpoint
// with rate limiting and whitelist enforcement (spec §4.12).
package remediation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wisbric/fleethub/internal/db"
	"github.com/wisbric/fleethub/pkg/sshexec"
	"github.com/wisbric/fleethub/pkg/whitelist"
)

// ErrRateLimited is returned when a server exceeds its execute-endpoint
// token bucket (spec §4.12 step 1).
var ErrRateLimited = errors.New("remediation: rate limit exceeded")

// ExecuteResult is the outcome of a synchronous command execution.
type ExecuteResult struct {
	ExitCode   int
	Stdout     string
	Stderr     string
	DurationMS int64
}

// Engine wires together action creation/approval, FIFO dispatch bookkeeping,
// and synchronous execution.
type Engine struct {
	Queries   *db.Queries
	Whitelist *whitelist.Registry
	SSHPool   *sshexec.Pool

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewEngine builds an Engine.
func NewEngine(q *db.Queries, wl *whitelist.Registry, pool *sshexec.Pool) *Engine {
	return &Engine{Queries: q, Whitelist: wl, SSHPool: pool, limiters: make(map[string]*rate.Limiter)}
}

// CreateAction enqueues a new asynchronous action. If the server is not
// paused, it is immediately approved ("auto"); otherwise it waits for
// manual approval (spec §4.12 asynchronous mode).
func (e *Engine) CreateAction(ctx context.Context, serverID string, serverPaused bool, actionType, command, serviceName string, parameters map[string]string, now time.Time) (db.RemediationAction, error) {
	a := db.RemediationAction{
		ServerID: serverID, ActionType: actionType, Command: command,
		ServiceName: serviceName, Parameters: parameters, Status: "pending",
	}
	if !serverPaused {
		a.Status = "approved"
		a.ApprovedAt = &now
		a.ApprovedBy = "auto"
	}
	return e.Queries.CreateAction(ctx, a)
}

// Execute runs the synchronous operator-driven command path (spec §4.12):
// rate limit → whitelist check → SSH execute → error mapping.
func (e *Engine) Execute(ctx context.Context, serverID string, target sshexec.Target, actionType, command string) (ExecuteResult, error) {
	if !e.allow(serverID) {
		return ExecuteResult{}, ErrRateLimited
	}

	if _, err := e.Whitelist.Check(actionType, command); err != nil {
		return ExecuteResult{}, fmt.Errorf("remediation: %w", err)
	}

	res, err := e.SSHPool.Execute(ctx, target, command, 30*time.Second)
	if err != nil {
		return ExecuteResult{}, err
	}

	return ExecuteResult{ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr, DurationMS: res.DurationMS}, nil
}

// rateLimit and rateLimitWindow give each server a 10-requests-per-minute
// budget, process-local and losable on restart (spec §5).
const (
	rateLimit       = 10
	rateLimitWindow = time.Minute
)

func (e *Engine) allow(serverID string) bool {
	e.mu.Lock()
	l, ok := e.limiters[serverID]
	if !ok {
		l = rate.NewLimiter(rate.Every(rateLimitWindow/rateLimit), rateLimit)
		e.limiters[serverID] = l
	}
	e.mu.Unlock()

	return l.Allow()
}
