// Package sshexec is the hub's SSH executor and connection pool: a
// process-wide map from (host, user) to an idle, authenticated session,
// with TTL eviction, host-key pinning on first contact, and jittered
// retry on connection establishment only (spec §4.5).
package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/crypto/ssh"
)

// Error kinds distinguished by the spec for HTTP mapping at the call site.
var (
	ErrKeyNotConfigured = fmt.Errorf("sshexec: no SSH key configured for target")
	ErrAuthentication   = fmt.Errorf("sshexec: authentication failed")
)

// ConnectionError wraps a failure to establish a connection after retries.
type ConnectionError struct {
	Attempts int
	Cause    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("sshexec: connection failed after %d attempts: %v", e.Attempts, e.Cause)
}
func (e *ConnectionError) Unwrap() error { return e.Cause }

// CommandTimeoutError is returned when a command exceeds its deadline.
type CommandTimeoutError struct{ Timeout time.Duration }

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("sshexec: command exceeded timeout of %s", e.Timeout)
}

// Target describes how to reach and authenticate to a host.
type Target struct {
	Host          string // tailscale_hostname, else ip_address, else hostname (caller resolves precedence)
	User          string
	PrivateKeyPEM []byte
}

func (t Target) key() string { return t.User + "@" + t.Host }

// Result is the outcome of one executed command.
type Result struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMS int64
	Hostname   string
}

type pooledSession struct {
	client     *ssh.Client
	lastUsedAt time.Time
}

// Pool is a process-wide SSH connection pool keyed by (host, user).
type Pool struct {
	mu             sync.Mutex
	sessions       map[string]*pooledSession
	hostKeys       map[string]ssh.PublicKey // pinned on first contact, keyed by host
	idleTTL        time.Duration
	connectTimeout time.Duration
	logger         *slog.Logger
}

// NewPool creates an SSH pool with the given idle TTL and connect timeout.
func NewPool(idleTTL, connectTimeout time.Duration, logger *slog.Logger) *Pool {
	return &Pool{
		sessions:       make(map[string]*pooledSession),
		hostKeys:       make(map[string]ssh.PublicKey),
		idleTTL:        idleTTL,
		connectTimeout: connectTimeout,
		logger:         logger,
	}
}

// Execute runs command on target, reusing a pooled connection when possible.
// Retries apply only to connection establishment (max 3, jittered backoff);
// execution itself is never retried (spec §4.5).
func (p *Pool) Execute(ctx context.Context, target Target, command string, timeout time.Duration) (Result, error) {
	if len(target.PrivateKeyPEM) == 0 {
		return Result{}, ErrKeyNotConfigured
	}

	client, err := p.acquire(ctx, target)
	if err != nil {
		return Result{}, err
	}

	return p.exec(client, target.Host, command, timeout)
}

func (p *Pool) acquire(ctx context.Context, target Target) (*ssh.Client, error) {
	p.mu.Lock()
	if s, ok := p.sessions[target.key()]; ok {
		if time.Since(s.lastUsedAt) < p.idleTTL {
			s.lastUsedAt = time.Now()
			p.mu.Unlock()
			return s.client, nil
		}
		_ = s.client.Close()
		delete(p.sessions, target.key())
	}
	p.mu.Unlock()

	signer, err := ssh.ParsePrivateKey(target.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	operation := func() (*ssh.Client, error) {
		cfg := &ssh.ClientConfig{
			User:            target.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: p.hostKeyCallback(target.Host),
			Timeout:         p.connectTimeout,
		}
		client, err := ssh.Dial("tcp", net.JoinHostPort(target.Host, "22"), cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	client, err := backoff.Retry(ctx, operation,
		backoff.WithMaxTries(3),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
	)
	if err != nil {
		return nil, &ConnectionError{Attempts: 3, Cause: err}
	}

	p.mu.Lock()
	p.sessions[target.key()] = &pooledSession{client: client, lastUsedAt: time.Now()}
	p.mu.Unlock()

	return client, nil
}

// hostKeyCallback pins the host key on first contact and rejects any
// subsequent mismatch immediately (spec §4.5 step 4).
func (p *Pool) hostKeyCallback(host string) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		if pinned, ok := p.hostKeys[host]; ok {
			if !bytes.Equal(pinned.Marshal(), key.Marshal()) {
				return fmt.Errorf("%w: host key mismatch for %s", ErrAuthentication, host)
			}
			return nil
		}
		p.hostKeys[host] = key
		return nil
	}
}

// exec runs a single command over one exec channel with a hard timeout.
func (p *Pool) exec(client *ssh.Client, hostname, command string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("sshexec: opening session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err := <-done:
		duration := time.Since(start)
		exitCode := 0
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				exitCode = exitErr.ExitStatus()
			} else {
				return Result{}, fmt.Errorf("sshexec: running command: %w", err)
			}
		}
		return Result{
			Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode,
			DurationMS: duration.Milliseconds(), Hostname: hostname,
		}, nil
	case <-time.After(timeout):
		_ = session.Signal(ssh.SIGKILL)
		return Result{}, &CommandTimeoutError{Timeout: timeout}
	}
}

// Release returns a session to the pool without closing it — callers must
// not close SSH clients directly; cancellation unwinds the caller, not the
// pooled connection (spec §5).
func (p *Pool) Release(target Target) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[target.key()]; ok {
		s.lastUsedAt = time.Now()
	}
}

// EvictExpired closes and removes pool entries idle past idleTTL (spec §4.5
// step 5, §5 shared mutable state). Nothing in this repository calls it on a
// timer; otherwise an expired entry is only closed when acquire next sees it.
func (p *Pool) EvictExpired(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for key, s := range p.sessions {
		if now.Sub(s.lastUsedAt) >= p.idleTTL {
			_ = s.client.Close()
			delete(p.sessions, key)
			evicted++
		}
	}
	if evicted > 0 && p.logger != nil {
		p.logger.Debug("evicted idle ssh sessions", "count", evicted)
	}
	return evicted
}

// Size reports the current pool size, for the SSHPoolSize gauge.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Close closes every pooled connection, for graceful shutdown.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, s := range p.sessions {
		_ = s.client.Close()
		delete(p.sessions, key)
	}
}

// ResolveTarget picks the connection host by the precedence rule in spec
// §4.5 step 1: tailscale hostname, else IP address, else hostname.
func ResolveTarget(tailscaleHostname, ipAddress, hostname string) string {
	if tailscaleHostname != "" {
		return tailscaleHostname
	}
	if ipAddress != "" {
		return ipAddress
	}
	return hostname
}
