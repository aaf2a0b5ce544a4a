package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/jroosing/resolvfuzz/internal/authstack"
	"github.com/jroosing/resolvfuzz/internal/coverage"
	"github.com/jroosing/resolvfuzz/internal/dnswire"
	"github.com/jroosing/resolvfuzz/internal/fuzzcase"
)

// State is a harness's position in the per-case state machine. States
// only ever move forward within a case; RunCase leaves the machine at
// StateDone, Start sets StateReady, and Stop (also part of a respawn) sets
// StateIdle.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateControlConnected
	StateCoverageReset
	StateReady
	StateClientQuerySent
	StateAnsweringResolverQueries
	StateClientResponseReceived
	StateCacheChecks
	StateCoverageRead
	StateDone
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateControlConnected:
		return "control_connected"
	case StateCoverageReset:
		return "coverage_reset"
	case StateReady:
		return "ready"
	case StateClientQuerySent:
		return "client_query_sent"
	case StateAnsweringResolverQueries:
		return "answering_resolver_queries"
	case StateClientResponseReceived:
		return "client_response_received"
	case StateCacheChecks:
		return "cache_checks"
	case StateCoverageRead:
		return "coverage_read"
	case StateDone:
		return "done"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Harness owns one resolver subprocess across many cases, cycling it
// through the per-case state machine and respawning it whenever the
// resolver's cache could be carrying state forward between cases that
// ought to be isolated.
type Harness struct {
	ResolverID       string
	BinaryPath       string
	Args             []string
	ControlAddr      string
	WarmupWindow     time.Duration
	ResponseDeadline time.Duration
	CacheCheckWindow time.Duration
	Logger           *slog.Logger
	Stack            *authstack.Stack

	mu         sync.Mutex
	cmd        *exec.Cmd
	cov        *CovClient
	frontier   *coverage.Frontier
	state      State
	cacheDirty bool
}

// New builds a Harness. Start must be called before RunCase.
func New(resolverID, binaryPath string, args []string, controlAddr string, stack *authstack.Stack, logger *slog.Logger) *Harness {
	if logger == nil {
		logger = slog.Default()
	}
	return &Harness{
		ResolverID:       resolverID,
		BinaryPath:       binaryPath,
		Args:             args,
		ControlAddr:      controlAddr,
		WarmupWindow:     5 * time.Second,
		ResponseDeadline: 1500 * time.Millisecond,
		CacheCheckWindow: 500 * time.Millisecond,
		Logger:           logger,
		Stack:            stack,
		state:            StateIdle,
	}
}

func (h *Harness) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// State reports the harness's current position in the machine.
func (h *Harness) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Frontier returns the resolver's coverage frontier, the instance the
// scheduler's corpus admission step scores every case's raw delta against.
// Valid only after Start has completed.
func (h *Harness) Frontier() *coverage.Frontier {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frontier
}

// CacheDirty reports whether a cache check has been issued to the resolver
// since its last respawn. Ordinary cases run back to back against the same
// process, isolated by their NNNN.fuzz. namespaces; only a case that
// probed the cache directly forces a respawn before the next case.
func (h *Harness) CacheDirty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cacheDirty
}

// markCacheDirty flags the resolver for respawn when c is about to issue
// cache-check queries; a case without cache checks leaves the process
// reusable.
func (h *Harness) markCacheDirty(c fuzzcase.Case) {
	if len(c.CacheChecks) == 0 {
		return
	}
	h.mu.Lock()
	h.cacheDirty = true
	h.mu.Unlock()
}

// Start launches the resolver subprocess and blocks until its control
// socket accepts the HELLO handshake or WarmupWindow elapses.
func (h *Harness) Start(ctx context.Context) error {
	h.setState(StateStarting)

	cmd := exec.CommandContext(ctx, h.BinaryPath, h.Args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		h.setState(StateFaulted)
		return fmt.Errorf("%w: %v", ErrStartupFailed, err)
	}

	deadline := time.Now().Add(h.WarmupWindow)
	var cov *CovClient
	var err error
	for {
		cov, err = DialCovClient(h.ControlAddr, 200*time.Millisecond)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			cmd.Process.Kill()
			h.setState(StateFaulted)
			return fmt.Errorf("%w: %v", ErrStartupFailed, err)
		}
		select {
		case <-ctx.Done():
			cmd.Process.Kill()
			h.setState(StateFaulted)
			return fmt.Errorf("%w: %v", ErrStartupFailed, ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}

	h.mu.Lock()
	h.cmd = cmd
	h.cov = cov
	h.frontier = coverage.NewFrontier(cov.BitmapSize)
	h.cacheDirty = false
	h.mu.Unlock()
	h.setState(StateControlConnected)

	if err := h.calibrate(); err != nil {
		return err
	}
	h.setState(StateReady)
	return nil
}

// calibrate resets the resolver's bitmap, lets it idle briefly, then
// records that idle activity as the frontier's background baseline, the
// guard against counting a resolver's own housekeeping as novel coverage.
func (h *Harness) calibrate() error {
	h.mu.Lock()
	cov, frontier := h.cov, h.frontier
	h.mu.Unlock()

	if err := cov.Reset(); err != nil {
		h.setState(StateFaulted)
		return err
	}
	time.Sleep(50 * time.Millisecond)
	raw, err := cov.Snapshot()
	if err != nil {
		h.setState(StateFaulted)
		return err
	}
	frontier.Calibrate(coverage.Bitmap(raw))
	return cov.Reset()
}

// Stop terminates the resolver subprocess and closes its control
// connection, if any.
func (h *Harness) Stop() {
	h.mu.Lock()
	cov := h.cov
	cmd := h.cmd
	h.cov = nil
	h.cmd = nil
	h.mu.Unlock()

	if cov != nil {
		cov.Close()
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
	h.setState(StateIdle)
}

// Respawn stops and restarts the resolver, clearing cacheDirty: the
// respawn-between-cases policy for any resolver whose cache state cannot
// be trusted to have been reset by the previous case alone.
func (h *Harness) Respawn(ctx context.Context) error {
	h.Stop()
	return h.Start(ctx)
}

// RunCase drives one fuzz case through the full state machine: register
// the case's NNNN.fuzz. delegation with the authoritative stack, fire the
// client query, wait for the resolver's reply (or the deadline), replay
// any cache checks, and read back the coverage delta. idx is the case's
// position in its suite, the same index the authoritative stack's
// RegisterCase and the client query's NNNN.fuzz. subdomain both key off.
func (h *Harness) RunCase(ctx context.Context, idx uint32, c fuzzcase.Case) FuzzResult {
	start := time.Now()
	result := FuzzResult{ResolverID: h.ResolverID, CaseID: c.ID}

	h.mu.Lock()
	cov, cmd := h.cov, h.cmd
	h.mu.Unlock()
	if cov == nil || cmd == nil {
		result.Failure = FailureStartupFailed
		return result
	}

	sess, err := h.Stack.RegisterCase(ctx, idx, c.Responses)
	if err != nil {
		h.Logger.Error("harness: register case", "resolver", h.ResolverID, "case", c.ID, "error", err)
		result.Failure = FailureControlProtocol
		return result
	}
	defer h.Stack.ReleaseCase(idx)

	h.setState(StateClientQuerySent)
	resp, err := exchange(ctx, c.ClientQuery, h.ResponseDeadline)

	if err != nil {
		if errors.Is(err, ErrCodecError) {
			result.Failure = FailureCodecError
		} else {
			result.Failure = FailureResolverCrash
		}
		result.WallClock = time.Since(start)
		return result
	}
	h.setState(StateAnsweringResolverQueries)

	if resp == nil {
		result.Failure = FailureResponseDeadline
	} else {
		result.Response = resp
		h.setState(StateClientResponseReceived)
	}

	h.setState(StateCacheChecks)
	h.markCacheDirty(c)
	result.CacheCheckResponses = make([]*dnswire.Message, len(c.CacheChecks))
	for i, q := range c.CacheChecks {
		cr, cerr := exchange(ctx, q, h.CacheCheckWindow)
		if cerr == nil {
			result.CacheCheckResponses[i] = cr
		}
	}

	result.FuzzeeQueries = sess.QueryLog()

	h.setState(StateCoverageRead)
	raw, err := cov.Snapshot()
	if err != nil {
		result.Failure = FailureControlProtocol
		result.WallClock = time.Since(start)
		return result
	}
	// CoverageDelta carries the raw, unclassified snapshot: scoring against
	// the frontier happens once, in the scheduler's corpus admission step,
	// not here, so a case that never reaches the corpus doesn't pay for a
	// Score call whose result nobody uses.
	result.CoverageDelta = coverage.Bitmap(raw)
	if err := cov.Reset(); err != nil {
		result.Failure = FailureControlProtocol
	}

	if cmd.Process != nil {
		result.ResourceUsage = sampleResourceUsage(int32(cmd.Process.Pid))
	}

	h.setState(StateDone)
	result.WallClock = time.Since(start)
	return result
}
