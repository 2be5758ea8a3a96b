package approval

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loki-mode/policyengine/internal/fswatch"
	"github.com/loki-mode/policyengine/internal/policy"
)

// GateProvider is the slice of policy.Engine the Manager depends on: the
// configured approval_gates, unevaluated. Depending on the narrow
// interface rather than *policy.Engine keeps the two packages decoupled
// and testable independently.
type GateProvider interface {
	GetApprovalGates() []policy.GateConfig
}

// pendingEntry is the in-memory bookkeeping for one outstanding request.
// autoApproveOnTimeout and webhook are captured from the gate config at
// request time, so a concurrent policy reload never changes the outcome
// of a request already in flight.
type pendingEntry struct {
	req                  *Request
	timer                *time.Timer
	result               chan Outcome
	autoApproveOnTimeout bool
	done                 bool
}

// Manager is the Approval Gate Manager: it bridges REQUIRE_APPROVAL
// decisions to human/system resolution, persists state to
// <project>/.loki/state/approvals.json, and fails closed on timeout.
type Manager struct {
	projectDir string
	gates      GateProvider
	metrics    *metrics

	mu      sync.Mutex
	pending map[string]*pendingEntry
	audit   []*Request
	closed  bool

	// stateWatcher notices resolutions applied directly to
	// approvals.json by a separate `approvals` CLI process and
	// reconciles them into this Manager's in-memory pending map. nil if
	// the watch could not be established (e.g. the state directory is
	// not yet creatable); reconciliation is then unavailable but
	// RequestApproval/ResolveApproval still work against this process's
	// own API.
	stateWatcher *fswatch.Watcher
}

// New constructs a Manager for projectDir. Any pending requests found in
// a prior run's persisted state are resolved immediately as timeouts —
// their timers died with the previous process, and spec.md leaves
// "pending items become timeouts on resume" as the implementer's choice.
func New(projectDir string, gates GateProvider) *Manager {
	m := &Manager{
		projectDir: projectDir,
		gates:      gates,
		metrics:    newMetrics(),
		pending:    make(map[string]*pendingEntry),
	}

	st := loadState(projectDir)
	m.audit = st.Audit
	for _, stale := range st.Pending {
		now := time.Now()
		res := ResolutionTimeout
		stale.ResolvedAt = &now
		stale.Resolution = &res
		stale.Reason = "pending at process start, resolved as timeout on resume"
		m.audit = chainAppend(m.audit, stale)
		slog.Warn("resolving stale pending approval from prior run as timeout", "approval_id", stale.ID, "phase", stale.Phase)
	}
	if len(st.Pending) > 0 {
		m.persistLocked()
	}

	m.stateWatcher = m.watchExternalResolutions()
	return m
}

// Collector exposes the manager's prometheus instruments for the host to
// register.
func (m *Manager) Collector() prometheus.Collector {
	return multiCollector{collectors: m.metrics.collectors()}
}

// HasGate reports whether an approval_gates entry is configured for phase.
func (m *Manager) HasGate(phase string) bool {
	return m.findGate(phase) != nil
}

// FindGate returns the gate configured for phase, or nil.
func (m *Manager) FindGate(phase string) *policy.GateConfig {
	return m.findGate(phase)
}

func (m *Manager) findGate(phase string) *policy.GateConfig {
	for _, g := range m.gates.GetApprovalGates() {
		if g.Phase == phase {
			gate := g
			return &gate
		}
	}
	return nil
}

// Pending is the future RequestApproval returns: callers Wait on it for
// the eventual Outcome.
type Pending struct {
	ID     string
	result <-chan Outcome
	cancel func()
}

// Wait blocks until the request resolves (manual decision, timeout, or
// manager Destroy) or ctx is done. Cancelling ctx also removes the
// pending entry and stops its timer, per spec.md §5.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case outcome, ok := <-p.result:
		if !ok {
			return Outcome{}, errors.New("approval: result channel closed without an outcome")
		}
		return outcome, nil
	case <-ctx.Done():
		if p.cancel != nil {
			p.cancel()
		}
		return Outcome{}, ctx.Err()
	}
}

func resolvedPending(outcome Outcome) *Pending {
	ch := make(chan Outcome, 1)
	ch <- outcome
	return &Pending{result: ch}
}

// RequestApproval creates (or auto-resolves) an approval request for
// phase. If no gate is configured for phase, it resolves immediately with
// {approved: true, method: "auto"}. Otherwise it persists the request,
// fires the gate's webhook asynchronously if configured, starts a timer
// for the gate's timeout, and returns a Pending the caller can Wait on.
func (m *Manager) RequestApproval(phase string, ctx map[string]any) (*Pending, error) {
	gate := m.findGate(phase)
	if gate == nil {
		return resolvedPending(Outcome{Approved: true, Method: "auto"}), nil
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}

	req := &Request{
		ID:        id,
		Phase:     phase,
		GateName:  gate.Name,
		Context:   ctx,
		CreatedAt: time.Now(),
	}

	entry := &pendingEntry{
		req:                  req,
		result:               make(chan Outcome, 1),
		autoApproveOnTimeout: gate.AutoApproveOnTimeout,
	}

	timeout := gate.TimeoutMinutes
	duration := time.Duration(timeout * float64(time.Minute))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("approval: manager destroyed")
	}
	m.pending[id] = entry
	entry.timer = time.AfterFunc(duration, func() { m.timeout(id) })
	m.metrics.pending.Inc()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	saveState(m.projectDir, snapshot)
	slog.Info("approval requested", "approval_id", id, "phase", phase, "gate", gate.Name, "timeout_minutes", timeout)

	if gate.Webhook != "" {
		go sendWebhook(gate.Webhook, req, func(reason string) {
			slog.Warn("approval webhook dropped", "approval_id", id, "reason", reason)
			m.recordWebhookDropped(req, reason)
		})
	}

	return &Pending{
		ID:     id,
		result: entry.result,
		cancel: func() { m.cancel(id) },
	}, nil
}

// ResolveApproval marks id resolved by a human/system decision. It
// returns false if id is unknown or already resolved — a resolved
// request cannot be re-resolved.
func (m *Manager) ResolveApproval(id string, approved bool, reason string) bool {
	m.mu.Lock()
	entry, ok := m.pending[id]
	if !ok || entry.done {
		m.mu.Unlock()
		return false
	}
	entry.done = true
	entry.timer.Stop()
	delete(m.pending, id)

	now := time.Now()
	res := ResolutionDeny
	if approved {
		res = ResolutionAllow
	}
	entry.req.ResolvedAt = &now
	entry.req.Resolution = &res
	entry.req.Reason = reason
	m.audit = chainAppend(m.audit, entry.req)

	m.metrics.pending.Dec()
	m.metrics.resolved.WithLabelValues("manual", approvedLabel(approved)).Inc()
	m.metrics.latency.Observe(now.Sub(entry.req.CreatedAt).Seconds())
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	saveState(m.projectDir, snapshot)
	slog.Info("approval resolved", "approval_id", id, "approved", approved, "reason", reason)

	entry.result <- Outcome{Approved: approved, Method: "manual", Reason: reason}
	return true
}

// recordWebhookDropped appends an audit entry noting that req's webhook
// notification was never sent, per spec.md §4.5/§7: the drop is silent
// to the caller (the approval itself stays pending) but must still be
// visible to an operator reading the audit trail. The entry is keyed
// off req's id with a suffix so it never collides with req's own
// eventual resolution entry in the hash chain.
func (m *Manager) recordWebhookDropped(req *Request, reason string) {
	now := time.Now()
	res := ResolutionWebhookDropped
	note := &Request{
		ID:         req.ID + "-webhook-dropped",
		Phase:      req.Phase,
		GateName:   req.GateName,
		CreatedAt:  now,
		ResolvedAt: &now,
		Resolution: &res,
		Reason:     reason,
	}

	m.mu.Lock()
	m.audit = chainAppend(m.audit, note)
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	saveState(m.projectDir, snapshot)
}

// cancel removes a pending request without recording it in the audit
// trail — it was never resolved, just abandoned by its waiter.
func (m *Manager) cancel(id string) {
	m.mu.Lock()
	entry, ok := m.pending[id]
	if !ok || entry.done {
		m.mu.Unlock()
		return
	}
	entry.done = true
	entry.timer.Stop()
	delete(m.pending, id)
	m.metrics.pending.Dec()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	saveState(m.projectDir, snapshot)
	slog.Info("approval request cancelled by waiter", "approval_id", id)
}

// timeout fires on timer expiry. Fail-closed by default: approved=false
// unless the gate's auto_approve_on_timeout was true at request time.
func (m *Manager) timeout(id string) {
	m.mu.Lock()
	entry, ok := m.pending[id]
	if !ok || entry.done {
		m.mu.Unlock()
		return
	}
	entry.done = true
	delete(m.pending, id)

	now := time.Now()
	res := ResolutionTimeout
	entry.req.ResolvedAt = &now
	entry.req.Resolution = &res
	if entry.autoApproveOnTimeout {
		entry.req.Reason = "timed out, auto-approved by gate configuration"
	} else {
		entry.req.Reason = "timed out"
	}
	m.audit = chainAppend(m.audit, entry.req)

	m.metrics.pending.Dec()
	m.metrics.resolved.WithLabelValues("timeout", approvedLabel(entry.autoApproveOnTimeout)).Inc()
	m.metrics.latency.Observe(now.Sub(entry.req.CreatedAt).Seconds())
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	saveState(m.projectDir, snapshot)
	slog.Warn("approval timed out", "approval_id", id, "approved", entry.autoApproveOnTimeout)

	entry.result <- Outcome{Approved: entry.autoApproveOnTimeout, Method: "timeout"}
}

// GetPendingRequests returns pending requests, oldest first.
func (m *Manager) GetPendingRequests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Request, 0, len(m.pending))
	for _, e := range m.pending {
		out = append(out, e.req.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// GetAuditTrail returns resolved requests in chronological order.
func (m *Manager) GetAuditTrail() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Request, len(m.audit))
	for i, r := range m.audit {
		out[i] = r.clone()
	}
	return out
}

// VerifyAuditChain reports the index of the first broken hash-chain link
// in the audit trail, or -1 if it is intact.
func (m *Manager) VerifyAuditChain() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return verifyChain(m.audit)
}

// Destroy cancels every pending timer and completes every outstanding
// future with {approved: false, method: "timeout", reason: "shutdown"},
// guaranteeing no waiter is stranded on process teardown.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	if m.stateWatcher != nil {
		m.stateWatcher.Stop()
	}

	now := time.Now()
	for id, entry := range m.pending {
		entry.done = true
		entry.timer.Stop()
		res := ResolutionTimeout
		entry.req.ResolvedAt = &now
		entry.req.Resolution = &res
		entry.req.Reason = "shutdown"
		m.audit = chainAppend(m.audit, entry.req)
		m.metrics.pending.Dec()
		m.metrics.resolved.WithLabelValues("timeout", "false").Inc()
		entry.result <- Outcome{Approved: false, Method: "timeout", Reason: "shutdown"}
		delete(m.pending, id)
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	saveState(m.projectDir, snapshot)
}

// snapshotLocked builds the state to persist. Callers must hold m.mu;
// the returned value is handed to saveState after unlocking, per
// spec.md §5's guidance to keep persistence I/O out of the critical
// section.
func (m *Manager) snapshotLocked() *state {
	pending := make([]*Request, 0, len(m.pending))
	for _, e := range m.pending {
		pending = append(pending, e.req.clone())
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })

	audit := make([]*Request, len(m.audit))
	for i, r := range m.audit {
		audit[i] = r.clone()
	}
	return &state{Pending: pending, Audit: audit}
}

func (m *Manager) persistLocked() {
	saveState(m.projectDir, m.snapshotLocked())
}

func approvedLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
