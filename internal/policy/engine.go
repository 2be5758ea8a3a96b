package policy

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine is the evaluation front-end. One Engine is bound to a single
// project directory; process-wide singletons are a host concern, not
// this package's.
type Engine struct {
	projectDir string
	snapshot   atomic.Pointer[PolicySet]

	watcher  *fileWatcher
	debounce time.Duration

	reloadMu sync.Mutex // serializes concurrent Reload/destroy calls
	closed   atomic.Bool

	decisions *prometheus.CounterVec
}

// EngineOption configures optional Engine behavior.
type EngineOption func(*Engine)

// WithDebounce overrides the hot-reload debounce window (default 250ms,
// the minimum the design allows).
func WithDebounce(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.debounce = d
		}
	}
}

// NewEngine constructs an Engine for projectDir, performs the initial
// load, and starts the hot-reload watcher. A missing policy file is not
// an error: the engine starts with an empty policy set and universally
// allows.
func NewEngine(projectDir string, opts ...EngineOption) *Engine {
	e := &Engine{
		projectDir: projectDir,
		debounce:   250 * time.Millisecond,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loki_policy_decisions_total",
			Help: "Policy decisions by enforcement point and outcome.",
		}, []string{"point", "decision"}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.snapshot.Store(emptyPolicySet())
	e.reloadLocked()

	watcher, err := newFileWatcher(e.projectDir, e.debounce, e.reloadLocked)
	if err != nil {
		slog.Warn("policy hot-reload watcher unavailable", "project_dir", e.projectDir, "error", err)
	}
	e.watcher = watcher

	return e
}

// Collector exposes the engine's decision counters for the host to
// register with its own prometheus.Registry.
func (e *Engine) Collector() prometheus.Collector {
	return e.decisions
}

func (e *Engine) reloadLocked() {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	result := loadPolicyFile(e.projectDir)
	e.snapshot.Store(&PolicySet{entries: result.entries, validationErrors: result.errors})
}

// Reload forces a synchronous re-read of the policy file.
func (e *Engine) Reload() {
	e.reloadLocked()
}

// Destroy tears down the file observer. After Destroy, Evaluate still
// works against the last snapshot (it has no suspension points to
// strand), but no further reloads happen.
func (e *Engine) Destroy() {
	if e.closed.Swap(true) {
		return
	}
	if e.watcher != nil {
		e.watcher.stop()
	}
}

// HasPolicies reports whether at least one category has a valid entry.
func (e *Engine) HasPolicies() bool {
	return e.snapshot.Load().HasPolicies()
}

// GetValidationErrors returns every error/warning from the last load, as
// formatted strings.
func (e *Engine) GetValidationErrors() []string {
	snap := e.snapshot.Load()
	out := make([]string, len(snap.validationErrors))
	for i, v := range snap.validationErrors {
		out[i] = v.String()
	}
	return out
}

// GetApprovalGates returns the approval_gates category, unevaluated.
func (e *Engine) GetApprovalGates() []GateConfig {
	snap := e.snapshot.Load()
	entries := snap.entries[CategoryApprovalGates]
	out := make([]GateConfig, len(entries))
	for i, ent := range entries {
		out[i] = ent.gateConfig()
	}
	return out
}

// GetResourcePolicies returns the resource category's entries, for hosts
// that pre-configure budgets from policy.
func (e *Engine) GetResourcePolicies() []Entry {
	snap := e.snapshot.Load()
	return append([]Entry(nil), snap.entries[string(Resource)]...)
}

// Evaluate applies every entry registered for point, in declaration
// order, against ctx, short-circuiting on the first non-ALLOW. Unknown
// points and empty categories always yield ALLOW. Evaluate never panics;
// it takes a single reference to the current snapshot so it observes one
// consistent view even across a concurrent reload.
func (e *Engine) Evaluate(point EnforcementPoint, ctx map[string]any) DecisionRecord {
	snap := e.snapshot.Load()
	record := e.evaluate(snap, point, ctx)
	e.decisions.WithLabelValues(string(point), string(record.Decision)).Inc()
	logDecision(point, record)
	return record
}

func (e *Engine) evaluate(snap *PolicySet, point EnforcementPoint, ctx map[string]any) DecisionRecord {
	switch point {
	case PreExecution, PreDeployment, Resource, Data:
	default:
		return allowRecord()
	}

	for _, entry := range snap.entries[string(point)] {
		violated, detail, action := checkEntry(point, entry, ctx)
		if !violated {
			continue
		}
		reason := fmt.Sprintf("%s: %s", entry.Name, detail)
		decision := Deny
		if action == ActionRequireApproval {
			decision = RequireApproval
		}
		return DecisionRecord{
			Allowed:  false,
			Decision: decision,
			Reason:   &reason,
			Violations: []PolicyViolation{{
				EntryName: entry.Name,
				Category:  string(point),
				Details:   detail,
			}},
		}
	}
	return allowRecord()
}

// checkEntry runs the single check appropriate to an entry's category and
// returns whether it violated, a human-readable detail, and the action to
// apply if so.
func checkEntry(point EnforcementPoint, entry Entry, ctx map[string]any) (violated bool, detail string, action EntryAction) {
	switch point {
	case PreExecution:
		if entry.compiledRule == nil {
			// Unrecognized rule: the loader already recorded a warning;
			// the entry always allows.
			return false, "", entry.Action
		}
		v, d := entry.compiledRule.check(ctx)
		return v, d, entry.Action

	case PreDeployment:
		return checkGates(entry, ctx)

	case Resource:
		return checkResource(entry, ctx)

	case Data:
		return checkData(entry, ctx)
	}
	return false, "", ""
}

func checkGates(entry Entry, ctx map[string]any) (bool, string, EntryAction) {
	passed, _ := ctx["passed_gates"].([]any)
	passedSet := make(map[string]bool, len(passed))
	for _, p := range passed {
		if s, ok := p.(string); ok {
			passedSet[s] = true
		}
	}
	var missing []string
	for _, g := range entry.Gates {
		if !passedSet[g] {
			missing = append(missing, g)
		}
	}
	if len(missing) > 0 {
		return true, fmt.Sprintf("missing gates: %v", missing), ActionDeny
	}
	return false, "", ""
}

func checkResource(entry Entry, ctx map[string]any) (bool, string, EntryAction) {
	action := entry.Action
	if action == "" {
		action = ActionDeny
	}

	if entry.MaxTokens != nil {
		consumed, ok := toInt(ctx["tokens_consumed"])
		if ok && consumed > *entry.MaxTokens {
			detail := fmt.Sprintf("tokens_consumed=%d exceeds max_tokens=%d", consumed, *entry.MaxTokens)
			exceedAction := action
			if entry.OnExceed == OnExceedRequireApproval {
				exceedAction = ActionRequireApproval
			} else if entry.OnExceed == OnExceedShutdown {
				exceedAction = ActionDeny
			}
			return true, detail, exceedAction
		}
	}

	if entry.Providers != nil && len(*entry.Providers) > 0 {
		provider, _ := ctx["provider"].(string)
		allowed := false
		for _, p := range *entry.Providers {
			if p == provider {
				allowed = true
				break
			}
		}
		if !allowed {
			return true, fmt.Sprintf("provider %q is not in the allow-list", provider), action
		}
	}

	return false, "", ""
}

func checkData(entry Entry, ctx map[string]any) (bool, string, EntryAction) {
	content, _ := ctx["content"].(string)
	findings := scanContent(entry.Type, content, entry.compiledPatterns...)
	if len(findings) == 0 {
		return false, "", ""
	}
	action := entry.Action
	if action == "" {
		action = ActionDeny
	}
	return true, fmt.Sprintf("%s matched %d finding(s) (e.g. %s)", entry.Type, len(findings), findings[0].PatternID), action
}

func logDecision(point EnforcementPoint, record DecisionRecord) {
	attrs := []any{"point", point, "decision", record.Decision}
	if record.Reason != nil {
		attrs = append(attrs, "reason", *record.Reason)
	}
	switch record.Decision {
	case Deny:
		slog.Warn("policy decision", attrs...)
	case RequireApproval:
		slog.Info("policy decision", attrs...)
	default:
		slog.Debug("policy decision", attrs...)
	}
}
