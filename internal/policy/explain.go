package policy

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EntryTrace records why a single entry did or did not fire during an
// explained evaluation.
type EntryTrace struct {
	Name     string
	Category string
	Violated bool
	Detail   string
}

// DecisionTrace is an additive, richer companion to DecisionRecord: it
// keeps the per-entry trail so operators can see which entries were
// checked and why the winning one fired. evaluate() itself only ever
// returns a DecisionRecord; Explain is for diagnostics and the approvals
// audit trail.
type DecisionTrace struct {
	TraceID string
	Record  DecisionRecord
	Entries []EntryTrace
}

// Explain evaluates like Evaluate but also returns the full per-entry
// trace, and a human-readable explanation string.
func (e *Engine) Explain(point EnforcementPoint, ctx map[string]any) (DecisionTrace, string) {
	snap := e.snapshot.Load()
	trace := DecisionTrace{TraceID: uuid.New().String()}

	switch point {
	case PreExecution, PreDeployment, Resource, Data:
	default:
		trace.Record = allowRecord()
		return trace, explanation(point, trace)
	}

	for _, entry := range snap.entries[string(point)] {
		violated, detail, action := checkEntry(point, entry, ctx)
		trace.Entries = append(trace.Entries, EntryTrace{
			Name: entry.Name, Category: string(point), Violated: violated, Detail: detail,
		})
		if !violated {
			continue
		}
		reason := fmt.Sprintf("%s: %s", entry.Name, detail)
		decision := Deny
		if action == ActionRequireApproval {
			decision = RequireApproval
		}
		trace.Record = DecisionRecord{
			Allowed:  false,
			Decision: decision,
			Reason:   &reason,
			Violations: []PolicyViolation{{
				EntryName: entry.Name, Category: string(point), Details: detail,
			}},
		}
		e.decisions.WithLabelValues(string(point), string(decision)).Inc()
		logDecision(point, trace.Record)
		return trace, explanation(point, trace)
	}

	trace.Record = allowRecord()
	e.decisions.WithLabelValues(string(point), string(Allow)).Inc()
	logDecision(point, trace.Record)
	return trace, explanation(point, trace)
}

func explanation(point EnforcementPoint, trace DecisionTrace) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", point, trace.Record.Decision)
	for _, et := range trace.Entries {
		mark := "allow"
		if et.Violated {
			mark = "fired"
		}
		fmt.Fprintf(&b, "  entry %q: %s", et.Name, mark)
		if et.Detail != "" {
			fmt.Fprintf(&b, " (%s)", et.Detail)
		}
		b.WriteString("\n")
	}
	if trace.Record.Reason != nil {
		fmt.Fprintf(&b, "reason: %s\n", *trace.Record.Reason)
	}
	return b.String()
}
