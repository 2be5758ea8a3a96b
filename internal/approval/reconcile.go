package approval

import (
	"path/filepath"
	"time"

	"github.com/loki-mode/policyengine/internal/fswatch"
)

// reconcileWindow is the debounce window for noticing an externally
// applied resolution (e.g. from the `approvals` CLI editing
// approvals.json directly, per spec.md §1's no-HTTP-layer design).
const reconcileWindow = 250 * time.Millisecond

func isStateFileEvent(name string) bool {
	return filepath.Base(name) == "approvals.json"
}

// watchExternalResolutions starts watching <projectDir>/.loki/state for
// edits made by another process — the `approvals` CLI resolves requests
// by rewriting approvals.json directly rather than calling back into this
// Manager's in-process API, so the owning process must notice the file
// change and complete the matching in-memory future itself.
func (m *Manager) watchExternalResolutions() *fswatch.Watcher {
	dir := filepath.Join(m.projectDir, ".loki", "state")
	w, err := fswatch.New(dir, reconcileWindow, isStateFileEvent, m.reconcileExternal)
	if err != nil {
		return nil
	}
	return w
}

// reconcileExternal reads the persisted state and, for any request this
// Manager still has pending in memory but that the file now shows
// resolved, completes that request's future and stops its timer. It never
// treats a request still pending on disk as anything but pending — only
// the owning process's timers decide when a request times out.
func (m *Manager) reconcileExternal() {
	st := loadState(m.projectDir)
	resolved := make(map[string]*Request, len(st.Audit))
	for _, r := range st.Audit {
		resolved[r.ID] = r
	}

	m.mu.Lock()
	var toComplete []*pendingEntry
	var toCompleteReq []*Request
	for id, entry := range m.pending {
		r, ok := resolved[id]
		if !ok || entry.done {
			continue
		}
		entry.done = true
		entry.timer.Stop()
		delete(m.pending, id)
		m.metrics.pending.Dec()
		toComplete = append(toComplete, entry)
		toCompleteReq = append(toCompleteReq, r)
	}
	if len(toComplete) > 0 {
		// The CLI already wrote these entries into the on-disk audit
		// trail, correctly chained against its view of that trail; adopt
		// it verbatim rather than re-chain against our possibly-stale
		// in-memory copy.
		m.audit = st.Audit
	}
	m.mu.Unlock()

	for i, entry := range toComplete {
		r := toCompleteReq[i]
		approved := r.Resolution != nil && *r.Resolution == ResolutionAllow
		entry.result <- Outcome{Approved: approved, Method: "manual", Reason: r.Reason}
	}
}
