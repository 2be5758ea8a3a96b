package approval

import (
	"fmt"
	"time"
)

// The functions in this file are the on-disk counterpart to Manager's
// in-process API, for the `approvals` CLI (cmd/approvals): a short-lived
// process that must never construct a Manager, because Manager.New
// resolves every on-disk pending request as a stale timeout — correct
// for the owning engine process resuming after a crash, wrong for a CLI
// invocation running alongside a live engine. Instead the CLI reads and
// rewrites approvals.json directly; the live engine's Manager notices
// the edit via watchExternalResolutions and reconciles (see
// reconcile.go).

// ListPending returns the requests currently pending on disk, oldest
// first, as recorded by whichever process currently owns them.
func ListPending(projectDir string) []*Request {
	st := loadState(projectDir)
	out := make([]*Request, len(st.Pending))
	for i, r := range st.Pending {
		out[i] = r.clone()
	}
	return out
}

// ListAudit returns the resolved audit trail, in chain order.
func ListAudit(projectDir string) []*Request {
	st := loadState(projectDir)
	out := make([]*Request, len(st.Audit))
	for i, r := range st.Audit {
		out[i] = r.clone()
	}
	return out
}

// FindPending returns the pending request with the given id, if any.
func FindPending(projectDir string, id string) (*Request, bool) {
	st := loadState(projectDir)
	for _, r := range st.Pending {
		if r.ID == id {
			return r.clone(), true
		}
	}
	return nil, false
}

// ResolveOnDisk applies a manual ALLOW/DENY resolution directly to
// approvals.json: it moves the named request from pending to the
// hash-chained audit trail and persists the result. It does not touch
// any other process's in-memory timers — the owning engine, if any, is
// expected to notice the file change and reconcile on its own.
func ResolveOnDisk(projectDir string, id string, approved bool, reason string) (*Request, error) {
	st := loadState(projectDir)

	idx := -1
	for i, r := range st.Pending {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("approval: no pending request with id %q", id)
	}

	req := st.Pending[idx]
	st.Pending = append(st.Pending[:idx], st.Pending[idx+1:]...)

	now := time.Now()
	res := ResolutionDeny
	if approved {
		res = ResolutionAllow
	}
	req.ResolvedAt = &now
	req.Resolution = &res
	req.Reason = reason
	st.Audit = chainAppend(st.Audit, req)

	saveState(projectDir, st)
	return req, nil
}

// CancelOnDisk removes a pending request without a formal resolution,
// recording it in the audit trail as a denial for traceability (an
// operator-cancelled request still leaves a record of what happened to
// it, unlike Manager.cancel's in-process "abandoned by its waiter"
// case, which has no on-disk equivalent to explain the gap otherwise).
func CancelOnDisk(projectDir string, id string, reason string) (*Request, error) {
	return ResolveOnDisk(projectDir, id, false, reason)
}

// VerifyAuditChainOnDisk reports the index of the first broken
// hash-chain link in the persisted audit trail, or -1 if intact.
func VerifyAuditChainOnDisk(projectDir string) int {
	st := loadState(projectDir)
	return verifyChain(st.Audit)
}
