package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loki-mode/policyengine/internal/approval"
)

// writePendingState writes a single pending request directly to
// approvals.json, mirroring the on-disk shape the engine itself
// produces (see internal/approval/types.go's state/Request JSON tags),
// so these tests exercise the CLI helpers exactly as a live engine's
// file would appear to an operator running `approvals` alongside it.
func writePendingState(t *testing.T, dir string, id string) {
	t.Helper()
	stateDir := filepath.Join(dir, ".loki", "state")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		t.Fatal(err)
	}

	doc := map[string]any{
		"pending": []map[string]any{
			{
				"id":         id,
				"phase":      "pre_deployment",
				"gate_name":  "ops-review",
				"context":    map[string]any{"environment": "production"},
				"created_at": time.Now().Format(time.RFC3339Nano),
			},
		},
		"audit": []any{},
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stateDir, "approvals.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestApproveOnDiskMovesRequestToAudit(t *testing.T) {
	dir := t.TempDir()
	writePendingState(t, dir, "apr-test1")

	if _, err := approval.ResolveOnDisk(dir, "apr-test1", true, operatorReason("looks fine")); err != nil {
		t.Fatalf("ResolveOnDisk: %v", err)
	}

	if pending := approval.ListPending(dir); len(pending) != 0 {
		t.Fatalf("pending = %d, want 0", len(pending))
	}
	audit := approval.ListAudit(dir)
	if len(audit) != 1 {
		t.Fatalf("audit = %d, want 1", len(audit))
	}
	if audit[0].Resolution == nil || *audit[0].Resolution != approval.ResolutionAllow {
		t.Fatalf("resolution = %v, want ALLOW", audit[0].Resolution)
	}
	if idx := approval.VerifyAuditChainOnDisk(dir); idx != -1 {
		t.Fatalf("audit chain broken at %d", idx)
	}
}

func TestDenyOnDiskRecordsReason(t *testing.T) {
	dir := t.TempDir()
	writePendingState(t, dir, "apr-test2")

	if _, err := approval.ResolveOnDisk(dir, "apr-test2", false, "not justified"); err != nil {
		t.Fatalf("ResolveOnDisk: %v", err)
	}

	audit := approval.ListAudit(dir)
	if len(audit) != 1 || audit[0].Resolution == nil || *audit[0].Resolution != approval.ResolutionDeny {
		t.Fatalf("audit = %+v, want one DENY entry", audit)
	}
	if audit[0].Reason != "not justified" {
		t.Fatalf("reason = %q, want %q", audit[0].Reason, "not justified")
	}
}

func TestCancelOnDiskDeniesWithReason(t *testing.T) {
	dir := t.TempDir()
	writePendingState(t, dir, "apr-test3")

	if _, err := approval.CancelOnDisk(dir, "apr-test3", "Cancelled via CLI"); err != nil {
		t.Fatalf("CancelOnDisk: %v", err)
	}

	audit := approval.ListAudit(dir)
	if len(audit) != 1 || audit[0].Resolution == nil || *audit[0].Resolution != approval.ResolutionDeny {
		t.Fatalf("audit = %+v, want one DENY entry", audit)
	}
}

func TestResolveOnDiskUnknownID(t *testing.T) {
	dir := t.TempDir()
	if _, err := approval.ResolveOnDisk(dir, "apr-does-not-exist", true, "x"); err == nil {
		t.Fatal("expected error resolving unknown id")
	}
}

func TestShowFindsPendingRequest(t *testing.T) {
	dir := t.TempDir()
	writePendingState(t, dir, "apr-test4")

	req, ok := approval.FindPending(dir, "apr-test4")
	if !ok {
		t.Fatal("expected to find pending request")
	}
	if req.GateName != "ops-review" {
		t.Fatalf("gate name = %q, want ops-review", req.GateName)
	}
}
