package approval

import (
	"context"
	"testing"
	"time"

	"github.com/loki-mode/policyengine/internal/policy"
)

type fakeGates struct {
	gates []policy.GateConfig
}

func (f fakeGates) GetApprovalGates() []policy.GateConfig { return f.gates }

func TestRequestApprovalNoGateAutoApproves(t *testing.T) {
	m := New(t.TempDir(), fakeGates{})
	defer m.Destroy()

	pending, err := m.RequestApproval("deploy", nil)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	outcome, err := pending.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !outcome.Approved || outcome.Method != "auto" {
		t.Fatalf("got %+v, want auto-approved", outcome)
	}
}

func TestManualResolutionBeatsTimeout(t *testing.T) {
	m := New(t.TempDir(), fakeGates{gates: []policy.GateConfig{
		{Name: "release-gate", Phase: "release", TimeoutMinutes: 30},
	}})
	defer m.Destroy()

	pending, err := m.RequestApproval("release", map[string]any{"version": "1.0.0"})
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	if !m.ResolveApproval(pending.ID, true, "LGTM") {
		t.Fatal("expected ResolveApproval to succeed")
	}

	outcome, err := pending.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !outcome.Approved || outcome.Method != "manual" || outcome.Reason != "LGTM" {
		t.Fatalf("got %+v, want manual approval with reason LGTM", outcome)
	}

	if m.ResolveApproval(pending.ID, false, "too late") {
		t.Fatal("expected second ResolveApproval to fail")
	}
}

func TestFailClosedTimeout(t *testing.T) {
	m := New(t.TempDir(), fakeGates{gates: []policy.GateConfig{
		{Name: "deploy-gate", Phase: "deploy", TimeoutMinutes: 0.0005}, // ~30ms
	}})
	defer m.Destroy()

	pending, err := m.RequestApproval("deploy", nil)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := pending.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if outcome.Approved || outcome.Method != "timeout" {
		t.Fatalf("got %+v, want fail-closed timeout", outcome)
	}
}

func TestAutoApproveOnTimeoutInvertsOutcome(t *testing.T) {
	m := New(t.TempDir(), fakeGates{gates: []policy.GateConfig{
		{Name: "deploy-gate", Phase: "deploy", TimeoutMinutes: 0.0005, AutoApproveOnTimeout: true},
	}})
	defer m.Destroy()

	pending, err := m.RequestApproval("deploy", nil)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := pending.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !outcome.Approved || outcome.Method != "timeout" {
		t.Fatalf("got %+v, want auto-approved timeout", outcome)
	}
}

func TestDestroyStrandsNoWaiter(t *testing.T) {
	m := New(t.TempDir(), fakeGates{gates: []policy.GateConfig{
		{Name: "release-gate", Phase: "release", TimeoutMinutes: 30},
	}})

	pending, err := m.RequestApproval("release", nil)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	done := make(chan Outcome, 1)
	go func() {
		outcome, _ := pending.Wait(context.Background())
		done <- outcome
	}()

	m.Destroy()

	select {
	case outcome := <-done:
		if outcome.Approved || outcome.Method != "timeout" || outcome.Reason != "shutdown" {
			t.Fatalf("got %+v, want fail-closed shutdown outcome", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was stranded after Destroy")
	}
}

func TestResolveApprovalUnknownID(t *testing.T) {
	m := New(t.TempDir(), fakeGates{})
	defer m.Destroy()

	if m.ResolveApproval("apr-does-not-exist", true, "") {
		t.Fatal("expected ResolveApproval to return false for unknown id")
	}
}

func TestAuditTrailPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, fakeGates{gates: []policy.GateConfig{
		{Name: "release-gate", Phase: "release", TimeoutMinutes: 30},
	}})

	pending, err := m.RequestApproval("release", nil)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	m.ResolveApproval(pending.ID, true, "ok")
	m.Destroy()

	m2 := New(dir, fakeGates{})
	defer m2.Destroy()

	trail := m2.GetAuditTrail()
	if len(trail) != 1 || trail[0].ID != pending.ID {
		t.Fatalf("expected audit trail to round-trip, got %+v", trail)
	}
	if idx := m2.VerifyAuditChain(); idx != -1 {
		t.Fatalf("expected intact audit chain, broken at %d", idx)
	}
}

func TestBlockedWebhookRecordsAuditEntryWithoutResolvingRequest(t *testing.T) {
	m := New(t.TempDir(), fakeGates{gates: []policy.GateConfig{
		{Name: "release-gate", Phase: "release", TimeoutMinutes: 30, Webhook: "http://127.0.0.1/hook"},
	}})
	defer m.Destroy()

	pending, err := m.RequestApproval("release", nil)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var trail []*Request
	for time.Now().Before(deadline) {
		trail = m.GetAuditTrail()
		if len(trail) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(trail) != 1 {
		t.Fatalf("expected one audit entry recording the dropped webhook, got %+v", trail)
	}
	if trail[0].Resolution == nil || *trail[0].Resolution != ResolutionWebhookDropped {
		t.Fatalf("resolution = %v, want WEBHOOK_DROPPED", trail[0].Resolution)
	}
	if trail[0].ID != pending.ID+"-webhook-dropped" {
		t.Fatalf("audit entry id = %q, want suffix of request id", trail[0].ID)
	}

	if len(m.GetPendingRequests()) != 1 {
		t.Fatal("expected the approval request itself to remain pending after a blocked webhook")
	}
}

func TestCancelRemovesPendingAndStopsTimer(t *testing.T) {
	m := New(t.TempDir(), fakeGates{gates: []policy.GateConfig{
		{Name: "release-gate", Phase: "release", TimeoutMinutes: 30},
	}})
	defer m.Destroy()

	pending, err := m.RequestApproval("release", nil)
	if err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pending.Wait(ctx); err == nil {
		t.Fatal("expected Wait to return an error after cancellation")
	}

	if len(m.GetPendingRequests()) != 0 {
		t.Fatal("expected cancellation to remove the pending entry")
	}
}
