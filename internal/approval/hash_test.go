package approval

import "testing"

func TestChainAppendAndVerify(t *testing.T) {
	var audit []*Request
	for i := 0; i < 3; i++ {
		id, _ := newID()
		audit = chainAppend(audit, &Request{ID: id, Phase: "deploy"})
	}

	if idx := verifyChain(audit); idx != -1 {
		t.Fatalf("expected intact chain, broken at %d", idx)
	}

	audit[1].Reason = "tampered"
	if idx := verifyChain(audit); idx != 1 {
		t.Fatalf("expected tampering at index 1 to be detected, got %d", idx)
	}
}
