package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// genesisHash seeds the chain for the first entry written into the audit
// trail. Adapted from the teacher's internal/audit/hash.go chaining idea,
// narrowed to the single Request shape this package persists.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// computeHash hashes the canonical JSON of r, excluding Hash itself (the
// field being computed) so the result is stable.
func computeHash(r *Request) string {
	input := struct {
		ID         string      `json:"id"`
		Phase      string      `json:"phase"`
		GateName   string      `json:"gate_name"`
		Context    interface{} `json:"context,omitempty"`
		CreatedAt  string      `json:"created_at"`
		ResolvedAt *string     `json:"resolved_at,omitempty"`
		Resolution *Resolution `json:"resolution,omitempty"`
		Reason     string      `json:"reason,omitempty"`
		PrevHash   string      `json:"prev_hash"`
	}{
		ID:       r.ID,
		Phase:    r.Phase,
		GateName: r.GateName,
		Context:  r.Context,
		CreatedAt: r.CreatedAt.Format("2006-01-02T15:04:05.999999999Z07:00"),
		Reason:    r.Reason,
		PrevHash:  r.PrevHash,
	}
	if r.ResolvedAt != nil {
		s := r.ResolvedAt.Format("2006-01-02T15:04:05.999999999Z07:00")
		input.ResolvedAt = &s
	}
	input.Resolution = r.Resolution

	data, err := json.Marshal(input)
	if err != nil {
		data = []byte(r.ID)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// chainAppend stamps r with PrevHash (the last audit entry's hash, or the
// genesis hash if the trail is empty) and its own Hash, then appends it.
func chainAppend(audit []*Request, r *Request) []*Request {
	prev := genesisHash
	if len(audit) > 0 {
		prev = audit[len(audit)-1].Hash
	}
	r.PrevHash = prev
	r.Hash = computeHash(r)
	return append(audit, r)
}

// verifyChain reports the index of the first broken link, or -1 if the
// whole audit trail's hash chain is intact.
func verifyChain(audit []*Request) int {
	prev := genesisHash
	for i, r := range audit {
		if r.Hash != "" && computeHash(r) != r.Hash {
			return i
		}
		if r.PrevHash != "" && r.PrevHash != prev {
			return i
		}
		if r.Hash != "" {
			prev = r.Hash
		}
	}
	return -1
}
