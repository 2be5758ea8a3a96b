package approval

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// idByteLen is 16 bytes (128 bits), the spec's stated minimum. Approval
// IDs are resolved by external systems over whatever channel carries the
// webhook payload, so a guessable ID would let anyone resolve anyone
// else's pending request; crypto/rand is required here, not math/rand.
const idByteLen = 16

func newID() (string, error) {
	buf := make([]byte, idByteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating approval id: %w", err)
	}
	return "apr-" + hex.EncodeToString(buf), nil
}
