package trigger

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/onstaq/automation-engine/internal/automation"
)

// fingerprint hashes a canonical per-kind string ("item.created:<itemId>",
// "item.updated:<itemId>:<historyEntryId>", ...) into a short dedup key
// stored under TriggerState.LastSeenData so restarts don't replay the same
// firing twice.
func fingerprint(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:16]
}

func seen(state *automation.TriggerState, fp string) bool {
	v, ok := state.LastSeenData[fp]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func markSeen(state *automation.TriggerState, fp string) {
	state.LastSeenData[fp] = true
}
