package index

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
)

var chunkSeq atomic.Uint64

// NewChunkID derives a collision-resistant chunk id from the subgoal id, a
// process-wide monotonic counter and a random suffix. Wall-clock time is
// deliberately not part of the id: rapid ingestion within the same subgoal
// must never collide.
func NewChunkID(subgoalID string) string {
	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		// Counter alone still guarantees in-process uniqueness.
		return fmt.Sprintf("%s-%d", subgoalID, chunkSeq.Add(1))
	}
	return fmt.Sprintf("%s-%d-%s", subgoalID, chunkSeq.Add(1), hex.EncodeToString(suffix[:]))
}
