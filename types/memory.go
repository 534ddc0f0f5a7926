package types

import "time"

// WritePolicy controls how concurrent writes to the same key resolve.
type WritePolicy string

const (
	// PolicyLastWriteWins commits every serialized write in arrival order.
	// A concurrent overwrite is logged as a conflict, not raised.
	PolicyLastWriteWins WritePolicy = "last_write_wins"

	// PolicyStrict rejects a write whose expected version is stale with
	// a MEMORY_CONFLICT error.
	PolicyStrict WritePolicy = "strict"
)

// MemoryEntry is one committed version of a shared-memory key.
// Versions for a given key strictly increase by 1 per successful write.
type MemoryEntry struct {
	Key       string    `json:"key"`
	Value     any       `json:"value,omitempty"`
	Writer    string    `json:"writer"`
	Version   int64     `json:"version"`
	Tombstone bool      `json:"tombstone,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
