package domain

import "time"

// DefaultStreamKey names the single transaction sync stream.
const DefaultStreamKey = "transaction-sync"

// SyncWatermark is the persisted cursor of a sync stream.
// LastSyncTime is the exclusive upper bound of already-synced time.
type SyncWatermark struct {
	StreamKey    string
	LastSyncTime time.Time

	// Single-flight ownership. RunID is empty when no run holds the stream.
	RunID        string
	RunStartedAt time.Time
	RunExpiresAt time.Time
}

// Epoch is the watermark of a stream that has never synced.
var Epoch = time.Unix(0, 0).UTC()
