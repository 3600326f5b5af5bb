// Package idhash derives deterministic identifiers.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"ledger-sync/internal/domain"
)

// ComputePageJobID computes a deterministic job id using SHA256.
// Formula: SHA256(parent_run_id|start_ms|end_ms|page)
// Returns hex-encoded hash (64 characters).
func ComputePageJobID(job domain.PageJob) string {
	data := fmt.Sprintf("%s|%d|%d|%d",
		job.ParentRunID,
		job.StartDate.UnixMilli(),
		job.EndDate.UnixMilli(),
		job.Page,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
