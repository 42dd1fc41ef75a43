package types

import "time"

// CrashMessage describes one unique crash artifact in the crash directory
type CrashMessage struct {
	RunID       string    `json:"run_id"`
	Target      string    `json:"target"`
	Fingerprint string    `json:"fingerprint"`       // hex xxhash64 of the crashing input
	CrashFile   string    `json:"crash_file"`        // path to the artifact on local filesystem
	SeedID      string    `json:"seed_id,omitempty"` // empty if another process wrote the artifact
	FoundAt     time.Time `json:"found_at"`
}
