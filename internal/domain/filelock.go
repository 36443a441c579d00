package domain

import "time"

// LockMode mirrors FileMode but names the active-lease vocabulary used by
// granted leases rather than a task's declared dependencies.
type LockMode = FileMode

// FileLock is an active lease row granting a worker access to a path.
type FileLock struct {
	Path         string    `json:"path"`
	HolderWorker string    `json:"holder_worker_id"`
	TaskStepID   string    `json:"task_step_id"`
	Mode         LockMode  `json:"mode"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Compatible reports whether a requester in mode `want` may be granted
// access to a path currently held in mode `have`: only read-after-read is
// compatible; every other pairing blocks.
func Compatible(have, want LockMode) bool {
	return have == FileRead && want == FileRead
}
