package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// JobStatus represents the lifecycle state of a generation job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobTimeout   JobStatus = "timeout"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobTimeout
}

// GenerationJob tracks one submission to the generation service.
type GenerationJob struct {
	ID               string        `json:"id"`
	RemoteID         string        `json:"remote_id,omitempty"`
	Status           JobStatus     `json:"status"`
	SubmittedPayload string        `json:"submitted_payload"`
	AttachedAssetIDs []string      `json:"attached_asset_ids,omitempty"`
	Polls            int           `json:"polls"`
	Elapsed          time.Duration `json:"elapsed"`
	Error            string        `json:"error,omitempty"`
	Usage            TokenUsage    `json:"usage"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Transition moves the job forward. Backward moves and moves out of a
// terminal state are rejected; failed and timeout may be reached from any
// live state.
func (j *GenerationJob) Transition(to JobStatus) error {
	if j.Status.Terminal() {
		return eris.Errorf("job %s: already %s, cannot move to %s", j.ID, j.Status, to)
	}
	switch to {
	case JobRunning:
		if j.Status != JobPending {
			return eris.Errorf("job %s: cannot move from %s to running", j.ID, j.Status)
		}
	case JobCompleted:
		if j.Status != JobRunning {
			return eris.Errorf("job %s: cannot move from %s to completed", j.ID, j.Status)
		}
	case JobFailed:
		// A rejected submission fails before it ever runs.
	case JobTimeout:
	default:
		return eris.Errorf("job %s: invalid target status %s", j.ID, to)
	}
	j.Status = to
	return nil
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
}

// Add accumulates another usage into this one.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
}
