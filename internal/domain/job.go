package domain

import "time"

// ProviderKind enumerates the supported provider adapter shapes.
type ProviderKind string

const (
	ProviderSyncImage      ProviderKind = "sync-image"
	ProviderGridAsyncImage ProviderKind = "grid-async-image"
	ProviderAsyncVideo     ProviderKind = "async-video"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is absorbing.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// FollowUpAction enumerates operations available on a succeeded grid job.
type FollowUpAction string

const (
	ActionUpscale   FollowUpAction = "upscale"
	ActionVariation FollowUpAction = "variation"
	ActionReroll    FollowUpAction = "reroll"
)

// JobError is the canonical failure reason persisted on a failed job.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// GenerationJob encapsulates one request to an external generation provider.
type GenerationJob struct {
	ID           string
	OwnerID      string
	Provider     ProviderKind
	ProviderName string
	ParentJobID  *string

	Prompt          string
	NegativePrompt  string
	AspectRatio     string
	Seed            *int
	GuidanceScale   float64
	Quantity        int
	ReferenceAssets []ReferenceAsset

	ExternalTaskID   string
	ProviderMetadata map[string]any

	Status          JobStatus
	ProgressPercent int
	Attempts        int
	NextRetryAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time

	Assets []AssetRef
	Error  *JobError

	EstimatedCredits int
	CreditsConsumed  int
	Billed           bool

	IsPublic   bool
	IsFavorite bool
	Deleted    bool
}

// AdvanceProgress raises the progress marker, never lowering it.
func (j *GenerationJob) AdvanceProgress(percent int) {
	if percent < 0 {
		return
	}
	if percent > 100 {
		percent = 100
	}
	if percent > j.ProgressPercent {
		j.ProgressPercent = percent
	}
}

// CanTransitionTo reports whether the state machine permits moving to next.
// Terminal states are absorbing; queued may jump straight to a terminal
// state for synchronous providers.
func (j *GenerationJob) CanTransitionTo(next JobStatus) bool {
	if j.Status.Terminal() {
		return false
	}
	switch next {
	case JobStatusRunning, JobStatusSucceeded, JobStatusFailed:
		return true
	default:
		return false
	}
}
