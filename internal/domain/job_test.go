package domain

import "testing"

func TestTerminalStatuses(t *testing.T) {
	cases := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusQueued, false},
		{JobStatusRunning, false},
		{JobStatusSucceeded, true},
		{JobStatusFailed, true},
	}
	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.terminal {
			t.Fatalf("Terminal(%s) = %v, want %v", tc.status, got, tc.terminal)
		}
	}
}

func TestCanTransitionFromTerminalIsAlwaysFalse(t *testing.T) {
	for _, status := range []JobStatus{JobStatusSucceeded, JobStatusFailed} {
		job := &GenerationJob{Status: status}
		for _, next := range []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusSucceeded, JobStatusFailed} {
			if job.CanTransitionTo(next) {
				t.Fatalf("transition %s -> %s allowed, want forbidden", status, next)
			}
		}
	}
}

func TestCanTransitionQueuedSkipsStraightToTerminal(t *testing.T) {
	job := &GenerationJob{Status: JobStatusQueued}
	for _, next := range []JobStatus{JobStatusRunning, JobStatusSucceeded, JobStatusFailed} {
		if !job.CanTransitionTo(next) {
			t.Fatalf("transition queued -> %s forbidden, want allowed", next)
		}
	}
	if job.CanTransitionTo(JobStatusQueued) {
		t.Fatalf("transition queued -> queued allowed, want forbidden")
	}
}

func TestAdvanceProgressIsMonotonic(t *testing.T) {
	job := &GenerationJob{Status: JobStatusRunning}

	job.AdvanceProgress(40)
	if job.ProgressPercent != 40 {
		t.Fatalf("progress = %d, want 40", job.ProgressPercent)
	}
	job.AdvanceProgress(25)
	if job.ProgressPercent != 40 {
		t.Fatalf("progress regressed to %d, want 40", job.ProgressPercent)
	}
	job.AdvanceProgress(150)
	if job.ProgressPercent != 100 {
		t.Fatalf("progress = %d, want clamped 100", job.ProgressPercent)
	}
	job.AdvanceProgress(-5)
	if job.ProgressPercent != 100 {
		t.Fatalf("progress = %d after negative input, want 100", job.ProgressPercent)
	}
}

func TestErrorKindRetryable(t *testing.T) {
	if !KindProviderTransientError.Retryable() {
		t.Fatalf("transient errors must be retryable")
	}
	for _, kind := range []ErrorKind{
		KindInsufficientCredits,
		KindProviderAuthFailed,
		KindProviderRateLimited,
		KindProviderContentPolicy,
		KindProviderPermanentError,
		KindAssetPersistenceFailed,
	} {
		if kind.Retryable() {
			t.Fatalf("%s reported retryable, want permanent", kind)
		}
	}
}
