package providers

import (
	"testing"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

func TestNormalizeStatusKnownVocabularies(t *testing.T) {
	logger := infra.NopLogger()
	cases := []struct {
		kind domain.ProviderKind
		raw  string
		want domain.JobStatus
	}{
		{domain.ProviderSyncImage, "succeeded", domain.JobStatusSucceeded},
		{domain.ProviderSyncImage, "failed", domain.JobStatusFailed},
		{domain.ProviderGridAsyncImage, "NOT_START", domain.JobStatusQueued},
		{domain.ProviderGridAsyncImage, "SUBMITTED", domain.JobStatusQueued},
		{domain.ProviderGridAsyncImage, "IN_PROGRESS", domain.JobStatusRunning},
		{domain.ProviderGridAsyncImage, "SUCCESS", domain.JobStatusSucceeded},
		{domain.ProviderGridAsyncImage, "FAILURE", domain.JobStatusFailed},
		{domain.ProviderAsyncVideo, "submitted", domain.JobStatusQueued},
		{domain.ProviderAsyncVideo, "processing", domain.JobStatusRunning},
		{domain.ProviderAsyncVideo, "succeed", domain.JobStatusSucceeded},
		{domain.ProviderAsyncVideo, "failed", domain.JobStatusFailed},
	}
	for _, tc := range cases {
		if got := NormalizeStatus(logger, tc.kind, tc.raw); got != tc.want {
			t.Fatalf("NormalizeStatus(%s, %q) = %s, want %s", tc.kind, tc.raw, got, tc.want)
		}
	}
}

func TestNormalizeStatusUnknownDefaultsToRunning(t *testing.T) {
	logger := infra.NopLogger()
	cases := []struct {
		kind domain.ProviderKind
		raw  string
	}{
		{domain.ProviderGridAsyncImage, "MODAL"},
		{domain.ProviderAsyncVideo, "pending_review"},
		{domain.ProviderSyncImage, ""},
		{domain.ProviderKind("unknown-kind"), "succeeded"},
	}
	for _, tc := range cases {
		if got := NormalizeStatus(logger, tc.kind, tc.raw); got != domain.JobStatusRunning {
			t.Fatalf("NormalizeStatus(%s, %q) = %s, want running", tc.kind, tc.raw, got)
		}
	}
}

func TestNormalizeStatusTrimsWhitespace(t *testing.T) {
	logger := infra.NopLogger()
	if got := NormalizeStatus(logger, domain.ProviderAsyncVideo, "  succeed "); got != domain.JobStatusSucceeded {
		t.Fatalf("NormalizeStatus = %s, want succeeded", got)
	}
}
