package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidPrompt       = errors.New("invalid prompt")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrDuplicateOperation  = errors.New("duplicate operation")
	ErrInvalidAction       = errors.New("invalid follow-up action")
	ErrParentNotSucceeded  = errors.New("parent job not succeeded")
)

// ErrorKind classifies a job failure. Kinds are stable strings persisted on
// the job record so the canonical failure reason survives polling.
type ErrorKind string

const (
	KindInsufficientCredits    ErrorKind = "InsufficientCredits"
	KindProviderAuthFailed     ErrorKind = "ProviderAuthFailed"
	KindProviderRateLimited    ErrorKind = "ProviderRateLimited"
	KindProviderContentPolicy  ErrorKind = "ProviderContentPolicyViolation"
	KindProviderTransientError ErrorKind = "ProviderTransientError"
	KindProviderPermanentError ErrorKind = "ProviderPermanentError"
	KindAssetPersistenceFailed ErrorKind = "AssetPersistenceFailed"
)

// Retryable reports whether the reconciliation driver may retry a failure of
// this kind before giving up.
func (k ErrorKind) Retryable() bool {
	return k == KindProviderTransientError
}
