// Package providers defines the contract implemented by every external
// generation provider adapter and the shared status/error normalization
// applied on top of their divergent vocabularies.
package providers

import (
	"context"
	"errors"
	"fmt"

	"mediagen/internal/domain"
)

// ErrQueryUnsupported is returned by synchronous adapters whose Submit
// already carries the terminal result.
var ErrQueryUnsupported = errors.New("providers: query not supported")

// SubmitRequest is the normalized request passed to any adapter.
type SubmitRequest struct {
	JobID          string
	OwnerID        string
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Seed           *int
	GuidanceScale  float64

	// ReferenceAssets carry optional image-conditioning payloads for
	// providers that accept them. Adapters base64-encode the bytes.
	ReferenceAssets []domain.ReferenceAsset

	// Follow-up fields, set only when re-entering submit for an action on
	// a prior grid job.
	Action               domain.FollowUpAction
	ActionIndex          int
	ParentExternalTaskID string
}

// RawAsset is a provider-hosted artifact before persistence.
type RawAsset struct {
	URL          string
	ThumbnailURL string
	MIME         string
	Width        int
	Height       int
	// Data is set by synchronous providers that return bytes inline.
	Data []byte
	// Required marks assets whose persistence failure fails the job.
	// Derived previews and thumbnails are not required.
	Required bool
}

// RawError carries a provider-specific failure before translation.
type RawError struct {
	Code       string
	Message    string
	HTTPStatus int
}

// SubmitResult is the adapter's answer to a submission.
type SubmitResult struct {
	ExternalTaskID string
	RawStatus      string
	// Assets is populated only by synchronous adapters, whose submission
	// is already terminal.
	Assets   []RawAsset
	Metadata map[string]any
}

// QueryResult is the adapter's answer to a status query.
type QueryResult struct {
	RawStatus string
	// Progress is 0-100, or -1 when the provider does not report it.
	Progress int
	Assets   []RawAsset
	RawError *RawError
	// Metadata carries provider extras such as the grid action catalogue.
	Metadata map[string]any
}

// Adapter is the contract implemented by all provider adapters. Adapters are
// purely functional over the network call: they never touch the generation
// record store.
type Adapter interface {
	Kind() domain.ProviderKind
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	Query(ctx context.Context, externalTaskID string) (*QueryResult, error)
	TranslateError(raw RawError) domain.JobError
}

// Registry is the closed set of configured adapters, keyed by provider kind.
type Registry struct {
	adapters map[domain.ProviderKind]Adapter
}

// NewRegistry builds a registry from the given adapters. Adding a provider
// means adding an adapter, not branching on strings in the orchestrator.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.ProviderKind]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

// Get returns the adapter for the provider kind.
func (r *Registry) Get(kind domain.ProviderKind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("providers: no adapter configured for %q", kind)
	}
	return a, nil
}

// Kinds lists the configured provider kinds.
func (r *Registry) Kinds() []domain.ProviderKind {
	kinds := make([]domain.ProviderKind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	return kinds
}

// AdapterError carries a provider's raw failure through a Go error value so
// the reconciliation driver can route it back into TranslateError.
type AdapterError struct {
	Raw RawError
}

func (e *AdapterError) Error() string {
	if e.Raw.Code != "" {
		return fmt.Sprintf("provider error %s: %s", e.Raw.Code, e.Raw.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Raw.Message)
}

// AsRawError extracts the raw provider failure from an error chain.
func AsRawError(err error) (RawError, bool) {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Raw, true
	}
	return RawError{}, false
}
