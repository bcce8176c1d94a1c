package qwen

import (
	"context"
	"errors"
	"strings"

	"mediagen/internal/domain"
	"mediagen/internal/providers"
)

// sizeByRatio maps the canonical aspect ratios onto DashScope pixel sizes.
var sizeByRatio = map[string]string{
	"1:1":  "1328*1328",
	"4:3":  "1472*1140",
	"3:4":  "1140*1472",
	"16:9": "1664*928",
	"9:16": "928*1664",
}

type imageClient interface {
	GenerateImage(context.Context, ImageRequest) (*ImageAsset, error)
	HasCredentials() bool
	Model() string
}

// Adapter exposes the Qwen client through the shared provider contract.
// Submission performs the entire generation inline; Query is unsupported.
type Adapter struct {
	client imageClient
	locale string
}

// NewAdapter wires the adapter around a configured client.
func NewAdapter(client imageClient, locale string) *Adapter {
	return &Adapter{client: client, locale: locale}
}

func (a *Adapter) Kind() domain.ProviderKind {
	return domain.ProviderSyncImage
}

func (a *Adapter) Name() string {
	if a.client == nil {
		return "qwen"
	}
	return a.client.Model()
}

// Submit generates exactly one image inline. Batch fan-out is the
// orchestrator's job; each unit re-enters Submit independently.
func (a *Adapter) Submit(ctx context.Context, req providers.SubmitRequest) (*providers.SubmitResult, error) {
	if a.client == nil || !a.client.HasCredentials() {
		return nil, &providers.AdapterError{Raw: providers.RawError{
			Code:       "MissingCredentials",
			Message:    "qwen client has no api key configured",
			HTTPStatus: 401,
		}}
	}
	asset, err := a.client.GenerateImage(ctx, ImageRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Size:           sizeByRatio[strings.TrimSpace(req.AspectRatio)],
		Seed:           req.Seed,
		RequestID:      req.JobID,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, &providers.AdapterError{Raw: providers.RawError{
				Code:       apiErr.Code,
				Message:    apiErr.Message,
				HTTPStatus: apiErr.HTTPStatus,
			}}
		}
		return nil, err
	}
	return &providers.SubmitResult{
		RawStatus: "succeeded",
		Assets: []providers.RawAsset{{
			URL:      asset.URL,
			MIME:     asset.Format,
			Width:    asset.Width,
			Height:   asset.Height,
			Data:     asset.Data,
			Required: true,
		}},
	}, nil
}

// Query is not needed: the submission response is already terminal.
func (a *Adapter) Query(ctx context.Context, externalTaskID string) (*providers.QueryResult, error) {
	return nil, providers.ErrQueryUnsupported
}

// TranslateError maps DashScope error codes into the shared taxonomy.
func (a *Adapter) TranslateError(raw providers.RawError) domain.JobError {
	switch raw.Code {
	case "InvalidApiKey", "InvalidAccessKeyId", "AccessDenied", "MissingCredentials":
		return domain.JobError{Kind: domain.KindProviderAuthFailed, Message: raw.Message}
	case "Throttling", "Throttling.RateQuota", "LimitRequests":
		return domain.JobError{Kind: domain.KindProviderRateLimited, Message: raw.Message}
	case "DataInspectionFailed", "IPInfringementSuspect":
		return providers.PolicyViolation(a.locale, raw.Message)
	case "InternalError", "SystemError", "ServiceUnavailable":
		return domain.JobError{Kind: domain.KindProviderTransientError, Message: raw.Message}
	}
	return domain.JobError{Kind: providers.ClassifyHTTP(raw.HTTPStatus), Message: raw.Message}
}

var _ providers.Adapter = (*Adapter)(nil)
