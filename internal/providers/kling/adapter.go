package kling

import (
	"context"
	"errors"
	"strconv"

	"mediagen/internal/domain"
	"mediagen/internal/providers"
)

type videoClient interface {
	CreateTask(ctx context.Context, req VideoRequest) (*TaskState, error)
	GetTask(ctx context.Context, taskID string) (*TaskState, error)
	Model() string
}

// Adapter exposes the Kling client through the shared provider contract.
type Adapter struct {
	client videoClient
	locale string
}

// NewAdapter wires the adapter around a configured client.
func NewAdapter(client videoClient, locale string) *Adapter {
	return &Adapter{client: client, locale: locale}
}

func (a *Adapter) Kind() domain.ProviderKind {
	return domain.ProviderAsyncVideo
}

func (a *Adapter) Name() string {
	if a.client == nil {
		return "kling"
	}
	return a.client.Model()
}

// Submit starts a long-running video task and returns its external id.
func (a *Adapter) Submit(ctx context.Context, req providers.SubmitRequest) (*providers.SubmitResult, error) {
	state, err := a.client.CreateTask(ctx, VideoRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		AspectRatio:    req.AspectRatio,
		CfgScale:       req.GuidanceScale,
		Seed:           req.Seed,
	})
	if err != nil {
		return nil, wrapAPIError(err)
	}
	return &providers.SubmitResult{
		ExternalTaskID: state.TaskID,
		RawStatus:      state.Status,
	}, nil
}

// Query fetches the task. On success the video is the required asset;
// cover image and preview GIF are optional derived artifacts.
func (a *Adapter) Query(ctx context.Context, externalTaskID string) (*providers.QueryResult, error) {
	state, err := a.client.GetTask(ctx, externalTaskID)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	result := &providers.QueryResult{
		RawStatus: state.Status,
		Progress:  progressFor(state.Status),
	}
	if state.Status == "succeed" {
		for _, v := range state.Videos {
			result.Assets = append(result.Assets, providers.RawAsset{
				URL:          v.URL,
				ThumbnailURL: v.CoverImageURL,
				MIME:         "video/mp4",
				Required:     true,
			})
			if v.GifURL != "" {
				result.Assets = append(result.Assets, providers.RawAsset{
					URL:      v.GifURL,
					MIME:     "image/gif",
					Required: false,
				})
			}
		}
		if result.Metadata == nil {
			result.Metadata = map[string]any{}
		}
		if len(state.Videos) > 0 {
			result.Metadata["duration_seconds"] = ParseDuration(state.Videos[0].Duration)
		}
	}
	if state.Status == "failed" {
		result.RawError = &providers.RawError{Message: state.StatusMsg}
	}
	return result, nil
}

// TranslateError maps Kling numeric codes and free-text reasons into the
// shared taxonomy.
func (a *Adapter) TranslateError(raw providers.RawError) domain.JobError {
	code, _ := strconv.Atoi(raw.Code)
	switch {
	case code >= 1000 && code <= 1004:
		return domain.JobError{Kind: domain.KindProviderAuthFailed, Message: raw.Message}
	case code == 1102 || code == 1303 || code == 1304:
		return domain.JobError{Kind: domain.KindProviderRateLimited, Message: raw.Message}
	case code == 1301 || code == 1302:
		return providers.PolicyViolation(a.locale, raw.Message)
	case code >= 5000:
		return domain.JobError{Kind: domain.KindProviderTransientError, Message: raw.Message}
	}
	if _, ok := providers.PolicyCategory(raw.Message); ok {
		return providers.PolicyViolation(a.locale, raw.Message)
	}
	return domain.JobError{Kind: providers.ClassifyHTTP(raw.HTTPStatus), Message: raw.Message}
}

var _ providers.Adapter = (*Adapter)(nil)

func wrapAPIError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &providers.AdapterError{Raw: providers.RawError{
			Code:       strconv.Itoa(apiErr.Code),
			Message:    apiErr.Message,
			HTTPStatus: apiErr.HTTPStatus,
		}}
	}
	return err
}

func progressFor(status string) int {
	switch status {
	case "submitted":
		return 0
	case "processing":
		return 50
	case "succeed":
		return 100
	default:
		return -1
	}
}
