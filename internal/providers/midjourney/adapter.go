package midjourney

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"mediagen/internal/domain"
	"mediagen/internal/providers"
)

// actionNames maps canonical follow-up actions onto proxy action verbs.
var actionNames = map[domain.FollowUpAction]string{
	domain.ActionUpscale:   "UPSCALE",
	domain.ActionVariation: "VARIATION",
	domain.ActionReroll:    "REROLL",
}

type proxyClient interface {
	Imagine(ctx context.Context, prompt string, referenceImages [][]byte) (string, error)
	Change(ctx context.Context, taskID, action string, index int) (string, error)
	Fetch(ctx context.Context, taskID string) (*Task, error)
}

// Adapter exposes the midjourney proxy through the shared provider contract.
type Adapter struct {
	client proxyClient
	locale string
}

// NewAdapter wires the adapter around a configured client.
func NewAdapter(client proxyClient, locale string) *Adapter {
	return &Adapter{client: client, locale: locale}
}

func (a *Adapter) Kind() domain.ProviderKind {
	return domain.ProviderGridAsyncImage
}

func (a *Adapter) Name() string {
	return "midjourney"
}

// Submit starts either a fresh imagine task or, when the request carries an
// action, a follow-up change against the parent's external task. Both paths
// yield a new provider task: a follow-up never mutates its parent.
func (a *Adapter) Submit(ctx context.Context, req providers.SubmitRequest) (*providers.SubmitResult, error) {
	var (
		taskID string
		err    error
	)
	if req.Action != "" {
		name, ok := actionNames[req.Action]
		if !ok {
			return nil, domain.ErrInvalidAction
		}
		taskID, err = a.client.Change(ctx, req.ParentExternalTaskID, name, req.ActionIndex)
	} else {
		prompt := buildPrompt(req)
		var refs [][]byte
		for _, ref := range req.ReferenceAssets {
			if len(ref.Data) > 0 {
				refs = append(refs, ref.Data)
			}
		}
		taskID, err = a.client.Imagine(ctx, prompt, refs)
	}
	if err != nil {
		var se *SubmitError
		if errors.As(err, &se) {
			return nil, &providers.AdapterError{Raw: providers.RawError{
				Code:    strconv.Itoa(se.Code),
				Message: se.Description,
			}}
		}
		return nil, err
	}
	return &providers.SubmitResult{
		ExternalTaskID: taskID,
		RawStatus:      "SUBMITTED",
		Metadata:       map[string]any{"grid": "2x2"},
	}, nil
}

// Query fetches the raw task and reports the grid image plus the follow-up
// action catalogue the provider currently offers.
func (a *Adapter) Query(ctx context.Context, externalTaskID string) (*providers.QueryResult, error) {
	task, err := a.client.Fetch(ctx, externalTaskID)
	if err != nil {
		return nil, err
	}
	result := &providers.QueryResult{
		RawStatus: task.Status,
		Progress:  parseProgress(task.Progress),
		Metadata: map[string]any{
			"grid":    "2x2",
			"actions": availableActions(task.Buttons),
		},
	}
	if task.Status == "SUCCESS" && task.ImageURL != "" {
		result.Assets = []providers.RawAsset{{
			URL:      task.ImageURL,
			MIME:     "image/png",
			Required: true,
		}}
	}
	if task.Status == "FAILURE" {
		result.RawError = &providers.RawError{Message: task.FailReason}
	}
	return result, nil
}

// TranslateError maps proxy rejection codes and free-text failure reasons
// into the shared taxonomy.
func (a *Adapter) TranslateError(raw providers.RawError) domain.JobError {
	switch raw.Code {
	case strconv.Itoa(codeQueueFull):
		return domain.JobError{Kind: domain.KindProviderRateLimited, Message: raw.Message}
	case strconv.Itoa(codeBanned):
		return providers.PolicyViolation(a.locale, raw.Message)
	}
	lower := strings.ToLower(raw.Message)
	if _, ok := providers.PolicyCategory(raw.Message); ok {
		return providers.PolicyViolation(a.locale, raw.Message)
	}
	if strings.Contains(lower, "timeout") || strings.Contains(lower, "queue") {
		return domain.JobError{Kind: domain.KindProviderTransientError, Message: raw.Message}
	}
	if raw.HTTPStatus != 0 {
		return domain.JobError{Kind: providers.ClassifyHTTP(raw.HTTPStatus), Message: raw.Message}
	}
	return domain.JobError{Kind: domain.KindProviderPermanentError, Message: raw.Message}
}

var _ providers.Adapter = (*Adapter)(nil)

func buildPrompt(req providers.SubmitRequest) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(req.Prompt))
	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		sb.WriteString(" --no ")
		sb.WriteString(neg)
	}
	if ratio := strings.TrimSpace(req.AspectRatio); ratio != "" {
		sb.WriteString(" --ar ")
		sb.WriteString(ratio)
	}
	if req.Seed != nil && *req.Seed > 0 {
		sb.WriteString(" --seed ")
		sb.WriteString(strconv.Itoa(*req.Seed))
	}
	return sb.String()
}

// parseProgress turns the proxy's "45%" strings into an integer, -1 when
// absent or unparseable.
func parseProgress(raw string) int {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "%")
	if raw == "" {
		return -1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return -1
	}
	if n > 100 {
		n = 100
	}
	return n
}

func availableActions(buttons []Button) []string {
	var actions []string
	seen := map[string]bool{}
	for _, b := range buttons {
		id := strings.ToUpper(b.CustomID)
		switch {
		case strings.Contains(id, "UPSAMPLE"), strings.Contains(id, "UPSCALE"):
			if !seen["upscale"] {
				actions = append(actions, "upscale")
				seen["upscale"] = true
			}
		case strings.Contains(id, "VARIATION"):
			if !seen["variation"] {
				actions = append(actions, "variation")
				seen["variation"] = true
			}
		case strings.Contains(id, "REROLL"):
			if !seen["reroll"] {
				actions = append(actions, "reroll")
				seen["reroll"] = true
			}
		}
	}
	return actions
}
