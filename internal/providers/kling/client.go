// Package kling implements the asynchronous video provider. Jobs are
// long-running server-side tasks polled by task id; authentication uses
// signed, time-boxed bearer tokens derived from an access/secret key pair.
package kling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediagen/internal/infra"
)

// Options configures the Kling client.
type Options struct {
	BaseURL        string
	Tokens         *TokenSource
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the Kling video generation API.
type Client struct {
	baseURL    string
	tokens     *TokenSource
	model      string
	httpClient *http.Client
	logger     infra.Logger
}

// VideoRequest captures the inputs for a text-to-video task.
type VideoRequest struct {
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	CfgScale       float64
	Seed           *int
}

// TaskVideo is one produced video with its derived preview artifacts.
type TaskVideo struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Duration      string `json:"duration"`
	CoverImageURL string `json:"cover_image_url"`
	GifURL        string `json:"gif_url"`
}

// TaskState is the raw task state reported by the provider.
type TaskState struct {
	TaskID    string
	Status    string
	StatusMsg string
	Videos    []TaskVideo
}

// APIError is a provider-level failure with its numeric code preserved.
type APIError struct {
	Code       int
	Message    string
	HTTPStatus int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kling: %s (code %d)", e.Message, e.Code)
}

type apiEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		TaskID        string `json:"task_id"`
		TaskStatus    string `json:"task_status"`
		TaskStatusMsg string `json:"task_status_msg"`
		TaskResult    struct {
			Videos []TaskVideo `json:"videos"`
		} `json:"task_result"`
	} `json:"data"`
}

type createTaskRequest struct {
	ModelName      string  `json:"model_name"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	CfgScale       float64 `json:"cfg_scale,omitempty"`
	AspectRatio    string  `json:"aspect_ratio,omitempty"`
	Seed           *int    `json:"seed,omitempty"`
}

// NewClient constructs a Kling client.
func NewClient(opts Options) (*Client, error) {
	if opts.Tokens == nil {
		return nil, fmt.Errorf("kling: token source is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.klingai.com"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "kling-v1"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := infra.NopLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		baseURL:    baseURL,
		tokens:     opts.Tokens,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// CreateTask submits a text-to-video task and returns its id and initial
// raw status.
func (c *Client) CreateTask(ctx context.Context, req VideoRequest) (*TaskState, error) {
	payload := createTaskRequest{
		ModelName:      c.model,
		Prompt:         strings.TrimSpace(req.Prompt),
		NegativePrompt: strings.TrimSpace(req.NegativePrompt),
		CfgScale:       req.CfgScale,
		AspectRatio:    strings.TrimSpace(req.AspectRatio),
		Seed:           req.Seed,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("kling: encode request: %w", err)
	}
	env, err := c.call(ctx, http.MethodPost, "/v1/videos/text2video", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return stateFromEnvelope(env), nil
}

// GetTask fetches the current state of a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*TaskState, error) {
	env, err := c.call(ctx, http.MethodGet, "/v1/videos/text2video/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	return stateFromEnvelope(env), nil
}

func (c *Client) call(ctx context.Context, method, path string, body io.Reader) (*apiEnvelope, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("kling: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kling: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kling: read response: %w", err)
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &APIError{Message: strings.TrimSpace(string(raw)), HTTPStatus: resp.StatusCode}
		}
		return nil, fmt.Errorf("kling: decode response: %w", err)
	}
	if env.Code != 0 {
		if isAuthCode(env.Code) {
			// Drop the cached token so the next attempt re-mints.
			c.tokens.Invalidate()
		}
		return nil, &APIError{Code: env.Code, Message: env.Message, HTTPStatus: resp.StatusCode}
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{Message: env.Message, HTTPStatus: resp.StatusCode}
	}
	return &env, nil
}

func stateFromEnvelope(env *apiEnvelope) *TaskState {
	return &TaskState{
		TaskID:    env.Data.TaskID,
		Status:    env.Data.TaskStatus,
		StatusMsg: env.Data.TaskStatusMsg,
		Videos:    env.Data.TaskResult.Videos,
	}
}

func isAuthCode(code int) bool {
	switch code {
	case 1000, 1001, 1002, 1003, 1004:
		return true
	}
	return false
}

// ParseDuration converts the provider's string seconds into a count.
func ParseDuration(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}
