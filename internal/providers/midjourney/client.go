// Package midjourney implements the grid-based asynchronous image provider.
// One job yields a 2x2 candidate grid plus follow-up actions (upscale,
// variation, reroll) that re-enter submission as brand-new jobs.
package midjourney

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mediagen/internal/infra"
)

// Submit response codes used by the proxy API.
const (
	codeSuccess   = 1
	codeQueued    = 22
	codeQueueFull = 23
	codeBanned    = 24
)

// Options configures the proxy client.
type Options struct {
	BaseURL        string
	APISecret      string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against a midjourney-proxy endpoint.
type Client struct {
	baseURL    string
	apiSecret  string
	httpClient *http.Client
	logger     infra.Logger
}

// Task is the raw task state reported by the proxy.
type Task struct {
	ID         string   `json:"id"`
	Status     string   `json:"status"`
	Progress   string   `json:"progress"`
	ImageURL   string   `json:"imageUrl"`
	FailReason string   `json:"failReason"`
	Buttons    []Button `json:"buttons"`
}

// Button describes one follow-up action the provider offers on a task.
type Button struct {
	CustomID string `json:"customId"`
	Label    string `json:"label"`
}

type submitResponse struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	Result      string `json:"result"`
}

type imagineRequest struct {
	Prompt      string   `json:"prompt"`
	Base64Array []string `json:"base64Array,omitempty"`
}

type changeRequest struct {
	TaskID string `json:"taskId"`
	Action string `json:"action"`
	Index  int    `json:"index,omitempty"`
}

// SubmitError is a proxy-level submission rejection with its raw code.
type SubmitError struct {
	Code        int
	Description string
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("midjourney: submit rejected (%d): %s", e.Code, e.Description)
}

// NewClient constructs a proxy client.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("midjourney: base url is required")
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
		apiSecret:  strings.TrimSpace(opts.APISecret),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Imagine submits a prompt, optionally conditioned on reference images, and
// returns the provider task id.
func (c *Client) Imagine(ctx context.Context, prompt string, referenceImages [][]byte) (string, error) {
	payload := imagineRequest{Prompt: prompt}
	for _, img := range referenceImages {
		payload.Base64Array = append(payload.Base64Array, base64.StdEncoding.EncodeToString(img))
	}
	return c.submit(ctx, "/mj/submit/imagine", payload)
}

// Change submits a follow-up action against an earlier task and returns the
// id of the new task it spawns.
func (c *Client) Change(ctx context.Context, taskID, action string, index int) (string, error) {
	return c.submit(ctx, "/mj/submit/change", changeRequest{TaskID: taskID, Action: action, Index: index})
}

// Fetch returns the raw task state.
func (c *Client) Fetch(ctx context.Context, taskID string) (*Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/mj/task/"+taskID+"/fetch", nil)
	if err != nil {
		return nil, fmt.Errorf("midjourney: build fetch request: %w", err)
	}
	c.auth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("midjourney: fetch task: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("midjourney: read fetch response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("midjourney: fetch status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("midjourney: decode task: %w", err)
	}
	return &task, nil
}

func (c *Client) submit(ctx context.Context, path string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("midjourney: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("midjourney: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("midjourney: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("midjourney: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("midjourney: submit status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("midjourney: decode response: %w", err)
	}
	if decoded.Code != codeSuccess && decoded.Code != codeQueued {
		return "", &SubmitError{Code: decoded.Code, Description: decoded.Description}
	}
	c.logger.Debug().Str("task_id", decoded.Result).Str("path", path).Msg("midjourney: task submitted")
	return decoded.Result, nil
}

func (c *Client) auth(req *http.Request) {
	if c.apiSecret != "" {
		req.Header.Set("mj-api-secret", c.apiSecret)
	}
}
