// Package httpapi is the client for the relay's task and room history REST
// API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/cocode-cli/internal/domain"
	"github.com/bnema/cocode-cli/internal/ports"
	"github.com/cenkalti/backoff/v4"
	"pkt.systems/pslog"
)

const maxResponseBytes = 1 << 20

type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     5 * time.Second,
	}
}

type Client struct {
	BaseURL        string
	HTTPClient     *http.Client
	Tokens         ports.TokenSource
	RequestTimeout time.Duration
	Retry          RetryPolicy
}

var (
	_ ports.TaskAPI = (*Client)(nil)
	_ ports.RoomAPI = (*Client)(nil)
)

func NewClient(baseURL string, tokens ports.TokenSource) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Tokens:  tokens,
		Retry:   DefaultRetryPolicy(),
	}
}

type submitRequest struct {
	RoomID    domain.RoomID    `json:"roomId"`
	Prompt    string           `json:"prompt"`
	AgentName domain.AgentName `json:"agentName"`
}

type submitResponse struct {
	TaskID domain.TaskID `json:"taskId"`
	RoomID domain.RoomID `json:"roomId"`
	Error  string        `json:"error"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SubmitTask creates a task. Transient failures are retried with
// exponential backoff; cancellation, auth and validation failures are not.
func (c *Client) SubmitTask(ctx context.Context, req domain.TaskRequest) (domain.TaskID, error) {
	body, err := json.Marshal(submitRequest{
		RoomID:    req.RoomID,
		Prompt:    req.Prompt,
		AgentName: req.AgentName,
	})
	if err != nil {
		return "", fmt.Errorf("encode task request: %w", err)
	}

	log := pslog.Ctx(ctx).With("room", req.RoomID)
	attempt := 0
	var id domain.TaskID
	op := func() error {
		attempt++
		var resp submitResponse
		if err := c.do(ctx, http.MethodPost, "/api/v1/tasks", nil, body, &resp); err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			log.Debug("task submission failed, retrying", "attempt", attempt, "err", err)
			return err
		}
		if resp.TaskID == "" {
			return backoff.Permanent(&domain.APIError{Kind: domain.ErrServer, Message: "task response missing taskId"})
		}
		id = resp.TaskID
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.retryBackOff(), ctx)); err != nil {
		if ctxErr := classifyContext(ctx.Err()); ctxErr != nil && !errors.Is(err, domain.ErrCancelled) && !errors.Is(err, domain.ErrTimeout) {
			return "", ctxErr
		}
		return "", err
	}
	return id, nil
}

// GetTask reads a task once. The poll loop owns retries.
func (c *Client) GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	if strings.TrimSpace(string(id)) == "" {
		return domain.Task{}, &domain.APIError{Kind: domain.ErrValidation, Message: "task id is required"}
	}
	var task domain.Task
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(string(id)), nil, nil, &task); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

func (c *Client) ListRooms(ctx context.Context, page domain.PageRequest) (domain.RoomPage, error) {
	page = page.WithDefaults()
	query := url.Values{}
	query.Set("page", strconv.Itoa(page.Page))
	query.Set("pageSize", strconv.Itoa(page.PageSize))

	var result domain.RoomPage
	if err := c.do(ctx, http.MethodGet, "/api/v1/rooms", query, nil, &result); err != nil {
		return domain.RoomPage{}, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	endpoint, err := c.endpoint(path, query)
	if err != nil {
		return err
	}

	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(requestCtx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if ctxErr := classifyContext(requestCtx.Err()); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, domain.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return &domain.APIError{
			Kind:       domain.ErrServer,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("decode %s response: %v", path, err),
			RequestID:  resp.Header.Get("x-request-id"),
		}
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.Tokens == nil {
		return nil
	}
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("load api token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	if c.BaseURL == "" {
		return "", errors.New("api base url is required")
	}
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("api base url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("api base url host is required")
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + path
	if len(query) > 0 {
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	requestTimeout := c.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	return context.WithTimeout(ctx, requestTimeout)
}

func (c *Client) retryBackOff() backoff.BackOff {
	policy := c.Retry
	defaults := DefaultRetryPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaults.MaxAttempts
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = defaults.InitialInterval
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = defaults.MaxInterval
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.MaxInterval = policy.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(policy.MaxAttempts-1))
}

func retryable(err error) bool {
	return !domain.IsCancelled(err) &&
		!errors.Is(err, domain.ErrUnauthorized) &&
		!errors.Is(err, domain.ErrValidation) &&
		!errors.Is(err, domain.ErrNotFound)
}

func classifyContext(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.APIError{Kind: domain.ErrTimeout, Message: "request timed out"}
	case errors.Is(err, context.Canceled):
		return &domain.APIError{Kind: domain.ErrCancelled, Message: "request cancelled"}
	default:
		return nil
	}
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &domain.APIError{
		Kind:       statusKind(resp.StatusCode),
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("x-request-id"),
	}
	var payload errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err == nil {
		apiErr.Message = payload.Error
	}
	return apiErr
}

func statusKind(code int) error {
	switch {
	case code == http.StatusBadRequest:
		return domain.ErrValidation
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return domain.ErrUnauthorized
	case code == http.StatusNotFound:
		return domain.ErrNotFound
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return domain.ErrTimeout
	default:
		return domain.ErrServer
	}
}
