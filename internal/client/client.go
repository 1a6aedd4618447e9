package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/anonto42/nano-midea/engagement/internal/models"
	"github.com/anonto42/nano-midea/engagement/internal/toggle"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// APIError is an error envelope returned by the server
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s (%s)", e.StatusCode, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s: %s", e.StatusCode, e.Code, e.Message)
}

// Client calls the relations API. It satisfies optimistic.Toggler and optimistic.Session.
type Client struct {
	http   *resty.Client
	token  string
	logger *zap.Logger
}

// Config configures a Client
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// New creates a Client
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "relctl/0.1.0")
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	httpClient.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		logger.Debug("HTTP request", zap.String("method", req.Method), zap.String("url", req.URL))
		return nil
	})
	httpClient.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		logger.Debug("HTTP response", zap.Int("status", resp.StatusCode()), zap.Duration("latency", resp.Time()))
		return nil
	})

	return &Client{http: httpClient, token: cfg.Token, logger: logger}
}

// Authenticated reports whether the client carries a bearer token
func (c *Client) Authenticated() bool {
	return c.token != ""
}

// Toggle flips the caller's relation on the target
func (c *Client) Toggle(ctx context.Context, targetID string, kind models.RelationKind) (toggle.Result, error) {
	var res toggle.Result
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("kind", string(kind)).
		SetBody(models.ToggleRelationRequest{TargetID: targetID}).
		SetResult(&res).
		Post("/api/v1/relations/{kind}/toggle")
	if err := checkResponse(resp, err); err != nil {
		return toggle.Result{}, err
	}
	return res, nil
}

// Status returns the caller's relation state and the target's counter
func (c *Client) Status(ctx context.Context, targetID string, kind models.RelationKind) (toggle.Result, error) {
	var res toggle.Result
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("kind", string(kind)).
		SetQueryParam("targetId", targetID).
		SetResult(&res).
		Get("/api/v1/relations/{kind}/status")
	if err := checkResponse(resp, err); err != nil {
		return toggle.Result{}, err
	}
	return res, nil
}

// CreatePost creates a post owned by the caller
func (c *Client) CreatePost(ctx context.Context, content string, imageURLs []string) (*models.Post, error) {
	var post models.Post
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(models.CreatePostRequest{Content: content, ImageURLs: imageURLs}).
		SetResult(&post).
		Post("/api/v1/posts")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &post, nil
}

// DeletePost deletes a post owned by the caller
func (c *Client) DeletePost(ctx context.Context, postID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", postID).
		Delete("/api/v1/posts/{id}")
	return checkResponse(resp, err)
}

// checkResponse turns transport failures and error statuses into the toggle error set
func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", toggle.ErrStoreUnavailable, err)
	}
	if !resp.IsError() {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if jsonErr := json.Unmarshal(resp.Body(), apiErr); jsonErr != nil || apiErr.Code == "" {
		apiErr.Code = "UNKNOWN_ERROR"
		apiErr.Message = string(resp.Body())
	}

	switch status := resp.StatusCode(); {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", toggle.ErrUnauthenticated, apiErr)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %w", toggle.ErrTargetNotFound, apiErr)
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %w", toggle.ErrToggleConflict, apiErr)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", toggle.ErrStoreUnavailable, apiErr)
	}
	return apiErr
}
