package practice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"rehearse/internal/config"
	"rehearse/internal/logging"
	"rehearse/internal/services"
)

// TokenSource supplies and refreshes bearer tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context, stale string) (string, error)
}

// StatusError carries the HTTP status of a failed call.
type StatusError struct {
	Operation string
	Code      int
	Body      string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s: status %d", e.Operation, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Operation, e.Code, body)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}
	return 0
}

// Option customises Client construction.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger overrides the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client talks to the practice session API.
type Client struct {
	httpClient *http.Client
	rest       *resty.Client
	tokens     TokenSource
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewClient builds a Client for the configured server.
func NewClient(cfg *config.Config, tokens TokenSource, opts ...Option) *Client {
	c := &Client{tokens: tokens, validate: validator.New(validator.WithRequiredStructEnabled())}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	c.logger = logging.NewComponentLogger(c.logger, "practice-api")
	if c.httpClient == nil {
		timeout := cfg.RequestTimeout()
		c.httpClient = &http.Client{Timeout: timeout}
	}
	c.rest = resty.NewWithClient(c.httpClient).
		SetBaseURL(strings.TrimRight(cfg.Server.BaseURL, "/")).
		SetHeader("Accept", "application/json")
	return c
}

// CreateRecording uploads the first recording for an item.
func (c *Client) CreateRecording(ctx context.Context, sessionID, itemID string, upload Upload) (UploadResponse, error) {
	return c.sendRecording(ctx, http.MethodPost, "create recording", sessionID, itemID, upload)
}

// ReplaceRecording overwrites the recording of an already complete item.
func (c *Client) ReplaceRecording(ctx context.Context, sessionID, itemID string, upload Upload) (UploadResponse, error) {
	return c.sendRecording(ctx, http.MethodPut, "replace recording", sessionID, itemID, upload)
}

func (c *Client) sendRecording(ctx context.Context, method, op, sessionID, itemID string, upload Upload) (UploadResponse, error) {
	var out UploadResponse
	if strings.TrimSpace(upload.Path) == "" {
		return out, services.Wrap(services.ErrValidation, "practice", op, "artifact path is empty", nil)
	}
	fileName := upload.FileName
	if fileName == "" {
		fileName = filepath.Base(upload.Path)
	}
	contentType := upload.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	path := recordingPath(sessionID, itemID)

	err := c.do(ctx, op, &out, func(req *resty.Request) (*resty.Response, error) {
		file, err := os.Open(upload.Path)
		if err != nil {
			return nil, fmt.Errorf("open artifact: %w", err)
		}
		defer file.Close()
		req.SetMultipartField("file", fileName, contentType, file)
		return req.Execute(method, path)
	})
	return out, err
}

// Session reads the current session snapshot.
func (c *Client) Session(ctx context.Context, sessionID string) (Session, error) {
	var out Session
	err := c.do(ctx, "read session", &out, func(req *resty.Request) (*resty.Response, error) {
		return req.Get("/api/sessions/" + url.PathEscape(sessionID))
	})
	return out, err
}

// ItemByIndex reads the item at index within the session.
func (c *Client) ItemByIndex(ctx context.Context, sessionID string, index int) (Item, error) {
	var out Item
	err := c.do(ctx, "read item", &out, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetQueryParam("index", strconv.Itoa(index)).
			Get("/api/sessions/" + url.PathEscape(sessionID) + "/items")
	})
	return out, err
}

// CompleteSession marks the session complete. A 409 maps to services.ErrIncomplete.
func (c *Client) CompleteSession(ctx context.Context, sessionID string) (CompleteResponse, error) {
	var out CompleteResponse
	err := c.do(ctx, "complete session", &out, func(req *resty.Request) (*resty.Response, error) {
		return req.Post("/api/sessions/" + url.PathEscape(sessionID) + "/complete")
	})
	return out, err
}

// Result reads the derived-artifact status for an item.
func (c *Client) Result(ctx context.Context, sessionID, itemID string) (Result, error) {
	var out Result
	err := c.do(ctx, "read result", &out, func(req *resty.Request) (*resty.Response, error) {
		return req.Get(recordingBase(sessionID, itemID) + "/result")
	})
	return out, err
}

func recordingBase(sessionID, itemID string) string {
	return "/api/sessions/" + url.PathEscape(sessionID) + "/items/" + url.PathEscape(itemID)
}

func recordingPath(sessionID, itemID string) string {
	return recordingBase(sessionID, itemID) + "/recording"
}

// do executes a request built by send, refreshing the token once on 401.
func (c *Client) do(ctx context.Context, op string, out any, send func(*resty.Request) (*resty.Response, error)) error {
	requestID, ok := services.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
		ctx = services.WithRequestID(ctx, requestID)
	}
	logger := logging.WithContext(ctx, c.logger)

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return services.Wrap(services.ErrAuthExpired, "practice", op, "no usable token", err)
	}

	for attempt := 0; ; attempt++ {
		req := c.rest.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetHeader("X-Request-ID", requestID)
		resp, err := send(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Warn("practice API request failed",
				logging.String("operation", op),
				logging.Error(err),
				logging.String(logging.FieldEventType, "api_request_failed"),
			)
			return services.Wrap(services.ErrTransient, "practice", op, "request failed", err)
		}

		code := resp.StatusCode()
		if code == http.StatusUnauthorized && attempt == 0 {
			logger.Info("access token rejected; refreshing", logging.String("operation", op))
			token, err = c.tokens.Refresh(ctx, token)
			if err != nil {
				return services.Wrap(services.ErrAuthExpired, "practice", op, "token refresh failed", err)
			}
			continue
		}
		if code >= 200 && code <= 299 {
			return c.decode(op, resp.Body(), out)
		}

		statusErr := &StatusError{Operation: op, Code: code, Body: resp.String()}
		logger.Debug("practice API error response",
			logging.String("operation", op),
			logging.Int("status", code),
		)
		return services.Wrap(markerFor(code), "practice", op, "", statusErr)
	}
}

func (c *Client) decode(op string, body []byte, out any) error {
	if out == nil {
		return nil
	}
	// An empty body still has to satisfy the response's required fields.
	if len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return services.Wrap(services.ErrTransient, "practice", op, "decode response", err)
		}
	}
	if err := c.validate.Struct(out); err != nil {
		return services.Wrap(services.ErrTransient, "practice", op, "invalid response", err)
	}
	return nil
}

// markerFor maps an HTTP status to the services error marker.
func markerFor(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return services.ErrAuthExpired
	case http.StatusNotFound:
		return services.ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return services.ErrValidation
	case http.StatusConflict:
		return services.ErrIncomplete
	default:
		return services.ErrTransient
	}
}
