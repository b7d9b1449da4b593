package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/google/uuid"

	"github.com/diagnosis/chapterhub/pkg/logger"
)

// TokenSource yields the current bearer credential. It is read on every
// authenticated call so a login or logout takes effect immediately.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Client struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
}

// New builds a client for baseURL. A zero timeout keeps the transport defaults.
func New(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

// WithHTTPClient swaps the underlying client, mostly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

type Options struct {
	// Query is either url.Values or a struct tagged for go-querystring.
	Query     any
	Body      any
	Multipart *Multipart
	Auth      bool
}

// Do issues one request and returns the raw JSON body of a 2xx response.
// It never retries.
func (c *Client) Do(ctx context.Context, method, path string, opts Options) (json.RawMessage, error) {
	target, err := c.buildURL(path, opts.Query)
	if err != nil {
		return nil, err
	}

	var (
		bodyReader  io.Reader
		contentType string
	)
	switch {
	case opts.Multipart != nil:
		bodyReader, contentType, err = opts.Multipart.encode()
		if err != nil {
			return nil, err
		}
	case opts.Body != nil:
		payload, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	requestID, _ := ctx.Value(logger.RequestIDKey).(string)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)

	if opts.Auth && c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read credential: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	logger.DebugContext(ctx, "Calling platform API",
		"method", method,
		"url", target,
		"auth", req.Header.Get("Authorization") != "",
	)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Message: networkMessage, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Status: resp.StatusCode, Message: networkMessage, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gwErr := &Error{Status: resp.StatusCode, Message: serverMessage(body)}
		if gwErr.Message == "" {
			gwErr.Message = fallbackMessage(resp.StatusCode)
		}
		logger.WarnContext(ctx, "Platform API returned error",
			"method", method,
			"url", target,
			"status", resp.StatusCode,
			"message", gwErr.Message,
		)
		return nil, gwErr
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, ErrMalformedResponse
	}
	return json.RawMessage(body), nil
}

func (c *Client) Get(ctx context.Context, path string, q any, auth bool) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, path, Options{Query: q, Auth: auth})
}

func (c *Client) Post(ctx context.Context, path string, body any, auth bool) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPost, path, Options{Body: body, Auth: auth})
}

func (c *Client) PostMultipart(ctx context.Context, path string, form *Multipart, auth bool) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodPost, path, Options{Multipart: form, Auth: auth})
}

// Decode unmarshals raw into T, reporting ErrMalformedResponse on failure.
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

func (c *Client) buildURL(path string, q any) (string, error) {
	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if q == nil {
		return target, nil
	}

	var values url.Values
	switch v := q.(type) {
	case url.Values:
		values = v
	default:
		encoded, err := query.Values(q)
		if err != nil {
			return "", fmt.Errorf("failed to encode query: %w", err)
		}
		values = encoded
	}
	if len(values) == 0 {
		return target, nil
	}
	return target + "?" + values.Encode(), nil
}

func serverMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	switch e := payload.Error.(type) {
	case string:
		return e
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			return msg
		}
	}
	return ""
}
