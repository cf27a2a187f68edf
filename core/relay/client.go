// Package relay talks to the same-origin endpoint that starts a bot session
// and hands back the connection details the provider session needs.
package relay

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultOrigin  = "http://localhost:3000"
	connectPath    = "connect"
	maxErrorLength = 512
)

// ConnectionInfo is the transport specific payload returned by the relay.
// Known fields are decoded, everything is kept in Raw.
type ConnectionInfo struct {
	URL          string `json:"url,omitempty"`
	Token        string `json:"token,omitempty"`
	ClientSecret string `json:"-"`
	Model        string `json:"model,omitempty"`

	Raw map[string]any `json:"-"`
}

func (i ConnectionInfo) IsZero() bool {
	return i.URL == "" && i.Token == "" && i.ClientSecret == "" && len(i.Raw) == 0
}

// Credential returns the bearer secret the provider should authenticate
// with, preferring an ephemeral client secret.
func (i ConnectionInfo) Credential() string {
	if i.ClientSecret != "" {
		return i.ClientSecret
	}
	return i.Token
}

type connectionInfoPayload struct {
	URL          string `json:"url"`
	WSURL        string `json:"ws_url"`
	RoomURL      string `json:"room_url"`
	Token        string `json:"token"`
	Model        string `json:"model"`
	ClientSecret *struct {
		Value string `json:"value"`
	} `json:"client_secret"`
}

func (i *ConnectionInfo) UnmarshalJSON(data []byte) error {
	var payload connectionInfoPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*i = ConnectionInfo{
		URL:   firstNonEmpty(payload.WSURL, payload.URL, payload.RoomURL),
		Token: payload.Token,
		Model: payload.Model,
		Raw:   raw,
	}
	if payload.ClientSecret != nil {
		i.ClientSecret = payload.ClientSecret.Value
	}
	return nil
}

type Client struct {
	origin     *url.URL
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithOrigin sets the origin relative base URLs are resolved against.
func WithOrigin(origin string) ClientOption {
	return func(c *Client) {
		if parsed, err := url.Parse(origin); err == nil && parsed.IsAbs() {
			c.origin = parsed
		} else {
			logger.Warn("ignoring invalid relay origin", "origin", origin)
		}
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func NewClient(opts ...ClientOption) *Client {
	origin, _ := url.Parse(DefaultOrigin)
	c := &Client{
		origin: origin,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint resolves baseURL against the client origin and appends the
// connect path.
func (c *Client) Endpoint(baseURL string) (string, error) {
	if strings.TrimSpace(baseURL) == "" {
		return "", fmt.Errorf("relay base url is empty")
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay base url %q: %w", baseURL, err)
	}
	if !base.IsAbs() {
		if !strings.HasPrefix(base.Path, "/") {
			base.Path = "/" + base.Path
		}
		base = c.origin.ResolveReference(base)
	}

	return base.JoinPath(connectPath).String(), nil
}

// Connect posts requestData to the relay and decodes the connection info.
func (c *Client) Connect(ctx context.Context, baseURL string, requestData map[string]any) (ConnectionInfo, error) {
	ctx, span := tracer.Start(ctx, "relay connect")
	defer span.End()

	info, err := c.connect(ctx, baseURL, requestData)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ConnectionInfo{}, err
	}
	return info, nil
}

func (c *Client) connect(ctx context.Context, baseURL string, requestData map[string]any) (ConnectionInfo, error) {
	endpoint, err := c.Endpoint(baseURL)
	if err != nil {
		return ConnectionInfo{}, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("relay.endpoint", endpoint))

	if requestData == nil {
		requestData = map[string]any{}
	}
	body, err := json.Marshal(requestData)
	if err != nil {
		return ConnectionInfo{}, fmt.Errorf("failed to encode relay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ConnectionInfo{}, fmt.Errorf("failed to build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ConnectionInfo{}, fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ConnectionInfo{}, fmt.Errorf("failed to read relay response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(respBody))
		if len(detail) > maxErrorLength {
			detail = detail[:maxErrorLength]
		}
		return ConnectionInfo{}, &StatusError{StatusCode: resp.StatusCode, Body: detail}
	}

	var info ConnectionInfo
	if err := json.Unmarshal(respBody, &info); err != nil {
		return ConnectionInfo{}, fmt.Errorf("failed to decode relay response: %w", err)
	}

	logger.Debug("relay returned connection info", "endpoint", endpoint, "has_url", info.URL != "")
	return info, nil
}

// StatusError is returned when the relay answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("relay responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("relay responded with status %d: %s", e.StatusCode, e.Body)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
