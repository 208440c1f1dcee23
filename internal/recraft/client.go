package recraft

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL        = "https://external.api.recraft.ai/v1"
	defaultRequestTimeout = 5 * time.Minute
	maxLoggedBodyBytes    = 512
)

// ErrMissingToken reports a client configured without an API token.
var ErrMissingToken = errors.New("recraft api token is required")

// ClientConfig configures the upstream client.
type ClientConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// UpstreamResponse is a fully buffered upstream reply.
type UpstreamResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Successful reports a 2xx status.
func (response UpstreamResponse) Successful() bool {
	return response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices
}

// Client forwards requests to the Recraft API with the server-held bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrMissingToken
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: baseURL, token: cfg.Token, httpClient: httpClient}, nil
}

// Forward posts body to upstreamPath unchanged and buffers the reply.
// Non-2xx replies are returned without error; only transport failures produce one.
func (client *Client) Forward(ctx context.Context, upstreamPath string, contentType string, body []byte) (UpstreamResponse, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+upstreamPath, bytes.NewReader(body))
	if err != nil {
		return UpstreamResponse{}, fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+client.token)
	request.Header.Set("Content-Type", contentType)
	request.Header.Set("Accept", contentTypeJSON)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return UpstreamResponse{}, fmt.Errorf("post recraft: %w", err)
	}
	defer response.Body.Close()

	rawBody, err := io.ReadAll(response.Body)
	if err != nil {
		return UpstreamResponse{}, fmt.Errorf("read response body: %w", err)
	}
	return UpstreamResponse{
		StatusCode:  response.StatusCode,
		ContentType: response.Header.Get("Content-Type"),
		Body:        rawBody,
	}, nil
}

func truncateBody(body []byte) string {
	if len(body) <= maxLoggedBodyBytes {
		return string(body)
	}
	return string(body[:maxLoggedBodyBytes]) + "..."
}
