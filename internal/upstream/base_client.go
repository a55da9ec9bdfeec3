package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
)

// baseClient consolidates request building, authentication and status classification
// shared by the catalogue and file service clients.
type baseClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	service    string
}

func newBaseClient(service, baseURL, token string, timeout time.Duration, httpClient *http.Client) *baseClient {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &baseClient{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		service:    service,
	}
}

// newRequest builds a request for endpoint relative to the base URL, JSON-encoding body if set.
func (b *baseClient) newRequest(ctx context.Context, method, endpoint string, query url.Values, body any) (*http.Request, error) {
	u, err := url.Parse(b.baseURL)
	if err != nil {
		return nil, errors.ConfigError("invalid upstream base URL").
			WithCause(err).
			WithContext("service", b.service).
			WithContext("url", b.baseURL).
			Build()
	}
	u.Path = path.Join(strings.TrimSuffix(u.Path, "/"), strings.TrimPrefix(endpoint, "/"))
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	reader := io.Reader(http.NoBody)
	if body != nil {
		payload, merr := json.Marshal(body)
		if merr != nil {
			return nil, errors.InternalError("failed to marshal request body").WithCause(merr).Build()
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, errors.InternalError("failed to create request").
			WithCause(err).
			WithContext("method", method).
			WithContext("url", u.String()).
			Build()
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "essorchestrator/1.0")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	return req, nil
}

// do executes req and decodes a JSON response into result (if non-nil).
// It returns the status code so callers can react to non-error statuses like 304.
func (b *baseClient) do(req *http.Request, result any) (int, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, errors.NetworkError(fmt.Sprintf("%s request failed", b.service)).
			WithCause(err).
			WithContext("method", req.Method).
			WithContext("url", req.URL.String()).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, classifyStatus(b.service, req, resp, strings.ReplaceAll(string(limited), "\n", " "))
	}

	if result != nil && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotModified {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return resp.StatusCode, errors.UpstreamError(fmt.Sprintf("failed to decode %s response", b.service)).
				WithCause(err).
				WithContext("url", req.URL.String()).
				Build()
		}
	}
	return resp.StatusCode, nil
}

// classifyStatus maps an HTTP error status onto the retry taxonomy: timeouts and 5xx
// are transient, 429 is rate limited, 404 is not found and other 4xx are rejections.
func classifyStatus(service string, req *http.Request, resp *http.Response, body string) error {
	var builder *errors.ErrorBuilder
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		builder = errors.UpstreamError(fmt.Sprintf("%s rate limited", service)).RateLimit()
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			builder = builder.WithContext("retry_after", ra)
		}
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		builder = errors.UpstreamError(fmt.Sprintf("%s unavailable: %s", service, resp.Status)).Retryable()
	case resp.StatusCode == http.StatusNotFound:
		builder = errors.NotFoundError(fmt.Sprintf("%s resource not found", service))
	default:
		builder = errors.UpstreamError(fmt.Sprintf("%s rejected request: %s", service, resp.Status))
	}
	return builder.
		WithContext("service", service).
		WithContext("code", resp.StatusCode).
		WithContext("url", req.URL.String()).
		WithContext("response", body).
		Build()
}
