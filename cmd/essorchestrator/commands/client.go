package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"git.home.luguber.info/inful/exchangeset/internal/api"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
)

// apiClient talks to a running orchestrator's HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// do sends a request and decodes the data field of the response envelope into out.
func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	reader := io.Reader(http.NoBody)
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.InternalError("failed to encode request").WithCause(err).Build()
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return errors.ValidationError("invalid server URL").WithCause(err).WithContext("url", c.base).Build()
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NetworkError("orchestrator API unreachable").WithCause(err).WithContext("url", c.base).Build()
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NetworkError("failed to read API response").WithCause(err).Build()
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return errors.UpstreamError("malformed API response").WithCause(err).Build()
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return errors.UpstreamError("malformed API response").WithCause(err).Build()
	}
	return nil
}

// decodeAPIError rebuilds a classified error from the server's error payload so
// exit codes follow the server-side classification.
func decodeAPIError(status int, raw []byte) error {
	var payload errors.HTTPErrorResponse
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		return errors.UpstreamError(http.StatusText(status)).WithContext("status", status).Build()
	}
	category := errors.ErrorCategory(payload.Code)
	if category == "" {
		category = errors.CategoryUpstream
	}
	b := errors.NewError(category, payload.Error).WithContext("status", status)
	for k, v := range payload.Details {
		b = b.WithContext(k, v)
	}
	if payload.Retryable {
		b = b.Retryable()
	}
	return b.Build()
}

func (c *apiClient) submit(ctx context.Context, req any) (api.AcceptedResponse, error) {
	var out api.AcceptedResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/jobs", nil, req, &out)
	return out, err
}

// trigger asks for one job per standard, or per served standard when none are named.
func (c *apiClient) trigger(ctx context.Context, standards []string) (api.TriggerResponse, error) {
	var (
		out  api.TriggerResponse
		body any
	)
	if len(standards) > 0 {
		body = api.TriggerRequest{DataStandards: standards}
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/trigger", nil, body, &out)
	return out, err
}
