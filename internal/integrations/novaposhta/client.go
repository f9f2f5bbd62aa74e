// Package novaposhta wraps the carrier's JSON envelope API: every call is a
// POST of {apiKey, modelName, calledMethod, methodProperties} to a single
// endpoint, answered with {success, data, errors, warnings}.
package novaposhta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crmkit/shipdesk/internal/faults"
	"github.com/pkg/errors"
)

const (
	DefaultBaseURL = "https://api.novaposhta.ua/v2.0/json/"

	defaultTimeout = 20 * time.Second

	// Error messages embed at most this much of the raw body: enough to
	// debug, not enough to spill recipient PII into logs.
	snippetCap = 800
)

// Caller is what the services depend on; *Client and test fakes satisfy it.
type Caller interface {
	Call(ctx context.Context, model, method string, props any) (*Response, error)
}

type Response struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Errors   []string        `json:"errors"`
	Warnings json.RawMessage `json:"warnings"`
}

// Decode unmarshals the data array into v (a pointer to a slice or struct
// slice element holder, depending on the method's shape).
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return errors.New("carrier response has no data")
	}
	return errors.Wrap(json.Unmarshal(r.Data, v), "decode carrier data")
}

type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	httpc   *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, faults.New(faults.KindConfig, "carrier.api_key is not configured")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: timeout,
		// Timeouts are enforced per call via context, so the transport
		// itself carries none.
		httpc: &http.Client{},
	}, nil
}

type envelope struct {
	APIKey           string `json:"apiKey"`
	ModelName        string `json:"modelName"`
	CalledMethod     string `json:"calledMethod"`
	MethodProperties any    `json:"methodProperties"`
}

// Call issues one carrier request. No retries here: creation calls are not
// idempotent on the carrier side, so retry policy belongs to callers.
func (c *Client) Call(ctx context.Context, model, method string, props any) (*Response, error) {
	if props == nil {
		props = struct{}{}
	}
	body, err := json.Marshal(envelope{
		APIKey:           c.apiKey,
		ModelName:        model,
		CalledMethod:     method,
		MethodProperties: props,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal carrier request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new carrier request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, faults.Newf(faults.KindTimeout, "%s.%s: carrier call timed out after %s", model, method, c.timeout)
		}
		return nil, faults.Newf(faults.KindCarrier, "%s.%s: %v", model, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, faults.Newf(faults.KindCarrier, "%s.%s: read body: %v", model, method, err)
	}

	if resp.StatusCode/100 != 2 {
		return nil, faults.Newf(faults.KindCarrier, "%s.%s: carrier http %d: %s", model, method, resp.StatusCode, snippet(raw))
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, faults.Newf(faults.KindCarrier, "%s.%s: bad carrier json: %s", model, method, snippet(raw))
	}
	if !out.Success {
		return nil, faults.Newf(faults.KindCarrier, "%s.%s: carrier rejected the call: %s", model, method, errorText(out.Errors, raw))
	}
	return &out, nil
}

func errorText(errs []string, raw []byte) string {
	if len(errs) > 0 {
		return snippet([]byte(strings.Join(errs, "; ")))
	}
	return snippet(raw)
}

func snippet(b []byte) string {
	s := string(b)
	if len(s) > snippetCap {
		return fmt.Sprintf("%s... (%d bytes)", s[:snippetCap], len(s))
	}
	return s
}
