package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rendis/chatflow/internal/expressions"
	"github.com/rendis/chatflow/internal/secrets"
	"github.com/rendis/chatflow/pkg/schema"
)

const (
	defaultAPITimeout     = 10 * time.Second
	defaultMaxResponseLen = 10 * 1024 * 1024 // 10 MB
)

// APICaller executes api nodes: it interpolates request templates against
// the slots, performs a single attempt per request, and maps response paths
// into slot updates. No retries; a timeout is an external-call failure.
type APICaller struct {
	client  *http.Client
	interp  *expressions.Interpolator
	jq      *expressions.GoJQEngine
	vault   secrets.Vault
	timeout time.Duration
	maxBody int64
}

// NewAPICaller creates an APICaller with the configured per-request timeout.
func NewAPICaller(interp *expressions.Interpolator, jq *expressions.GoJQEngine, timeout time.Duration) *APICaller {
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}
	return &APICaller{
		client:  &http.Client{},
		interp:  interp,
		jq:      jq,
		timeout: timeout,
		maxBody: defaultMaxResponseLen,
	}
}

// WithVault enables ${{secrets.KEY}} references in request headers.
func (c *APICaller) WithVault(v secrets.Vault) *APICaller {
	c.vault = v
	return c
}

// Call executes every request of the node and returns the combined slot
// updates. Multi-request nodes fan out concurrently and always await full
// settlement: a failed request does not cancel its siblings, and the first
// failure is reported after all of them finish.
func (c *APICaller) Call(ctx context.Context, data *schema.APIData, slots map[string]any) (map[string]any, error) {
	requests := data.Requests
	if !data.IsMulti {
		requests = []schema.APIRequest{{
			Method:          data.Method,
			URL:             data.URL,
			Headers:         data.Headers,
			Body:            data.Body,
			Params:          data.Params,
			ResponseMapping: data.ResponseMapping,
		}}
	}

	updates := make([]map[string]any, len(requests))
	errs := make([]error, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	for i := range requests {
		i := i
		g.Go(func() error {
			upd, err := c.callOne(gctx, &requests[i], data.ResponseMapping, slots)
			updates[i] = upd
			errs[i] = err
			// Never propagate: settlement of every request comes first.
			return nil
		})
	}
	_ = g.Wait()

	merged := make(map[string]any)
	for _, upd := range updates {
		for k, v := range upd {
			merged[k] = v
		}
	}
	for _, err := range errs {
		if err != nil {
			return merged, err
		}
	}
	return merged, nil
}

// callOne performs a single request and extracts its response mappings.
// The node-level mapping applies when the request has none of its own.
func (c *APICaller) callOne(ctx context.Context, req *schema.APIRequest, nodeMapping []schema.ResponseMapping, slots map[string]any) (map[string]any, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	rawURL := c.interp.Interpolate(req.URL, slots)
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeExternalCall, "invalid api url %q", rawURL)
	}
	if len(req.Params) > 0 {
		q := u.Query()
		for k, v := range c.interp.InterpolateMap(req.Params, slots) {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		rawURL = u.String()
	}

	var bodyReader io.Reader
	if req.Body != "" {
		bodyReader = strings.NewReader(c.interp.Interpolate(req.Body, slots))
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExternalCall, "build api request: %v", err).WithCause(err)
	}
	if bodyReader != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.interp.InterpolateMap(req.Headers, slots) {
		resolved, err := c.resolveSecret(reqCtx, v)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set(k, resolved)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExternalCall, "api request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExternalCall, "read api response: %v", err).WithCause(err)
	}

	if resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeExternalCall, "api returned %d for %s %s", resp.StatusCode, method, rawURL).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "body": string(bodyBytes)})
	}

	var parsed any
	if len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
			parsed = string(bodyBytes)
		}
	}

	mapping := req.ResponseMapping
	if len(mapping) == 0 {
		mapping = nodeMapping
	}
	return c.extract(ctx, parsed, mapping)
}

const (
	secretRefPrefix = "${{secrets."
	secretRefSuffix = "}}"
)

// resolveSecret replaces a ${{secrets.KEY}} header value with the vault
// entry. Partial occurrences inside a larger value are left alone; secrets
// go into headers whole or not at all.
func (c *APICaller) resolveSecret(ctx context.Context, value string) (string, error) {
	if !strings.HasPrefix(value, secretRefPrefix) || !strings.HasSuffix(value, secretRefSuffix) {
		return value, nil
	}
	if c.vault == nil {
		return "", schema.NewErrorf(schema.ErrCodeVault, "secret reference %q but no vault configured", value)
	}
	key := value[len(secretRefPrefix) : len(value)-len(secretRefSuffix)]
	secret, err := c.vault.Resolve(ctx, key)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

// extract applies the response mappings. A path that resolves to nothing
// leaves its slot untouched. Paths starting with "." run as jq programs;
// everything else is a plain dot path.
func (c *APICaller) extract(ctx context.Context, body any, mapping []schema.ResponseMapping) (map[string]any, error) {
	if len(mapping) == 0 {
		return nil, nil
	}

	updates := make(map[string]any, len(mapping))
	for _, m := range mapping {
		if m.Slot == "" || m.Path == "" {
			continue
		}
		if strings.HasPrefix(m.Path, ".") {
			obj, ok := body.(map[string]any)
			if !ok {
				continue
			}
			val, err := c.jq.Evaluate(ctx, m.Path, obj)
			if err != nil {
				return updates, fmt.Errorf("response mapping %q: %w", m.Path, err)
			}
			if val != nil {
				updates[m.Slot] = val
			}
			continue
		}
		if val, ok := expressions.LookupPath(body, m.Path); ok {
			updates[m.Slot] = val
		}
	}
	return updates, nil
}
