// Package valuation defines the pricing collaborator. The engine treats
// asset values as opaque external inputs: a Valuator answers "what is this
// asset worth", and everything downstream only compares and sums the answers.
package valuation

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/tradeloop/tradeloop/pkg/logger"
)

// Valuator supplies value estimates for assets. A zero value with a nil
// error means the asset is unpriced, which is a normal state, not a failure.
type Valuator interface {
	AssetValue(ctx context.Context, assetID string) (float64, error)
}

// StaticValuator serves values from a fixed table. Used in tests and as the
// default when no pricing endpoint is configured.
type StaticValuator struct {
	values map[string]float64
}

var _ Valuator = (*StaticValuator)(nil)

func NewStaticValuator(values map[string]float64) *StaticValuator {
	if values == nil {
		values = map[string]float64{}
	}
	return &StaticValuator{values: values}
}

func (v *StaticValuator) AssetValue(_ context.Context, assetID string) (float64, error) {
	return v.values[assetID], nil
}

// HTTPValuator fetches estimates from a pricing service. Requests are
// retried with backoff on transient failures; a 404 means unpriced.
type HTTPValuator struct {
	baseURL   string
	client    *retryablehttp.Client
	valuePath string
}

var _ Valuator = (*HTTPValuator)(nil)

type HTTPValuatorOpt func(*HTTPValuator)

// WithRequestTimeout bounds one pricing request including retries.
func WithRequestTimeout(d time.Duration) HTTPValuatorOpt {
	return func(v *HTTPValuator) { v.client.HTTPClient.Timeout = d }
}

// WithMaxRetries sets the retry budget per request.
func WithMaxRetries(n int) HTTPValuatorOpt {
	return func(v *HTTPValuator) { v.client.RetryMax = n }
}

// WithValuePath sets the JSON path of the estimate in the response body.
func WithValuePath(path string) HTTPValuatorOpt {
	return func(v *HTTPValuator) { v.valuePath = path }
}

// WithValuatorLogger routes the retry client's logging through the given
// logger at debug level.
func WithValuatorLogger(l logger.Logger) HTTPValuatorOpt {
	return func(v *HTTPValuator) { v.client.Logger = &retryLogger{l} }
}

func NewHTTPValuator(baseURL string, opts ...HTTPValuatorOpt) *HTTPValuator {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 5 * time.Second
	client.Logger = nil

	v := &HTTPValuator{
		baseURL:   baseURL,
		client:    client,
		valuePath: "value",
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *HTTPValuator) AssetValue(ctx context.Context, assetID string) (float64, error) {
	endpoint := fmt.Sprintf("%s/assets/%s/value", v.baseURL, url.PathEscape(assetID))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build valuation request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch valuation for %s: %w", assetID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("valuation service returned %d for %s", resp.StatusCode, assetID)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read valuation response: %w", err)
	}

	result := gjson.GetBytes(body, v.valuePath)
	if !result.Exists() {
		return 0, nil
	}
	return result.Float(), nil
}

// retryLogger adapts Logger to the retryablehttp logging interface.
type retryLogger struct {
	l logger.Logger
}

func (r *retryLogger) Printf(format string, args ...interface{}) {
	r.l.Debug(fmt.Sprintf(format, args...))
}
