package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"trade-bot-control-plane/internal/config"
)

const defaultMaxRetries = 3

// restClient is the shared resty transport of the REST adapters.
type restClient struct {
	client      *resty.Client
	logger      *zap.Logger
	maxRetries  int
	baseBackoff time.Duration
}

func newRestClient(name string, venue config.Venue, logger *zap.Logger) *restClient {
	timeout := time.Duration(venue.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(venue.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &restClient{
		client:      client,
		logger:      logger.Named(name),
		maxRetries:  defaultMaxRetries,
		baseBackoff: time.Second,
	}
}

// doRequest executes req with retry on throttling responses.
// Order endpoints are not idempotent, so 5xx and network faults on POST are
// returned to the caller instead of being retried.
func (c *restClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	idempotent := method == http.MethodGet

	for i := 0; i < c.maxRetries; i++ {
		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.SetContext(ctx).Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err != nil {
			shouldRetry = idempotent && ctx.Err() == nil
		} else {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = idempotent
			}
		}

		if !shouldRetry {
			if err != nil {
				return nil, fmt.Errorf("request failed: %w", err)
			}
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		if retryAfter == 0 {
			// Exponential backoff: 1x, 2x, 4x
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.baseBackoff
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err == nil && resp != nil {
		err = fmt.Errorf("status %s", resp.Status())
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries, err)
}

func signHex(secret, payload string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func signBase64(secret, payload string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func standardCredentials(exchange string, creds Credentials) (StandardCredentials, error) {
	sc, ok := creds.(StandardCredentials)
	if !ok {
		return StandardCredentials{}, fmt.Errorf("%s expects standard credentials, got %s", exchange, creds.Kind())
	}
	return sc, nil
}
