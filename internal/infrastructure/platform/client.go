package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erp/sync-engine/internal/domain/sync"
	"go.uber.org/zap"
)

// maxResponseSize is the maximum allowed response size from the platform (10MB)
const maxResponseSize = 10 * 1024 * 1024

var (
	// ErrResourceNotFound indicates the remote record does not exist
	ErrResourceNotFound = errors.New("platform: resource not found")
	// ErrInvalidResponse indicates the platform returned an unparseable body
	ErrInvalidResponse = errors.New("platform: invalid response body")
)

// APIError is a non-2xx platform response. The message text carries enough
// signal for the error classifier to bucket it.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("platform: %s (status %d)", e.Message, e.StatusCode)
}

// Config holds the REST client settings
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Client implements sync.RemotePlatform against the platform's v3 REST API.
// Transient failures retry with exponential backoff before surfacing.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new platform REST client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("platform"),
	}
}

// resourcePath maps an entity type onto its REST collection
func resourcePath(entityType sync.EntityType) (string, error) {
	switch entityType {
	case sync.EntityTypeCustomer:
		return "customers", nil
	case sync.EntityTypeProduct:
		return "products", nil
	case sync.EntityTypeOrder:
		return "orders", nil
	default:
		return "", sync.ErrUnknownEntityType
	}
}

// List returns one page of records ordered by modification time
func (c *Client) List(ctx context.Context, entityType sync.EntityType, page, pageSize int) ([]sync.RemoteRecord, error) {
	path, err := resourcePath(entityType)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(pageSize))
	query.Set("orderby", "modified")
	query.Set("order", "asc")

	body, err := c.doRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}

	var raw []map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	records := make([]sync.RemoteRecord, 0, len(raw))
	for _, fields := range raw {
		rec, err := toRemoteRecord(fields)
		if err != nil {
			c.logger.Warn("skipping malformed record",
				zap.String("entity_type", entityType.String()),
				zap.Error(err),
			)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Get fetches a single record by remote ID
func (c *Client) Get(ctx context.Context, entityType sync.EntityType, remoteID int64) (*sync.RemoteRecord, error) {
	path, err := resourcePath(entityType)
	if err != nil {
		return nil, err
	}

	body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("%s/%d", path, remoteID), nil, nil)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	rec, err := toRemoteRecord(fields)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update pushes field changes to an existing remote record
func (c *Client) Update(ctx context.Context, entityType sync.EntityType, remoteID int64, fields sync.Snapshot) error {
	path, err := resourcePath(entityType)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = c.doRequest(ctx, http.MethodPut, fmt.Sprintf("%s/%d", path, remoteID), nil, payload)
	return err
}

// Create creates a new remote record and returns it
func (c *Client) Create(ctx context.Context, entityType sync.EntityType, fields sync.Snapshot) (*sync.RemoteRecord, error) {
	path, err := resourcePath(entityType)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	body, err := c.doRequest(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return nil, err
	}

	var created map[string]any
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	rec, err := toRemoteRecord(created)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// doRequest performs one authenticated request with retry on transient
// failures. Rate-limit responses honor the server's Retry-After header.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	endpoint, err := url.JoinPath(c.config.BaseURL, path)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		endpoint = endpoint + "?" + query.Encode()
	}

	var result []byte
	operation := func() error {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(c.config.ConsumerKey, c.config.ConsumerSecret)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Network-level failure; retryable
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			result = body
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrResourceNotFound)
		case resp.StatusCode == http.StatusTooManyRequests:
			apiErr := &APIError{
				StatusCode: resp.StatusCode,
				Message:    "rate limit exceeded",
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
			if apiErr.RetryAfter > 0 {
				// Wait out the advertised delay before the backoff policy
				// schedules the next attempt
				select {
				case <-time.After(apiErr.RetryAfter):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return apiErr
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(&APIError{
				StatusCode: resp.StatusCode,
				Message:    "authentication failed",
			})
		case resp.StatusCode >= 500:
			return &APIError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("server error: %s", truncate(string(body), 200)),
			}
		default:
			return backoff.Permanent(&APIError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("validation failed: %s", truncate(string(body), 200)),
			})
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(c.retryPolicy(), uint64(c.maxRetries())),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		c.logger.Warn("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	return result, nil
}

func (c *Client) retryPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	if c.config.RetryBaseDelay > 0 {
		policy.InitialInterval = c.config.RetryBaseDelay
	}
	return policy
}

func (c *Client) maxRetries() int {
	if c.config.MaxRetries > 0 {
		return c.config.MaxRetries
	}
	return 3
}

// parseRetryAfter reads a Retry-After header given in seconds
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// toRemoteRecord extracts the identity and modification time every sync
// decision depends on
func toRemoteRecord(fields map[string]any) (sync.RemoteRecord, error) {
	rawID, ok := fields["id"]
	if !ok {
		return sync.RemoteRecord{}, fmt.Errorf("%w: missing id", ErrInvalidResponse)
	}
	var id int64
	switch v := rawID.(type) {
	case float64:
		id = int64(v)
	case int64:
		id = v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return sync.RemoteRecord{}, fmt.Errorf("%w: bad id", ErrInvalidResponse)
		}
		id = n
	default:
		return sync.RemoteRecord{}, fmt.Errorf("%w: bad id type", ErrInvalidResponse)
	}

	rec := sync.RemoteRecord{ID: id, Fields: sync.Snapshot(fields)}
	if raw, ok := fields["date_modified"].(string); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			rec.DateModified = t
		}
	}
	return rec, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Ensure Client implements RemotePlatform
var _ sync.RemotePlatform = (*Client)(nil)
