package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driven"
	"github.com/custodia-labs/ordersync/internal/logger"
)

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 32 << 20

// Ensure Client implements the interface.
var _ driven.OrderSource = (*Client)(nil)

// Client talks to the CRM orders API.
type Client struct {
	cfg         Config
	http        *http.Client
	rateLimiter *RateLimiter
}

// NewClient creates a CRM client authenticated with the configured
// service account key or, failing that, the client credentials grant.
// Returns domain.ErrAuthRequired when neither is configured.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	var httpClient *http.Client
	switch {
	case cfg.APIKey != "":
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey})
		httpClient = oauth2.NewClient(ctx, ts)
	case cfg.ClientID != "" && cfg.ClientSecret != "":
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		httpClient = cc.Client(ctx)
	default:
		return nil, domain.ErrAuthRequired
	}
	httpClient.Timeout = cfg.Timeout

	return NewClientWithHTTPClient(cfg, httpClient), nil
}

// NewClientWithHTTPClient creates a client that sends requests through
// httpClient as-is. The caller is responsible for authentication.
func NewClientWithHTTPClient(cfg Config, httpClient *http.Client) *Client {
	return &Client{
		cfg:         cfg.withDefaults(),
		http:        httpClient,
		rateLimiter: NewRateLimiter(cfg.RequestsPerSecond),
	}
}

// RateLimiter returns the rate limiter for external access.
func (c *Client) RateLimiter() *RateLimiter {
	return c.rateLimiter
}

// ordersEnvelope is the object form of a list response.
type ordersEnvelope struct {
	Orders []json.RawMessage `json:"orders"`
	Count  *int              `json:"count"`
}

// FetchPage fetches one page of orders. Orders are returned newest first.
func (c *Client) FetchPage(ctx context.Context, req domain.PageRequest) (*domain.RemotePage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = c.cfg.PageSize
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(req.Offset))
	q.Set("order", "creation_time")
	q.Set("order_direction", "descending")
	if !req.Since.IsZero() {
		q.Set("since", req.Since.UTC().Format(time.DateOnly))
	}

	body, err := c.get(ctx, "/orders", q, "list orders")
	if err != nil {
		return nil, err
	}

	page, err := decodePage(body)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(page.Orders)

	if len(page.Invalid) > 0 {
		logger.Warn("crm: %d undecodable orders at offset %d", len(page.Invalid), req.Offset)
	}
	logger.Debug("crm: fetched %d orders at offset %d (total %d)", page.Received(), req.Offset, page.Total)
	return page, nil
}

// FetchSince fetches every order changed on or after since. The API
// filters by calendar day, so callers should drop records older than since.
func (c *Client) FetchSince(ctx context.Context, since time.Time) ([]domain.RemoteOrder, error) {
	return c.fetchPages(ctx, since, c.cfg.SincePageSize)
}

// FetchAll fetches every order, looping until a page is smaller than requested.
func (c *Client) FetchAll(ctx context.Context) ([]domain.RemoteOrder, error) {
	all, err := c.fetchPages(ctx, time.Time{}, c.cfg.PageSize)
	if err != nil {
		return all, err
	}
	sortNewestFirst(all)
	return all, nil
}

func (c *Client) fetchPages(ctx context.Context, since time.Time, limit int) ([]domain.RemoteOrder, error) {
	var all []domain.RemoteOrder
	offset := 0
	for {
		select {
		case <-ctx.Done():
			return all, ctx.Err()
		default:
		}

		page, err := c.FetchPage(ctx, domain.PageRequest{Offset: offset, Limit: limit, Since: since})
		if err != nil {
			return all, err
		}
		all = append(all, page.Orders...)

		if page.Received() < limit {
			return all, nil
		}
		offset += page.Received()
	}
}

// FetchByID fetches a single order. Returns an error matching
// domain.ErrNotFound when the CRM has no such order.
func (c *Client) FetchByID(ctx context.Context, id string) (*domain.RemoteOrder, error) {
	if id == "" {
		return nil, domain.ErrInvalidInput
	}

	body, err := c.get(ctx, "/orders/"+url.PathEscape(id), nil, "get order")
	if err != nil {
		return nil, err
	}

	var order domain.RemoteOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, &domain.MalformedResponseError{Err: fmt.Errorf("decode order %s: %w", id, err)}
	}
	return &order, nil
}

// get performs a GET request and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, path string, query url.Values, op string) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Keap-API-Version", c.cfg.APIVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.wrapError(ctx, err, op)
	}
	defer resp.Body.Close()

	retryAfter := c.rateLimiter.UpdateFromResponse(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.wrapError(ctx, err, op)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.RemoteAPIError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			RetryAfter: retryAfter,
		}
	}
	return body, nil
}

// wrapError converts transport failures to domain error types.
func (c *Client) wrapError(ctx context.Context, err error, op string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}

	// Token endpoint rejections surface as API errors so that bad
	// credentials are not retried.
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return &domain.RemoteAPIError{
			StatusCode: retrieveErr.Response.StatusCode,
			Body:       string(retrieveErr.Body),
		}
	}

	return &domain.TransportError{Op: op, Err: err}
}

// decodePage accepts both {"orders": [...], "count": n} and a bare array.
// When the count is absent, Total is zero. Records are decoded one by one:
// a record that does not decode lands in Invalid instead of failing the page.
func decodePage(body []byte) (*domain.RemotePage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &domain.MalformedResponseError{Err: errors.New("empty body")}
	}

	var records []json.RawMessage
	var count *int
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, &domain.MalformedResponseError{Err: err}
		}
	} else {
		var env ordersEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, &domain.MalformedResponseError{Err: err}
		}
		records, count = env.Orders, env.Count
	}

	page := &domain.RemotePage{Orders: make([]domain.RemoteOrder, 0, len(records))}
	for _, raw := range records {
		var order domain.RemoteOrder
		if err := json.Unmarshal(raw, &order); err != nil {
			page.Invalid = append(page.Invalid, domain.InvalidRecord{
				Raw: raw,
				Err: recordError(raw, err),
			})
			continue
		}
		page.Orders = append(page.Orders, order)
	}
	if count != nil {
		page.Total = *count
	}
	return page, nil
}

// recordError describes a record that failed to decode, keeping its id
// when the id itself is readable.
func recordError(raw json.RawMessage, err error) *domain.ValidationError {
	verr := &domain.ValidationError{Field: "record", Reason: err.Error()}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		verr.Field = typeErr.Field
	}

	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if json.Unmarshal(raw, &head) == nil && len(head.ID) > 0 {
		var id domain.FlexString
		if json.Unmarshal(head.ID, &id) == nil {
			verr.RemoteID = string(id)
		}
	}
	return verr
}

// sortNewestFirst orders records by order time (falling back to creation
// time), newest first. Records without a parseable time sort last.
func sortNewestFirst(orders []domain.RemoteOrder) {
	slices.SortStableFunc(orders, func(a, b domain.RemoteOrder) int {
		return orderTimestamp(b).Compare(orderTimestamp(a))
	})
}

func orderTimestamp(o domain.RemoteOrder) time.Time {
	for _, s := range []*string{o.OrderTime, o.CreationTime, o.CreationDate} {
		if s == nil || *s == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, *s); err == nil {
			return t
		}
		if t, err := time.Parse(time.DateOnly, *s); err == nil {
			return t
		}
	}
	return time.Time{}
}
