package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/motiondata/internal/models"
	"github.com/example/motiondata/internal/query"
	"github.com/example/motiondata/internal/stats"
)

const (
	ordersTable    = "orders"
	customersTable = "customers"

	newestFirst = "created_at.desc,id.desc"
)

// RESTConfig describes a hosted PostgREST-style table service.
type RESTConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	// PageSize bounds the rows asked for per request. Reads loop until the
	// exact count is reached, so a smaller server-side max-rows cap is fine.
	PageSize   int
	HTTPClient *http.Client
}

// RESTStore talks to a hosted table service over its REST query interface.
// The service gives no multi-table transactions, so AddOrder is written to
// be replayed: resubmitting an order whose customer step failed completes
// that step without counting the order twice.
type RESTStore struct {
	cfg    RESTConfig
	base   string
	client *http.Client
	mu     sync.Mutex
	clock  *createdClock
}

// APIError is a non-2xx reply from the table service.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("table service returned status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// NewRESTStore builds a client for cfg.
func NewRESTStore(cfg RESTConfig) *RESTStore {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &RESTStore{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.BaseURL, "/") + "/rest/v1/",
		client: client,
		clock:  newCreatedClock(nil),
	}
}

type restRequest struct {
	method string
	table  string
	params url.Values
	prefer []string
	body   any
}

type restResponse struct {
	status int
	header http.Header
	body   []byte
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// do sends req, retrying timeouts, transport failures and 5xx/429 replies.
func (s *RESTStore) do(ctx context.Context, req restRequest) (*restResponse, error) {
	var payload []byte
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("store: encode request: %w", err)
		}
		payload = raw
	}

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * s.cfg.Backoff):
			}
		}

		resp, err := s.send(ctx, req, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			break
		}
	}
	return nil, unavailable(req.method+" "+req.table, lastErr)
}

func (s *RESTStore) send(ctx context.Context, req restRequest, payload []byte) (*restResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	endpoint := s.base + req.table
	if len(req.params) > 0 {
		endpoint += "?" + req.params.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("apikey", s.cfg.APIKey)
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if len(req.prefer) > 0 {
		httpReq.Header.Set("Prefer", strings.Join(req.prefer, ","))
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	return &restResponse{status: resp.StatusCode, header: resp.Header, body: raw}, nil
}

func decodeRows[T any](resp *restResponse) ([]T, error) {
	rows := []T{}
	if len(bytes.TrimSpace(resp.body)) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(resp.body, &rows); err != nil {
		return nil, unavailable("decode", err)
	}
	return rows, nil
}

// fetchRows reads limit rows of table starting at offset, or every row when
// limit <= 0, one page per request. params must carry a total order.
func fetchRows[T any](ctx context.Context, s *RESTStore, table string, params url.Values, offset, limit int) ([]T, error) {
	rows := []T{}
	for {
		want := s.cfg.PageSize
		if limit > 0 {
			remaining := limit - len(rows)
			if remaining <= 0 {
				return rows, nil
			}
			want = min(want, remaining)
		}

		page := url.Values{}
		for k, v := range params {
			page[k] = v
		}
		position := offset + len(rows)
		page.Set("offset", strconv.Itoa(position))
		page.Set("limit", strconv.Itoa(want))

		resp, err := s.do(ctx, restRequest{
			method: http.MethodGet,
			table:  table,
			params: page,
			prefer: []string{"count=exact"},
		})
		if err != nil {
			return nil, err
		}
		batch, err := decodeRows[T](resp)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return rows, nil
		}
		rows = append(rows, batch...)

		if total, err := parseContentRange(resp.header.Get("Content-Range")); err == nil &&
			int64(position+len(batch)) >= total {
			return rows, nil
		}
	}
}

// quoteValue wraps a value for use inside a PostgREST or=(...) list.
func quoteValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

func filterParams(f query.Filter) url.Values {
	params := url.Values{}
	// imatch is a case-insensitive POSIX regex; quoting every metacharacter
	// keeps user input literal, which ilike cannot do for '*'.
	if f.StatusSet() {
		params.Set("status", "imatch.^"+regexp.QuoteMeta(f.Status)+"$")
	}
	if f.NetworkSet() {
		params.Set("network", "eq."+f.Network)
	}
	if f.SearchSet() {
		pattern := quoteValue(regexp.QuoteMeta(f.Search))
		params.Set("or", fmt.Sprintf("(id.imatch.%s,customer.imatch.%s,phone.imatch.%s,package.imatch.%s)",
			pattern, pattern, pattern, pattern))
	}
	return params
}

func (s *RESTStore) findOrder(ctx context.Context, id string) (*models.Order, error) {
	resp, err := s.do(ctx, restRequest{
		method: http.MethodGet,
		table:  ordersTable,
		params: url.Values{"id": {"eq." + id}, "limit": {"1"}},
	})
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[models.Order](resp)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (s *RESTStore) findCustomer(ctx context.Context, email string) (*models.Customer, error) {
	resp, err := s.do(ctx, restRequest{
		method: http.MethodGet,
		table:  customersTable,
		params: url.Values{"email": {"eq." + email}, "limit": {"1"}},
	})
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[models.Customer](resp)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// hasLaterOrder reports whether email placed any order after o.
func (s *RESTStore) hasLaterOrder(ctx context.Context, o *models.Order) (bool, error) {
	resp, err := s.do(ctx, restRequest{
		method: http.MethodGet,
		table:  ordersTable,
		params: url.Values{
			"select":     {"id"},
			"email":      {"eq." + o.Email},
			"created_at": {"gt." + o.CreatedAt.UTC().Format(time.RFC3339Nano)},
			"limit":      {"1"},
		},
	})
	if err != nil {
		return false, err
	}
	rows, err := decodeRows[models.Order](resp)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// AddOrder inserts the order, then folds it into its customer. If the id
// already exists and that order has not reached its customer yet, only the
// customer step runs; otherwise ErrDuplicateOrder is returned.
func (s *RESTStore) AddOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := *order
	created.CreatedAt = s.clock.next()

	resp, err := s.do(ctx, restRequest{
		method: http.MethodPost,
		table:  ordersTable,
		params: url.Values{"on_conflict": {"id"}},
		prefer: []string{"return=representation", "resolution=ignore-duplicates"},
		body:   []models.Order{created},
	})
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[models.Order](resp)
	if err != nil {
		return nil, err
	}

	replay := len(rows) == 0
	if replay {
		existing, err := s.findOrder(ctx, created.ID)
		if err != nil {
			return nil, err
		}
		created = *existing
	} else {
		created = rows[0]
	}

	customer, err := s.findCustomer(ctx, created.Email)
	if err != nil {
		return nil, err
	}

	if replay {
		if customer != nil && customer.LastOrderID == created.ID {
			return nil, ErrDuplicateOrder
		}
		if customer != nil {
			later, err := s.hasLaterOrder(ctx, &created)
			if err != nil {
				return nil, err
			}
			if later {
				return nil, ErrDuplicateOrder
			}
		}
	}

	if customer == nil {
		c := models.NewCustomer(created)
		customer = &c
	}
	if customer.Record(created) {
		if _, err := s.do(ctx, restRequest{
			method: http.MethodPost,
			table:  customersTable,
			params: url.Values{"on_conflict": {"email"}},
			prefer: []string{"return=minimal", "resolution=merge-duplicates"},
			body:   []models.Customer{*customer},
		}); err != nil {
			return nil, err
		}
	}

	return &created, nil
}

// GetOrderByID returns the order with the given id.
func (s *RESTStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	return s.findOrder(ctx, id)
}

// UpdateOrder sends patch as a partial update filtered by id.
func (s *RESTStore) UpdateOrder(ctx context.Context, id string, patch models.OrderPatch) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if patch.Empty() {
		return s.findOrder(ctx, id)
	}

	resp, err := s.do(ctx, restRequest{
		method: http.MethodPatch,
		table:  ordersTable,
		params: url.Values{"id": {"eq." + id}},
		prefer: []string{"return=representation"},
		body:   patch.Fields(),
	})
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows[models.Order](resp)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// DeleteOrder removes the order and reports whether it existed.
func (s *RESTStore) DeleteOrder(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.do(ctx, restRequest{
		method: http.MethodDelete,
		table:  ordersTable,
		params: url.Values{"id": {"eq." + id}},
		prefer: []string{"return=representation"},
	})
	if err != nil {
		return false, err
	}
	rows, err := decodeRows[models.Order](resp)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// GetOrders returns the filtered page, newest first.
func (s *RESTStore) GetOrders(ctx context.Context, f query.Filter) ([]models.Order, error) {
	params := filterParams(f)
	params.Set("select", "*")
	params.Set("order", newestFirst)
	return fetchRows[models.Order](ctx, s, ordersTable, params, f.Offset(), f.Limit)
}

func (s *RESTStore) count(ctx context.Context, table string, params url.Values) (int64, error) {
	params.Set("select", "*")
	resp, err := s.do(ctx, restRequest{
		method: http.MethodHead,
		table:  table,
		params: params,
		prefer: []string{"count=exact"},
	})
	if err != nil {
		return 0, err
	}
	return parseContentRange(resp.header.Get("Content-Range"))
}

// parseContentRange reads the total from "0-9/42" or "*/42".
func parseContentRange(v string) (int64, error) {
	_, total, ok := strings.Cut(v, "/")
	if !ok || total == "*" {
		return 0, unavailable("count", fmt.Errorf("missing total in content-range %q", v))
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// GetOrdersCount counts matching orders, ignoring pagination.
func (s *RESTStore) GetOrdersCount(ctx context.Context, f query.Filter) (int64, error) {
	return s.count(ctx, ordersTable, filterParams(f))
}

// GetCustomers returns all customers, biggest spender first.
func (s *RESTStore) GetCustomers(ctx context.Context) ([]models.Customer, error) {
	customers, err := fetchRows[models.Customer](ctx, s, customersTable,
		url.Values{"select": {"*"}, "order": {"total_spent.desc,email.asc"}}, 0, 0)
	if err != nil {
		return nil, err
	}
	sortCustomers(customers)
	return customers, nil
}

// GetStats fetches the columns the rollups need and computes them locally.
func (s *RESTStore) GetStats(ctx context.Context, now time.Time) (*models.Stats, error) {
	orders, err := fetchRows[models.Order](ctx, s, ordersTable,
		url.Values{"select": {"amount,status,timestamp"}, "order": {newestFirst}}, 0, 0)
	if err != nil {
		return nil, err
	}

	customers, err := s.count(ctx, customersTable, url.Values{})
	if err != nil {
		return nil, err
	}

	result := stats.Compute(orders, int(customers), now)
	return &result, nil
}

// GetTopPackages ranks the best-selling packages.
func (s *RESTStore) GetTopPackages(ctx context.Context) ([]models.TopPackage, error) {
	orders, err := fetchRows[models.Order](ctx, s, ordersTable, url.Values{
		"select": {"network,package,amount,status"},
		"status": {"eq." + models.StatusCompleted},
		"order":  {newestFirst},
	}, 0, 0)
	if err != nil {
		return nil, err
	}
	return stats.TopPackages(orders, stats.TopPackagesLimit), nil
}

// Ping checks that the orders table answers.
func (s *RESTStore) Ping(ctx context.Context) error {
	_, err := s.do(ctx, restRequest{
		method: http.MethodHead,
		table:  ordersTable,
		params: url.Values{"select": {"id"}, "limit": {"1"}},
	})
	return err
}

// Close drops idle keep-alive connections.
func (s *RESTStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
