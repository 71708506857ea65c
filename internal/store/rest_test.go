package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/motiondata/internal/query"
)

type row = map[string]any

type injectedFailure struct {
	method    string
	table     string
	status    int
	delay     time.Duration
	remaining int
}

// fakeTables emulates the subset of a PostgREST service the store uses.
type fakeTables struct {
	mu       sync.Mutex
	rows     map[string][]row
	failures []*injectedFailure
	calls    map[string]int
	apiKey   string
	maxRows  int
}

func newFakeTables(apiKey string) *fakeTables {
	return &fakeTables{rows: map[string][]row{}, calls: map[string]int{}, apiKey: apiKey}
}

func (f *fakeTables) fail(method, table string, status, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, &injectedFailure{method: method, table: table, status: status, remaining: times})
}

func (f *fakeTables) stall(method, table string, delay time.Duration, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, &injectedFailure{method: method, table: table, delay: delay, remaining: times})
}

func (f *fakeTables) callCount(method, table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method+" "+table]
}

func (f *fakeTables) injected(method, table string) *injectedFailure {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inj := range f.failures {
		if inj.remaining > 0 && inj.method == method && inj.table == table {
			inj.remaining--
			return inj
		}
	}
	return nil
}

func valueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func regexMatch(pattern, value string) bool {
	re, err := regexp.Compile("(?is)" + pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

func compareValues(a, b any) int {
	as, bs := valueString(a), valueString(b)
	if af, err := strconv.ParseFloat(as, 64); err == nil {
		if bf, err := strconv.ParseFloat(bs, 64); err == nil {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	if at, err := time.Parse(time.RFC3339Nano, as); err == nil {
		if bt, err := time.Parse(time.RFC3339Nano, bs); err == nil {
			return at.Compare(bt)
		}
	}
	return strings.Compare(as, bs)
}

func condition(column, expr string) func(row) bool {
	op, operand, _ := strings.Cut(expr, ".")
	if len(operand) >= 2 && strings.HasPrefix(operand, `"`) && strings.HasSuffix(operand, `"`) {
		operand = strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(operand[1 : len(operand)-1])
	}
	return func(r row) bool {
		v := r[column]
		switch op {
		case "eq":
			return valueString(v) == operand
		case "imatch":
			return regexMatch(operand, valueString(v))
		case "gt":
			return compareValues(v, operand) > 0
		}
		return false
	}
}

func splitOr(list string) []string {
	list = strings.TrimSuffix(strings.TrimPrefix(list, "("), ")")
	var (
		items   []string
		current strings.Builder
		quoted  bool
		escaped bool
	)
	for _, r := range list {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			items = append(items, current.String())
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	return append(items, current.String())
}

var reserved = map[string]bool{"select": true, "order": true, "offset": true, "limit": true, "on_conflict": true}

func predicates(values map[string][]string) []func(row) bool {
	var preds []func(row) bool
	for key, vals := range values {
		if reserved[key] {
			continue
		}
		if key == "or" {
			var alts []func(row) bool
			for _, item := range splitOr(vals[0]) {
				column, expr, _ := strings.Cut(item, ".")
				alts = append(alts, condition(column, expr))
			}
			preds = append(preds, func(r row) bool {
				for _, alt := range alts {
					if alt(r) {
						return true
					}
				}
				return false
			})
			continue
		}
		preds = append(preds, condition(key, vals[0]))
	}
	return preds
}

func (f *fakeTables) matching(table string, values map[string][]string) []int {
	preds := predicates(values)
	var idx []int
	for i, r := range f.rows[table] {
		ok := true
		for _, p := range preds {
			if !p(r) {
				ok = false
				break
			}
		}
		if ok {
			idx = append(idx, i)
		}
	}
	return idx
}

func (f *fakeTables) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	if r.Header.Get("apikey") != f.apiKey || r.Header.Get("Authorization") != "Bearer "+f.apiKey {
		http.Error(w, `{"message":"bad key"}`, http.StatusUnauthorized)
		return
	}

	if inj := f.injected(r.Method, table); inj != nil {
		if inj.delay > 0 {
			time.Sleep(inj.delay)
		}
		if inj.status > 0 {
			http.Error(w, `{"message":"injected"}`, inj.status)
			return
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[r.Method+" "+table]++

	values := r.URL.Query()
	prefer := r.Header.Get("Prefer")
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		idx := f.matching(table, values)
		rows := make([]row, 0, len(idx))
		for _, i := range idx {
			rows = append(rows, f.rows[table][i])
		}
		if order := values.Get("order"); order != "" {
			keys := strings.Split(order, ",")
			sort.SliceStable(rows, func(i, j int) bool {
				for _, k := range keys {
					col, dir, _ := strings.Cut(k, ".")
					c := compareValues(rows[i][col], rows[j][col])
					if c == 0 {
						continue
					}
					if dir == "desc" {
						return c > 0
					}
					return c < 0
				}
				return false
			})
		}
		total := len(rows)
		start := 0
		if off, err := strconv.Atoi(values.Get("offset")); err == nil {
			start = min(off, len(rows))
			rows = rows[start:]
		}
		if lim, err := strconv.Atoi(values.Get("limit")); err == nil && lim < len(rows) {
			rows = rows[:lim]
		}
		if f.maxRows > 0 && len(rows) > f.maxRows {
			rows = rows[:f.maxRows]
		}
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Range", fmt.Sprintf("*/%d", total))
			w.WriteHeader(http.StatusOK)
			return
		}
		if strings.Contains(prefer, "count=exact") {
			if len(rows) == 0 {
				w.Header().Set("Content-Range", fmt.Sprintf("*/%d", total))
			} else {
				w.Header().Set("Content-Range", fmt.Sprintf("%d-%d/%d", start, start+len(rows)-1, total))
			}
		}
		_ = json.NewEncoder(w).Encode(rows)

	case http.MethodPost:
		var incoming []row
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&incoming); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		key := values.Get("on_conflict")
		var inserted []row
		for _, in := range incoming {
			existing := -1
			if key != "" {
				for i, cur := range f.rows[table] {
					if valueString(cur[key]) == valueString(in[key]) {
						existing = i
					}
				}
			}
			switch {
			case existing < 0:
				f.rows[table] = append(f.rows[table], in)
				inserted = append(inserted, in)
			case strings.Contains(prefer, "resolution=merge-duplicates"):
				for k, v := range in {
					f.rows[table][existing][k] = v
				}
				inserted = append(inserted, f.rows[table][existing])
			case strings.Contains(prefer, "resolution=ignore-duplicates"):
			default:
				http.Error(w, `{"message":"duplicate key"}`, http.StatusConflict)
				return
			}
		}
		if strings.Contains(prefer, "return=representation") {
			w.WriteHeader(http.StatusCreated)
			if inserted == nil {
				inserted = []row{}
			}
			_ = json.NewEncoder(w).Encode(inserted)
			return
		}
		w.WriteHeader(http.StatusCreated)

	case http.MethodPatch:
		var patch row
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&patch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		updated := []row{}
		for _, i := range f.matching(table, values) {
			for k, v := range patch {
				f.rows[table][i][k] = v
			}
			updated = append(updated, f.rows[table][i])
		}
		_ = json.NewEncoder(w).Encode(updated)

	case http.MethodDelete:
		idx := f.matching(table, values)
		removed := []row{}
		drop := map[int]bool{}
		for _, i := range idx {
			removed = append(removed, f.rows[table][i])
			drop[i] = true
		}
		kept := f.rows[table][:0:0]
		for i, r := range f.rows[table] {
			if !drop[i] {
				kept = append(kept, r)
			}
		}
		f.rows[table] = kept
		_ = json.NewEncoder(w).Encode(removed)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func openRESTStore(t *testing.T) (*RESTStore, *fakeTables) {
	t.Helper()
	fake := newFakeTables("test-key")
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s := NewRESTStore(RESTConfig{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		Timeout:    500 * time.Millisecond,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
	})
	t.Cleanup(func() { _ = s.Close() })
	return s, fake
}

func TestRESTStoreContract(t *testing.T) {
	runContract(t, func(t *testing.T) RecordStore {
		s, _ := openRESTStore(t)
		return s
	})
}

func TestRESTStoreReadsPastServerRowCap(t *testing.T) {
	ctx := context.Background()
	s, fake := openRESTStore(t)
	fake.maxRows = 3

	for i := 0; i < 8; i++ {
		o := newOrder(fmt.Sprintf("CAP%d", i), fmt.Sprintf("c%d@example.com", i%2), 10)
		_, err := s.AddOrder(ctx, o)
		require.NoError(t, err)
	}

	all, err := s.GetOrders(ctx, query.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 8)
	assert.Equal(t, "CAP7", all[0].ID)
	assert.Equal(t, "CAP0", all[7].ID)

	page, err := s.GetOrders(ctx, query.Filter{Page: 1, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, orderIDs(all[:5]), orderIDs(page))

	page, err = s.GetOrders(ctx, query.Filter{Page: 2, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, orderIDs(all[5:]), orderIDs(page))

	st, err := s.GetStats(ctx, contractNow)
	require.NoError(t, err)
	assert.Equal(t, 8, st.TotalOrders)
	assert.Equal(t, 80.0, st.TotalRevenue)
	assert.Equal(t, 2, st.TotalCustomers)

	top, err := s.GetTopPackages(ctx)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 8, top[0].Sales)

	customers, err := s.GetCustomers(ctx)
	require.NoError(t, err)
	assert.Len(t, customers, 2)
}

func TestRESTStoreRetriesServerErrors(t *testing.T) {
	ctx := context.Background()
	s, fake := openRESTStore(t)
	fake.fail(http.MethodGet, ordersTable, http.StatusServiceUnavailable, 2)

	orders, err := s.GetOrders(ctx, query.Filter{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestRESTStoreGivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	s, fake := openRESTStore(t)
	fake.fail(http.MethodGet, ordersTable, http.StatusBadGateway, 3)

	_, err := s.GetOrders(ctx, query.Filter{})
	require.ErrorIs(t, err, ErrUnavailable)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

func TestRESTStoreDoesNotRetryClientErrors(t *testing.T) {
	ctx := context.Background()
	s, fake := openRESTStore(t)
	fake.fail(http.MethodGet, customersTable, http.StatusBadRequest, 1)

	_, err := s.GetCustomers(ctx)
	require.Error(t, err)

	customers, err := s.GetCustomers(ctx)
	require.NoError(t, err)
	assert.Empty(t, customers)
	assert.Equal(t, 1, fake.callCount(http.MethodGet, customersTable), "the 400 must not have been retried")
}

func TestRESTStoreRetriesTimeouts(t *testing.T) {
	ctx := context.Background()
	s, fake := openRESTStore(t)
	s.cfg.Timeout = 50 * time.Millisecond
	fake.stall(http.MethodGet, ordersTable, 200*time.Millisecond, 1)

	_, err := s.GetOrders(ctx, query.Filter{})
	assert.NoError(t, err)
}

func TestRESTStoreReplaysPartialAdd(t *testing.T) {
	ctx := context.Background()
	s, fake := openRESTStore(t)
	fake.fail(http.MethodPost, customersTable, http.StatusBadRequest, 1)

	_, err := s.AddOrder(ctx, newOrder("R1", "replay@example.com", 20))
	require.Error(t, err)

	_, err = s.GetOrderByID(ctx, "R1")
	require.NoError(t, err, "the order row landed before the customer step failed")

	created, err := s.AddOrder(ctx, newOrder("R1", "replay@example.com", 20))
	require.NoError(t, err)
	assert.Equal(t, "R1", created.ID)

	customers, err := s.GetCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, 1, customers[0].TotalOrders)
	assert.Equal(t, 20.0, customers[0].TotalSpent)

	_, err = s.AddOrder(ctx, newOrder("R1", "replay@example.com", 20))
	assert.ErrorIs(t, err, ErrDuplicateOrder, "a completed order is not applied twice")
}

func TestRESTStoreSendsQueryOperators(t *testing.T) {
	var seen []string
	mu := sync.Mutex{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.RawQuery)
		mu.Unlock()
		w.Header().Set("Content-Range", "0-0/7")
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	s := NewRESTStore(RESTConfig{BaseURL: srv.URL + "/", APIKey: "k"})
	total, err := s.GetOrdersCount(context.Background(), query.Filter{Status: "Completed", Network: "MTN", Search: "1GB"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)

	require.Len(t, seen, 1)
	q := seen[0]
	for _, want := range []string{"status=imatch.%5ECompleted%24", "network=eq.MTN", "or=%28id.imatch.%221GB%22"} {
		assert.Contains(t, q, want)
	}
}

func TestParseContentRange(t *testing.T) {
	n, err := parseContentRange("0-9/42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	n, err = parseContentRange("*/0")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = parseContentRange("0-9/*")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestQuoteValue(t *testing.T) {
	assert.Equal(t, `"*a,b*"`, quoteValue("*a,b*"))
	assert.Equal(t, `"say \"hi\""`, quoteValue(`say "hi"`))
	assert.Equal(t, `"50\\%"`, quoteValue(`50\%`))

	items := splitOr("(id.imatch." + quoteValue("a,b") + ",phone.imatch.\"1\")")
	require.Len(t, items, 2)
	assert.True(t, condition("id", strings.TrimPrefix(items[0], "id."))(row{"id": "xa,by"}))
	assert.True(t, strings.HasPrefix(items[1], "phone."))
}
