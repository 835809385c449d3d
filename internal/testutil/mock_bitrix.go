// Package testutil provides testing utilities for the Bitrix24 client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"
)

// WebhookPath is the inbound-webhook prefix served by MockBitrix.
const WebhookPath = "/rest/1/testtoken/"

// MockResponse defines the behavior for a mock REST method response.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockBitrix is a configurable mock Bitrix24 portal for testing.
type MockBitrix struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	requestCount map[string]int
	queries      map[string][]url.Values
}

// NewMockBitrix creates a new mock portal.
func NewMockBitrix() *MockBitrix {
	mock := &MockBitrix{
		handlers:     make(map[string]func(w http.ResponseWriter, r *http.Request)),
		requestCount: make(map[string]int),
		queries:      make(map[string][]url.Values),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, WebhookPath), ".json")

		mock.mu.Lock()
		mock.requestCount[method]++
		mock.queries[method] = append(mock.queries[method], r.URL.Query())
		handler, exists := mock.handlers[method]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		writeJSON(w, http.StatusNotFound, `{"error":"ERROR_METHOD_NOT_FOUND","error_description":"Method not found!"}`)
	}))

	return mock
}

// URL returns the webhook base URL of the mock portal.
func (m *MockBitrix) URL() string {
	return m.server.URL + WebhookPath
}

// Close shuts down the mock server.
func (m *MockBitrix) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a REST method.
func (m *MockBitrix) SetHandler(method string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = handler
}

// SetResponse configures a fixed response for a REST method.
func (m *MockBitrix) SetResponse(method string, resp MockResponse) {
	m.SetHandler(method, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		writeJSON(w, resp.StatusCode, resp.Body)
	})
}

// SetSequence replies with the given responses in order; the last one
// repeats once the sequence is exhausted.
func (m *MockBitrix) SetSequence(method string, responses ...MockResponse) {
	var mu sync.Mutex
	idx := 0
	m.SetHandler(method, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[idx]
		if idx < len(responses)-1 {
			idx++
		}
		mu.Unlock()
		writeJSON(w, resp.StatusCode, resp.Body)
	})
}

// SetPages serves paginated responses keyed by the "start" query parameter.
// Unknown offsets get a 400 API error.
func (m *MockBitrix) SetPages(method string, pages map[int]MockResponse) {
	m.SetHandler(method, func(w http.ResponseWriter, r *http.Request) {
		start := r.URL.Query().Get("start")
		for offset, resp := range pages {
			if fmt.Sprint(offset) == start {
				writeJSON(w, resp.StatusCode, resp.Body)
				return
			}
		}
		writeJSON(w, http.StatusBadRequest, `{"error":"INVALID_ARG_VALUE","error_description":"unexpected start"}`)
	})
}

// RequestCount returns the number of requests made for a REST method.
func (m *MockBitrix) RequestCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount[method]
}

// Queries returns the query parameters of every request for a REST method.
func (m *MockBitrix) Queries(method string) []url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]url.Values, len(m.queries[method]))
	copy(out, m.queries[method])
	return out
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != "" {
		w.Write([]byte(body))
	}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// NewListPage renders a list response whose "result" is the record array.
// next <= 0 omits the cursor.
func NewListPage(records []map[string]any, next, total int) MockResponse {
	body := map[string]any{"result": records, "total": total}
	if next > 0 {
		body["next"] = next
	}
	return MockResponse{StatusCode: http.StatusOK, Body: mustJSON(body)}
}

// NewItemsPage renders a crm.item.list response with records under result.items.
func NewItemsPage(items []map[string]any, next int) MockResponse {
	body := map[string]any{"result": map[string]any{"items": items}}
	if next > 0 {
		body["next"] = next
	}
	return MockResponse{StatusCode: http.StatusOK, Body: mustJSON(body)}
}

// Category is a catalog entry for NewCategoriesResponse.
type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// NewCategoriesResponse renders a crm.category.list response.
func NewCategoriesResponse(categories ...Category) MockResponse {
	if categories == nil {
		categories = []Category{}
	}
	body := map[string]any{"result": map[string]any{"categories": categories}}
	return MockResponse{StatusCode: http.StatusOK, Body: mustJSON(body)}
}

// NewTotalResponse renders a list response reporting only a total.
func NewTotalResponse(total int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       mustJSON(map[string]any{"result": []any{}, "total": total}),
	}
}

// NewErrorResponse renders a Bitrix24 error body.
func NewErrorResponse(status int, code, description string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       mustJSON(map[string]string{"error": code, "error_description": description}),
	}
}

// NewRecords builds n records with sequential IDs starting at from.
func NewRecords(from, n int) []map[string]any {
	records := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, map[string]any{"ID": fmt.Sprint(from + i)})
	}
	return records
}

// SetDealTotals serves crm.deal.list totals keyed by the filter[CATEGORY_ID]
// parameter. Categories not in totals report 0.
func (m *MockBitrix) SetDealTotals(totals map[int]int) {
	m.SetHandler("crm.deal.list", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("filter[CATEGORY_ID]")
		total := 0
		for categoryID, n := range totals {
			if fmt.Sprint(categoryID) == id {
				total = n
				break
			}
		}
		resp := NewTotalResponse(total)
		writeJSON(w, resp.StatusCode, resp.Body)
	})
}
