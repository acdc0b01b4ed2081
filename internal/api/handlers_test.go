package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maltedev/supplier-scraper/internal/batch"
	"github.com/maltedev/supplier-scraper/internal/fetcher"
	"github.com/maltedev/supplier-scraper/internal/parser"
	"github.com/maltedev/supplier-scraper/internal/rules"
	"github.com/maltedev/supplier-scraper/internal/session"
	"github.com/maltedev/supplier-scraper/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const productPage = `<html><body>
	<div class="p-name"><h1><a>Widget</a></h1></div>
	<span class="model-name">W-1</span>
	<div class="product-price"><span>9,99 €</span></div>
</body></html>`

// MockBacklog is a mock for the outbox backlog reporter
type MockBacklog struct {
	mock.Mock
}

func (m *MockBacklog) Backlog(ctx context.Context) (int64, int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

type testEnv struct {
	api     *httptest.Server
	shop    *httptest.Server
	backlog *MockBacklog
}

func newTestEnv(t *testing.T, withBacklog bool) *testEnv {
	t.Helper()

	shop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/p/1" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			io.WriteString(w, productPage)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(shop.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := fetcher.New(fetcher.DefaultOptions(), logger)
	runner := batch.NewRunner(f, parser.NewSelectorParser(logger), storage.NewResultStore(), 4, logger)
	store := storage.NewFileSessionStore(filepath.Join(t.TempDir(), "session.json"))
	ws := session.New(runner, store, logger)

	env := &testEnv{shop: shop}
	var backlog BacklogReporter
	if withBacklog {
		env.backlog = new(MockBacklog)
		backlog = env.backlog
	}

	h := NewHandlers(context.Background(), ws, backlog, logger)
	env.api = httptest.NewServer(NewRouter(h, RouterOptions{}))
	t.Cleanup(env.api.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.api.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (e *testEnv) rowsCSV() string {
	return "SKU,URL\nA1," + e.shop.URL + "/p/1\nA2," + e.shop.URL + "/p/2\n"
}

func TestBatchFlow(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.do(t, http.MethodPost, "/api/v1/rows", "text/csv", strings.NewReader(env.rowsCSV()))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loaded map[string]int
	decode(t, resp, &loaded)
	assert.Equal(t, 2, loaded["loaded"])

	resp = env.do(t, http.MethodPost, "/api/v1/batches", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run struct {
		Message string `json:"message"`
	}
	decode(t, resp, &run)
	assert.Equal(t, "2/2 rows attempted", run.Message)

	resp = env.do(t, http.MethodGet, "/api/v1/rows", "", nil)
	var rows rowsResponse
	decode(t, resp, &rows)
	assert.Equal(t, 2, rows.Terminal)
	assert.Equal(t, "done", rows.Rows[0].Status)
	assert.Equal(t, "error:HTTP 500", rows.Rows[1].Status)

	resp = env.do(t, http.MethodGet, "/api/v1/results/export", "", nil)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "A1,Scooter Center,"+env.shop.URL+"/p/1,Widget,W-1,\"9,99 €\",,")

	resp = env.do(t, http.MethodDelete, "/api/v1/results", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/results", "", nil)
	var results []map[string]string
	decode(t, resp, &results)
	assert.Empty(t, results)
}

func TestLoadRows_Multipart(t *testing.T) {
	env := newTestEnv(t, false)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "rows.csv")
	require.NoError(t, err)
	io.WriteString(fw, env.rowsCSV())
	require.NoError(t, mw.Close())

	resp := env.do(t, http.MethodPost, "/api/v1/rows", mw.FormDataContentType(), &buf)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loaded map[string]int
	decode(t, resp, &loaded)
	assert.Equal(t, 2, loaded["loaded"])
}

func TestLoadRows_MissingColumns(t *testing.T) {
	env := newTestEnv(t, false)

	resp := env.do(t, http.MethodPost, "/api/v1/rows", "text/csv", strings.NewReader("Name\nx\n"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e map[string]string
	decode(t, resp, &e)
	assert.Equal(t, "missing columns: SKU, URL", e["error"])
}

func TestRunBatch_NoRows(t *testing.T) {
	env := newTestEnv(t, false)
	resp := env.do(t, http.MethodPost, "/api/v1/batches", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRulesAndSettings(t *testing.T) {
	env := newTestEnv(t, false)

	yamlRules := "suppliers:\n  Acme:\n    description: test\n    selectors:\n      title: h1\n"
	resp := env.do(t, http.MethodPut, "/api/v1/rules", "application/yaml", strings.NewReader(yamlRules))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rs rules.RuleSet
	decode(t, resp, &rs)
	assert.Equal(t, []string{"Acme"}, rs.Names())

	resp = env.do(t, http.MethodPut, "/api/v1/rules", "application/json", strings.NewReader(`{"suppliers":{"X":{"selectors":{"colour":"h1"}}}}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/api/v1/settings", "application/json",
		strings.NewReader(`{"activeSupplier":"Acme","proxyTemplate":" https://cors.example/{url} "}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var settings session.Settings
	decode(t, resp, &settings)
	assert.Equal(t, session.Settings{ActiveSupplier: "Acme", ProxyTemplate: "https://cors.example/{url}"}, settings)

	resp = env.do(t, http.MethodPut, "/api/v1/settings", "application/json", strings.NewReader(`{"activeSupplier":"Nobody"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/session/new", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/rules", "", nil)
	var restored rules.RuleSet
	decode(t, resp, &restored)
	assert.Equal(t, []string{rules.DefaultSupplier}, restored.Names())
}

func TestSessionRoundTrip(t *testing.T) {
	env := newTestEnv(t, false)

	env.do(t, http.MethodPost, "/api/v1/rows", "text/csv", strings.NewReader(env.rowsCSV()))
	env.do(t, http.MethodPost, "/api/v1/batches", "", nil)

	resp := env.do(t, http.MethodPost, "/api/v1/session/save", "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/session", "", nil)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "session.json")
	saved, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	env.do(t, http.MethodPost, "/api/v1/session/new", "", nil)

	resp = env.do(t, http.MethodPost, "/api/v1/session/load", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc storage.SessionDocument
	decode(t, resp, &doc)
	assert.Len(t, doc.Rows, 2)
	assert.Len(t, doc.Results, 2)

	env.do(t, http.MethodPost, "/api/v1/session/new", "", nil)
	resp = env.do(t, http.MethodPut, "/api/v1/session", "application/json", bytes.NewReader(saved))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/results", "", nil)
	var results []map[string]string
	decode(t, resp, &results)
	assert.Len(t, results, 2)

	resp = env.do(t, http.MethodPut, "/api/v1/session", "application/json", strings.NewReader(`{"rows":`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTemplate(t *testing.T) {
	env := newTestEnv(t, false)
	resp := env.do(t, http.MethodGet, "/api/v1/template", "", nil)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "SKU,URL\nABC-123,https://example.com/product-1", string(body))
}

func TestHealth(t *testing.T) {
	t.Run("without relay", func(t *testing.T) {
		env := newTestEnv(t, false)
		resp := env.do(t, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	tests := []struct {
		name    string
		pending int64
		dead    int64
		err     error
		code    int
		status  string
	}{
		{"healthy", 3, 0, nil, http.StatusOK, "ok"},
		{"backlog warning", 5000, 0, nil, http.StatusOK, "warning"},
		{"dead letters", 0, 500, nil, http.StatusServiceUnavailable, "error"},
		{"outbox unreachable", 0, 0, errors.New("db down"), http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, true)
			env.backlog.On("Backlog", mock.Anything).Return(tt.pending, tt.dead, tt.err)

			resp := env.do(t, http.MethodGet, "/health", "", nil)
			assert.Equal(t, tt.code, resp.StatusCode)
			var health map[string]interface{}
			decode(t, resp, &health)
			assert.Equal(t, tt.status, health["status"])
		})
	}
}
