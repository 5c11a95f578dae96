package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(srv.URL, srv.Client(), StaticToken("tok-123"), nil)
}

func TestDo_SetsHeaders(t *testing.T) {
	var gotAuth, gotVersion string

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("API-Version")
		w.Write([]byte(`{}`))
	}))

	require.NoError(t, c.do(context.Background(), http.MethodGet, "/v1/databases/x", nil, &Database{}))
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, apiVersion, gotVersion)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Write([]byte(`{"id":"db-1"}`))
	}))

	var db Database
	require.NoError(t, c.do(context.Background(), http.MethodGet, "/v1/databases/db-1", nil, &db))
	assert.Equal(t, "db-1", db.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("request-id", "req-9")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"object_not_found","message":"no such database"}`))
	}))

	err := c.do(context.Background(), http.MethodGet, "/v1/databases/nope", nil, &Database{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "req-9", apiErr.RequestID)
	assert.Equal(t, "object_not_found", apiErr.Code)
}

func TestDo_ThrottledHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		w.Write([]byte(`{}`))
	}))

	require.NoError(t, c.do(context.Background(), http.MethodGet, "/v1/databases/x", nil, nil))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchDatabases_Paginates(t *testing.T) {
	var calls atomic.Int32

	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/search", r.URL.Path)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "database", req.Filter.Value)

		if calls.Add(1) == 1 {
			json.NewEncoder(w).Encode(map[string]any{
				"results":     []map[string]any{{"id": "db-1", "title": []map[string]any{{"plain_text": "First"}}}},
				"has_more":    true,
				"next_cursor": "c2",
			})
			return
		}

		assert.Equal(t, "c2", req.StartCursor)
		json.NewEncoder(w).Encode(map[string]any{
			"results":  []map[string]any{{"id": "db-2"}},
			"has_more": false,
		})
	}))

	dbs, err := c.SearchDatabases(context.Background())
	require.NoError(t, err)
	require.Len(t, dbs, 2)
	assert.Equal(t, "First", dbs[0].DisplayName())
	assert.Equal(t, "db-2", dbs[1].ID)
}

func TestQueryAllPages_SortedByID(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"id": "row-b"}, {"id": "row-a"}},
		})
	}))

	pages, err := c.QueryAllPages(context.Background(), "ds-1")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "row-a", pages[0].ID)
	assert.Equal(t, "row-b", pages[1].ID)
}

func TestCreatePage_AddressesDataSource(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/pages", r.URL.Path)

		var req createPageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "data_source_id", req.Parent.Type)
		assert.Equal(t, "ds-1", req.Parent.DataSourceID)

		json.NewEncoder(w).Encode(map[string]any{"id": "row-new"})
	}))

	page, err := c.CreatePage(context.Background(), "ds-1", map[string]Value{
		"Title": {Type: TypeTitle, Title: Text("Alpha")},
	})
	require.NoError(t, err)
	assert.Equal(t, "row-new", page.ID)
}

func TestResolveDataSource(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":           "db-1",
			"data_sources": []map[string]any{{"id": "ds-1", "name": "default"}},
		})
	}))

	dsID, err := c.ResolveDataSource(context.Background(), "db-1")
	require.NoError(t, err)
	assert.Equal(t, "ds-1", dsID)
}

func TestResolveDataSource_NoneFails(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "db-1"})
	}))

	_, err := c.ResolveDataSource(context.Background(), "db-1")
	assert.ErrorContains(t, err, "no data source")
}

func TestPlain_FlattensSegmentsAndLinks(t *testing.T) {
	segments := []RichText{
		{PlainText: "see "},
		{PlainText: "docs", Href: "https://example.com"},
		{PlainText: "."},
	}

	assert.Equal(t, "see [docs](https://example.com).", Plain(segments))
	assert.Equal(t, "", Plain(nil))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&APIError{StatusCode: 503, Err: ErrServerError}))
	assert.True(t, IsTransient(&APIError{StatusCode: 429, Err: ErrThrottled}))
	assert.False(t, IsTransient(&APIError{StatusCode: 400, Err: ErrBadRequest}))
	assert.False(t, IsTransient(&APIError{StatusCode: 404, Err: ErrNotFound}))
	assert.False(t, IsTransient(nil))
}
