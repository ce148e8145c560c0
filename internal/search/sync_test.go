package search

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"brewstore/internal/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearch struct {
	mu       sync.Mutex
	indices  map[string]bool
	docs     map[string]catalog.Product
	requests []string
	failAll  bool
}

func (f *fakeSearch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	if f.failAll {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"type":"cluster_block_exception","reason":"read only"},"status":500}`)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	index := parts[0]
	switch {
	case r.Method == http.MethodDelete && len(parts) == 1:
		if !f.indices[index] {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"type":"index_not_found_exception","reason":"no such index [`+index+`]"},"status":404}`)
			return
		}
		delete(f.indices, index)
		_, _ = io.WriteString(w, `{"acknowledged":true}`)
	case r.Method == http.MethodPut && len(parts) == 1:
		f.indices[index] = true
		_, _ = io.WriteString(w, `{"acknowledged":true,"shards_acknowledged":true,"index":"`+index+`"}`)
	case r.Method == http.MethodPut && len(parts) == 3 && parts[1] == "_doc":
		var p catalog.Product
		_ = json.NewDecoder(r.Body).Decode(&p)
		f.docs[parts[2]] = p
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"result":"created"}`)
	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "_refresh":
		_, _ = io.WriteString(w, `{"_shards":{"total":1,"successful":1,"failed":0}}`)
	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"type":"illegal_argument_exception","reason":"unexpected request"},"status":400}`)
	}
}

func newTestSyncer(t *testing.T, fake *fakeSearch) *Syncer {
	t.Helper()
	if fake.indices == nil {
		fake.indices = map[string]bool{}
	}
	fake.docs = map[string]catalog.Product{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	es, err := NewClient(srv.URL, "")
	require.NoError(t, err)
	return NewSyncer(es, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDeleteIndex(t *testing.T) {
	fake := &fakeSearch{indices: map[string]bool{"products": true}}
	s := newTestSyncer(t, fake)

	res, err := s.DeleteIndex(context.Background(), "products")
	require.NoError(t, err)
	assert.Equal(t, Result{Index: "products", Acknowledged: true}, res)
	assert.False(t, fake.indices["products"])
}

func TestDeleteMissingIndexIsBenign(t *testing.T) {
	s := newTestSyncer(t, &fakeSearch{})

	res, err := s.DeleteIndex(context.Background(), "products")
	require.NoError(t, err)
	assert.True(t, res.NotFound)
	assert.False(t, res.Acknowledged)
}

func TestDeleteIndexFailure(t *testing.T) {
	s := newTestSyncer(t, &fakeSearch{failAll: true})

	_, err := s.DeleteIndex(context.Background(), "products")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "cluster_block_exception", apiErr.Type)
}

func TestRebuild(t *testing.T) {
	fake := &fakeSearch{}
	s := newTestSyncer(t, fake)
	products := []catalog.Product{
		{ID: "espresso-blend", Name: "Espresso Blend", Price: 29000, Stock: 10},
		{ID: "phin-filter", Name: "Phin Filter", Price: 45000, Stock: 4},
	}

	res, err := s.Rebuild(context.Background(), "products", products, true)
	require.NoError(t, err)
	assert.Equal(t, RebuildResult{Index: "products", Indexed: 2, Refreshed: true}, res)

	assert.True(t, fake.indices["products"])
	assert.Equal(t, products[1], fake.docs["phin-filter"])
	assert.Equal(t, []string{
		"DELETE /products",
		"PUT /products",
		"PUT /products/_doc/espresso-blend",
		"PUT /products/_doc/phin-filter",
		"POST /products/_refresh",
	}, fake.requests)
}

func TestRebuildWithoutWaitSkipsRefresh(t *testing.T) {
	fake := &fakeSearch{indices: map[string]bool{"products": true}}
	s := newTestSyncer(t, fake)

	res, err := s.Rebuild(context.Background(), "products", nil, false)
	require.NoError(t, err)
	assert.False(t, res.Refreshed)
	assert.Equal(t, 0, res.Indexed)
	assert.Equal(t, []string{"DELETE /products", "PUT /products"}, fake.requests)
}
