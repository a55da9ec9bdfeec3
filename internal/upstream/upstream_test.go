package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func TestCatalogueLatestTimestamp(t *testing.T) {
	var gotAuth, gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/catalogue/s100/latest", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotSince = r.URL.Query().Get("since")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"timestamp":"2024-01-02T00:00:00Z","products":[{"name":"101GB0001","size_bytes":1024}]}`))
	}))
	defer srv.Close()

	c := NewCatalogueClient(srv.URL+"/api/", "secret", time.Second, nil)
	since := t0.Add(-24 * time.Hour)
	snap, err := c.LatestTimestamp(context.Background(), jobs.S100, &since)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "2024-01-01T00:00:00Z", gotSince)
	assert.Equal(t, t0, snap.Timestamp)
	assert.Equal(t, []string{"101GB0001"}, snap.ProductNames())
	assert.False(t, snap.NotModified)
}

func TestCatalogueNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	c := NewCatalogueClient(srv.URL, "", time.Second, nil)
	snap, err := c.LatestTimestamp(context.Background(), jobs.S57, &t0)
	require.NoError(t, err)
	assert.True(t, snap.NotModified)
	assert.Equal(t, t0, snap.Timestamp)
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		category  errors.ErrorCategory
		transient bool
	}{
		{"server error", http.StatusInternalServerError, errors.CategoryUpstream, true},
		{"bad gateway", http.StatusBadGateway, errors.CategoryUpstream, true},
		{"timeout", http.StatusRequestTimeout, errors.CategoryUpstream, true},
		{"rate limited", http.StatusTooManyRequests, errors.CategoryUpstream, true},
		{"bad request", http.StatusBadRequest, errors.CategoryUpstream, false},
		{"forbidden", http.StatusForbidden, errors.CategoryUpstream, false},
		{"not found", http.StatusNotFound, errors.CategoryNotFound, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte("nope"))
			}))
			defer srv.Close()

			_, err := NewCatalogueClient(srv.URL, "", time.Second, nil).LatestTimestamp(context.Background(), jobs.S63, nil)
			require.Error(t, err)
			assert.True(t, errors.HasCategory(err, tc.category))
			assert.Equal(t, tc.transient, errors.IsTransient(err))

			c, ok := errors.AsClassified(err)
			require.True(t, ok)
			assert.Equal(t, tc.status, c.Context()["code"])
		})
	}
}

func TestNetworkErrorsAreTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewCatalogueClient(url, "", time.Second, nil).LatestTimestamp(context.Background(), jobs.S100, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNetwork))
	assert.True(t, errors.IsTransient(err))
}

func TestCanceledContextIsNotClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCatalogueClient(srv.URL, "", time.Second, nil).LatestTimestamp(ctx, jobs.S100, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFileServiceLifecycle(t *testing.T) {
	var (
		created createBatchRequest
		expiry  expiryRequest
		commits []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/batches", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
		_ = json.NewEncoder(w).Encode(Batch{ID: "b-new", DataStandard: created.DataStandard})
	})
	mux.HandleFunc("PUT /v1/batches/{id}/commit", func(w http.ResponseWriter, r *http.Request) {
		commits = append(commits, r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /v1/batches", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "S100", r.URL.Query().Get("data_standard"))
		_ = json.NewEncoder(w).Encode([]Batch{{ID: "b-old"}, {ID: "b-new"}, {ID: "b-older"}})
	})
	mux.HandleFunc("PUT /v1/batches/expiry", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&expiry))
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	c := NewFileServiceClient(srv.URL, "tok", time.Second, nil)

	batch, err := c.CreateBatch(ctx, jobs.S100, "s100-20240102T000000Z-abc")
	require.NoError(t, err)
	assert.Equal(t, "b-new", batch.ID)
	assert.Equal(t, "s100-20240102T000000Z-abc", created.Discriminator)

	require.NoError(t, c.CommitBatch(ctx, "b-new"))
	assert.Equal(t, []string{"b-new"}, commits)

	others, err := c.SearchOtherBatches(ctx, jobs.S100, "b-new")
	require.NoError(t, err)
	require.Len(t, others, 2)
	assert.Equal(t, "b-old", others[0].ID)
	assert.Equal(t, "b-older", others[1].ID)

	require.NoError(t, c.SetExpiry(ctx, []string{"b-old", "b-older"}, t0))
	assert.Equal(t, []string{"b-old", "b-older"}, expiry.BatchIDs)
	assert.Equal(t, t0, expiry.ExpiresAt)

	require.NoError(t, c.SetExpiry(ctx, nil, t0), "empty id list does not call the service")
}
