package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCatalog_SeasonAttrs(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/v1/seasons/season1":
			assert.Equal(t, "2026-08-30", r.URL.Query().Get("period"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"publisher_id":"pub-1","grade":10}`))
		case "/v1/seasons/ghost":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	catalog := NewHTTPCatalog(srv.URL, 2*time.Second)

	attrs, err := catalog.SeasonAttrs(context.Background(), "season1", "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, SeasonAttrs{PublisherID: "pub-1", Grade: 10}, attrs)

	_, err = catalog.SeasonAttrs(context.Background(), "ghost", "2026-08-30")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = catalog.SeasonAttrs(context.Background(), "broken", "2026-08-30")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestCachedCatalog_KeyIncludesPeriod(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"publisher_id":"pub-1","grade":10}`))
	}))
	defer srv.Close()

	catalog := NewCachedCatalog(NewHTTPCatalog(srv.URL, 2*time.Second), 8)

	_, err := catalog.SeasonAttrs(context.Background(), "season1", "2026-08-30")
	require.NoError(t, err)
	_, err = catalog.SeasonAttrs(context.Background(), "season1", "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	// A different period is a different natural key.
	_, err = catalog.SeasonAttrs(context.Background(), "season1", "2026-08-31")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}
