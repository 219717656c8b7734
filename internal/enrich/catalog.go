// Package enrich resolves external catalog attributes needed to weight raw
// contributions during aggregation, fronted by a bounded in-process cache.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mediameter-lab/mediameter/internal/core/keyspace"
)

// ErrNotFound distinguishes "the catalog has no such subject" from transport
// failures. Aggregation skips the single contribution on ErrNotFound but
// fails the whole run on anything else.
var ErrNotFound = errors.New("catalog subject not found")

// SeasonAttrs are the attributes of one season as of a given period.
type SeasonAttrs struct {
	PublisherID string `json:"publisher_id"`
	Grade       int64  `json:"grade"`
}

// Catalog resolves season attributes from the external metadata service.
type Catalog interface {
	SeasonAttrs(ctx context.Context, seasonID string, period keyspace.Period) (SeasonAttrs, error)
}

// HTTPCatalog is the production Catalog over the metadata service's REST API.
type HTTPCatalog struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCatalog creates a catalog client for the given base URL.
func NewHTTPCatalog(baseURL string, timeout time.Duration) *HTTPCatalog {
	return &HTTPCatalog{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPCatalog) SeasonAttrs(ctx context.Context, seasonID string, period keyspace.Period) (SeasonAttrs, error) {
	u := fmt.Sprintf("%s/v1/seasons/%s?period=%s",
		c.baseURL, url.PathEscape(seasonID), url.QueryEscape(string(period)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return SeasonAttrs{}, fmt.Errorf("catalog request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return SeasonAttrs{}, fmt.Errorf("catalog lookup %q: %w", seasonID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return SeasonAttrs{}, fmt.Errorf("season %q as of %s: %w", seasonID, period, ErrNotFound)
	default:
		return SeasonAttrs{}, fmt.Errorf("catalog lookup %q: unexpected status %d", seasonID, resp.StatusCode)
	}

	var attrs SeasonAttrs
	if err := json.NewDecoder(resp.Body).Decode(&attrs); err != nil {
		return SeasonAttrs{}, fmt.Errorf("catalog lookup %q: decode: %w", seasonID, err)
	}
	return attrs, nil
}

// CachedCatalog memoizes season lookups through a bounded Cache. Season
// attributes are immutable for a given period, so entries carry no TTL; the
// cache key is the attribute's natural composite key.
type CachedCatalog struct {
	inner Catalog
	cache *Cache[SeasonAttrs]
}

// NewCachedCatalog wraps inner with an LRU of the given capacity.
func NewCachedCatalog(inner Catalog, capacity int) *CachedCatalog {
	return &CachedCatalog{
		inner: inner,
		cache: NewCache[SeasonAttrs](capacity),
	}
}

func (c *CachedCatalog) SeasonAttrs(ctx context.Context, seasonID string, period keyspace.Period) (SeasonAttrs, error) {
	key := seasonID + "#" + string(period)
	return c.cache.Get(ctx, key, func(ctx context.Context) (SeasonAttrs, error) {
		return c.inner.SeasonAttrs(ctx, seasonID, period)
	})
}
