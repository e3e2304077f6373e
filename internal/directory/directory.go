// Package directory reads the campus dining directory.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xtrntr/blockmarket/internal/models"
)

const (
	DefaultBaseURL = "https://dining.apis.scottylabs.org"
	cacheKey       = "directory:locations"
)

// Cache stores decoded directory responses
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

type locationsResponse struct {
	Locations []models.Restaurant `json:"locations"`
}

// Client fetches restaurants from {BaseURL}/locations
type Client struct {
	BaseURL  string
	HTTP     *http.Client
	Cache    Cache
	CacheTTL time.Duration
	Logger   *zap.Logger
}

func NewClient(baseURL string, cache Cache, ttl time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		HTTP:     &http.Client{Timeout: 10 * time.Second},
		Cache:    cache,
		CacheTTL: ttl,
		Logger:   logger,
	}
}

// Restaurants returns the dining locations, from the cache when possible
func (c *Client) Restaurants(ctx context.Context) ([]models.Restaurant, error) {
	if c.Cache != nil {
		var cached []models.Restaurant
		ok, err := c.Cache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			c.Logger.Warn("directory cache read failed", zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	restaurants, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	if c.Cache != nil {
		if err := c.Cache.SetJSON(ctx, cacheKey, restaurants, c.CacheTTL); err != nil {
			c.Logger.Warn("directory cache write failed", zap.Error(err))
		}
	}
	return restaurants, nil
}

// Has reports whether a restaurant called name is listed. Names compare case-insensitively.
func (c *Client) Has(ctx context.Context, name string) (bool, error) {
	restaurants, err := c.Restaurants(ctx)
	if err != nil {
		return false, err
	}
	for _, r := range restaurants {
		if strings.EqualFold(strings.TrimSpace(r.Name), strings.TrimSpace(name)) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) fetch(ctx context.Context) ([]models.Restaurant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/locations", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch locations: %w", models.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: directory returned %d", models.ErrTransport, resp.StatusCode)
	}

	var body locationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode locations: %w", err)
	}
	if body.Locations == nil {
		body.Locations = []models.Restaurant{}
	}
	return body.Locations, nil
}
