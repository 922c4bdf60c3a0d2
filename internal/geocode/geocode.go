// Package geocode 封装 Nominatim 风格的地址转坐标查询。
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"cleanwave/internal/config"
	"cleanwave/internal/pkg/metrics"
)

// Coordinates 一对经纬度。
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Client 地理编码客户端。
//
// 按地址字符串全文缓存查询结果，缓存存活到进程结束且不做淘汰——
// 地址空间很小且进程短命，这是已知的设计取舍，不是待修的 bug。
// 外呼之间强制最小间隔以遵守第三方的频率政策；间隔在持锁期间等待，
// 因此所有查询天然串行。
type Client struct {
	httpClient  *http.Client
	baseURL     string
	userAgent   string
	minInterval time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	cache    map[string]Coordinates
	lastCall time.Time
}

// New 创建客户端。
func New(cfg *config.GeocodeConfig, logger *slog.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     cfg.BaseURL,
		userAgent:   cfg.UserAgent,
		minInterval: cfg.MinInterval,
		logger:      logger,
		cache:       make(map[string]Coordinates),
	}
}

// Resolve 查询地址坐标。
//
// 查不到、超时或服务不可用一律返回 ok=false，调用方必须把
// “没有坐标”当作正常结果处理，而不是错误。
func (c *Client) Resolve(ctx context.Context, address string) (Coordinates, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if coords, ok := c.cache[address]; ok {
		metrics.GeocodeCacheHitTotal.Inc()
		return coords, true
	}

	if wait := c.minInterval - time.Since(c.lastCall); wait > 0 {
		select {
		case <-ctx.Done():
			return Coordinates{}, false
		case <-time.After(wait):
		}
	}
	c.lastCall = time.Now()

	coords, err := c.lookup(ctx, address)
	metrics.GeocodeLookupTotal.Inc()
	if err != nil {
		metrics.GeocodeFailureTotal.Inc()
		if c.logger != nil {
			c.logger.Warn("geocode lookup failed",
				slog.String("address", address),
				slog.String("error", err.Error()),
			)
		}
		return Coordinates{}, false
	}

	c.cache[address] = coords
	return coords, true
}

// nominatimResult Nominatim 返回的单条结果（坐标是字符串）。
type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (c *Client) lookup(ctx context.Context, address string) (Coordinates, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return Coordinates{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Coordinates{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Coordinates{}, fmt.Errorf("geocode status %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Coordinates{}, fmt.Errorf("decode response: %w", err)
	}
	if len(results) == 0 {
		return Coordinates{}, fmt.Errorf("no result for address")
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("parse lat: %w", err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("parse lon: %w", err)
	}

	return Coordinates{Latitude: lat, Longitude: lon}, nil
}
