package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/sliding_window.lua
var slidingWindowScript string

const (
	CartTTL      = 30 * 24 * time.Hour
	OrderViewTTL = 5 * time.Minute
)

type Client struct {
	rdb          *redis.Client
	windowScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:          rdb,
		windowScript: redis.NewScript(slidingWindowScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SlidingWindow records one hit against key and reports whether it fits in
// limit hits per window. Check and record happen atomically in Lua.
func (c *Client) SlidingWindow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time, error) {
	now := time.Now()
	args := []interface{}{now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString()}

	result, err := c.windowScript.Run(ctx, c.rdb, []string{key}, args...).Result()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("sliding window script failed: %w", err)
	}

	vals, ok := result.([]interface{})
	if !ok || len(vals) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("unexpected script result type")
	}
	allowed, _ := vals[0].(int64)
	remaining, _ := vals[1].(int64)
	resetMs, _ := vals[2].(int64)

	return allowed == 1, int(remaining), time.UnixMilli(resetMs), nil
}

func cartKey(token string) string { return fmt.Sprintf("cart:%s", token) }

func orderViewKey(orderID string) string { return fmt.Sprintf("order_view:%s", orderID) }

func (c *Client) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

func (c *Client) getJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// LoadCart returns the cart stored under token, or an empty cart
func (c *Client) LoadCart(ctx context.Context, token string) (*cart.Cart, error) {
	ct := cart.New()
	if _, err := c.getJSON(ctx, cartKey(token), ct); err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	return ct, nil
}

// SaveCart stores the cart and refreshes its TTL
func (c *Client) SaveCart(ctx context.Context, token string, ct *cart.Cart) error {
	return c.setJSON(ctx, cartKey(token), ct, CartTTL)
}

func (c *Client) DeleteCart(ctx context.Context, token string) error {
	return c.rdb.Del(ctx, cartKey(token)).Err()
}

// cachedOrderView keeps the owner's email next to the view so lookups can be
// checked without touching Postgres.
type cachedOrderView struct {
	Email string            `json:"email"`
	View  *models.OrderView `json:"view"`
}

// GetOrderView reads a cached customer order view and the email it belongs to
func (c *Client) GetOrderView(ctx context.Context, orderID string) (*models.OrderView, string, bool, error) {
	var cached cachedOrderView
	found, err := c.getJSON(ctx, orderViewKey(orderID), &cached)
	if err != nil || !found || cached.View == nil {
		return nil, "", false, err
	}
	return cached.View, cached.Email, true, nil
}

func (c *Client) SetOrderView(ctx context.Context, email string, view *models.OrderView) error {
	return c.setJSON(ctx, orderViewKey(view.ID), cachedOrderView{Email: email, View: view}, OrderViewTTL)
}

func (c *Client) InvalidateOrderView(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, orderViewKey(orderID)).Err()
}
