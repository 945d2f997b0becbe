// Package cache keeps short-lived JSON values in valkey/redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"smartreply-crm/internal/logging"
)

const keyPrefix = "smartreply:"

// Store is what callers depend on. A nil Store disables caching.
type Store interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Client struct {
	client valkey.Client
	log    *logging.Logger
}

// NewClient connects and pings the server.
func NewClient(addr, password string, db int, log *logging.Logger) (*Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
		SelectDB:    db,
	})
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}

	log = log.Sub("cache")
	log.Info().Str("addr", addr).Msg("connected to valkey")
	return &Client{client: client, log: log}, nil
}

// GetJSON decodes the cached value into dst. found is false on a miss.
func (c *Client) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	result := c.client.Do(ctx, c.client.B().Get().Key(keyPrefix+key).Build())
	if err := result.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return false, nil
		}
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	data, err := result.ToString()
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (c *Client) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	cmd := c.client.B().Set().Key(keyPrefix + key).Value(string(data)).Ex(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	c.log.Debug().Str("key", key).Dur("ttl", ttl).Msg("cached")
	return nil
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = keyPrefix + k
	}
	if err := c.client.Do(ctx, c.client.B().Del().Key(full...).Build()).Error(); err != nil {
		return fmt.Errorf("delete keys: %w", err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}

func (c *Client) Close() {
	c.client.Close()
}
