// Package stream provides a thin wrapper around go-redis/v9 for Redis
// Streams: bounded append, consumer-group reads with acknowledgment, and
// the range/delete operations used by dead-letter replay. All entry values
// travel as flat string-keyed, string-encoded maps.
package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/LOMI1015/flowsight/pkg/config"
	"github.com/redis/go-redis/v9"
)

// Entry is a single stream record: its broker-assigned id plus the flat
// field map carried on the wire.
type Entry struct {
	ID     string
	Values map[string]string
}

// Client wraps a go-redis client with stream operations.
type Client struct {
	rdb    *redis.Client
	maxLen int64
}

// New creates a stream client and verifies the connection with a PING.
// maxLen bounds every published stream with approximate trimming.
func New(cfg config.RedisConfig, maxLen int64) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb, maxLen: maxLen}, nil
}

// Publish appends the values to the stream with approximate MAXLEN trimming
// and returns the broker-assigned entry id.
func (c *Client) Publish(ctx context.Context, stream string, values map[string]string) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: c.maxLen,
		Approx: true,
		Values: toAny(values),
	}
	id, err := c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("appending to stream %s: %w", stream, err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group from the beginning of the stream,
// creating the stream itself when absent. An already-existing group is not
// an error.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}

// ReadGroup block-reads up to count never-delivered entries for the named
// consumer. A read that times out returns (nil, nil).
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading group %s from %s: %w", group, stream, err)
	}
	var entries []Entry
	for _, xs := range res {
		for _, msg := range xs.Messages {
			entries = append(entries, Entry{ID: msg.ID, Values: toStrings(msg.Values)})
		}
	}
	return entries, nil
}

// Ack acknowledges the entry for the group.
func (c *Client) Ack(ctx context.Context, stream, group, id string) error {
	if err := c.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		return fmt.Errorf("acking %s on %s: %w", id, stream, err)
	}
	return nil
}

// Range returns up to count entries of the stream between start and stop
// (inclusive). Use "-" and "+" for the full range.
func (c *Client) Range(ctx context.Context, stream, start, stop string, count int64) ([]Entry, error) {
	msgs, err := c.rdb.XRangeN(ctx, stream, start, stop, count).Result()
	if err != nil {
		return nil, fmt.Errorf("ranging stream %s: %w", stream, err)
	}
	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, Entry{ID: msg.ID, Values: toStrings(msg.Values)})
	}
	return entries, nil
}

// Delete removes the entries from the stream.
func (c *Client) Delete(ctx context.Context, stream string, ids ...string) error {
	if err := c.rdb.XDel(ctx, stream, ids...).Err(); err != nil {
		return fmt.Errorf("deleting from stream %s: %w", stream, err)
	}
	return nil
}

// Ping sends a PING to Redis and returns any error.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func toAny(values map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func toStrings(values map[string]interface{}) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
