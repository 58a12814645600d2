// Package redis publishes crawl telemetry to Redis: recovery metric
// snapshots as a hash, the blacklist as a set and events as a capped stream.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/crawlguard/internal/core/domain"
	"github.com/vietddude/crawlguard/internal/resilience/telemetry"
)

const (
	defaultPrefix    = "crawlguard"
	defaultMaxLen    = 10000
	defaultQueueSize = 1024
)

// Config holds Redis connection configuration.
type Config struct {
	URL          string `yaml:"url"`
	Password     string `yaml:"password"`
	KeyPrefix    string `yaml:"key_prefix"`
	StreamMaxLen int64  `yaml:"stream_max_len"`
}

// Client is the Redis telemetry sink. As an Observer it never blocks the
// fetch path: events are queued and written by Run, and dropped when the
// queue is full.
type Client struct {
	rdb    *redis.Client
	prefix string
	maxLen int64
	logger *slog.Logger

	events  chan telemetry.Event
	dropped atomic.Int64
}

// NewClient creates a new Redis client and checks the connection.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newClient(rdb, cfg, logger), nil
}

func newClient(rdb *redis.Client, cfg Config, logger *slog.Logger) *Client {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultPrefix
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = defaultMaxLen
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rdb:    rdb,
		prefix: cfg.KeyPrefix,
		maxLen: cfg.StreamMaxLen,
		logger: logger,
		events: make(chan telemetry.Event, defaultQueueSize),
	}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func recoveryKey(prefix string) string  { return prefix + ":recovery" }
func eventsKey(prefix string) string    { return prefix + ":events" }
func blacklistKey(prefix string) string { return prefix + ":blacklist" }

// PublishSnapshot stores the latest recovery metrics.
func (c *Client) PublishSnapshot(ctx context.Context, m domain.RecoveryMetrics) error {
	err := c.rdb.HSet(ctx, recoveryKey(c.prefix), map[string]any{
		"total_errors":             m.TotalErrors,
		"recovered_errors":         m.RecoveredErrors,
		"strategies_applied":       m.StrategiesApplied,
		"successful_adaptations":   m.SuccessfulAdaptations,
		"failed_adaptations":       m.FailedAdaptations,
		"average_recovery_time_ms": m.AverageRecoveryTime.Milliseconds(),
		"captured_at":              m.CapturedAt.UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("hset recovery: %w", err)
	}
	return nil
}

// Snapshot reads the stored recovery metrics back.
func (c *Client) Snapshot(ctx context.Context) (domain.RecoveryMetrics, error) {
	vals, err := c.rdb.HGetAll(ctx, recoveryKey(c.prefix)).Result()
	if err != nil {
		return domain.RecoveryMetrics{}, fmt.Errorf("hgetall recovery: %w", err)
	}
	num := func(k string) int64 {
		n, _ := strconv.ParseInt(vals[k], 10, 64)
		return n
	}
	m := domain.RecoveryMetrics{
		TotalErrors:           num("total_errors"),
		RecoveredErrors:       num("recovered_errors"),
		StrategiesApplied:     num("strategies_applied"),
		SuccessfulAdaptations: num("successful_adaptations"),
		FailedAdaptations:     num("failed_adaptations"),
		AverageRecoveryTime:   time.Duration(num("average_recovery_time_ms")) * time.Millisecond,
	}
	if ts, err := time.Parse(time.RFC3339Nano, vals["captured_at"]); err == nil {
		m.CapturedAt = ts
	}
	return m, nil
}

// PublishBlacklist replaces the stored set of blacklisted domains.
func (c *Client) PublishBlacklist(ctx context.Context, domains []string) error {
	key := blacklistKey(c.prefix)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(domains) > 0 {
			members := make([]any, len(domains))
			for i, d := range domains {
				members[i] = d
			}
			pipe.SAdd(ctx, key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish blacklist: %w", err)
	}
	return nil
}

// Blacklist returns the stored set of blacklisted domains.
func (c *Client) Blacklist(ctx context.Context) ([]string, error) {
	return c.rdb.SMembers(ctx, blacklistKey(c.prefix)).Result()
}

// Observe queues e for Run. Never blocks.
func (c *Client) Observe(e telemetry.Event) {
	select {
	case c.events <- e:
	default:
		c.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Run writes queued events until ctx is done, then flushes what is left.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.flush()
			return nil
		case e := <-c.events:
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if err := c.AppendEvent(wctx, e); err != nil {
				c.logger.Warn("Failed to append event", "type", e.Type, "error", err)
			}
			cancel()
		}
	}
}

func (c *Client) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case e := <-c.events:
			if err := c.AppendEvent(ctx, e); err != nil {
				return
			}
		default:
			return
		}
	}
}

// AppendEvent writes one event to the capped stream.
func (c *Client) AppendEvent(ctx context.Context, e telemetry.Event) error {
	err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: eventsKey(c.prefix),
		MaxLen: c.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":       string(e.Type),
			"call_id":    e.CallID,
			"domain":     e.Domain,
			"url":        e.URL,
			"attempt":    e.Attempt,
			"kind":       string(e.Kind),
			"status":     e.Status,
			"strategy":   e.Strategy,
			"wait_ms":    e.Wait.Milliseconds(),
			"latency_ms": e.Latency.Milliseconds(),
			"message":    e.Message,
			"at":         e.At.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd event: %w", err)
	}
	return nil
}

// RecentEvents returns up to count events, newest first.
func (c *Client) RecentEvents(ctx context.Context, count int64) ([]telemetry.Event, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, eventsKey(c.prefix), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange events: %w", err)
	}

	out := make([]telemetry.Event, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, decodeEvent(m.Values))
	}
	return out, nil
}

func decodeEvent(v map[string]any) telemetry.Event {
	str := func(k string) string {
		s, _ := v[k].(string)
		return s
	}
	num := func(k string) int64 {
		n, _ := strconv.ParseInt(str(k), 10, 64)
		return n
	}
	e := telemetry.Event{
		Type:     telemetry.EventType(str("type")),
		CallID:   str("call_id"),
		Domain:   str("domain"),
		URL:      str("url"),
		Attempt:  int(num("attempt")),
		Kind:     domain.ErrorKind(str("kind")),
		Status:   int(num("status")),
		Strategy: str("strategy"),
		Wait:     time.Duration(num("wait_ms")) * time.Millisecond,
		Latency:  time.Duration(num("latency_ms")) * time.Millisecond,
		Message:  str("message"),
	}
	if ts, err := time.Parse(time.RFC3339Nano, str("at")); err == nil {
		e.At = ts
	}
	return e
}
