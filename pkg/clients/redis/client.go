package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-isolation/pkg/clients/redis"

// Nil is returned, wrapped, when a key does not exist.
var Nil = redis.Nil

// Cmdable is the subset of go-redis the client calls.
type Cmdable interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ Cmdable = (*redis.Client)(nil)

// Client is safe for concurrent use.
type Client struct {
	cmdable Cmdable
	cfg     Config
	tracer  trace.Tracer
}

// NewClient validates cfg, connects and pings.
//
// Error codes: VAL_* for configuration, UNAVAIL_002 when the server cannot
// be reached.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts *redis.Options
	if cfg.URI != "" {
		var err error
		if opts, err = redis.ParseURL(cfg.URI); err != nil {
			return nil, sserr.Wrap(err, sserr.CodeValidation, "redis: failed to parse URI")
		}
		cfg.DB = opts.DB
	} else {
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password.Value(),
			DB:       cfg.DB,
		}
		if cfg.TLSEnabled {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}
	opts.PoolSize = cfg.PoolSize
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "redis: failed to connect")
	}
	return NewFromClient(rdb, cfg), nil
}

// NewFromClient wraps an existing Cmdable. Tests pass a mock.
func NewFromClient(cmdable Cmdable, cfg Config) *Client {
	return &Client{cmdable: cmdable, cfg: cfg, tracer: otel.Tracer(tracerName)}
}

// Key joins parts under the configured prefix with colons.
func (c *Client) Key(parts ...string) string {
	key := c.cfg.KeyPrefix
	for _, p := range parts {
		if key == "" {
			key = p
			continue
		}
		key += ":" + p
	}
	return key
}

// Set stores value under key. A zero expiration keeps it forever.
func (c *Client) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	ctx, span := c.startSpan(ctx, "Set", "SET "+key)
	err := c.cmdable.Set(ctx, key, value, expiration).Err()
	finishSpan(span, err)
	return wrapError(err, "redis: set failed")
}

// Get reads key. A missing key returns an NF_001 error wrapping Nil.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	ctx, span := c.startSpan(ctx, "Get", "GET "+key)
	val, err := c.cmdable.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		finishSpan(span, nil)
		return "", sserr.Wrap(err, sserr.CodeNotFound, fmt.Sprintf("redis: key %q not found", key))
	}
	finishSpan(span, err)
	return val, wrapError(err, "redis: get failed")
}

// Del removes keys and returns how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	ctx, span := c.startSpan(ctx, "Del", fmt.Sprintf("DEL %v", keys))
	n, err := c.cmdable.Del(ctx, keys...).Result()
	finishSpan(span, err)
	return n, wrapError(err, "redis: del failed")
}

// HSet writes field/value pairs into the hash at key.
func (c *Client) HSet(ctx context.Context, key string, values ...any) error {
	ctx, span := c.startSpan(ctx, "HSet", "HSET "+key)
	err := c.cmdable.HSet(ctx, key, values...).Err()
	finishSpan(span, err)
	return wrapError(err, "redis: hset failed")
}

// HGetAll reads the whole hash at key. A missing key yields an empty map.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, span := c.startSpan(ctx, "HGetAll", "HGETALL "+key)
	m, err := c.cmdable.HGetAll(ctx, key).Result()
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: hgetall failed")
	}
	return m, nil
}

// PushCapped prepends value to the list at key and trims the list to its
// newest limit entries.
func (c *Client) PushCapped(ctx context.Context, key string, value any, limit int64) error {
	ctx, span := c.startSpan(ctx, "PushCapped", fmt.Sprintf("LPUSH %s; LTRIM %s 0 %d", key, key, limit-1))
	err := c.cmdable.LPush(ctx, key, value).Err()
	if err == nil {
		err = c.cmdable.LTrim(ctx, key, 0, limit-1).Err()
	}
	finishSpan(span, err)
	return wrapError(err, "redis: capped push failed")
}

// LRange reads list elements start through stop, inclusive.
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, span := c.startSpan(ctx, "LRange", fmt.Sprintf("LRANGE %s %d %d", key, start, stop))
	vals, err := c.cmdable.LRange(ctx, key, start, stop).Result()
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: lrange failed")
	}
	return vals, nil
}

// Health pings the server, bounded by DefaultHealthTimeout when ctx has no
// deadline.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "PING")
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	err := c.cmdable.Ping(ctx).Err()
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "redis: health check failed")
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.cmdable.Close()
}

func (c *Client) startSpan(ctx context.Context, op, statement string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "redis."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.Int("db.redis.database_index", c.cfg.DB),
			attribute.String("db.statement", truncateStatement(statement)),
		),
	)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError maps deadline errors to TIMEOUT_002 and everything else to
// INT_002. nil stays nil.
func wrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
