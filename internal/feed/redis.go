package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel output lines are mirrored to.
const DefaultRedisChannel = "steward:output"

// redisPublisher is the subset of *redis.Client used by RedisMirror.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisMirror republishes output lines on a Redis pub/sub channel so that
// observers outside this process can follow command output.
//
// Publish only appends to an in-memory Queue; a pump started by Run moves
// lines to Redis. A slow or unreachable Redis therefore never delays
// command execution.
type RedisMirror struct {
	client   redisPublisher
	closer   io.Closer
	channel  string
	buf      *Queue
	interval time.Duration
	logger   *slog.Logger
}

var _ Publisher = (*RedisMirror)(nil)

// NewRedisMirror connects to the Redis server at addr and verifies the
// connection with a PING.
func NewRedisMirror(addr, channel string, logger *slog.Logger) (*RedisMirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}

	m := newRedisMirror(rdb, channel, logger)
	m.closer = rdb
	return m, nil
}

func newRedisMirror(client redisPublisher, channel string, logger *slog.Logger) *RedisMirror {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisMirror{
		client:   client,
		channel:  channel,
		buf:      NewQueue(),
		interval: DefaultPollInterval,
		logger:   logger,
	}
}

// Publish buffers line for the pump.
func (m *RedisMirror) Publish(line Line) {
	m.buf.Publish(line)
}

// Run pumps buffered lines to Redis until ctx is cancelled.
func (m *RedisMirror) Run(ctx context.Context) {
	m.logger.Info("Starting Redis output mirror", "channel", m.channel)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.flush(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *RedisMirror) flush(ctx context.Context) {
	for {
		line, ok := m.buf.TryDrain()
		if !ok {
			return
		}
		data, err := json.Marshal(line)
		if err != nil {
			m.logger.Error("Failed to marshal output line", "error", err)
			continue
		}
		if err := m.client.Publish(ctx, m.channel, data).Err(); err != nil {
			// The line is dropped.
			m.logger.Warn("Failed to mirror output line to redis", "channel", m.channel, "error", err)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// Close releases the Redis connection.
func (m *RedisMirror) Close() error {
	m.buf.Close()
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}
