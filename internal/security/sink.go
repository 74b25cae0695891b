package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

// Sink persists events outside the process.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// Forwarder hands events to a Sink from a single goroutine so the request
// path never waits on sink I/O. Events arriving while the buffer is full are
// dropped and counted.
type Forwarder struct {
	sink    Sink
	queue   chan Event
	logger  *slog.Logger
	metrics *Collectors
	timeout time.Duration
	dropped atomic.Int64
	failed  atomic.Int64
}

// DefaultForwardBuffer is the queue depth used when none is given.
const DefaultForwardBuffer = 1024

// NewForwarder builds a forwarder with a queue of buffer events.
func NewForwarder(sink Sink, buffer int, logger *slog.Logger, metrics *Collectors) *Forwarder {
	if buffer <= 0 {
		buffer = DefaultForwardBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		sink:    sink,
		queue:   make(chan Event, buffer),
		logger:  logger,
		metrics: metrics,
		timeout: 2 * time.Second,
	}
}

// Enqueue offers e without blocking and reports whether it was accepted.
func (f *Forwarder) Enqueue(e Event) bool {
	if f == nil {
		return false
	}
	select {
	case f.queue <- e:
		return true
	default:
		f.dropped.Add(1)
		f.metrics.sinkDropped()
		return false
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case e := <-f.queue:
			f.write(ctx, e)
		case <-ctx.Done():
			f.flush()
			return nil
		}
	}
}

func (f *Forwarder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	for {
		select {
		case e := <-f.queue:
			f.write(ctx, e)
		default:
			return
		}
	}
}

func (f *Forwarder) write(ctx context.Context, e Event) {
	wctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := f.sink.Write(wctx, e); err != nil {
		f.failed.Add(1)
		f.metrics.sinkFailed()
		f.logger.Warn("security sink write failed", slog.String("event_id", e.ID), slog.Any("error", err))
	}
}

// Dropped reports how many events were discarded on a full queue.
func (f *Forwarder) Dropped() int64 {
	return f.dropped.Load()
}

// Failed reports how many sink writes returned an error.
func (f *Forwarder) Failed() int64 {
	return f.failed.Load()
}

// DefaultEventList is the Redis list events are pushed to.
const DefaultEventList = "security:events"

// RedisSink keeps the newest events in a capped Redis list, newest first.
type RedisSink struct {
	client redis.Cmdable
	key    string
	max    int64
}

// NewRedisSink builds a sink writing to key, keeping at most limit entries.
func NewRedisSink(client redis.Cmdable, key string, limit int) *RedisSink {
	if key == "" {
		key = DefaultEventList
	}
	if limit <= 0 {
		limit = 10000
	}
	return &RedisSink{client: client, key: key, max: int64(limit)}
}

// Write implements Sink.
func (s *RedisSink) Write(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("security: encode event: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, payload)
	pipe.LTrim(ctx, s.key, 0, s.max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("security: push event: %w", err)
	}
	return nil
}

// Recent returns up to limit events from the list, newest first. Entries
// that fail to decode are skipped.
func (s *RedisSink) Recent(ctx context.Context, limit int) ([]Event, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := s.client.LRange(ctx, s.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("security: read events: %w", err)
	}
	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var e Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// Trim drops entries past the cap and reports the remaining length.
func (s *RedisSink) Trim(ctx context.Context) (int64, error) {
	if err := s.client.LTrim(ctx, s.key, 0, s.max-1).Err(); err != nil {
		return 0, fmt.Errorf("security: trim events: %w", err)
	}
	n, err := s.client.LLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("security: trim events: %w", err)
	}
	return n, nil
}

// Execer is the subset of pgxpool.Pool the Postgres sink needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertEventSQL = `INSERT INTO security_events
	(id, type, severity, occurred_at, ip, user_agent, path, method, user_id, details, blocked)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)`

const pruneEventsSQL = `DELETE FROM security_events WHERE occurred_at < $1`

// PostgresSink appends events to the security_events table.
type PostgresSink struct {
	db Execer
}

// NewPostgresSink builds a sink on db.
func NewPostgresSink(db Execer) *PostgresSink {
	return &PostgresSink{db: db}
}

// Write implements Sink.
func (s *PostgresSink) Write(ctx context.Context, e Event) error {
	details := []byte("{}")
	if len(e.Details) > 0 {
		var err error
		if details, err = json.Marshal(e.Details); err != nil {
			return fmt.Errorf("security: encode details: %w", err)
		}
	}
	_, err := s.db.Exec(ctx, insertEventSQL,
		e.ID, string(e.Type), string(e.Severity), e.Timestamp,
		e.IP, e.UserAgent, e.Path, e.Method, e.UserID, details, e.Blocked)
	if err != nil {
		return fmt.Errorf("security: insert event: %w", err)
	}
	return nil
}

// PruneBefore deletes rows older than cutoff and returns how many went.
func (s *PostgresSink) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, pruneEventsSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("security: prune events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MultiSink fans an event out to several sinks, returning the first error
// after trying them all.
type MultiSink []Sink

// Write implements Sink.
func (ms MultiSink) Write(ctx context.Context, e Event) error {
	var first error
	for _, s := range ms {
		if err := s.Write(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
