// Package redishub is an alternative to eventstream.MemHub for multi-process
// deployments: it fans events out through Redis Streams (XADD/XREAD) instead
// of in-memory channels, so every process subscribed to a path observes the
// same live tail regardless of which process produced it.
//
// Adapted from registry/result_stream.go's direct *redis.Client usage in the
// teacher repository (JSON-encoded messages over a Redis stream key, one key
// per logical stream) and from features/stream/pulse/subscriber.go's
// consume-loop/ack shape, rebuilt against go-redis instead of Pulse.
package redishub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamforge/agentrt/internal/eventlog"
)

// keyTTL bounds how long a path's Redis stream key survives with no new
// appends, so abandoned paths don't accumulate forever.
const keyTTL = 24 * time.Hour

// Hub publishes and fans out eventlog.Event values through Redis Streams. It
// satisfies eventstream.Hub.
type Hub struct {
	rdb    *redis.Client
	prefix string
}

// Options configures a Redis-backed hub.
type Options struct {
	// Client is a connected go-redis client. Required.
	Client *redis.Client
	// KeyPrefix namespaces the Redis stream keys this hub uses. Defaults
	// to "agentrt:stream:".
	KeyPrefix string
}

// New constructs a Redis-backed hub.
func New(opts Options) (*Hub, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("redishub: client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "agentrt:stream:"
	}
	return &Hub{rdb: opts.Client, prefix: prefix}, nil
}

func (h *Hub) key(path eventlog.StreamPath) string {
	return h.prefix + string(path)
}

// Publish appends ev to its path's Redis stream, JSON-encoded in a single
// field. Publish logs nothing and returns no error to callers because Hub's
// contract (matching MemHub) treats fan-out as best-effort relative to the
// durable Append that already succeeded; an XADD or marshal error is
// discarded.
func (h *Hub) Publish(ev eventlog.Event) {
	_ = h.publish(context.Background(), ev)
}

func (h *Hub) publish(ctx context.Context, ev eventlog.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redishub: marshal event: %w", err)
	}
	key := h.key(ev.Path)
	pipe := h.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{"event": data},
	})
	pipe.Expire(ctx, key, keyTTL)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redishub: xadd: %w", err)
	}
	return nil
}

// Register opens a live subscription to path starting from "now" (the
// current end of the Redis stream), returning a channel of events and a
// release function that stops the background consume loop.
//
// Unlike MemHub, a Redis consumer never silently drops a slow reader: Redis
// itself buffers the stream, so Register's channel applies backpressure by
// blocking XREAD's caller rather than dropping. The 256-slot channel still
// exists to decouple the XREAD goroutine from the consumer's pace.
func (h *Hub) Register(path eventlog.StreamPath) (<-chan eventlog.Event, func()) {
	out := make(chan eventlog.Event, 256)
	ctx, cancel := context.WithCancel(context.Background())

	go h.consume(ctx, path, out)

	release := func() {
		cancel()
	}
	return out, release
}

func (h *Hub) consume(ctx context.Context, path eventlog.StreamPath, out chan<- eventlog.Event) {
	defer close(out)
	key := h.key(path)
	lastID := "$"

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := h.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, lastID},
			Block:   2 * time.Second,
			Count:   64,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			return
		}
		for _, stream := range res {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				raw, ok := msg.Values["event"].(string)
				if !ok {
					continue
				}
				var ev eventlog.Event
				if err := json.Unmarshal([]byte(raw), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
