// Package mongostore provides a MongoDB-backed eventlog.StreamStorage: one
// BSON document per event, indexed by (path, offset). It is an alternative
// to eventlog.FileStore for deployments that already run MongoDB for other
// services and want a single operational story for persistence.
//
// Adapted from features/runlog/mongo in the teacher repository, which wires
// an append-only run event log the same way but keys documents by
// (run_id, turn_id) instead of (path, offset).
package mongostore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/streamforge/agentrt/internal/eventlog"
)

type (
	// Options configures the MongoDB-backed store.
	Options struct {
		// Client is a connected Mongo driver client. Required.
		Client *mongo.Client
		// Database is the database name to use. Required.
		Database string
		// Collection defaults to "agent_events" when empty.
		Collection string
		// Timeout bounds each individual Mongo operation. Defaults to 5s.
		Timeout time.Duration
	}

	// Store implements eventlog.StreamStorage on top of a MongoDB
	// collection holding one document per event.
	Store struct {
		coll    *mongo.Collection
		timeout time.Duration

		seqMu sync.Mutex
		seq   map[eventlog.StreamPath]uint64
		seen  map[eventlog.StreamPath]bool
	}

	eventDoc struct {
		ID        bson.ObjectID `bson:"_id,omitempty"`
		Path      string        `bson:"path"`
		Offset    string        `bson:"offset"`
		Type      string        `bson:"type"`
		Payload   []byte        `bson:"payload"`
		Version   string        `bson:"version,omitempty"`
		CreatedAt time.Time     `bson:"created_at"`
		TraceID   string        `bson:"trace_id,omitempty"`
		SpanID    string        `bson:"span_id,omitempty"`
		ParentID  string        `bson:"parent_span_id,omitempty"`
	}
)

const (
	defaultCollection = "agent_events"
	defaultTimeout    = 5 * time.Second
	offsetWidth       = 16
)

func formatOffset(n uint64) eventlog.Offset {
	return eventlog.Offset(fmt.Sprintf("%0*d", offsetWidth, n))
}

func parseOffset(o string) (uint64, bool) {
	var n uint64
	if _, err := fmt.Sscanf(o, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// New connects the store to the configured collection and ensures the
// (path, offset) uniqueness index exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("mongostore: client is required")
	}
	if opts.Database == "" {
		return nil, fmt.Errorf("mongostore: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	coll := opts.Client.Database(opts.Database).Collection(collName)
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "path", Value: 1}, {Key: "offset", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ictx, idx); err != nil {
		return nil, fmt.Errorf("mongostore: ensure index: %w", err)
	}

	return &Store{
		coll:    coll,
		timeout: timeout,
		seq:     make(map[eventlog.StreamPath]uint64),
		seen:    make(map[eventlog.StreamPath]bool),
	}, nil
}

// nextOffset serializes appends to path within this process (spec §5,
// "Appends to a single path are serialized") and queries the highest
// persisted offset on first touch so a restarted process resumes correctly.
func (s *Store) nextOffset(ctx context.Context, path eventlog.StreamPath) (eventlog.Offset, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	if !s.seen[path] {
		cur, err := s.coll.Find(ctx,
			bson.D{{Key: "path", Value: string(path)}},
			options.Find().SetSort(bson.D{{Key: "offset", Value: -1}}).SetLimit(1),
		)
		if err != nil {
			return "", fmt.Errorf("mongostore: find max offset: %w: %w", err, eventlog.ErrStorageIO)
		}
		defer cur.Close(ctx)
		var max uint64
		if cur.Next(ctx) {
			var doc eventDoc
			if err := cur.Decode(&doc); err != nil {
				return "", fmt.Errorf("mongostore: decode offset: %w: %w", err, eventlog.ErrStorageIO)
			}
			if n, ok := parseOffset(doc.Offset); ok {
				max = n
			}
		}
		s.seq[path] = max
		s.seen[path] = true
	}
	s.seq[path]++
	return formatOffset(s.seq[path]), nil
}

// Append implements eventlog.StreamStorage.
func (s *Store) Append(ctx context.Context, path eventlog.StreamPath, input eventlog.EventInput, trace eventlog.Trace) (eventlog.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	next, err := s.nextOffset(ctx, path)
	if err != nil {
		return eventlog.Event{}, err
	}

	ev := eventlog.Event{
		Path:      path,
		Offset:    next,
		Type:      input.Type,
		Payload:   input.Payload,
		Version:   input.Version,
		CreatedAt: time.Now().UTC(),
		Trace:     trace,
	}
	doc := eventDoc{
		Path:      string(ev.Path),
		Offset:    string(ev.Offset),
		Type:      ev.Type,
		Payload:   ev.Payload,
		Version:   ev.Version,
		CreatedAt: ev.CreatedAt,
		TraceID:   trace.TraceID,
		SpanID:    trace.SpanID,
		ParentID:  trace.ParentSpanID,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return eventlog.Event{}, fmt.Errorf("mongostore: insert event: %w: %w", err, eventlog.ErrStorageIO)
	}
	return ev, nil
}

// Read implements eventlog.StreamStorage.
func (s *Store) Read(ctx context.Context, path eventlog.StreamPath, from, to eventlog.Offset) ([]eventlog.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.D{{Key: "path", Value: string(path)}}
	if from != "" {
		filter = append(filter, bson.E{Key: "offset", Value: bson.D{{Key: "$gt", Value: string(from)}}})
	}
	if to != "" {
		filter = append(filter, bson.E{Key: "offset", Value: bson.D{{Key: "$lte", Value: string(to)}}})
	}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "offset", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongostore: find events: %w: %w", err, eventlog.ErrStorageIO)
	}
	defer cur.Close(ctx)

	var out []eventlog.Event
	for cur.Next(ctx) {
		var doc eventDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongostore: decode event: %w: %w", err, eventlog.ErrStorageIO)
		}
		out = append(out, eventlog.Event{
			Path:      eventlog.StreamPath(doc.Path),
			Offset:    eventlog.Offset(doc.Offset),
			Type:      doc.Type,
			Payload:   doc.Payload,
			Version:   doc.Version,
			CreatedAt: doc.CreatedAt,
			Trace: eventlog.Trace{
				TraceID:      doc.TraceID,
				SpanID:       doc.SpanID,
				ParentSpanID: doc.ParentID,
			},
		})
	}
	return out, cur.Err()
}

// ListPaths implements eventlog.StreamStorage via a distinct query.
func (s *Store) ListPaths(ctx context.Context) ([]eventlog.StreamPath, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	vals, err := s.coll.Distinct(ctx, "path", bson.D{})
	if err != nil {
		return nil, fmt.Errorf("mongostore: distinct paths: %w: %w", err, eventlog.ErrStorageIO)
	}
	out := make([]eventlog.StreamPath, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, eventlog.StreamPath(s))
		}
	}
	return out, nil
}
