package streammanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamforge/agentrt/internal/eventlog"
	"github.com/streamforge/agentrt/internal/eventstream"
)

func TestManager_GetCreatesOnce(t *testing.T) {
	ctx := context.Background()
	store := eventlog.NewMemStore()
	hub := eventstream.NewMemHub()

	var spawnCount int
	var mu sync.Mutex
	m := New(ctx, store, hub, func(_ context.Context, s *eventstream.Stream) {
		mu.Lock()
		spawnCount++
		mu.Unlock()
	})
	defer m.Shutdown()

	s1 := m.Get("agent/a")
	s2 := m.Get("agent/a")
	require.Same(t, s1, s2)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, spawnCount, "processor factory should run exactly once per path")
}

func TestManager_GetConcurrentRaceCreatesOnlyOneStream(t *testing.T) {
	ctx := context.Background()
	store := eventlog.NewMemStore()
	hub := eventstream.NewMemHub()

	var spawnCount int
	var mu sync.Mutex
	m := New(ctx, store, hub, func(_ context.Context, s *eventstream.Stream) {
		mu.Lock()
		spawnCount++
		mu.Unlock()
	})
	defer m.Shutdown()

	var wg sync.WaitGroup
	results := make([]*eventstream.Stream, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Get("agent/a")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		require.Same(t, results[0], results[i])
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, spawnCount)
}

func TestManager_PathsIncludesStoredAndInProcess(t *testing.T) {
	ctx := context.Background()
	store := eventlog.NewMemStore()
	hub := eventstream.NewMemHub()
	_, err := store.Append(ctx, "agent/stored", eventlog.EventInput{Type: "e"}, eventlog.Trace{})
	require.NoError(t, err)

	m := New(ctx, store, hub)
	defer m.Shutdown()
	m.Get("agent/in-process")

	paths, err := m.Paths(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []eventlog.StreamPath{"agent/stored", "agent/in-process"}, paths)
}

func TestManager_ReadMergesAcrossPaths(t *testing.T) {
	ctx := context.Background()
	store := eventlog.NewMemStore()
	hub := eventstream.NewMemHub()
	m := New(ctx, store, hub)
	defer m.Shutdown()

	_, err := m.Get("agent/a").Append(ctx, eventlog.EventInput{Type: "a1"}, eventlog.Trace{})
	require.NoError(t, err)
	_, err = m.Get("agent/b").Append(ctx, eventlog.EventInput{Type: "b1"}, eventlog.Trace{})
	require.NoError(t, err)

	evs, err := m.Read(ctx, "")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	var types []string
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	require.ElementsMatch(t, []string{"a1", "b1"}, types)
}

func TestManager_SubscribeMergesLiveEventsFromAllPaths(t *testing.T) {
	ctx := context.Background()
	store := eventlog.NewMemStore()
	hub := eventstream.NewMemHub()
	m := New(ctx, store, hub)
	defer m.Shutdown()

	m.Get("agent/a")
	m.Get("agent/b")

	out, errCh, cancel, err := m.Subscribe(ctx, "")
	require.NoError(t, err)
	defer cancel()

	_, err = m.Get("agent/a").Append(ctx, eventlog.EventInput{Type: "a1"}, eventlog.Trace{})
	require.NoError(t, err)
	_, err = m.Get("agent/b").Append(ctx, eventlog.EventInput{Type: "b1"}, eventlog.Trace{})
	require.NoError(t, err)

	seen := make(map[string]bool)
	for len(seen) < 2 {
		select {
		case ev := <-out:
			seen[ev.Type] = true
		case err := <-errCh:
			t.Fatalf("unexpected subscription error: %v", err)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out with only %v observed", seen)
		}
	}
	require.True(t, seen["a1"])
	require.True(t, seen["b1"])
}
