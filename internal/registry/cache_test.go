package registry

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bountyboard/internal/domain"
)

type fakeFetcher struct {
	mu      sync.Mutex
	agents  []domain.Agent
	err     error
	calls   atomic.Int64
	release chan struct{}
}

func (f *fakeFetcher) FetchAll(ctx context.Context) ([]domain.Agent, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Agent, len(f.agents))
	copy(out, f.agents)
	return out, nil
}

func (f *fakeFetcher) set(agents []domain.Agent, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents = agents
	f.err = err
}

func testAgents() []domain.Agent {
	return []domain.Agent{
		{ID: 1, Name: "PrintBot", Description: "3D print anything", WalletAddress: "0xAAA"},
		{ID: 2, Name: "Translator", Description: "Document translation", WalletAddress: "0xBBB",
			JobOfferings: []domain.JobOffering{{Name: "French translation"}}},
		{ID: 3, Name: "CourierBot", Description: "Physical parcel delivery", WalletAddress: "0xCCC"},
	}
}

func newTestCache(t *testing.T, f Fetcher) *Cache {
	t.Helper()
	return NewCache(f, 5*time.Minute, filepath.Join(t.TempDir(), "acp_cache.json"), slog.Default())
}

func TestRefreshBuildsSnapshot(t *testing.T) {
	f := &fakeFetcher{agents: testAgents()}
	c := newTestCache(t, f)

	require.Equal(t, HealthEmpty, c.Health())
	snap, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, snap.Agents, 3)
	assert.Equal(t, HealthHealthy, c.Health())

	buckets := c.Categorized(context.Background())
	assert.Len(t, buckets[BucketProducts], 2) // PrintBot, CourierBot
	assert.Len(t, buckets[BucketServices], 1)
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	f := &fakeFetcher{agents: testAgents()}
	c := newTestCache(t, f)
	_, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)
	before := c.Search(context.Background(), "translation")
	require.Len(t, before, 1)

	f.set(nil, errors.New("upstream down"))
	_, err = c.Refresh(context.Background(), true)
	require.Error(t, err)

	after := c.Search(context.Background(), "translation")
	assert.Equal(t, before, after)
	assert.Len(t, c.Agents(context.Background()), 3)
}

func TestRefreshRejectsEmptyDirectory(t *testing.T) {
	f := &fakeFetcher{agents: testAgents()}
	c := newTestCache(t, f)
	_, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)

	f.set([]domain.Agent{}, nil)
	_, err = c.Refresh(context.Background(), true)
	require.ErrorIs(t, err, ErrEmptyDirectory)
	assert.Len(t, c.Agents(context.Background()), 3)
}

func TestRefreshSingleFlight(t *testing.T) {
	f := &fakeFetcher{agents: testAgents(), release: make(chan struct{})}
	c := newTestCache(t, f)

	const callers = 5
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Refresh(context.Background(), true)
		}()
	}
	// Give every caller a chance to join the in-flight fetch, then let the
	// single fetch finish.
	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()

	assert.Equal(t, int64(1), f.calls.Load())
	assert.Len(t, c.Agents(context.Background()), 3)
}

func TestForceRefreshSwapsAtomically(t *testing.T) {
	f := &fakeFetcher{agents: testAgents()}
	c := newTestCache(t, f)
	_, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)

	f.set([]domain.Agent{
		{ID: 10, Name: "NewBot", Description: "replacement generation"},
	}, nil)
	snap, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, snap.Agents, 1)

	// Nothing from the old generation survives.
	assert.Empty(t, c.Search(context.Background(), "translation"))
	assert.Len(t, c.Search(context.Background(), "replacement"), 1)
}

func TestNonForcedRefreshShortCircuitsWhenFresh(t *testing.T) {
	f := &fakeFetcher{agents: testAgents()}
	c := newTestCache(t, f)
	_, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)
	_, err = c.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestSearchMatchesOfferings(t *testing.T) {
	f := &fakeFetcher{agents: testAgents()}
	c := newTestCache(t, f)
	_, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)

	assert.Len(t, c.Search(context.Background(), "FRENCH"), 1)
	assert.Len(t, c.Search(context.Background(), "bot"), 2)
	assert.Empty(t, c.Search(context.Background(), "no-such-term"))
}

func TestAgentByWallet(t *testing.T) {
	f := &fakeFetcher{agents: testAgents()}
	c := newTestCache(t, f)
	_, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)

	got, ok := c.AgentByWallet("0xbbb")
	require.True(t, ok)
	assert.Equal(t, "Translator", got.Name)
	_, ok = c.AgentByWallet("0xZZZ")
	assert.False(t, ok)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acp_cache.json")
	f := &fakeFetcher{agents: testAgents()}
	c := NewCache(f, 5*time.Minute, path, slog.Default())
	_, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)

	// A fresh cache over the same file serves the persisted snapshot
	// without any upstream call.
	reloaded := NewCache(&fakeFetcher{err: errors.New("unreachable")}, 5*time.Minute, path, slog.Default())
	require.NoError(t, reloaded.Load())
	assert.Len(t, reloaded.Snapshot().Agents, 3)
	assert.Len(t, reloaded.Search(context.Background(), "translation"), 1)
}

func TestHealthStale(t *testing.T) {
	f := &fakeFetcher{agents: testAgents()}
	c := NewCache(f, time.Minute, "", slog.Default())
	_, err := c.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, c.Health())

	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Equal(t, HealthStale, c.Health())
}
