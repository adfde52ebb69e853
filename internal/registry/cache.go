package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"bountyboard/internal/domain"
	"bountyboard/internal/metrics"
)

// Cache health states.
const (
	HealthHealthy = "healthy"
	HealthStale   = "stale"
	HealthEmpty   = "empty"
)

// Agent grouping buckets served by the categorized view.
const (
	BucketProducts = "products"
	BucketServices = "services"
)

var ErrEmptyDirectory = errors.New("registry returned no agents")

// productKeywords marks agents offering physical goods or fabrication.
var productKeywords = []string{
	"3d print", "laser cut", "fabricat", "cnc", "mill",
	"shipping", "physical", "hardware", "manufacture",
	"printer", "maker", "craft", "build",
}

// Fetcher pulls the full upstream directory.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]domain.Agent, error)
}

// Snapshot is one immutable generation of the mirrored directory. Readers
// always observe a complete generation: refresh builds a new Snapshot off
// to the side and swaps the pointer.
type Snapshot struct {
	Agents    []domain.Agent
	Buckets   map[string][]domain.Agent
	FetchedAt time.Time

	// searchText[i] is the lowercased searchable blob for Agents[i].
	searchText []string
	byWallet   map[string]int
}

func buildSnapshot(agents []domain.Agent, fetchedAt time.Time) *Snapshot {
	snap := &Snapshot{
		Agents:     agents,
		Buckets:    map[string][]domain.Agent{BucketProducts: nil, BucketServices: nil},
		FetchedAt:  fetchedAt,
		searchText: make([]string, len(agents)),
		byWallet:   make(map[string]int, len(agents)),
	}
	for i, a := range agents {
		var sb strings.Builder
		sb.WriteString(strings.ToLower(a.Name))
		sb.WriteByte(' ')
		sb.WriteString(strings.ToLower(a.Description))
		for _, o := range a.JobOfferings {
			sb.WriteByte(' ')
			sb.WriteString(strings.ToLower(o.Name))
			sb.WriteByte(' ')
			sb.WriteString(strings.ToLower(o.Description))
		}
		text := sb.String()
		snap.searchText[i] = text
		bucket := BucketServices
		for _, kw := range productKeywords {
			if strings.Contains(text, kw) {
				bucket = BucketProducts
				break
			}
		}
		snap.Buckets[bucket] = append(snap.Buckets[bucket], a)
		if a.WalletAddress != "" {
			snap.byWallet[strings.ToLower(a.WalletAddress)] = i
		}
	}
	return snap
}

// Cache serves registry lookups from the current snapshot and refreshes it
// on demand or when the TTL lapses. Refreshes are deduplicated: concurrent
// callers join the in-flight fetch instead of issuing duplicate upstream
// calls.
type Cache struct {
	fetcher Fetcher
	ttl     time.Duration
	path    string
	log     *slog.Logger
	now     func() time.Time

	snap  atomic.Pointer[Snapshot]
	group singleflight.Group
}

func NewCache(fetcher Fetcher, ttl time.Duration, cachePath string, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		fetcher: fetcher,
		ttl:     ttl,
		path:    cachePath,
		log:     log,
		now:     time.Now,
	}
}

// Snapshot returns the current generation, or nil before any data exists.
func (c *Cache) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Agents serves from the current snapshot without ever blocking on the
// network. A stale snapshot schedules a background refresh and is still
// returned as is.
func (c *Cache) Agents(ctx context.Context) []domain.Agent {
	snap := c.snap.Load()
	c.maybeRefreshAsync()
	if snap == nil {
		return nil
	}
	return snap.Agents
}

// Categorized returns the products/services grouping of the snapshot.
func (c *Cache) Categorized(ctx context.Context) map[string][]domain.Agent {
	snap := c.snap.Load()
	c.maybeRefreshAsync()
	if snap == nil {
		return map[string][]domain.Agent{BucketProducts: nil, BucketServices: nil}
	}
	return snap.Buckets
}

// Search is a case-insensitive substring match over name, description and
// offerings. A linear scan is fine at directory sizes in the low thousands.
func (c *Cache) Search(ctx context.Context, query string) []domain.Agent {
	snap := c.snap.Load()
	c.maybeRefreshAsync()
	if snap == nil || query == "" {
		return nil
	}
	q := strings.ToLower(query)
	var out []domain.Agent
	for i := range snap.Agents {
		if strings.Contains(snap.searchText[i], q) {
			out = append(out, snap.Agents[i])
		}
	}
	return out
}

// AgentByWallet looks an agent up by wallet address, case-insensitive.
func (c *Cache) AgentByWallet(wallet string) (domain.Agent, bool) {
	snap := c.snap.Load()
	if snap == nil {
		return domain.Agent{}, false
	}
	i, ok := snap.byWallet[strings.ToLower(wallet)]
	if !ok {
		return domain.Agent{}, false
	}
	return snap.Agents[i], true
}

func (c *Cache) stale() bool {
	snap := c.snap.Load()
	if snap == nil {
		return true
	}
	return c.ttl > 0 && c.now().Sub(snap.FetchedAt) > c.ttl
}

// maybeRefreshAsync fires a background refresh when the snapshot is past
// TTL. Fire and forget: the caller keeps the stale data.
func (c *Cache) maybeRefreshAsync() {
	if !c.stale() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := c.Refresh(ctx, false); err != nil {
			c.log.Warn("background registry refresh failed", "error", err)
		}
	}()
}

// Refresh fetches the upstream and atomically replaces the snapshot. On any
// failure the previous snapshot is kept unchanged. With force=false a fresh
// snapshot short-circuits without an upstream call. Concurrent callers
// share one in-flight fetch.
func (c *Cache) Refresh(ctx context.Context, force bool) (*Snapshot, error) {
	if !force {
		if snap := c.snap.Load(); snap != nil && !c.stale() {
			return snap, nil
		}
	}
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		agents, err := c.fetcher.FetchAll(ctx)
		if err != nil {
			metrics.RegistryRefreshes.WithLabelValues("error").Inc()
			return nil, err
		}
		if len(agents) == 0 {
			// An empty directory is almost certainly an upstream fault.
			// Keep serving what we have.
			metrics.RegistryRefreshes.WithLabelValues("empty").Inc()
			return nil, ErrEmptyDirectory
		}
		snap := buildSnapshot(agents, c.now().UTC())
		c.snap.Store(snap)
		metrics.RegistryRefreshes.WithLabelValues("ok").Inc()
		metrics.RegistryAgents.Set(float64(len(agents)))
		c.log.Info("registry snapshot refreshed", "agents", len(agents))
		if err := c.save(snap); err != nil {
			c.log.Warn("persist registry snapshot failed", "error", err)
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Health reports empty before the first snapshot ever, stale once the TTL
// has lapsed, healthy otherwise.
func (c *Cache) Health() string {
	snap := c.snap.Load()
	if snap == nil || len(snap.Agents) == 0 {
		return HealthEmpty
	}
	metrics.RegistrySnapshotAge.Set(c.now().Sub(snap.FetchedAt).Seconds())
	if c.stale() {
		return HealthStale
	}
	return HealthHealthy
}

// Run refreshes on a timer until the context is cancelled. Failures are
// logged and retried at the next tick.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Refresh(ctx, false); err != nil && err != ErrEmptyDirectory {
				c.log.Warn("scheduled registry refresh failed", "error", err)
			}
		}
	}
}

type cacheFile struct {
	Agents      []domain.Agent `json:"agents"`
	LastUpdated string         `json:"last_updated"`
	TotalCount  int            `json:"total_count"`
}

// Load restores the snapshot from the cache file so a restarted process
// serves stale but non-empty data before its first refresh completes.
func (c *Cache) Load() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if len(f.Agents) == 0 {
		return nil
	}
	fetchedAt, err := time.Parse(time.RFC3339, f.LastUpdated)
	if err != nil {
		fetchedAt = time.Time{}
	}
	c.snap.Store(buildSnapshot(f.Agents, fetchedAt))
	metrics.RegistryAgents.Set(float64(len(f.Agents)))
	c.log.Info("registry snapshot loaded from disk", "agents", len(f.Agents))
	return nil
}

func (c *Cache) save(snap *Snapshot) error {
	if c.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(cacheFile{
		Agents:      snap.Agents,
		LastUpdated: snap.FetchedAt.Format(time.RFC3339),
		TotalCount:  len(snap.Agents),
	})
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
