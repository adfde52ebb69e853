// Package registry mirrors the external ACP agent directory. The Client
// fetches the paginated upstream; the Cache serves categorized and searched
// lookups from an in-memory snapshot that is swapped atomically on refresh.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"bountyboard/internal/domain"
)

const (
	defaultPageSize    = 100
	defaultConcurrency = 5
	defaultTimeout     = 30 * time.Second
)

// Client fetches the full agent directory from the upstream registry.
type Client struct {
	BaseURL     string
	HTTP        *http.Client
	PageSize    int
	Concurrency int
	Limiter     *rate.Limiter
	Log         *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:     baseURL,
		HTTP:        &http.Client{Timeout: timeout},
		PageSize:    defaultPageSize,
		Concurrency: defaultConcurrency,
		Limiter:     rate.NewLimiter(rate.Limit(10), 10),
		Log:         log,
	}
}

type pageEnvelope struct {
	Data []upstreamAgent `json:"data"`
	Meta struct {
		Pagination struct {
			Total     int `json:"total"`
			PageCount int `json:"pageCount"`
		} `json:"pagination"`
	} `json:"meta"`
}

type upstreamAgent struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	WalletAddress string `json:"walletAddress"`
	Description   string `json:"description"`
	Category      string `json:"category"`
	Offerings     []struct {
		Name     string   `json:"name"`
		Price    *float64 `json:"price"`
		PriceUsd *float64 `json:"priceUsd"`
	} `json:"offerings"`
	Jobs []struct {
		Name        string   `json:"name"`
		Price       *float64 `json:"price"`
		Description string   `json:"description"`
		PriceV2     struct {
			Type string `json:"type"`
		} `json:"priceV2"`
	} `json:"jobs"`
	Metrics struct {
		IsOnline     bool   `json:"isOnline"`
		LastActiveAt string `json:"lastActiveAt"`
	} `json:"metrics"`
}

func (a upstreamAgent) toDomain() (domain.Agent, bool) {
	if a.Name == "" || a.Name == "Unknown" {
		return domain.Agent{}, false
	}
	agent := domain.Agent{
		ID:            a.ID,
		Name:          a.Name,
		WalletAddress: a.WalletAddress,
		Description:   a.Description,
		Category:      a.Category,
		Online:        a.Metrics.IsOnline,
		LastActive:    a.Metrics.LastActiveAt,
	}
	seen := map[string]bool{}
	for _, o := range a.Offerings {
		price := o.PriceUsd
		if price == nil {
			price = o.Price
		}
		agent.JobOfferings = append(agent.JobOfferings, domain.JobOffering{
			Name:      o.Name,
			Price:     price,
			PriceType: "fixed",
		})
		seen[o.Name] = true
	}
	for _, j := range a.Jobs {
		if seen[j.Name] {
			continue
		}
		priceType := j.PriceV2.Type
		if priceType == "" {
			priceType = "fixed"
		}
		desc := j.Description
		if len(desc) > 200 {
			desc = desc[:200]
		}
		agent.JobOfferings = append(agent.JobOfferings, domain.JobOffering{
			Name:        j.Name,
			Price:       j.Price,
			PriceType:   priceType,
			Description: desc,
		})
	}
	return agent, true
}

func (c *Client) fetchPage(ctx context.Context, page int) (pageEnvelope, error) {
	var env pageEnvelope
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return env, err
		}
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return env, fmt.Errorf("parse registry url: %w", err)
	}
	q := u.Query()
	q.Set("pagination[page]", strconv.Itoa(page))
	q.Set("pagination[pageSize]", strconv.Itoa(c.pageSize()))
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return env, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return env, fmt.Errorf("fetch registry page %d: %w", page, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return env, fmt.Errorf("fetch registry page %d: upstream returned %d", page, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return env, fmt.Errorf("decode registry page %d: %w", page, err)
	}
	return env, nil
}

func (c *Client) pageSize() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return defaultPageSize
}

// FetchAll pulls every page of the directory. The first page establishes
// the page count, the rest are fetched with bounded concurrency. A failed
// page fails the whole fetch: partial directories are never returned.
func (c *Client) FetchAll(ctx context.Context) ([]domain.Agent, error) {
	first, err := c.fetchPage(ctx, 1)
	if err != nil {
		return nil, err
	}
	pageCount := first.Meta.Pagination.PageCount
	if pageCount < 1 {
		pageCount = 1
	}
	if c.Log != nil {
		c.Log.Info("registry fetch started",
			"total", first.Meta.Pagination.Total, "pages", pageCount)
	}

	pages := make([][]domain.Agent, pageCount)
	pages[0] = parseAgents(first.Data)

	if pageCount > 1 {
		g, gctx := errgroup.WithContext(ctx)
		concurrency := c.Concurrency
		if concurrency <= 0 {
			concurrency = defaultConcurrency
		}
		g.SetLimit(concurrency)
		var mu sync.Mutex
		for p := 2; p <= pageCount; p++ {
			page := p
			g.Go(func() error {
				env, err := c.fetchPage(gctx, page)
				if err != nil {
					return err
				}
				parsed := parseAgents(env.Data)
				mu.Lock()
				pages[page-1] = parsed
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	var agents []domain.Agent
	for _, p := range pages {
		agents = append(agents, p...)
	}
	sort.SliceStable(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

func parseAgents(raw []upstreamAgent) []domain.Agent {
	var out []domain.Agent
	for _, a := range raw {
		if agent, ok := a.toDomain(); ok {
			out = append(out, agent)
		}
	}
	return out
}
