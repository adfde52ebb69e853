package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"bountyboard/internal/domain"
	"bountyboard/internal/registry"
)

func registerAgents(api huma.API, cfg Config) {
	reg := cfg.Registry

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List mirrored registry agents",
	}, func(ctx context.Context, input *struct {
		Category   string `query:"category" enum:"products,services,"`
		Search     string `query:"search"`
		OnlineOnly bool   `query:"online_only"`
		Page       int    `query:"page" minimum:"1"`
		Limit      int    `query:"limit" minimum:"1" maximum:"200"`
	}) (*struct {
		Body AgentList `json:"body"`
	}, error) {
		var agents []domain.Agent
		switch {
		case input.Search != "":
			agents = reg.Search(ctx, input.Search)
		case input.Category != "":
			agents = reg.Categorized(ctx)[input.Category]
		default:
			agents = reg.Agents(ctx)
		}
		if input.OnlineOnly {
			online := make([]domain.Agent, 0, len(agents))
			for _, a := range agents {
				if a.Online {
					online = append(online, a)
				}
			}
			agents = online
		}
		total := len(agents)
		agents = pageOf(agents, input.Page, input.Limit)
		out := AgentList{Agents: agents, Total: total, CacheHealth: reg.Health()}
		if snap := reg.Snapshot(); snap != nil {
			out.LastUpdated = snap.FetchedAt.Format(time.RFC3339)
		}
		return &struct {
			Body AgentList `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-agents",
		Method:      http.MethodGet,
		Path:        "/agents/search",
		Summary:     "Search mirrored registry agents",
	}, func(ctx context.Context, input *struct {
		Q string `query:"q" minLength:"1" required:"true"`
	}) (*struct {
		Body AgentList `json:"body"`
	}, error) {
		agents := reg.Search(ctx, input.Q)
		out := AgentList{Agents: agents, Total: len(agents), CacheHealth: reg.Health()}
		if snap := reg.Snapshot(); snap != nil {
			out.LastUpdated = snap.FetchedAt.Format(time.RFC3339)
		}
		return &struct {
			Body AgentList `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "categorized-agents",
		Method:      http.MethodGet,
		Path:        "/agents/categorized",
		Summary:     "Registry agents grouped into products and services",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CategorizedAgents `json:"body"`
	}, error) {
		buckets := reg.Categorized(ctx)
		return &struct {
			Body CategorizedAgents `json:"body"`
		}{Body: CategorizedAgents{
			Products:    buckets[registry.BucketProducts],
			Services:    buckets[registry.BucketServices],
			Total:       len(buckets[registry.BucketProducts]) + len(buckets[registry.BucketServices]),
			CacheHealth: reg.Health(),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-by-wallet",
		Method:      http.MethodGet,
		Path:        "/agents/wallet/{wallet}",
		Summary:     "Look up a registry agent by wallet address",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Wallet string `path:"wallet"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		agent, ok := reg.AgentByWallet(input.Wallet)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "no agent with that wallet", nil)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: agent}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-agents",
		Method:      http.MethodPost,
		Path:        "/agents/refresh",
		Summary:     "Force a registry refresh",
		Errors:      []int{http.StatusForbidden, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		AdminSecret string `header:"X-Admin-Secret"`
	}) (*struct {
		Body AgentList `json:"body"`
	}, error) {
		if err := requireAdmin(cfg, input.AdminSecret); err != nil {
			return nil, handleError(err)
		}
		snap, err := reg.Refresh(ctx, true)
		if err != nil {
			return nil, newAPIError(http.StatusBadGateway, "upstream_unavailable", err.Error(), nil)
		}
		return &struct {
			Body AgentList `json:"body"`
		}{Body: AgentList{
			Agents:      snap.Agents,
			Total:       len(snap.Agents),
			LastUpdated: snap.FetchedAt.Format(time.RFC3339),
			CacheHealth: reg.Health(),
		}}, nil
	})
}

// pageOf slices one page out of agents. page and limit of zero mean
// "everything"; a page past the end yields an empty slice.
func pageOf(agents []domain.Agent, page, limit int) []domain.Agent {
	if limit <= 0 {
		return agents
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(agents) {
		return []domain.Agent{}
	}
	end := start + limit
	if end > len(agents) {
		end = len(agents)
	}
	return agents[start:end]
}
