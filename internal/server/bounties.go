package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"bountyboard/internal/engine"
	"bountyboard/internal/etag"
	"bountyboard/internal/matching"
	"bountyboard/internal/metrics"
	"bountyboard/internal/repo"
)

var transitionErrors = []int{
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func countTransition(name string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.BountyTransitions.WithLabelValues(name, outcome).Inc()
}

func registerBounties(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID:   "create-bounty",
		Method:        http.MethodPost,
		Path:          "/bounties",
		Summary:       "Post a bounty",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateBountyRequest `json:"body"`
	}) (*struct {
		Body BountyPostResponse `json:"body"`
	}, error) {
		if input.Body.CallbackURL != nil {
			if err := validateCallbackURL(*input.Body.CallbackURL); err != nil {
				return nil, handleError(err)
			}
		}
		b, posterSecret, err := e.CreateBounty(ctx, engine.CreateBountyInput{
			PosterName:   input.Body.PosterName,
			CallbackURL:  input.Body.CallbackURL,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			Requirements: input.Body.Requirements,
			Budget:       input.Body.Budget,
			Category:     input.Body.Category,
			Tags:         input.Body.Tags,
			ExpiresAt:    input.Body.ExpiresAt,
		})
		countTransition("create", err)
		if err != nil {
			return nil, handleError(err)
		}
		resp := BountyPostResponse{Bounty: b, PosterSecret: posterSecret}
		if candidates := matching.CheckMatches(ctx, cfg.Registry, b); len(candidates) > 0 {
			resp.ACPMatches = candidates
			resp.Message = fmt.Sprintf("Found %d registry agent(s) that may already serve this request", len(candidates))
		}
		return &struct {
			Body BountyPostResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bounties",
		Method:      http.MethodGet,
		Path:        "/bounties",
		Summary:     "List bounties",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status    string   `query:"status" enum:"open,claimed,matched,fulfilled,cancelled,"`
		Category  string   `query:"category" enum:"digital,physical,"`
		MinBudget *float64 `query:"min_budget"`
		MaxBudget *float64 `query:"max_budget"`
		Search    string   `query:"search"`
		Limit     int      `query:"limit" default:"50" maximum:"100"`
		Offset    int      `query:"offset" minimum:"0"`
	}) (*struct {
		Body BountyList `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 100 {
			limit = 50
		}
		items, total, err := e.ListBounties(ctx, repo.BountyFilters{
			Status:    input.Status,
			Category:  input.Category,
			MinBudget: input.MinBudget,
			MaxBudget: input.MaxBudget,
			Search:    input.Search,
			Limit:     limit,
			Offset:    input.Offset,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BountyList `json:"body"`
		}{Body: BountyList{Items: items, Total: total, Limit: limit, Offset: input.Offset}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-bounty",
		Method:      http.MethodGet,
		Path:        "/bounties/{id}",
		Summary:     "Get a bounty",
		Errors:      []int{http.StatusNotFound, http.StatusNotModified},
	}, func(ctx context.Context, input *struct {
		ID          int64  `path:"id"`
		IfNoneMatch string `header:"If-None-Match"`
	}) (*getBountyOutput, error) {
		b, err := e.GetBounty(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		tag := etag.ForBounty(b)
		if etag.Match(input.IfNoneMatch, tag) {
			return nil, huma.Status304NotModified()
		}
		out := &getBountyOutput{ETag: tag}
		out.Body.Bounty = b
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-bounty",
		Method:      http.MethodPost,
		Path:        "/bounties/{id}/claim",
		Summary:     "Claim an open bounty",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64        `path:"id"`
		Body ClaimRequest `json:"body"`
	}) (*struct {
		ETag string        `header:"ETag"`
		Body ClaimResponse `json:"body"`
	}, error) {
		if input.Body.CallbackURL != nil {
			if err := validateCallbackURL(*input.Body.CallbackURL); err != nil {
				return nil, handleError(err)
			}
		}
		b, claimerSecret, err := e.ClaimBounty(ctx, input.ID, input.Body.ClaimerName, input.Body.CallbackURL)
		countTransition("claim", err)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ETag string        `header:"ETag"`
			Body ClaimResponse `json:"body"`
		}{ETag: etag.ForBounty(b), Body: ClaimResponse{Bounty: b, ClaimerSecret: claimerSecret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unclaim-bounty",
		Method:      http.MethodPost,
		Path:        "/bounties/{id}/unclaim",
		Summary:     "Release a claimed bounty",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64          `path:"id"`
		Body UnclaimRequest `json:"body"`
	}) (*getBountyOutput, error) {
		b, err := e.UnclaimBounty(ctx, input.ID, input.Body.ClaimerSecret)
		countTransition("unclaim", err)
		if err != nil {
			return nil, handleError(err)
		}
		out := &getBountyOutput{ETag: etag.ForBounty(b)}
		out.Body.Bounty = b
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "match-bounty",
		Method:      http.MethodPost,
		Path:        "/bounties/{id}/match",
		Summary:     "Bind a claimed bounty to an ACP agent",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64        `path:"id"`
		Body MatchRequest `json:"body"`
	}) (*getBountyOutput, error) {
		b, err := e.MatchBounty(ctx, input.ID, input.Body.PosterSecret, engine.MatchInput{
			ServiceID: input.Body.ServiceID,
			ACPAgent:  input.Body.ACPAgentWallet,
			ACPJob:    input.Body.ACPJobOffering,
		})
		countTransition("match", err)
		if err != nil {
			return nil, handleError(err)
		}
		out := &getBountyOutput{ETag: etag.ForBounty(b)}
		out.Body.Bounty = b
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fulfill-bounty",
		Method:      http.MethodPost,
		Path:        "/bounties/{id}/fulfill",
		Summary:     "Mark a bounty fulfilled",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64          `path:"id"`
		Body FulfillRequest `json:"body"`
	}) (*getBountyOutput, error) {
		b, err := e.FulfillBounty(ctx, input.ID, input.Body.PosterSecret, input.Body.ACPJobID)
		countTransition("fulfill", err)
		if err != nil {
			return nil, handleError(err)
		}
		out := &getBountyOutput{ETag: etag.ForBounty(b)}
		out.Body.Bounty = b
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-bounty",
		Method:      http.MethodPost,
		Path:        "/bounties/{id}/cancel",
		Summary:     "Cancel a bounty",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64         `path:"id"`
		Body CancelRequest `json:"body"`
	}) (*getBountyOutput, error) {
		b, err := e.CancelBounty(ctx, input.ID, input.Body.PosterSecret)
		countTransition("cancel", err)
		if err != nil {
			return nil, handleError(err)
		}
		out := &getBountyOutput{ETag: etag.ForBounty(b)}
		out.Body.Bounty = b
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bounty-matches",
		Method:      http.MethodGet,
		Path:        "/bounties/{id}/matches",
		Summary:     "Registry agents that could serve this bounty",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body struct {
			Candidates []matching.Candidate `json:"candidates"`
		} `json:"body"`
	}, error) {
		b, err := e.GetBounty(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Candidates []matching.Candidate `json:"candidates"`
			} `json:"body"`
		}{}
		out.Body.Candidates = matching.CheckMatches(ctx, cfg.Registry, b)
		return out, nil
	})
}
