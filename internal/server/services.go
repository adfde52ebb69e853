package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"bountyboard/internal/domain"
	"bountyboard/internal/engine"
	"bountyboard/internal/etag"
	"bountyboard/internal/matching"
	"bountyboard/internal/repo"
)

func registerServices(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID:   "create-service",
		Method:        http.MethodPost,
		Path:          "/services",
		Summary:       "List a service",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateServiceRequest `json:"body"`
	}) (*struct {
		Body ServicePostResponse `json:"body"`
	}, error) {
		s, agentSecret, err := e.CreateService(ctx, engine.CreateServiceInput{
			AgentName:         input.Body.AgentName,
			Name:              input.Body.Name,
			Description:       input.Body.Description,
			Price:             input.Body.Price,
			Category:          input.Body.Category,
			Location:          input.Body.Location,
			ShippingAvailable: input.Body.ShippingAvailable,
			Tags:              input.Body.Tags,
			ACPAgentWallet:    input.Body.ACPAgentWallet,
			ACPJobOffering:    input.Body.ACPJobOffering,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := ServicePostResponse{Service: s, AgentSecret: agentSecret}
		// Surface open bounties this service looks able to fulfill so the
		// agent can go claim them. Advisory only.
		open, _, err := e.ListBounties(ctx, repo.BountyFilters{
			Status: domain.BountyOpen, Category: s.Category, Limit: 100,
		})
		if err == nil {
			resp.CandidateBounties = matching.CandidateBounties(s, open)
		}
		return &struct {
			Body ServicePostResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-services",
		Method:      http.MethodGet,
		Path:        "/services",
		Summary:     "List active services",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Category string   `query:"category" enum:"digital,physical,"`
		Search   string   `query:"search"`
		Location string   `query:"location"`
		MinPrice *float64 `query:"min_price"`
		MaxPrice *float64 `query:"max_price"`
		Shipping *bool    `query:"shipping_available"`
		ACPOnly  bool     `query:"acp_only"`
		Limit    int      `query:"limit" default:"50" maximum:"100"`
		Offset   int      `query:"offset" minimum:"0"`
	}) (*struct {
		Body ServiceList `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 100 {
			limit = 50
		}
		items, total, err := e.ListServices(ctx, repo.ServiceFilters{
			Category: input.Category,
			Search:   input.Search,
			Location: input.Location,
			MinPrice: input.MinPrice,
			MaxPrice: input.MaxPrice,
			Shipping: input.Shipping,
			ACPOnly:  input.ACPOnly,
			Limit:    limit,
			Offset:   input.Offset,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ServiceList `json:"body"`
		}{Body: ServiceList{Items: items, Total: total, Limit: limit, Offset: input.Offset}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-service",
		Method:      http.MethodGet,
		Path:        "/services/{id}",
		Summary:     "Get a service",
		Errors:      []int{http.StatusNotFound, http.StatusNotModified},
	}, func(ctx context.Context, input *struct {
		ID          int64  `path:"id"`
		IfNoneMatch string `header:"If-None-Match"`
	}) (*getServiceOutput, error) {
		s, err := e.GetService(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		tag := etag.ForService(s)
		if etag.Match(input.IfNoneMatch, tag) {
			return nil, huma.Status304NotModified()
		}
		out := &getServiceOutput{ETag: tag}
		out.Body.Service = s
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-service",
		Method:      http.MethodPatch,
		Path:        "/services/{id}",
		Summary:     "Update a service",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                `path:"id"`
		Body UpdateServiceRequest `json:"body"`
	}) (*getServiceOutput, error) {
		s, err := e.UpdateService(ctx, input.ID, input.Body.AgentSecret, repo.ServicePatch{
			Name:              input.Body.Name,
			Description:       input.Body.Description,
			Price:             input.Body.Price,
			Category:          input.Body.Category,
			Location:          input.Body.Location,
			ShippingAvailable: input.Body.ShippingAvailable,
			Tags:              input.Body.Tags,
			ACPAgentWallet:    input.Body.ACPAgentWallet,
			ACPJobOffering:    input.Body.ACPJobOffering,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := &getServiceOutput{ETag: etag.ForService(s)}
		out.Body.Service = s
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-service",
		Method:      http.MethodDelete,
		Path:        "/services/{id}",
		Summary:     "Deactivate a service",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                    `path:"id"`
		Body DeactivateServiceRequest `json:"body"`
	}) (*getServiceOutput, error) {
		s, err := e.DeactivateService(ctx, input.ID, input.Body.AgentSecret)
		if err != nil {
			return nil, handleError(err)
		}
		out := &getServiceOutput{ETag: etag.ForService(s)}
		out.Body.Service = s
		return out, nil
	})
}
