package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"bountyboard/internal/domain"
	"bountyboard/internal/events"
	"bountyboard/internal/repo"
	"bountyboard/internal/secrets"
)

type CreateServiceInput struct {
	AgentName         string
	Name              string
	Description       string
	Price             float64
	Category          string
	Location          *string
	ShippingAvailable bool
	Tags              *string
	ACPAgentWallet    *string
	ACPJobOffering    *string
}

// CreateService issues the agent secret exactly once.
func (e *Engine) CreateService(ctx context.Context, in CreateServiceInput) (domain.Service, string, error) {
	if strings.TrimSpace(in.AgentName) == "" {
		return domain.Service{}, "", invalid("agent_name", "must not be empty")
	}
	if strings.TrimSpace(in.Name) == "" {
		return domain.Service{}, "", invalid("name", "must not be empty")
	}
	if strings.TrimSpace(in.Description) == "" {
		return domain.Service{}, "", invalid("description", "must not be empty")
	}
	if in.Price <= 0 || math.IsInf(in.Price, 0) || math.IsNaN(in.Price) {
		return domain.Service{}, "", invalid("price", "must be a positive number")
	}
	if !validCategory(in.Category) {
		return domain.Service{}, "", invalid("category", "must be digital or physical")
	}
	plaintext, hash, err := secrets.Generate()
	if err != nil {
		return domain.Service{}, "", fmt.Errorf("generate agent secret: %w", err)
	}
	s := domain.Service{
		AgentName:         in.AgentName,
		AgentSecretHash:   &hash,
		Name:              in.Name,
		Description:       in.Description,
		Price:             in.Price,
		Category:          in.Category,
		Location:          in.Location,
		ShippingAvailable: in.ShippingAvailable,
		Tags:              in.Tags,
		ACPAgentWallet:    in.ACPAgentWallet,
		ACPJobOffering:    in.ACPJobOffering,
		CreatedAt:         e.now(),
		IsActive:          true,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Service{}, "", err
	}
	defer tx.Rollback()
	id, err := e.Repo.InsertService(ctx, tx, s)
	if err != nil {
		return domain.Service{}, "", err
	}
	s.ID = id
	if err := e.Events.Append(ctx, tx, "service.created", "service", id, events.EventPayload{
		"agent_name": s.AgentName, "name": s.Name, "category": s.Category,
	}); err != nil {
		return domain.Service{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.Service{}, "", err
	}
	return s, plaintext, nil
}

func (e *Engine) UpdateService(ctx context.Context, id int64, agentSecret string, p repo.ServicePatch) (domain.Service, error) {
	if p.Price != nil && (*p.Price <= 0 || math.IsInf(*p.Price, 0) || math.IsNaN(*p.Price)) {
		return domain.Service{}, invalid("price", "must be a positive number")
	}
	if p.Category != nil && !validCategory(*p.Category) {
		return domain.Service{}, invalid("category", "must be digital or physical")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Service{}, err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetServiceTx(ctx, tx, id)
	if err != nil {
		return domain.Service{}, err
	}
	if !verify(agentSecret, s.AgentSecretHash) {
		return domain.Service{}, &ForbiddenError{Entity: "service"}
	}
	if err := e.Repo.UpdateService(ctx, tx, id, p, e.now()); err != nil {
		return domain.Service{}, err
	}
	s, err = e.Repo.GetServiceTx(ctx, tx, id)
	if err != nil {
		return domain.Service{}, err
	}
	if err := e.Events.Append(ctx, tx, "service.updated", "service", id, nil); err != nil {
		return domain.Service{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Service{}, err
	}
	return s, nil
}

// DeactivateService is idempotent: deactivating an already inactive service
// succeeds silently.
func (e *Engine) DeactivateService(ctx context.Context, id int64, agentSecret string) (domain.Service, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Service{}, err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetServiceTx(ctx, tx, id)
	if err != nil {
		return domain.Service{}, err
	}
	if !verify(agentSecret, s.AgentSecretHash) {
		return domain.Service{}, &ForbiddenError{Entity: "service"}
	}
	flipped, err := e.Repo.DeactivateService(ctx, tx, id, e.now())
	if err != nil {
		return domain.Service{}, err
	}
	if flipped {
		if err := e.Events.Append(ctx, tx, "service.deactivated", "service", id, nil); err != nil {
			return domain.Service{}, err
		}
	}
	s, err = e.Repo.GetServiceTx(ctx, tx, id)
	if err != nil {
		return domain.Service{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Service{}, err
	}
	return s, nil
}

func (e *Engine) GetService(ctx context.Context, id int64) (domain.Service, error) {
	return e.Repo.GetService(ctx, id)
}

func (e *Engine) ListServices(ctx context.Context, f repo.ServiceFilters) ([]domain.Service, int, error) {
	items, err := e.Repo.ListServices(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	total, err := e.Repo.CountServices(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
