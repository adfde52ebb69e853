package server

import (
	"bountyboard/internal/domain"
	"bountyboard/internal/matching"
)

type CreateBountyRequest struct {
	PosterName   string  `json:"poster_name" maxLength:"200"`
	CallbackURL  *string `json:"callback_url,omitempty" maxLength:"2000"`
	Title        string  `json:"title" maxLength:"300"`
	Description  string  `json:"description" maxLength:"5000"`
	Requirements *string `json:"requirements,omitempty" maxLength:"5000"`
	Budget       float64 `json:"budget"`
	Category     string  `json:"category" enum:"digital,physical"`
	Tags         *string `json:"tags,omitempty" maxLength:"500"`
	ExpiresAt    *string `json:"expires_at,omitempty" format:"date-time"`
}

// BountyPostResponse carries the one-time poster secret alongside the
// created bounty and any registry agents that could already serve it.
type BountyPostResponse struct {
	Bounty       domain.Bounty        `json:"bounty"`
	PosterSecret string               `json:"poster_secret"`
	ACPMatches   []matching.Candidate `json:"acp_matches,omitempty"`
	Message      string               `json:"message,omitempty"`
}

type ClaimRequest struct {
	ClaimerName string  `json:"claimer_name" maxLength:"200"`
	CallbackURL *string `json:"callback_url,omitempty" maxLength:"2000"`
}

type ClaimResponse struct {
	Bounty        domain.Bounty `json:"bounty"`
	ClaimerSecret string        `json:"claimer_secret"`
}

type UnclaimRequest struct {
	ClaimerSecret string `json:"claimer_secret"`
}

type MatchRequest struct {
	PosterSecret   string  `json:"poster_secret"`
	ServiceID      *int64  `json:"service_id,omitempty"`
	ACPAgentWallet string  `json:"acp_agent_wallet"`
	ACPJobOffering string  `json:"acp_job_offering,omitempty"`
}

type FulfillRequest struct {
	PosterSecret string  `json:"poster_secret"`
	ACPJobID     *string `json:"acp_job_id,omitempty"`
}

type CancelRequest struct {
	PosterSecret string `json:"poster_secret"`
}

type getBountyOutput struct {
	ETag string `header:"ETag"`
	Body struct {
		Bounty domain.Bounty `json:"bounty"`
	} `json:"body"`
}

type getServiceOutput struct {
	ETag string `header:"ETag"`
	Body struct {
		Service domain.Service `json:"service"`
	} `json:"body"`
}

type BountyList struct {
	Items  []domain.Bounty `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type CreateServiceRequest struct {
	AgentName         string  `json:"agent_name" maxLength:"200"`
	Name              string  `json:"name" maxLength:"300"`
	Description       string  `json:"description" maxLength:"5000"`
	Price             float64 `json:"price"`
	Category          string  `json:"category" enum:"digital,physical"`
	Location          *string `json:"location,omitempty" maxLength:"300"`
	ShippingAvailable bool    `json:"shipping_available,omitempty"`
	Tags              *string `json:"tags,omitempty" maxLength:"500"`
	ACPAgentWallet    *string `json:"acp_agent_wallet,omitempty" maxLength:"100"`
	ACPJobOffering    *string `json:"acp_job_offering,omitempty" maxLength:"300"`
}

// ServicePostResponse carries the one-time agent secret plus the open
// bounties this service looks able to fulfill.
type ServicePostResponse struct {
	Service           domain.Service  `json:"service"`
	AgentSecret       string          `json:"agent_secret"`
	CandidateBounties []domain.Bounty `json:"candidate_bounties,omitempty"`
}

type UpdateServiceRequest struct {
	AgentSecret       string   `json:"agent_secret"`
	Name              *string  `json:"name,omitempty" maxLength:"300"`
	Description       *string  `json:"description,omitempty" maxLength:"5000"`
	Price             *float64 `json:"price,omitempty"`
	Category          *string  `json:"category,omitempty" enum:"digital,physical"`
	Location          *string  `json:"location,omitempty" maxLength:"300"`
	ShippingAvailable *bool    `json:"shipping_available,omitempty"`
	Tags              *string  `json:"tags,omitempty" maxLength:"500"`
	ACPAgentWallet    *string  `json:"acp_agent_wallet,omitempty" maxLength:"100"`
	ACPJobOffering    *string  `json:"acp_job_offering,omitempty" maxLength:"300"`
}

type DeactivateServiceRequest struct {
	AgentSecret string `json:"agent_secret"`
}

type ServiceList struct {
	Items  []domain.Service `json:"items"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

type AgentList struct {
	Agents      []domain.Agent `json:"agents"`
	Total       int            `json:"total"`
	LastUpdated string         `json:"last_updated,omitempty"`
	CacheHealth string         `json:"cache_health"`
}

type CategorizedAgents struct {
	Products    []domain.Agent `json:"products"`
	Services    []domain.Agent `json:"services"`
	Total       int            `json:"total"`
	CacheHealth string         `json:"cache_health"`
}

type StatsResponse struct {
	Bounties       map[string]int `json:"bounties"`
	ActiveServices int            `json:"active_services"`
	RegistryAgents int            `json:"registry_agents"`
	CacheHealth    string         `json:"cache_health"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Storage  string `json:"storage"`
	Registry string `json:"registry"`
}
