package domain

// Bounty statuses. Terminal states are fulfilled and cancelled.
const (
	BountyOpen      = "open"
	BountyClaimed   = "claimed"
	BountyMatched   = "matched"
	BountyFulfilled = "fulfilled"
	BountyCancelled = "cancelled"
)

// Service categories.
const (
	CategoryDigital  = "digital"
	CategoryPhysical = "physical"
)

type Bounty struct {
	ID                int64   `json:"id"`
	PosterName        string  `json:"poster_name"`
	PosterCallbackURL *string `json:"poster_callback_url,omitempty"`
	PosterSecretHash  *string `json:"-"`
	Title             string  `json:"title"`
	Description       string  `json:"description"`
	Requirements      *string `json:"requirements,omitempty"`
	Budget            float64 `json:"budget"`
	Category          string  `json:"category" enum:"digital,physical"`
	Tags              *string `json:"tags,omitempty"`
	Status            string  `json:"status" enum:"open,claimed,matched,fulfilled,cancelled"`
	ClaimedBy         *string `json:"claimed_by,omitempty"`
	ClaimerCallback   *string `json:"claimer_callback_url,omitempty"`
	ClaimerSecretHash *string `json:"-"`
	ClaimedAt         *string `json:"claimed_at,omitempty" format:"date-time"`
	MatchedServiceID  *int64  `json:"matched_service_id,omitempty"`
	MatchedACPAgent   *string `json:"matched_acp_agent,omitempty"`
	MatchedACPJob     *string `json:"matched_acp_job,omitempty"`
	MatchedAt         *string `json:"matched_at,omitempty" format:"date-time"`
	ACPJobID          *string `json:"acp_job_id,omitempty"`
	FulfilledAt       *string `json:"fulfilled_at,omitempty" format:"date-time"`
	ExpiresAt         *string `json:"expires_at,omitempty" format:"date-time"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         *string `json:"updated_at,omitempty" format:"date-time"`
}

// Terminal reports whether the bounty can no longer transition.
func (b Bounty) Terminal() bool {
	return b.Status == BountyFulfilled || b.Status == BountyCancelled
}

type Service struct {
	ID                int64   `json:"id"`
	AgentName         string  `json:"agent_name"`
	AgentSecretHash   *string `json:"-"`
	Name              string  `json:"name"`
	Description       string  `json:"description"`
	Price             float64 `json:"price"`
	Category          string  `json:"category" enum:"digital,physical"`
	Location          *string `json:"location,omitempty"`
	ShippingAvailable bool    `json:"shipping_available"`
	Tags              *string `json:"tags,omitempty"`
	ACPAgentWallet    *string `json:"acp_agent_wallet,omitempty"`
	ACPJobOffering    *string `json:"acp_job_offering,omitempty"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         *string `json:"updated_at,omitempty" format:"date-time"`
	IsActive          bool    `json:"is_active"`
}

// Agent mirrors one entry of the external ACP registry. Agents are owned by
// the registry cache and rebuilt wholesale on every refresh.
type Agent struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	WalletAddress string        `json:"wallet_address"`
	Description   string        `json:"description"`
	Category      string        `json:"category,omitempty"`
	Online        bool          `json:"online"`
	JobOfferings  []JobOffering `json:"job_offerings"`
	LastActive    string        `json:"last_active,omitempty"`
}

type JobOffering struct {
	Name        string   `json:"name"`
	Price       *float64 `json:"price,omitempty"`
	PriceType   string   `json:"price_type,omitempty"`
	Description string   `json:"description,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   int64  `json:"entity_id"`
	Payload    string `json:"payload_json"`
}
