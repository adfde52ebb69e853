package matching

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"bountyboard/internal/domain"
)

type stubSearcher struct {
	agents []domain.Agent
}

func (s stubSearcher) Search(_ context.Context, query string) []domain.Agent {
	var out []domain.Agent
	for _, a := range s.agents {
		text := strings.ToLower(a.Name + " " + a.Description)
		if strings.Contains(text, strings.ToLower(query)) {
			out = append(out, a)
		}
	}
	return out
}

func str(s string) *string { return &s }

func TestCheckMatchesRanksByTermOverlap(t *testing.T) {
	reg := stubSearcher{agents: []domain.Agent{
		{ID: 1, Name: "TranslateBot", Description: "french translation service"},
		{ID: 2, Name: "PrintShop", Description: "3d printing and fabrication"},
		{ID: 3, Name: "Generalist", Description: "translation printing french everything"},
	}}
	b := domain.Bounty{
		Title:    "Translation needed",
		Category: domain.CategoryDigital,
		Tags:     str("french,translation"),
	}
	got := CheckMatches(context.Background(), reg, b)
	assert.Len(t, got, 2)
	// The generalist matches both terms, the specialist both as well;
	// neither matches "printing"-only agents.
	for _, c := range got {
		assert.NotEqual(t, int64(2), c.Agent.ID)
		assert.GreaterOrEqual(t, c.Score, 1)
	}
	assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
}

func TestCheckMatchesEmptyRegistry(t *testing.T) {
	got := CheckMatches(context.Background(), stubSearcher{}, domain.Bounty{Title: "anything"})
	assert.Empty(t, got)
}

func TestServesBountyTagOverlap(t *testing.T) {
	s := domain.Service{
		Category: domain.CategoryDigital,
		Name:     "Copy editing",
		Tags:     str("editing,proofreading"),
		IsActive: true,
	}
	b := domain.Bounty{
		Status:   domain.BountyOpen,
		Category: domain.CategoryDigital,
		Title:    "Need help",
		Tags:     str("proofreading"),
	}
	assert.True(t, ServesBounty(s, b))
}

func TestServesBountyWordOverlap(t *testing.T) {
	s := domain.Service{
		Category:    domain.CategoryPhysical,
		Name:        "Parcel delivery downtown",
		Description: "fast courier service",
		IsActive:    true,
	}
	b := domain.Bounty{
		Status:      domain.BountyOpen,
		Category:    domain.CategoryPhysical,
		Title:       "Parcel pickup",
		Description: "need delivery downtown today",
	}
	// Shares "parcel", "delivery" and "downtown".
	assert.True(t, ServesBounty(s, b))

	// A single shared word is not enough.
	weak := domain.Bounty{
		Status:      domain.BountyOpen,
		Category:    domain.CategoryPhysical,
		Title:       "Parcel",
		Description: "something unrelated entirely",
	}
	assert.False(t, ServesBounty(s, weak))
}

func TestServesBountyGuards(t *testing.T) {
	s := domain.Service{
		Category: domain.CategoryDigital,
		Name:     "Copy editing",
		Tags:     str("editing"),
		IsActive: true,
	}
	claimed := domain.Bounty{
		Status:   domain.BountyClaimed,
		Category: domain.CategoryDigital,
		Tags:     str("editing"),
	}
	assert.False(t, ServesBounty(s, claimed), "non-open bounty")

	wrongCategory := domain.Bounty{
		Status:   domain.BountyOpen,
		Category: domain.CategoryPhysical,
		Tags:     str("editing"),
	}
	assert.False(t, ServesBounty(s, wrongCategory), "category mismatch")

	inactive := s
	inactive.IsActive = false
	open := domain.Bounty{
		Status:   domain.BountyOpen,
		Category: domain.CategoryDigital,
		Tags:     str("editing"),
	}
	assert.False(t, ServesBounty(inactive, open), "inactive service")
}

func TestCandidateBounties(t *testing.T) {
	s := domain.Service{
		Category: domain.CategoryDigital,
		Name:     "Translation",
		Tags:     str("french"),
		IsActive: true,
	}
	bounties := []domain.Bounty{
		{ID: 1, Status: domain.BountyOpen, Category: domain.CategoryDigital, Tags: str("french")},
		{ID: 2, Status: domain.BountyOpen, Category: domain.CategoryDigital, Tags: str("spanish")},
		{ID: 3, Status: domain.BountyCancelled, Category: domain.CategoryDigital, Tags: str("french")},
	}
	got := CandidateBounties(s, bounties)
	assert.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
}
