// Package matching connects bounties to registry agents and catalog
// services. All results are advisory: callers decide whether to invoke the
// match transition.
package matching

import (
	"context"
	"sort"
	"strings"

	"bountyboard/internal/domain"
)

const descriptionWordCap = 20

// Searcher is the registry lookup surface the coordinator needs.
type Searcher interface {
	Search(ctx context.Context, query string) []domain.Agent
}

// Candidate is a registry agent scored against a bounty.
type Candidate struct {
	Agent domain.Agent `json:"agent"`
	Score int          `json:"score"`
}

// CheckMatches queries the registry with the bounty's tags, category and
// title terms and returns candidates ranked by how many distinct terms they
// matched. Best effort, not guaranteed optimal.
func CheckMatches(ctx context.Context, reg Searcher, b domain.Bounty) []Candidate {
	terms := queryTerms(b)
	scores := map[int64]*Candidate{}
	var order []int64
	for _, term := range terms {
		for _, agent := range reg.Search(ctx, term) {
			c, ok := scores[agent.ID]
			if !ok {
				c = &Candidate{Agent: agent}
				scores[agent.ID] = c
				order = append(order, agent.ID)
			}
			c.Score++
		}
	}
	out := make([]Candidate, 0, len(order))
	for _, id := range order {
		out = append(out, *scores[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func queryTerms(b domain.Bounty) []string {
	seen := map[string]bool{}
	var terms []string
	add := func(t string) {
		t = strings.ToLower(strings.TrimSpace(t))
		if len(t) < 3 || seen[t] {
			return
		}
		seen[t] = true
		terms = append(terms, t)
	}
	for _, tag := range splitTags(b.Tags) {
		add(tag)
	}
	add(b.Category)
	for _, w := range strings.Fields(b.Title) {
		add(w)
	}
	return terms
}

// ServesBounty reports whether a catalog service looks able to fulfill an
// open bounty: same category, plus either a shared tag or at least two
// shared title/description words.
func ServesBounty(s domain.Service, b domain.Bounty) bool {
	if b.Status != domain.BountyOpen || !s.IsActive {
		return false
	}
	if s.Category != b.Category {
		return false
	}
	serviceTags := tagSet(s.Tags)
	bountyTags := tagSet(b.Tags)
	for t := range serviceTags {
		if bountyTags[t] {
			return true
		}
	}
	serviceWords := wordSet(s.Name, s.Description)
	bountyWords := wordSet(b.Title, b.Description)
	shared := 0
	for w := range serviceWords {
		if bountyWords[w] {
			shared++
			if shared >= 2 {
				return true
			}
		}
	}
	return false
}

// CandidateBounties filters open bounties down to those the service could
// serve, preserving input order.
func CandidateBounties(s domain.Service, bounties []domain.Bounty) []domain.Bounty {
	var out []domain.Bounty
	for _, b := range bounties {
		if ServesBounty(s, b) {
			out = append(out, b)
		}
	}
	return out
}

func splitTags(tags *string) []string {
	if tags == nil {
		return nil
	}
	var out []string
	for _, t := range strings.Split(*tags, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func tagSet(tags *string) map[string]bool {
	set := map[string]bool{}
	for _, t := range splitTags(tags) {
		set[strings.ToLower(t)] = true
	}
	return set
}

// wordSet takes every word of the first string and the leading words of
// the second, capped so long descriptions do not dominate the overlap.
func wordSet(primary, description string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(primary)) {
		set[w] = true
	}
	words := strings.Fields(strings.ToLower(description))
	if len(words) > descriptionWordCap {
		words = words[:descriptionWordCap]
	}
	for _, w := range words {
		set[w] = true
	}
	return set
}
