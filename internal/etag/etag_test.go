package etag

import (
	"testing"

	"bountyboard/internal/domain"
)

func TestComputeDeterministic(t *testing.T) {
	a := Compute("open", "alice")
	b := Compute("open", "alice")
	if a != b {
		t.Fatalf("same parts must produce same tag: %s vs %s", a, b)
	}
}

func TestComputeFieldBoundaries(t *testing.T) {
	// ("ab","c") and ("a","bc") concatenate identically; tags must differ.
	if Compute("ab", "c") == Compute("a", "bc") {
		t.Fatalf("length delimiting failed")
	}
}

func TestForBountyChangesOnTransition(t *testing.T) {
	now := "2025-01-01T00:00:00Z"
	later := "2025-01-01T00:01:00Z"
	claimer := "claimer-agent"
	b := domain.Bounty{ID: 7, Status: domain.BountyOpen, UpdatedAt: &now}
	before := ForBounty(b)

	b.Status = domain.BountyClaimed
	b.ClaimedBy = &claimer
	b.UpdatedAt = &later
	after := ForBounty(b)

	if before == after {
		t.Fatalf("claim must change the version tag")
	}
	if !Match(before, before) {
		t.Fatalf("tag must match itself")
	}
	if Match(before, after) {
		t.Fatalf("stale tag must not match post-claim tag")
	}
}

func TestMatchForms(t *testing.T) {
	tag := Compute("x")
	if !Match("*", tag) {
		t.Fatalf("wildcard must match")
	}
	if !Match("W/"+tag, tag) {
		t.Fatalf("weak form must match by value")
	}
	if !Match(`"deadbeef", `+tag, tag) {
		t.Fatalf("list form must match any member")
	}
	if Match("", tag) {
		t.Fatalf("empty precondition never matches")
	}
}
