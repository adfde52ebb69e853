package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bountyboard/internal/db"
	"bountyboard/internal/domain"
	"bountyboard/internal/engine"
	"bountyboard/internal/migrate"
	"bountyboard/internal/repo"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn)
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func mustCreateBounty(t *testing.T, env testEnv) (domain.Bounty, string) {
	t.Helper()
	b, secret, err := env.Engine.CreateBounty(env.Ctx, engine.CreateBountyInput{
		PosterName:  "alice",
		Title:       "Fetch sensor data",
		Description: "Collect readings from the field unit",
		Budget:      50,
		Category:    domain.CategoryPhysical,
	})
	if err != nil {
		t.Fatalf("create bounty: %v", err)
	}
	if secret == "" {
		t.Fatal("expected a poster secret")
	}
	return b, secret
}

func TestBountyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	b, posterSecret := mustCreateBounty(t, env)
	if b.Status != domain.BountyOpen {
		t.Fatalf("status = %q, want open", b.Status)
	}
	if b.ClaimedBy != nil {
		t.Fatal("open bounty must have no claimer")
	}

	b, claimerSecret, err := env.Engine.ClaimBounty(env.Ctx, b.ID, "bob", nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if b.Status != domain.BountyClaimed || b.ClaimedBy == nil || *b.ClaimedBy != "bob" {
		t.Fatalf("after claim: status=%q claimed_by=%v", b.Status, b.ClaimedBy)
	}
	if b.ClaimedAt == nil {
		t.Fatal("claimed_at not set")
	}

	b, err = env.Engine.UnclaimBounty(env.Ctx, b.ID, claimerSecret)
	if err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	if b.Status != domain.BountyOpen || b.ClaimedBy != nil || b.ClaimedAt != nil {
		t.Fatalf("after unclaim: status=%q claimed_by=%v", b.Status, b.ClaimedBy)
	}

	b, _, err = env.Engine.ClaimBounty(env.Ctx, b.ID, "carol", nil)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if *b.ClaimedBy != "carol" {
		t.Fatalf("claimed_by = %q, want carol", *b.ClaimedBy)
	}

	b, err = env.Engine.CancelBounty(env.Ctx, b.ID, posterSecret)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if b.Status != domain.BountyCancelled || b.ClaimedBy != nil {
		t.Fatalf("after cancel: status=%q claimed_by=%v", b.Status, b.ClaimedBy)
	}

	_, _, err = env.Engine.ClaimBounty(env.Ctx, b.ID, "dave", nil)
	var conflict *engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("claim after cancel: got %v, want conflict", err)
	}
}

func TestConcurrentClaimsSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	b, _ := mustCreateBounty(t, env)

	const claimers = 8
	var wg sync.WaitGroup
	errs := make([]error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _, errs[n] = env.Engine.ClaimBounty(env.Ctx, b.ID, "claimer", nil)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var conflict *engine.ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
	got, err := env.Engine.GetBounty(env.Ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.BountyClaimed || got.ClaimedBy == nil {
		t.Fatalf("final state: status=%q claimed_by=%v", got.Status, got.ClaimedBy)
	}
}

func TestMatchAndFulfill(t *testing.T) {
	env := newTestEnv(t)
	b, posterSecret := mustCreateBounty(t, env)
	if _, _, err := env.Engine.ClaimBounty(env.Ctx, b.ID, "bob", nil); err != nil {
		t.Fatalf("claim: %v", err)
	}

	svc, _, err := env.Engine.CreateService(env.Ctx, engine.CreateServiceInput{
		AgentName:   "courier-bot",
		Name:        "Field pickup",
		Description: "Physical pickup and delivery",
		Price:       25,
		Category:    domain.CategoryPhysical,
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}

	b, err = env.Engine.MatchBounty(env.Ctx, b.ID, posterSecret, engine.MatchInput{
		ServiceID: &svc.ID,
		ACPAgent:  "0xabc",
		ACPJob:    "job-7",
	})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if b.Status != domain.BountyMatched || b.MatchedServiceID == nil || *b.MatchedServiceID != svc.ID {
		t.Fatalf("after match: status=%q matched_service_id=%v", b.Status, b.MatchedServiceID)
	}
	if b.MatchedAt == nil {
		t.Fatal("matched_at not set")
	}

	b, err = env.Engine.FulfillBounty(env.Ctx, b.ID, posterSecret, nil)
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if b.Status != domain.BountyFulfilled || b.FulfilledAt == nil {
		t.Fatalf("after fulfill: status=%q", b.Status)
	}
}

func TestFulfillDirectlyFromClaimed(t *testing.T) {
	env := newTestEnv(t)
	b, posterSecret := mustCreateBounty(t, env)
	if _, _, err := env.Engine.ClaimBounty(env.Ctx, b.ID, "bob", nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	jobID := "acp-job-42"
	b, err := env.Engine.FulfillBounty(env.Ctx, b.ID, posterSecret, &jobID)
	if err != nil {
		t.Fatalf("fulfill from claimed: %v", err)
	}
	if b.Status != domain.BountyFulfilled || b.ACPJobID == nil || *b.ACPJobID != jobID {
		t.Fatalf("after fulfill: status=%q acp_job_id=%v", b.Status, b.ACPJobID)
	}
}

func TestMatchRejectsMissingService(t *testing.T) {
	env := newTestEnv(t)
	b, posterSecret := mustCreateBounty(t, env)
	if _, _, err := env.Engine.ClaimBounty(env.Ctx, b.ID, "bob", nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	missing := int64(9999)
	_, err := env.Engine.MatchBounty(env.Ctx, b.ID, posterSecret, engine.MatchInput{
		ServiceID: &missing,
		ACPAgent:  "0xabc",
	})
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("match with missing service: got %v, want validation error", err)
	}
}

func TestWrongSecretForbidden(t *testing.T) {
	env := newTestEnv(t)
	b, _ := mustCreateBounty(t, env)

	_, err := env.Engine.CancelBounty(env.Ctx, b.ID, "not-the-secret")
	var forbidden *engine.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("cancel with wrong secret: got %v, want forbidden", err)
	}

	if _, _, err := env.Engine.ClaimBounty(env.Ctx, b.ID, "bob", nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err = env.Engine.UnclaimBounty(env.Ctx, b.ID, "wrong")
	if !errors.As(err, &forbidden) {
		t.Fatalf("unclaim with wrong secret: got %v, want forbidden", err)
	}
}

func TestServiceDeactivateIdempotent(t *testing.T) {
	env := newTestEnv(t)
	svc, agentSecret, err := env.Engine.CreateService(env.Ctx, engine.CreateServiceInput{
		AgentName:   "writer-bot",
		Name:        "Copywriting",
		Description: "Short form copy",
		Price:       10,
		Category:    domain.CategoryDigital,
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}

	_, err = env.Engine.DeactivateService(env.Ctx, svc.ID, "wrong-secret")
	var forbidden *engine.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("deactivate with wrong secret: got %v, want forbidden", err)
	}
	got, err := env.Engine.GetService(env.Ctx, svc.ID)
	if err != nil || !got.IsActive {
		t.Fatalf("service should remain active: err=%v active=%v", err, got.IsActive)
	}

	got, err = env.Engine.DeactivateService(env.Ctx, svc.ID, agentSecret)
	if err != nil || got.IsActive {
		t.Fatalf("deactivate: err=%v active=%v", err, got.IsActive)
	}
	got, err = env.Engine.DeactivateService(env.Ctx, svc.ID, agentSecret)
	if err != nil || got.IsActive {
		t.Fatalf("second deactivate should be idempotent: err=%v active=%v", err, got.IsActive)
	}
}

func TestServiceUpdateRequiresSecret(t *testing.T) {
	env := newTestEnv(t)
	svc, agentSecret, err := env.Engine.CreateService(env.Ctx, engine.CreateServiceInput{
		AgentName:   "writer-bot",
		Name:        "Copywriting",
		Description: "Short form copy",
		Price:       10,
		Category:    domain.CategoryDigital,
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	price := 20.0
	_, err = env.Engine.UpdateService(env.Ctx, svc.ID, "bogus", repo.ServicePatch{Price: &price})
	var forbidden *engine.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("update with wrong secret: got %v, want forbidden", err)
	}
	got, err := env.Engine.UpdateService(env.Ctx, svc.ID, agentSecret, repo.ServicePatch{Price: &price})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Price != 20 || got.UpdatedAt == nil {
		t.Fatalf("after update: price=%v updated_at=%v", got.Price, got.UpdatedAt)
	}
}

func TestListBountiesFilters(t *testing.T) {
	env := newTestEnv(t)
	for i, in := range []engine.CreateBountyInput{
		{PosterName: "alice", Title: "Translate deck", Description: "Slides to French", Budget: 30, Category: domain.CategoryDigital, Tags: strPtr("translation,french")},
		{PosterName: "alice", Title: "Deliver parcel", Description: "Across town", Budget: 80, Category: domain.CategoryPhysical},
		{PosterName: "bob", Title: "Summarize paper", Description: "Two page digest", Budget: 15, Category: domain.CategoryDigital},
	} {
		if _, _, err := env.Engine.CreateBounty(env.Ctx, in); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	items, total, err := env.Engine.ListBounties(env.Ctx, repo.BountyFilters{Category: domain.CategoryDigital})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("digital: total=%d len=%d", total, len(items))
	}

	min := 20.0
	max := 100.0
	items, _, err = env.Engine.ListBounties(env.Ctx, repo.BountyFilters{MinBudget: &min, MaxBudget: &max})
	if err != nil {
		t.Fatalf("list budget: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("budget range: len=%d", len(items))
	}

	items, _, err = env.Engine.ListBounties(env.Ctx, repo.BountyFilters{Search: "french"})
	if err != nil {
		t.Fatalf("list search: %v", err)
	}
	if len(items) != 1 || items[0].Title != "Translate deck" {
		t.Fatalf("search: %+v", items)
	}

	items, _, err = env.Engine.ListBounties(env.Ctx, repo.BountyFilters{Limit: 2})
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("limit: len=%d", len(items))
	}
	// newest first with id tie-break
	if items[0].ID < items[1].ID {
		t.Fatalf("order: ids %d, %d", items[0].ID, items[1].ID)
	}
}

func TestCreateBountyValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []engine.CreateBountyInput{
		{PosterName: "alice", Title: "", Description: "d", Budget: 10, Category: "digital"},
		{PosterName: "alice", Title: "t", Description: "", Budget: 10, Category: "digital"},
		{PosterName: "alice", Title: "t", Description: "d", Budget: 0, Category: "digital"},
		{PosterName: "alice", Title: "t", Description: "d", Budget: -5, Category: "digital"},
		{PosterName: "alice", Title: "t", Description: "d", Budget: 10, Category: "astral"},
		{PosterName: "", Title: "t", Description: "d", Budget: 10, Category: "digital"},
	}
	for i, in := range cases {
		_, _, err := env.Engine.CreateBounty(env.Ctx, in)
		var verr *engine.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("case %d: got %v, want validation error", i, err)
		}
	}
}

func TestExpireDue(t *testing.T) {
	env := newTestEnv(t)
	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	future := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)

	expired, _, err := env.Engine.CreateBounty(env.Ctx, engine.CreateBountyInput{
		PosterName: "alice", Title: "Old job", Description: "Past due", Budget: 10,
		Category: domain.CategoryDigital, ExpiresAt: &past,
	})
	if err != nil {
		t.Fatalf("create expired: %v", err)
	}
	fresh, _, err := env.Engine.CreateBounty(env.Ctx, engine.CreateBountyInput{
		PosterName: "alice", Title: "New job", Description: "Still valid", Budget: 10,
		Category: domain.CategoryDigital, ExpiresAt: &future,
	})
	if err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	n, err := env.Engine.ExpireDue(env.Ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d bounties, want 1", n)
	}
	got, _ := env.Engine.GetBounty(env.Ctx, expired.ID)
	if got.Status != domain.BountyCancelled {
		t.Fatalf("expired bounty status = %q", got.Status)
	}
	got, _ = env.Engine.GetBounty(env.Ctx, fresh.ID)
	if got.Status != domain.BountyOpen {
		t.Fatalf("fresh bounty status = %q", got.Status)
	}
}

func strPtr(s string) *string { return &s }
