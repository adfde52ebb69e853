package engine

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"bountyboard/internal/domain"
	"bountyboard/internal/events"
	"bountyboard/internal/repo"
	"bountyboard/internal/secrets"
)

// Engine owns the bounty lifecycle and the service catalog. Every state
// transition runs as a single conditional update inside one transaction,
// with its lifecycle event appended in the same transaction.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) *Engine {
	now := time.Now
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db, Now: now},
		Now:    now,
	}
}

func (e *Engine) now() string {
	return e.Now().UTC().Format(time.RFC3339)
}

type CreateBountyInput struct {
	PosterName   string
	CallbackURL  *string
	Title        string
	Description  string
	Requirements *string
	Budget       float64
	Category     string
	Tags         *string
	ExpiresAt    *string
}

func validCategory(c string) bool {
	return c == domain.CategoryDigital || c == domain.CategoryPhysical
}

// CreateBounty issues the poster secret exactly once; only its hash is
// stored.
func (e *Engine) CreateBounty(ctx context.Context, in CreateBountyInput) (domain.Bounty, string, error) {
	if strings.TrimSpace(in.PosterName) == "" {
		return domain.Bounty{}, "", invalid("poster_name", "must not be empty")
	}
	if strings.TrimSpace(in.Title) == "" {
		return domain.Bounty{}, "", invalid("title", "must not be empty")
	}
	if strings.TrimSpace(in.Description) == "" {
		return domain.Bounty{}, "", invalid("description", "must not be empty")
	}
	if in.Budget <= 0 || math.IsInf(in.Budget, 0) || math.IsNaN(in.Budget) {
		return domain.Bounty{}, "", invalid("budget", "must be a positive number")
	}
	if !validCategory(in.Category) {
		return domain.Bounty{}, "", invalid("category", "must be digital or physical")
	}
	plaintext, hash, err := secrets.Generate()
	if err != nil {
		return domain.Bounty{}, "", fmt.Errorf("generate poster secret: %w", err)
	}
	b := domain.Bounty{
		PosterName:        in.PosterName,
		PosterCallbackURL: in.CallbackURL,
		PosterSecretHash:  &hash,
		Title:             in.Title,
		Description:       in.Description,
		Requirements:      in.Requirements,
		Budget:            in.Budget,
		Category:          in.Category,
		Tags:              in.Tags,
		Status:            domain.BountyOpen,
		ExpiresAt:         in.ExpiresAt,
		CreatedAt:         e.now(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bounty{}, "", err
	}
	defer tx.Rollback()
	id, err := e.Repo.InsertBounty(ctx, tx, b)
	if err != nil {
		return domain.Bounty{}, "", err
	}
	b.ID = id
	if err := e.Events.Append(ctx, tx, "bounty.created", "bounty", id, events.EventPayload{
		"poster_name": b.PosterName, "title": b.Title, "budget": b.Budget, "category": b.Category,
	}); err != nil {
		return domain.Bounty{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bounty{}, "", err
	}
	return b, plaintext, nil
}

// ClaimBounty races concurrent claimers on a conditional update: exactly
// one wins, the rest get a conflict.
func (e *Engine) ClaimBounty(ctx context.Context, id int64, claimerName string, callbackURL *string) (domain.Bounty, string, error) {
	if strings.TrimSpace(claimerName) == "" {
		return domain.Bounty{}, "", invalid("claimer_name", "must not be empty")
	}
	plaintext, hash, err := secrets.Generate()
	if err != nil {
		return domain.Bounty{}, "", fmt.Errorf("generate claimer secret: %w", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bounty{}, "", err
	}
	defer tx.Rollback()
	applied, err := e.Repo.ClaimBounty(ctx, tx, id, claimerName, hash, callbackURL, e.now())
	if err != nil {
		return domain.Bounty{}, "", err
	}
	if !applied {
		return domain.Bounty{}, "", e.transitionConflict(ctx, tx, id, "claim")
	}
	b, err := e.Repo.GetBountyTx(ctx, tx, id)
	if err != nil {
		return domain.Bounty{}, "", err
	}
	if err := e.Events.Append(ctx, tx, "bounty.claimed", "bounty", id, events.EventPayload{
		"claimed_by": claimerName,
	}); err != nil {
		return domain.Bounty{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bounty{}, "", err
	}
	return b, plaintext, nil
}

// transitionConflict distinguishes a missing bounty from one in the wrong
// state after a conditional update touched no rows.
func (e *Engine) transitionConflict(ctx context.Context, tx *sql.Tx, id int64, op string) error {
	if _, err := e.Repo.GetBountyTx(ctx, tx, id); err != nil {
		return err
	}
	return &ConflictError{Op: op}
}

func (e *Engine) UnclaimBounty(ctx context.Context, id int64, claimerSecret string) (domain.Bounty, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bounty{}, err
	}
	defer tx.Rollback()
	b, err := e.Repo.GetBountyTx(ctx, tx, id)
	if err != nil {
		return domain.Bounty{}, err
	}
	if !verify(claimerSecret, b.ClaimerSecretHash) {
		return domain.Bounty{}, &ForbiddenError{Entity: "bounty"}
	}
	applied, err := e.Repo.UnclaimBounty(ctx, tx, id, e.now())
	if err != nil {
		return domain.Bounty{}, err
	}
	if !applied {
		return domain.Bounty{}, e.transitionConflict(ctx, tx, id, "unclaim")
	}
	b, err = e.Repo.GetBountyTx(ctx, tx, id)
	if err != nil {
		return domain.Bounty{}, err
	}
	if err := e.Events.Append(ctx, tx, "bounty.unclaimed", "bounty", id, nil); err != nil {
		return domain.Bounty{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bounty{}, err
	}
	return b, nil
}

type MatchInput struct {
	ServiceID *int64
	ACPAgent  string
	ACPJob    string
}

func (e *Engine) MatchBounty(ctx context.Context, id int64, posterSecret string, in MatchInput) (domain.Bounty, error) {
	if strings.TrimSpace(in.ACPAgent) == "" {
		return domain.Bounty{}, invalid("acp_agent", "must not be empty")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bounty{}, err
	}
	defer tx.Rollback()
	b, err := e.Repo.GetBountyTx(ctx, tx, id)
	if err != nil {
		return domain.Bounty{}, err
	}
	if !verify(posterSecret, b.PosterSecretHash) {
		return domain.Bounty{}, &ForbiddenError{Entity: "bounty"}
	}
	// Referential check at transition time only. The stored id is a
	// snapshot, not a live foreign key.
	if in.ServiceID != nil {
		if _, err := e.Repo.GetServiceTx(ctx, tx, *in.ServiceID); err != nil {
			if err == repo.ErrNotFound {
				return domain.Bounty{}, invalid("service_id", "referenced service does not exist")
			}
			return domain.Bounty{}, err
		}
	}
	applied, err := e.Repo.MatchBounty(ctx, tx, id, in.ServiceID, in.ACPAgent, in.ACPJob, e.now())
	if err != nil {
		return domain.Bounty{}, err
	}
	if !applied {
		return domain.Bounty{}, e.transitionConflict(ctx, tx, id, "match")
	}
	b, err = e.Repo.GetBountyTx(ctx, tx, id)
	if err != nil {
		return domain.Bounty{}, err
	}
	if err := e.Events.Append(ctx, tx, "bounty.matched", "bounty", id, events.EventPayload{
		"acp_agent": in.ACPAgent, "acp_job": in.ACPJob,
	}); err != nil {
		return domain.Bounty{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bounty{}, err
	}
	return b, nil
}

// FulfillBounty accepts work from either claimed or matched: posters may
// skip the formal match step.
func (e *Engine) FulfillBounty(ctx context.Context, id int64, posterSecret string, acpJobID *string) (domain.Bounty, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bounty{}, err
	}
	defer tx.Rollback()
	b, err := e.Repo.GetBountyTx(ctx, tx, id)
	if err != nil {
		return domain.Bounty{}, err
	}
	if !verify(posterSecret, b.PosterSecretHash) {
		return domain.Bounty{}, &ForbiddenError{Entity: "bounty"}
	}
	applied, err := e.Repo.FulfillBounty(ctx, tx, id, acpJobID, e.now())
	if err != nil {
		return domain.Bounty{}, err
	}
	if !applied {
		return domain.Bounty{}, e.transitionConflict(ctx, tx, id, "fulfill")
	}
	b, err = e.Repo.GetBountyTx(ctx, tx, id)
	if err != nil {
		return domain.Bounty{}, err
	}
	if err := e.Events.Append(ctx, tx, "bounty.fulfilled", "bounty", id, nil); err != nil {
		return domain.Bounty{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bounty{}, err
	}
	return b, nil
}

func (e *Engine) CancelBounty(ctx context.Context, id int64, posterSecret string) (domain.Bounty, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bounty{}, err
	}
	defer tx.Rollback()
	b, err := e.Repo.GetBountyTx(ctx, tx, id)
	if err != nil {
		return domain.Bounty{}, err
	}
	if !verify(posterSecret, b.PosterSecretHash) {
		return domain.Bounty{}, &ForbiddenError{Entity: "bounty"}
	}
	applied, err := e.Repo.CancelBounty(ctx, tx, id, e.now())
	if err != nil {
		return domain.Bounty{}, err
	}
	if !applied {
		return domain.Bounty{}, e.transitionConflict(ctx, tx, id, "cancel")
	}
	b, err = e.Repo.GetBountyTx(ctx, tx, id)
	if err != nil {
		return domain.Bounty{}, err
	}
	if err := e.Events.Append(ctx, tx, "bounty.cancelled", "bounty", id, nil); err != nil {
		return domain.Bounty{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bounty{}, err
	}
	return b, nil
}

func (e *Engine) GetBounty(ctx context.Context, id int64) (domain.Bounty, error) {
	return e.Repo.GetBounty(ctx, id)
}

func (e *Engine) ListBounties(ctx context.Context, f repo.BountyFilters) ([]domain.Bounty, int, error) {
	items, err := e.Repo.ListBounties(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	total, err := e.Repo.CountBounties(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ExpireDue cancels open and claimed bounties past their expires_at. Called
// by the background sweeper.
func (e *Engine) ExpireDue(ctx context.Context) (int, error) {
	ids, err := e.Repo.ExpiredBountyIDs(ctx, e.now())
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return expired, err
		}
		applied, err := e.Repo.CancelBounty(ctx, tx, id, e.now())
		if err != nil {
			tx.Rollback()
			return expired, err
		}
		if !applied {
			// Lost a race with a client transition. Fine, move on.
			tx.Rollback()
			continue
		}
		if err := e.Events.Append(ctx, tx, "bounty.expired", "bounty", id, nil); err != nil {
			tx.Rollback()
			return expired, err
		}
		if err := tx.Commit(); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// verify fails closed: no stored hash means nothing can ever authorize.
func verify(provided string, storedHash *string) bool {
	if storedHash == nil {
		return false
	}
	return secrets.Verify(provided, *storedHash)
}
