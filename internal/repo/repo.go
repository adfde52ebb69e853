package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"bountyboard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const bountyColumns = `id,poster_name,poster_callback_url,poster_secret_hash,title,description,requirements,budget,category,tags,status,claimed_by,claimer_callback_url,claimer_secret_hash,claimed_at,matched_service_id,matched_acp_agent,matched_acp_job,matched_at,acp_job_id,fulfilled_at,expires_at,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBounty(row rowScanner) (domain.Bounty, error) {
	var b domain.Bounty
	var posterCallback, posterHash, requirements, tags, claimedBy, claimerCallback, claimerHash sql.NullString
	var claimedAt, matchedAgent, matchedJob, matchedAt, acpJob, fulfilledAt, expiresAt, updatedAt sql.NullString
	var matchedServiceID sql.NullInt64
	err := row.Scan(&b.ID, &b.PosterName, &posterCallback, &posterHash, &b.Title, &b.Description, &requirements,
		&b.Budget, &b.Category, &tags, &b.Status, &claimedBy, &claimerCallback, &claimerHash, &claimedAt,
		&matchedServiceID, &matchedAgent, &matchedJob, &matchedAt, &acpJob, &fulfilledAt, &expiresAt,
		&b.CreatedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	b.PosterCallbackURL = fromNullString(posterCallback)
	b.PosterSecretHash = fromNullString(posterHash)
	b.Requirements = fromNullString(requirements)
	b.Tags = fromNullString(tags)
	b.ClaimedBy = fromNullString(claimedBy)
	b.ClaimerCallback = fromNullString(claimerCallback)
	b.ClaimerSecretHash = fromNullString(claimerHash)
	b.ClaimedAt = fromNullString(claimedAt)
	if matchedServiceID.Valid {
		b.MatchedServiceID = &matchedServiceID.Int64
	}
	b.MatchedACPAgent = fromNullString(matchedAgent)
	b.MatchedACPJob = fromNullString(matchedJob)
	b.MatchedAt = fromNullString(matchedAt)
	b.ACPJobID = fromNullString(acpJob)
	b.FulfilledAt = fromNullString(fulfilledAt)
	b.ExpiresAt = fromNullString(expiresAt)
	b.UpdatedAt = fromNullString(updatedAt)
	return b, nil
}

func (r Repo) InsertBounty(ctx context.Context, tx *sql.Tx, b domain.Bounty) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO bounties(poster_name,poster_callback_url,poster_secret_hash,title,description,requirements,budget,category,tags,status,expires_at,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.PosterName, nullableStringPtr(b.PosterCallbackURL), nullableStringPtr(b.PosterSecretHash), b.Title, b.Description,
		nullableStringPtr(b.Requirements), b.Budget, b.Category, nullableStringPtr(b.Tags), b.Status,
		nullableStringPtr(b.ExpiresAt), b.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetBounty(ctx context.Context, id int64) (domain.Bounty, error) {
	return scanBounty(r.DB.QueryRowContext(ctx, `SELECT `+bountyColumns+` FROM bounties WHERE id=?`, id))
}

func (r Repo) GetBountyTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Bounty, error) {
	return scanBounty(tx.QueryRowContext(ctx, `SELECT `+bountyColumns+` FROM bounties WHERE id=?`, id))
}

// ClaimBounty atomically moves an open bounty to claimed. The status guard
// in the WHERE clause makes concurrent claims race on a single conditional
// update: exactly one caller observes a row change.
func (r Repo) ClaimBounty(ctx context.Context, tx *sql.Tx, id int64, claimer, secretHash string, callbackURL *string, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE bounties SET status=?, claimed_by=?, claimer_secret_hash=?, claimer_callback_url=?, claimed_at=?, updated_at=? WHERE id=? AND status=?`,
		domain.BountyClaimed, claimer, secretHash, nullableStringPtr(callbackURL), now, now, id, domain.BountyOpen)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UnclaimBounty returns a claimed bounty to open and clears the claimer.
func (r Repo) UnclaimBounty(ctx context.Context, tx *sql.Tx, id int64, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE bounties SET status=?, claimed_by=NULL, claimer_secret_hash=NULL, claimer_callback_url=NULL, claimed_at=NULL, updated_at=? WHERE id=? AND status=?`,
		domain.BountyOpen, now, id, domain.BountyClaimed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MatchBounty binds a claimed bounty to an ACP agent/job.
func (r Repo) MatchBounty(ctx context.Context, tx *sql.Tx, id int64, serviceID *int64, acpAgent, acpJob, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE bounties SET status=?, matched_service_id=?, matched_acp_agent=?, matched_acp_job=?, matched_at=?, updated_at=? WHERE id=? AND status=?`,
		domain.BountyMatched, nullableInt64Ptr(serviceID), acpAgent, acpJob, now, now, id, domain.BountyClaimed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FulfillBounty closes out a claimed or matched bounty.
func (r Repo) FulfillBounty(ctx context.Context, tx *sql.Tx, id int64, acpJobID *string, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE bounties SET status=?, acp_job_id=COALESCE(?, acp_job_id), fulfilled_at=?, updated_at=? WHERE id=? AND status IN (?,?)`,
		domain.BountyFulfilled, nullableStringPtr(acpJobID), now, now, id, domain.BountyClaimed, domain.BountyMatched)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelBounty cancels from any non-terminal state. Claimer fields are
// cleared in the same update so a cancelled bounty never leaves a claimer
// dangling.
func (r Repo) CancelBounty(ctx context.Context, tx *sql.Tx, id int64, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE bounties SET status=?, claimed_by=NULL, claimer_secret_hash=NULL, claimer_callback_url=NULL, claimed_at=NULL, updated_at=? WHERE id=? AND status IN (?,?,?)`,
		domain.BountyCancelled, now, id, domain.BountyOpen, domain.BountyClaimed, domain.BountyMatched)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ExpiredBountyIDs lists open/claimed bounties whose expires_at has passed.
func (r Repo) ExpiredBountyIDs(ctx context.Context, now string) ([]int64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM bounties WHERE status IN (?,?) AND expires_at IS NOT NULL AND expires_at <= ?`,
		domain.BountyOpen, domain.BountyClaimed, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type BountyFilters struct {
	Status    string
	Category  string
	MinBudget *float64
	MaxBudget *float64
	Search    string
	Limit     int
	Offset    int
}

func (f BountyFilters) clauses() ([]string, []any) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.MinBudget != nil {
		clauses = append(clauses, "budget>=?")
		args = append(args, *f.MinBudget)
	}
	if f.MaxBudget != nil {
		clauses = append(clauses, "budget<=?")
		args = append(args, *f.MaxBudget)
	}
	if f.Search != "" {
		term := "%" + f.Search + "%"
		clauses = append(clauses, "(title LIKE ? OR description LIKE ? OR COALESCE(tags,'') LIKE ?)")
		args = append(args, term, term, term)
	}
	return clauses, args
}

func (r Repo) ListBounties(ctx context.Context, f BountyFilters) ([]domain.Bounty, error) {
	clauses, args := f.clauses()
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	// created_at DESC with id DESC tie-break keeps pagination stable under
	// concurrent inserts.
	query := `SELECT ` + bountyColumns + ` FROM bounties ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bounty
	for rows.Next() {
		b, err := scanBounty(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) CountBounties(ctx context.Context, f BountyFilters) (int, error) {
	clauses, args := f.clauses()
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM bounties `+where, args...).Scan(&total)
	return total, err
}

// CountBountiesByStatus powers the stats endpoint.
func (r Repo) CountBountiesByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM bounties GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
