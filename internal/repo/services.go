package repo

import (
	"context"
	"database/sql"
	"strings"

	"bountyboard/internal/domain"
)

const serviceColumns = `id,agent_name,agent_secret_hash,name,description,price,category,location,shipping_available,tags,acp_agent_wallet,acp_job_offering,created_at,updated_at,is_active`

func scanService(row rowScanner) (domain.Service, error) {
	var s domain.Service
	var secretHash, location, tags, wallet, offering, updatedAt sql.NullString
	err := row.Scan(&s.ID, &s.AgentName, &secretHash, &s.Name, &s.Description, &s.Price, &s.Category,
		&location, &s.ShippingAvailable, &tags, &wallet, &offering, &s.CreatedAt, &updatedAt, &s.IsActive)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.AgentSecretHash = fromNullString(secretHash)
	s.Location = fromNullString(location)
	s.Tags = fromNullString(tags)
	s.ACPAgentWallet = fromNullString(wallet)
	s.ACPJobOffering = fromNullString(offering)
	s.UpdatedAt = fromNullString(updatedAt)
	return s, nil
}

func (r Repo) InsertService(ctx context.Context, tx *sql.Tx, s domain.Service) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO services(agent_name,agent_secret_hash,name,description,price,category,location,shipping_available,tags,acp_agent_wallet,acp_job_offering,created_at,is_active) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.AgentName, nullableStringPtr(s.AgentSecretHash), s.Name, s.Description, s.Price, s.Category,
		nullableStringPtr(s.Location), s.ShippingAvailable, nullableStringPtr(s.Tags),
		nullableStringPtr(s.ACPAgentWallet), nullableStringPtr(s.ACPJobOffering), s.CreatedAt, s.IsActive)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetService(ctx context.Context, id int64) (domain.Service, error) {
	return scanService(r.DB.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id=?`, id))
}

func (r Repo) GetServiceTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Service, error) {
	return scanService(tx.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id=?`, id))
}

// ServicePatch carries the mutable service fields. Nil means leave as is.
type ServicePatch struct {
	Name              *string
	Description       *string
	Price             *float64
	Category          *string
	Location          *string
	ShippingAvailable *bool
	Tags              *string
	ACPAgentWallet    *string
	ACPJobOffering    *string
}

func (r Repo) UpdateService(ctx context.Context, tx *sql.Tx, id int64, p ServicePatch, now string) error {
	var sets []string
	var args []any
	set := func(col string, v any) {
		sets = append(sets, col+"=?")
		args = append(args, v)
	}
	if p.Name != nil {
		set("name", *p.Name)
	}
	if p.Description != nil {
		set("description", *p.Description)
	}
	if p.Price != nil {
		set("price", *p.Price)
	}
	if p.Category != nil {
		set("category", *p.Category)
	}
	if p.Location != nil {
		set("location", *p.Location)
	}
	if p.ShippingAvailable != nil {
		set("shipping_available", *p.ShippingAvailable)
	}
	if p.Tags != nil {
		set("tags", *p.Tags)
	}
	if p.ACPAgentWallet != nil {
		set("acp_agent_wallet", *p.ACPAgentWallet)
	}
	if p.ACPJobOffering != nil {
		set("acp_job_offering", *p.ACPJobOffering)
	}
	if len(sets) == 0 {
		return nil
	}
	set("updated_at", now)
	args = append(args, id)
	res, err := tx.ExecContext(ctx, `UPDATE services SET `+strings.Join(sets, ",")+` WHERE id=?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateService flips is_active off. Returns false when the service was
// already inactive, which callers treat as an idempotent success.
func (r Repo) DeactivateService(ctx context.Context, tx *sql.Tx, id int64, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE services SET is_active=0, updated_at=? WHERE id=? AND is_active=1`, now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type ServiceFilters struct {
	Category string
	Search   string
	Location string
	MinPrice *float64
	MaxPrice *float64
	Shipping *bool
	ACPOnly  bool
	Limit    int
	Offset   int
}

func (f ServiceFilters) clauses() ([]string, []any) {
	clauses := []string{"is_active=1"}
	var args []any
	if f.Category != "" {
		clauses = append(clauses, "category=?")
		args = append(args, f.Category)
	}
	if f.Search != "" {
		term := "%" + f.Search + "%"
		clauses = append(clauses, "(name LIKE ? OR description LIKE ? OR COALESCE(tags,'') LIKE ?)")
		args = append(args, term, term, term)
	}
	if f.Location != "" {
		clauses = append(clauses, "COALESCE(location,'') LIKE ?")
		args = append(args, "%"+f.Location+"%")
	}
	if f.MinPrice != nil {
		clauses = append(clauses, "price>=?")
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		clauses = append(clauses, "price<=?")
		args = append(args, *f.MaxPrice)
	}
	if f.Shipping != nil {
		clauses = append(clauses, "shipping_available=?")
		args = append(args, *f.Shipping)
	}
	if f.ACPOnly {
		clauses = append(clauses, "acp_agent_wallet IS NOT NULL AND acp_agent_wallet != ''")
	}
	return clauses, args
}

func (r Repo) ListServices(ctx context.Context, f ServiceFilters) ([]domain.Service, error) {
	clauses, args := f.clauses()
	query := `SELECT ` + serviceColumns + ` FROM services WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
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
	var res []domain.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) CountServices(ctx context.Context, f ServiceFilters) (int, error) {
	clauses, args := f.clauses()
	var total int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM services WHERE `+strings.Join(clauses, " AND "), args...).Scan(&total)
	return total, err
}

// ActiveServices returns every active service, used by the matcher.
func (r Repo) ActiveServices(ctx context.Context) ([]domain.Service, error) {
	return r.ListServices(ctx, ServiceFilters{})
}

// EventsAfter tails the events table for the webhook dispatcher.
func (r Repo) EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
