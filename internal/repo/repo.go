package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"gigline/internal/db"
	"gigline/internal/domain"
)

// Repo is the SQL store. Every mutation that guards capacity or bid state
// is a single conditional statement; nothing reads then writes.
type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var ErrNotFound = domain.ErrNotFound

func (r Repo) q(query string) string {
	return r.Dialect.Rebind(query)
}

const gigColumns = `id,title,COALESCE(description,'') AS description,budget,COALESCE(skills_json,'') AS skills_json,owner_id,status,positions_available,positions_filled,created_at,updated_at,completed_at`

type scanner interface {
	Scan(dest ...any) error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a transaction. It commits only when fn reports true.
func (r Repo) inTx(ctx context.Context, fn func(tx *sql.Tx) (bool, error)) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	commit, err := fn(tx)
	if err != nil || !commit {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func scanGig(row scanner) (domain.Gig, error) {
	var g domain.Gig
	var skills string
	var completedAt sql.NullString
	err := row.Scan(&g.ID, &g.Title, &g.Description, &g.Budget, &skills, &g.OwnerID, &g.Status,
		&g.PositionsAvailable, &g.PositionsFilled, &g.CreatedAt, &g.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	if skills != "" {
		if err := json.Unmarshal([]byte(skills), &g.Skills); err != nil {
			return g, fmt.Errorf("decode skills for gig %s: %w", g.ID, err)
		}
	}
	if completedAt.Valid {
		g.CompletedAt = &completedAt.String
	}
	return g, nil
}

func (r Repo) InsertGig(ctx context.Context, g domain.Gig) error {
	var skills any
	if len(g.Skills) > 0 {
		b, err := json.Marshal(g.Skills)
		if err != nil {
			return err
		}
		skills = string(b)
	}
	_, err := r.DB.ExecContext(ctx, r.q(`INSERT INTO gigs(id,title,description,budget,skills_json,owner_id,status,positions_available,positions_filled,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
		g.ID, g.Title, nullable(g.Description), g.Budget, skills, g.OwnerID, g.Status,
		g.PositionsAvailable, g.PositionsFilled, g.CreatedAt, g.UpdatedAt)
	return err
}

// GetGig loads a gig with its admin list.
func (r Repo) GetGig(ctx context.Context, id string) (domain.Gig, error) {
	g, err := scanGig(r.DB.QueryRowContext(ctx, r.q(`SELECT `+gigColumns+` FROM gigs WHERE id=?`), id))
	if err != nil {
		return g, err
	}
	admins, err := r.ListAdmins(ctx, id)
	if err != nil {
		return g, err
	}
	g.Admins = admins
	return g, nil
}

type GigFilters struct {
	Statuses        []domain.GigStatus
	OwnerID         string
	Search          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListGigs returns gigs newest first. Admin lists are not loaded.
func (r Repo) ListGigs(ctx context.Context, f GigFilters) ([]domain.Gig, error) {
	clauses := []string{"1=1"}
	var args []any
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, s)
		}
		clauses = append(clauses, "status IN ("+strings.Join(marks, ",")+")")
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		clauses = append(clauses, "(LOWER(title) LIKE ? OR LOWER(COALESCE(description,'')) LIKE ? OR LOWER(COALESCE(skills_json,'')) LIKE ?)")
		args = append(args, like, like, like)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + gigColumns + ` FROM gigs WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Gig
	for rows.Next() {
		g, err := scanGig(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

// CompleteGig closes a gig that has at least one hire.
func (r Repo) CompleteGig(ctx context.Context, id, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, r.q(`UPDATE gigs SET status='completed', completed_at=?, updated_at=? WHERE id=? AND status IN ('assigned','filled')`),
		now, now, id)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

// DeleteGig removes the gig; admins and bids go with it.
func (r Repo) DeleteGig(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, r.q(`DELETE FROM gigs WHERE id=?`), id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) AddAdmin(ctx context.Context, gigID, actorID, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, r.q(`INSERT INTO gig_admins(gig_id,actor_id,created_at) VALUES (?,?,?) ON CONFLICT DO NOTHING`),
		gigID, actorID, now)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (r Repo) RemoveAdmin(ctx context.Context, gigID, actorID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, r.q(`DELETE FROM gig_admins WHERE gig_id=? AND actor_id=?`), gigID, actorID)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (r Repo) ListAdmins(ctx context.Context, gigID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT actor_id FROM gig_admins WHERE gig_id=? ORDER BY created_at, actor_id`), gigID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
