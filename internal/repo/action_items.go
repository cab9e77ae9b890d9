package repo

import (
	"context"
	"database/sql"
	"strings"

	"verdict/internal/domain"
)

func (r Repo) InsertActionItem(ctx context.Context, tx *sql.Tx, it domain.ActionItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO action_items(id,project_id,user_id,title,description,status,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		it.ID, it.ProjectID, it.UserID, it.Title, nullable(it.Description), string(it.Status),
		it.CreatedAt, it.UpdatedAt, nullableStringPtr(it.CompletedAt))
	return err
}

func (r Repo) GetActionItem(ctx context.Context, id string) (domain.ActionItem, error) {
	var it domain.ActionItem
	var description, completedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,user_id,title,description,status,created_at,updated_at,completed_at FROM action_items WHERE id=?`, id).
		Scan(&it.ID, &it.ProjectID, &it.UserID, &it.Title, &description, &it.Status, &it.CreatedAt, &it.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if description.Valid {
		it.Description = description.String
	}
	if completedAt.Valid {
		it.CompletedAt = &completedAt.String
	}
	return it, nil
}

func (r Repo) UpdateActionItem(ctx context.Context, tx *sql.Tx, it domain.ActionItem) error {
	_, err := tx.ExecContext(ctx, `UPDATE action_items SET title=?, description=?, status=?, updated_at=?, completed_at=? WHERE id=?`,
		it.Title, nullable(it.Description), string(it.Status), it.UpdatedAt, nullableStringPtr(it.CompletedAt), it.ID)
	return err
}

type ActionItemFilters struct {
	ProjectID string
	UserID    string
	Status    domain.ActionItemStatus
	Limit     int
}

func (r Repo) ListActionItems(ctx context.Context, f ActionItemFilters) ([]domain.ActionItem, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,project_id,user_id,title,description,status,created_at,updated_at,completed_at FROM action_items ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActionItem
	for rows.Next() {
		var it domain.ActionItem
		var description, completedAt sql.NullString
		if err := rows.Scan(&it.ID, &it.ProjectID, &it.UserID, &it.Title, &description, &it.Status, &it.CreatedAt, &it.UpdatedAt, &completedAt); err != nil {
			return nil, err
		}
		if description.Valid {
			it.Description = description.String
		}
		if completedAt.Valid {
			it.CompletedAt = &completedAt.String
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// CountOpenActionItems counts pending and in-progress items for a project,
// used by the phase transition checker.
func (r Repo) CountOpenActionItems(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM action_items WHERE project_id=? AND status IN (?,?)`,
		projectID, string(domain.ItemPending), string(domain.ItemInProgress)).Scan(&n)
	return n, err
}
