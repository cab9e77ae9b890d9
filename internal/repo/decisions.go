package repo

import (
	"context"
	"database/sql"
	"strings"

	"verdict/internal/domain"
)

const decisionColumns = `id,user_id,project_id,discussion_id,title,description,type,importance,status,rationale,alternatives_json,risks_json,tags_json,proposed_by,approved_by,approved_at,implemented_at,superseded_by,created_at,updated_at`

func (r Repo) InsertDecision(ctx context.Context, tx *sql.Tx, d domain.Decision) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO decisions(`+decisionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.UserID, d.ProjectID, nullableStringPtr(d.DiscussionID), d.Title, nullable(d.Description),
		string(d.Type), string(d.Importance), string(d.Status), nullable(d.Rationale),
		nullableStringPtr(d.AlternativesJSON), nullableStringPtr(d.RisksJSON), nullableStringPtr(d.TagsJSON),
		d.ProposedBy, nullableStringPtr(d.ApprovedBy), nullableStringPtr(d.ApprovedAt),
		nullableStringPtr(d.ImplementedAt), nullableStringPtr(d.SupersededBy), d.CreatedAt, d.UpdatedAt)
	return err
}

func scanDecision(scan func(...any) error) (domain.Decision, error) {
	var d domain.Decision
	var discussionID, description, rationale, alternatives, risks, tags sql.NullString
	var approvedBy, approvedAt, implementedAt, supersededBy sql.NullString
	err := scan(&d.ID, &d.UserID, &d.ProjectID, &discussionID, &d.Title, &description,
		&d.Type, &d.Importance, &d.Status, &rationale, &alternatives, &risks, &tags,
		&d.ProposedBy, &approvedBy, &approvedAt, &implementedAt, &supersededBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return d, err
	}
	if discussionID.Valid {
		d.DiscussionID = &discussionID.String
	}
	if description.Valid {
		d.Description = description.String
	}
	if rationale.Valid {
		d.Rationale = rationale.String
	}
	if alternatives.Valid {
		d.AlternativesJSON = &alternatives.String
	}
	if risks.Valid {
		d.RisksJSON = &risks.String
	}
	if tags.Valid {
		d.TagsJSON = &tags.String
	}
	if approvedBy.Valid {
		d.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		d.ApprovedAt = &approvedAt.String
	}
	if implementedAt.Valid {
		d.ImplementedAt = &implementedAt.String
	}
	if supersededBy.Valid {
		d.SupersededBy = &supersededBy.String
	}
	return d, nil
}

func (r Repo) GetDecision(ctx context.Context, id string) (domain.Decision, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE id=?`, id)
	d, err := scanDecision(row.Scan)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

type DecisionFilters struct {
	UserID          string
	ProjectID       string
	Status          domain.DecisionStatus
	Type            domain.DecisionType
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListDecisions(ctx context.Context, f DecisionFilters) ([]domain.Decision, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, string(f.Type))
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + decisionColumns + ` FROM decisions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// PendingFilters selects auto-execution candidates: proposed decisions of a
// user, optionally project-scoped, pre-filtered to the policy's allowed
// types and non-excluded importance levels.
type PendingFilters struct {
	UserID             string
	ProjectID          string
	AllowedTypes       []domain.DecisionType
	ExcludedImportance []domain.Importance
}

func pendingWhere(f PendingFilters) (string, []any) {
	clauses := []string{"status=?", "user_id=?"}
	args := []any{string(domain.StatusProposed), f.UserID}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if len(f.AllowedTypes) > 0 {
		marks := make([]string, len(f.AllowedTypes))
		for i, t := range f.AllowedTypes {
			marks[i] = "?"
			args = append(args, string(t))
		}
		clauses = append(clauses, "type IN ("+strings.Join(marks, ",")+")")
	}
	if len(f.ExcludedImportance) > 0 {
		marks := make([]string, len(f.ExcludedImportance))
		for i, imp := range f.ExcludedImportance {
			marks[i] = "?"
			args = append(args, string(imp))
		}
		clauses = append(clauses, "importance NOT IN ("+strings.Join(marks, ",")+")")
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// ListPendingDecisions returns eligible proposed decisions, newest first.
func (r Repo) ListPendingDecisions(ctx context.Context, f PendingFilters, limit int) ([]domain.Decision, error) {
	where, args := pendingWhere(f)
	query := `SELECT ` + decisionColumns + ` FROM decisions ` + where + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// CountPendingDecisions counts eligible rows so callers can report how many
// fell beyond the batch cap.
func (r Repo) CountPendingDecisions(ctx context.Context, f PendingFilters) (int, error) {
	where, args := pendingWhere(f)
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions `+where, args...).Scan(&n)
	return n, err
}

// TransitionDecision applies a conditional status update: the write
// succeeds only if the decision is still in the expected status, which is
// what keeps a human approval and an auto-approval from both applying.
// Returns false with nil error when the row exists but was not in the
// expected status at write time.
func (r Repo) TransitionDecision(ctx context.Context, tx *sql.Tx, id string, from, to domain.DecisionStatus, set DecisionTransitionFields) (bool, error) {
	fields := []string{"status=?", "updated_at=?"}
	args := []any{string(to), set.UpdatedAt}
	if set.ApprovedBy != nil {
		fields = append(fields, "approved_by=?", "approved_at=?")
		args = append(args, *set.ApprovedBy, set.UpdatedAt)
	}
	if set.ImplementedAt != nil {
		fields = append(fields, "implemented_at=?")
		args = append(args, *set.ImplementedAt)
	}
	if set.SupersededBy != nil {
		fields = append(fields, "superseded_by=?")
		args = append(args, *set.SupersededBy)
	}
	args = append(args, id, string(from))
	res, err := tx.ExecContext(ctx, `UPDATE decisions SET `+strings.Join(fields, ", ")+` WHERE id=? AND status=?`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type DecisionTransitionFields struct {
	UpdatedAt     string
	ApprovedBy    *string
	ImplementedAt *string
	SupersededBy  *string
}

// CountProposedDecisions counts proposed decisions for a project,
// used by the phase transition checker.
func (r Repo) CountProposedDecisions(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions WHERE project_id=? AND status=?`,
		projectID, string(domain.StatusProposed)).Scan(&n)
	return n, err
}
