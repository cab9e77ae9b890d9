package repo

import (
	"context"
	"database/sql"
	"time"

	"verdict/internal/domain"
)

// InsertNotification stores a notification. It runs outside any decision
// transaction: a notification failure must never undo an approval.
func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id,user_id,type,title,body,priority,related_kind,related_id,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.Type, n.Title, nullable(n.Body), nullable(n.Priority),
		nullable(n.RelatedKind), nullable(n.RelatedID), n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT id,user_id,type,title,body,priority,related_kind,related_id,created_at,read_at FROM notifications WHERE user_id=?`
	args := []any{userID}
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var body, priority, relatedKind, relatedID, readAt sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &body, &priority, &relatedKind, &relatedID, &n.CreatedAt, &readAt); err != nil {
			return nil, err
		}
		if body.Valid {
			n.Body = body.String
		}
		if priority.Valid {
			n.Priority = priority.String
		}
		if relatedKind.Valid {
			n.RelatedKind = relatedKind.String
		}
		if relatedID.Valid {
			n.RelatedID = relatedID.String
		}
		if readAt.Valid {
			n.ReadAt = &readAt.String
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) MarkNotificationRead(ctx context.Context, id, userID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read_at=? WHERE id=? AND user_id=? AND read_at IS NULL`, now, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
