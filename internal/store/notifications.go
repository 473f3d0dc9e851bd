package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/ageniuscoder/chatsync/internal/models"
)

// CreateNotifications writes the same payload for every recipient.
func (s *Store) CreateNotifications(ctx context.Context, userIDs []int64, typ string, data json.RawMessage) error {
	if len(userIDs) == 0 {
		return nil
	}
	now := s.timestamp()
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, uid := range userIDs {
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO notifications (user_id, type, data, created_at) VALUES (?, ?, ?, ?)`),
				uid, typ, string(data), now); err != nil {
				return err
			}
		}
		return nil
	})
}

// NotificationsFor lists a user's notifications, newest first.
func (s *Store) NotificationsFor(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, s.q(`SELECT id, user_id, type, data, read_at, created_at
		FROM notifications WHERE user_id=? ORDER BY created_at DESC, id DESC LIMIT ?`), userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Notification{}
	for rows.Next() {
		var (
			n      models.Notification
			data   string
			readAt sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &data, &readAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Data = json.RawMessage(data)
		n.ReadAt = nullTime(readAt)
		n.CreatedAt = n.CreatedAt.UTC()
		list = append(list, n)
	}
	return list, rows.Err()
}
