package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/ageniuscoder/chatsync/internal/models"
)

const messageCols = `m.id, m.conversation_id, m.user_id, m.content, m.attachments, m.edited_at, m.created_at, m.updated_at,
	u.id, u.name, u.email, u.created_at`

const messageFrom = ` FROM messages m JOIN users u ON u.id = m.user_id`

func scanMessage(row scanner) (models.Message, error) {
	var (
		m           models.Message
		u           models.User
		content     sql.NullString
		attachments sql.NullString
		edited      sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.UserID, &content, &attachments, &edited, &m.CreatedAt, &m.UpdatedAt,
		&u.ID, &u.Name, &u.Email, &u.CreatedAt); err != nil {
		return m, err
	}
	if content.Valid {
		v := content.String
		m.Content = &v
	}
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &m.Attachments); err != nil {
			return m, err
		}
	}
	m.EditedAt = nullTime(edited)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	u.CreatedAt = u.CreatedAt.UTC()
	m.User = &u
	return m, nil
}

func encodeAttachments(urls []string) (sql.NullString, error) {
	if len(urls) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(urls)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// CreateMessage stores a message and returns it with its author loaded.
func (s *Store) CreateMessage(ctx context.Context, conversationID, userID int64, content *string, attachments []string) (models.Message, error) {
	att, err := encodeAttachments(attachments)
	if err != nil {
		return models.Message{}, err
	}
	now := s.timestamp()

	var id int64
	err = s.DB.QueryRowContext(ctx, s.q(`INSERT INTO messages (conversation_id, user_id, content, attachments, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`), conversationID, userID, nullString(content), att, now, now).Scan(&id)
	if err != nil {
		return models.Message{}, err
	}
	return s.Message(ctx, id)
}

// Message returns a live (not deleted) message.
func (s *Store) Message(ctx context.Context, id int64) (models.Message, error) {
	m, err := scanMessage(s.DB.QueryRowContext(ctx, s.q(`SELECT `+messageCols+messageFrom+
		` WHERE m.id=? AND m.deleted_at IS NULL`), id))
	return m, notFound(err)
}

// UpdateMessage replaces the content and stamps edited_at.
func (s *Store) UpdateMessage(ctx context.Context, id int64, content string) (models.Message, error) {
	now := s.timestamp()
	res, err := s.DB.ExecContext(ctx, s.q(`UPDATE messages SET content=?, edited_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL`),
		content, now, now, id)
	if err != nil {
		return models.Message{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Message{}, ErrNotFound
	}
	return s.Message(ctx, id)
}

// DeleteMessage soft-deletes a message. Deleted messages never reappear in
// any read path.
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	now := s.timestamp()
	res, err := s.DB.ExecContext(ctx, s.q(`UPDATE messages SET deleted_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL`),
		now, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMessages returns page (1-based, page 1 = newest) of a conversation's
// history. Rows inside the page are ordered oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID int64, page, perPage int) (models.MessagePage, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 50
	}
	out := models.MessagePage{Data: []models.Message{}, CurrentPage: page, PerPage: perPage, LastPage: 1}

	if err := s.DB.QueryRowContext(ctx, s.q(`SELECT COUNT(1) FROM messages WHERE conversation_id=? AND deleted_at IS NULL`),
		conversationID).Scan(&out.Total); err != nil {
		return out, err
	}
	if out.Total > 0 {
		out.LastPage = (out.Total + perPage - 1) / perPage
	}

	rows, err := s.DB.QueryContext(ctx, s.q(`SELECT `+messageCols+messageFrom+`
		WHERE m.conversation_id=? AND m.deleted_at IS NULL
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ? OFFSET ?`), conversationID, perPage, (page-1)*perPage)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return out, err
		}
		out.Data = append(out.Data, m)
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	reverse(out.Data)
	return out, nil
}

// LatestMessage returns the newest live message or nil.
func (s *Store) LatestMessage(ctx context.Context, conversationID int64) (*models.Message, error) {
	m, err := scanMessage(s.DB.QueryRowContext(ctx, s.q(`SELECT `+messageCols+messageFrom+`
		WHERE m.conversation_id=? AND m.deleted_at IS NULL
		ORDER BY m.created_at DESC, m.id DESC LIMIT 1`), conversationID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func reverse(ms []models.Message) {
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
}
