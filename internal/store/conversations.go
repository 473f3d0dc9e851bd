package store

import (
	"context"
	"database/sql"

	"github.com/ageniuscoder/chatsync/internal/models"
)

const participantCols = `p.id, p.conversation_id, p.user_id, p.last_read_at, u.id, u.name, u.email, u.created_at`

func scanParticipant(row scanner) (models.Participant, error) {
	var (
		p        models.Participant
		u        models.User
		lastRead sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.ConversationID, &p.UserID, &lastRead, &u.ID, &u.Name, &u.Email, &u.CreatedAt); err != nil {
		return p, err
	}
	p.LastReadAt = nullTime(lastRead)
	u.CreatedAt = u.CreatedAt.UTC()
	p.User = &u
	return p, nil
}

// CreateConversation inserts the conversation and one participant row per
// distinct user id in a single transaction.
func (s *Store) CreateConversation(ctx context.Context, typ, name string, userIDs []int64) (models.Conversation, error) {
	now := s.timestamp()
	var id int64
	err := s.tx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, s.q(`INSERT INTO conversations (name, type, created_at) VALUES (?, ?, ?) RETURNING id`),
			name, typ, now).Scan(&id); err != nil {
			return err
		}
		seen := make(map[int64]bool, len(userIDs))
		for _, uid := range userIDs {
			if seen[uid] {
				continue
			}
			seen[uid] = true
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO participants (conversation_id, user_id, created_at) VALUES (?, ?, ?)`),
				id, uid, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}
	return s.Conversation(ctx, id)
}

// Conversation loads a conversation with its participants (no messages).
func (s *Store) Conversation(ctx context.Context, id int64) (models.Conversation, error) {
	var c models.Conversation
	err := s.DB.QueryRowContext(ctx, s.q(`SELECT id, name, type, created_at FROM conversations WHERE id=?`), id).
		Scan(&c.ID, &c.Name, &c.Type, &c.CreatedAt)
	if err != nil {
		return c, notFound(err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.Participants, err = s.Participants(ctx, id)
	return c, err
}

// ConversationsForUser lists every conversation uid participates in, newest
// first, each with participants and its latest message.
func (s *Store) ConversationsForUser(ctx context.Context, uid int64) ([]models.Conversation, error) {
	rows, err := s.DB.QueryContext(ctx, s.q(`
		SELECT c.id, c.name, c.type, c.created_at
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.created_at DESC, c.id DESC`), uid)
	if err != nil {
		return nil, err
	}

	list := []models.Conversation{}
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range list {
		if list[i].Participants, err = s.Participants(ctx, list[i].ID); err != nil {
			return nil, err
		}
		if list[i].LatestMessage, err = s.LatestMessage(ctx, list[i].ID); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (s *Store) Participants(ctx context.Context, conversationID int64) ([]models.Participant, error) {
	rows, err := s.DB.QueryContext(ctx, s.q(`SELECT `+participantCols+`
		FROM participants p JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id=? ORDER BY p.id`), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (s *Store) Participant(ctx context.Context, conversationID, userID int64) (models.Participant, error) {
	p, err := scanParticipant(s.DB.QueryRowContext(ctx, s.q(`SELECT `+participantCols+`
		FROM participants p JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id=? AND p.user_id=?`), conversationID, userID))
	return p, notFound(err)
}

// ParticipantIDs returns the member user ids of a conversation, or
// ErrNotFound when the conversation does not exist.
func (s *Store) ParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	var exists int
	if err := s.DB.QueryRowContext(ctx, s.q(`SELECT COUNT(1) FROM conversations WHERE id=?`), conversationID).Scan(&exists); err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	rows, err := s.DB.QueryContext(ctx, s.q(`SELECT user_id FROM participants WHERE conversation_id=? ORDER BY id`), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkRead moves the caller's own read cursor to now and returns the row.
func (s *Store) MarkRead(ctx context.Context, conversationID, userID int64) (models.Participant, error) {
	res, err := s.DB.ExecContext(ctx, s.q(`UPDATE participants SET last_read_at=? WHERE conversation_id=? AND user_id=?`),
		s.timestamp(), conversationID, userID)
	if err != nil {
		return models.Participant{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Participant{}, ErrNotFound
	}
	return s.Participant(ctx, conversationID, userID)
}
