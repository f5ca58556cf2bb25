package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"taskpilot/app/core/orchestrator/db"
	"taskpilot/app/pkg/types"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Conversation struct {
	ID        int64
	OwnerID   types.OwnerID
	CreatedAt int64
	UpdatedAt int64
}

// Message is immutable once written. Ordering within a conversation is
// (created_at, id); the id breaks ties inside the same second.
type Message struct {
	ID             int64
	ConversationID int64
	OwnerID        types.OwnerID
	Role           string
	Content        string
	ToolCalls      string // serialized tool-call metadata, empty when none
	CreatedAt      int64
}

type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

func (s *Store) Create(ctx context.Context, owner types.OwnerID) (Conversation, error) {
	owner = owner.Normalize()
	if owner.IsZero() {
		return Conversation{}, fmt.Errorf("owner is required")
	}
	now := time.Now().Unix()
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO conversations (user_id, created_at, updated_at) VALUES (?, ?, ?)`,
		owner.String(), now, now)
	if err != nil {
		return Conversation{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{ID: id, OwnerID: owner, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) Get(ctx context.Context, id int64, owner types.OwnerID) (Conversation, error) {
	query := `SELECT id, user_id, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?`
	var (
		c     Conversation
		ownerCol string
	)
	err := s.db.Conn().QueryRowContext(ctx, query, id, owner.Normalize().String()).
		Scan(&c.ID, &ownerCol, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Conversation{}, err
	}
	c.OwnerID = types.OwnerID(ownerCol)
	return c, nil
}

// GetOrCreate resolves the conversation for a chat turn. An absent id
// (<= 0), an unknown id or one belonging to a different owner silently
// yields a fresh conversation, never an error.
func (s *Store) GetOrCreate(ctx context.Context, id int64, owner types.OwnerID) (Conversation, error) {
	if id > 0 {
		c, err := s.Get(ctx, id, owner)
		if err == nil {
			return c, nil
		}
		if err != sql.ErrNoRows {
			return Conversation{}, err
		}
	}
	return s.Create(ctx, owner)
}

func (s *Store) List(ctx context.Context, owner types.OwnerID) ([]Conversation, error) {
	query := `SELECT id, user_id, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := s.db.Conn().QueryContext(ctx, query, owner.Normalize().String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Conversation, 0, 8)
	for rows.Next() {
		var (
			c        Conversation
			ownerCol string
		)
		if err := rows.Scan(&c.ID, &ownerCol, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.OwnerID = types.OwnerID(ownerCol)
		items = append(items, c)
	}
	return items, rows.Err()
}

// Delete removes the owner's conversation and all of its messages.
func (s *Store) Delete(ctx context.Context, id int64, owner types.OwnerID) (bool, error) {
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?`, id, owner.Normalize().String())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// AppendMessage commits the message immediately and bumps the
// conversation's updated_at in the same transaction.
func (s *Store) AppendMessage(ctx context.Context, conversationID int64, owner types.OwnerID, role string, content string, toolCalls string) (Message, error) {
	owner = owner.Normalize()
	if conversationID <= 0 {
		return Message{}, fmt.Errorf("conversation id is required")
	}
	switch role {
	case RoleUser, RoleAssistant:
	default:
		return Message{}, fmt.Errorf("invalid message role: %s", role)
	}

	now := time.Now().Unix()
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback()

	var stored sql.NullString
	if strings.TrimSpace(toolCalls) != "" {
		stored = sql.NullString{String: toolCalls, Valid: true}
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, user_id, role, content, tool_calls, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		conversationID, owner.String(), role, content, stored, now)
	if err != nil {
		return Message{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID); err != nil {
		return Message{}, err
	}
	if err := tx.Commit(); err != nil {
		return Message{}, err
	}

	return Message{
		ID:             id,
		ConversationID: conversationID,
		OwnerID:        owner,
		Role:           role,
		Content:        content,
		ToolCalls:      toolCalls,
		CreatedAt:      now,
	}, nil
}

// LoadHistory returns the full history of a conversation, oldest first.
func (s *Store) LoadHistory(ctx context.Context, conversationID int64) ([]Message, error) {
	query := `SELECT id, conversation_id, user_id, role, content, COALESCE(tool_calls, ''), created_at FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := s.db.Conn().QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows, 0)
}

// RecentHistory returns the most recent limit messages in chronological
// order, dropping the oldest first.
func (s *Store) RecentHistory(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT id, conversation_id, user_id, role, content, COALESCE(tool_calls, ''), created_at FROM messages WHERE conversation_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := s.db.Conn().QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanMessages(rows, limit)
	if err != nil {
		return nil, err
	}
	// reverse to chronological order
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func scanMessages(rows *sql.Rows, capacity int) ([]Message, error) {
	if capacity <= 0 {
		capacity = 16
	}
	items := make([]Message, 0, capacity)
	for rows.Next() {
		var (
			m        Message
			ownerCol string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &ownerCol, &m.Role, &m.Content, &m.ToolCalls, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.OwnerID = types.OwnerID(ownerCol)
		items = append(items, m)
	}
	return items, rows.Err()
}
