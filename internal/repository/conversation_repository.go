package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/leadninja/leadninja-api/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

type ConversationRepository interface {
	Create(ctx context.Context, conv models.Conversation) (models.Conversation, error)
	Get(ctx context.Context, userID, conversationID string) (models.Conversation, error)
	Update(ctx context.Context, userID, conversationID string, messages []models.Message, toolLog []models.ToolLogEntry) error
	List(ctx context.Context, userID string, limit int) ([]models.Conversation, error)
}

type conversationRepository struct {
	db *sql.DB
}

func NewConversationRepository(db *sql.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	messages, err := json.Marshal(conv.Messages)
	if err != nil {
		return conv, err
	}
	toolLog, err := json.Marshal(conv.ToolLog)
	if err != nil {
		return conv, err
	}
	query := `
		INSERT INTO ninja.agent_conversations (user_id, title, messages, tool_log)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query, conv.UserID, conv.Title, messages, toolLog).
		Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	return conv, err
}

func (r *conversationRepository) Get(ctx context.Context, userID, conversationID string) (models.Conversation, error) {
	query := `
		SELECT id, user_id, title, messages, tool_log, created_at, updated_at
		FROM ninja.agent_conversations
		WHERE id = $1 AND user_id = $2
	`
	var (
		conv     models.Conversation
		messages []byte
		toolLog  []byte
	)
	err := r.db.QueryRowContext(ctx, query, conversationID, userID).Scan(
		&conv.ID, &conv.UserID, &conv.Title, &messages, &toolLog, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return conv, ErrConversationNotFound
		}
		return conv, err
	}
	if err := json.Unmarshal(messages, &conv.Messages); err != nil {
		return conv, err
	}
	if err := json.Unmarshal(toolLog, &conv.ToolLog); err != nil {
		return conv, err
	}
	return conv, nil
}

func (r *conversationRepository) Update(ctx context.Context, userID, conversationID string, messages []models.Message, toolLog []models.ToolLogEntry) error {
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	toolLogJSON, err := json.Marshal(toolLog)
	if err != nil {
		return err
	}
	query := `
		UPDATE ninja.agent_conversations
		SET messages = $3, tool_log = $4, updated_at = now()
		WHERE id = $1 AND user_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, conversationID, userID, messagesJSON, toolLogJSON)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (r *conversationRepository) List(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	query := `
		SELECT id, user_id, title, messages, tool_log, created_at, updated_at
		FROM ninja.agent_conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var (
			conv     models.Conversation
			messages []byte
			toolLog  []byte
		)
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &messages, &toolLog, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(messages, &conv.Messages); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(toolLog, &conv.ToolLog); err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}
