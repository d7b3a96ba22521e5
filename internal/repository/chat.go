package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/shenikar/incident_dispatch/internal/service"
)

type ChatRepository struct {
	db *pgxpool.Pool
}

func NewChatRepository(db *pgxpool.Pool) service.ChatRepository {
	return &ChatRepository{db: db}
}

// GetOrCreateSession создает сессию инцидента или возвращает существующую.
// Уникальный индекс по incident_id гарантирует одну сессию при параллельных вызовах.
func (r *ChatRepository) GetOrCreateSession(ctx context.Context, incidentID uuid.UUID) (*models.ChatSession, error) {
	insert := `
		INSERT INTO chat_sessions (incident_id)
		VALUES ($1)
		ON CONFLICT (incident_id) DO NOTHING;
	`
	if _, err := r.db.Exec(ctx, insert, incidentID); err != nil {
		return nil, fmt.Errorf("failed to create chat session: %w", err)
	}
	return r.GetSessionByIncident(ctx, incidentID)
}

// GetSession возвращает сессию по ее ID
func (r *ChatRepository) GetSession(ctx context.Context, chatID uuid.UUID) (*models.ChatSession, error) {
	query := `SELECT id, incident_id, created_at FROM chat_sessions WHERE id = $1;`
	session := &models.ChatSession{}
	err := r.db.QueryRow(ctx, query, chatID).Scan(&session.ID, &session.IncidentID, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("chat session %s: %w", chatID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get chat session: %w", err)
	}
	return session, nil
}

// GetSessionByIncident возвращает сессию инцидента
func (r *ChatRepository) GetSessionByIncident(ctx context.Context, incidentID uuid.UUID) (*models.ChatSession, error) {
	query := `SELECT id, incident_id, created_at FROM chat_sessions WHERE incident_id = $1;`
	session := &models.ChatSession{}
	err := r.db.QueryRow(ctx, query, incidentID).Scan(&session.ID, &session.IncidentID, &session.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("chat session for incident %s: %w", incidentID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get chat session by incident: %w", err)
	}
	return session, nil
}

// AddMessage сохраняет сообщение, ID выдает последовательность бд
func (r *ChatRepository) AddMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO chat_messages (chat_id, author_id, kind, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at;
	`
	err := r.db.QueryRow(ctx, query, msg.ChatID, msg.AuthorID, msg.Kind, msg.Content).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save chat message: %w", err)
	}
	return nil
}

// ListMessages возвращает историю сессии в порядке ID
func (r *ChatRepository) ListMessages(ctx context.Context, chatID uuid.UUID) ([]*models.Message, error) {
	query := `
		SELECT id, chat_id, author_id, kind, content, created_at
		FROM chat_messages
		WHERE chat_id = $1
		ORDER BY id ASC;
	`
	rows, err := r.db.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]*models.Message, 0)
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.AuthorID, &msg.Kind, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error message iteration: %w", err)
	}
	return msgs, nil
}
