package repository

import (
	"context"
	_ "embed"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.chatsync/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Migrate 创建表结构（幂等）
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schemaSQL)
	return err
}

// ConversationRepository 会话仓库（会话由外部系统维护，这里只读和初始化）
type ConversationRepository struct {
	db *pgxpool.Pool
}

// NewConversationRepository 创建会话仓库
func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// FindByID 读取会话及参与者；IsMuted / IsPinned 取 viewer 自己的设置
func (r *ConversationRepository) FindByID(ctx context.Context, id string, viewer model.Sender) (*model.Conversation, error) {
	conv := &model.Conversation{}
	err := r.db.QueryRow(ctx, `
		SELECT id, type, title, allow_reactions, allow_threads
		FROM conversations WHERE id = $1 AND deleted = 0
	`, id).Scan(&conv.ID, &conv.Type, &conv.Title, &conv.AllowReactions, &conv.AllowThreads)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT participant_id, kind, display_name, is_muted, is_pinned
		FROM conversation_participants WHERE conversation_id = $1
		ORDER BY position ASC, display_name ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	viewerKey := viewer.Key()
	for rows.Next() {
		var (
			p             model.Participant
			muted, pinned bool
		)
		if err := rows.Scan(&p.ID, &p.Kind, &p.DisplayName, &muted, &pinned); err != nil {
			return nil, err
		}
		if p.Sender().Key() == viewerKey {
			conv.IsMuted = muted
			conv.IsPinned = pinned
		}
		conv.Participants = append(conv.Participants, p)
	}
	return conv, rows.Err()
}

// Upsert 写入会话和参与者（用于初始化演示数据）
func (r *ConversationRepository) Upsert(ctx context.Context, conv *model.Conversation) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, type, title, allow_reactions, allow_threads, create_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type, title = EXCLUDED.title,
			allow_reactions = EXCLUDED.allow_reactions, allow_threads = EXCLUDED.allow_threads
	`, conv.ID, conv.Type, conv.Title, conv.AllowReactions, conv.AllowThreads)
	if err != nil {
		return err
	}

	for i, p := range conv.Participants {
		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_participants (conversation_id, participant_id, kind, display_name, position)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (conversation_id, kind, participant_id) DO UPDATE SET
				display_name = EXCLUDED.display_name, position = EXCLUDED.position
		`, conv.ID, p.ID, p.Kind, p.DisplayName, i)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
