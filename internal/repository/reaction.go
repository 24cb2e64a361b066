package repository

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.chatsync/internal/model"
)

// ReactionRepository 回应与已读回执
type ReactionRepository struct {
	db *pgxpool.Pool
}

// NewReactionRepository 创建回应仓库
func NewReactionRepository(db *pgxpool.Pool) *ReactionRepository {
	return &ReactionRepository{db: db}
}

// Toggle 同一 reactor + kind 已存在则删除，否则添加；返回操作后是否存在
func (r *ReactionRepository) Toggle(ctx context.Context, messageID int64, reactor model.Sender, kind model.ReactionKind) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx,
		`DELETE FROM reactions WHERE message_id = $1 AND reactor_key = $2 AND kind = $3`,
		messageID, reactor.Key(), kind)
	if err != nil {
		return false, err
	}

	added := result.RowsAffected() == 0
	if added {
		_, err = tx.Exec(ctx, `
			INSERT INTO reactions (message_id, reactor_key, reactor_user_id, reactor_client_id, reactor_name, kind, create_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, messageID, reactor.Key(), reactor.UserID, reactor.ClientID, reactor.Name, kind)
		if err != nil {
			return false, err
		}
	}

	return added, tx.Commit(ctx)
}

// ListForMessages 批量读取回应，按创建时间排序
func (r *ReactionRepository) ListForMessages(ctx context.Context, ids []int64) (map[int64][]model.Reaction, error) {
	out := make(map[int64][]model.Reaction, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT message_id, reactor_user_id, reactor_client_id, reactor_name, kind
		FROM reactions WHERE message_id = ANY($1)
		ORDER BY create_at ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			messageID int64
			re        model.Reaction
		)
		if err := rows.Scan(&messageID, &re.Reactor.UserID, &re.Reactor.ClientID, &re.Reactor.Name, &re.Kind); err != nil {
			return nil, err
		}
		re.MessageID = strconv.FormatInt(messageID, 10)
		out[messageID] = append(out[messageID], re)
	}
	return out, rows.Err()
}

// MarkRead 为 upToID 及之前的顶层消息追加 reader 的回执（已存在的不变）
func (r *ReactionRepository) MarkRead(ctx context.Context, conversationID string, reader model.Sender, upToID int64) (int64, error) {
	result, err := r.db.Exec(ctx, `
		INSERT INTO read_receipts (message_id, reader_key, reader_user_id, reader_client_id, reader_name, read_at)
		SELECT id, $3, $4, $5, $6, NOW() FROM messages
		WHERE conversation_id = $1 AND id <= $2 AND deleted = 0 AND `+senderKeyExpr+` <> $3
		ON CONFLICT (message_id, reader_key) DO NOTHING
	`, conversationID, upToID, reader.Key(), reader.UserID, reader.ClientID, reader.Name)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// ReceiptsForMessages 批量读取已读回执
func (r *ReactionRepository) ReceiptsForMessages(ctx context.Context, ids []int64) (map[int64][]model.ReadReceipt, error) {
	out := make(map[int64][]model.ReadReceipt, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT message_id, reader_user_id, reader_client_id, reader_name, read_at
		FROM read_receipts WHERE message_id = ANY($1)
		ORDER BY read_at ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			messageID int64
			rr        model.ReadReceipt
		)
		if err := rows.Scan(&messageID, &rr.Reader.UserID, &rr.Reader.ClientID, &rr.Reader.Name, &rr.ReadAt); err != nil {
			return nil, err
		}
		rr.MessageID = strconv.FormatInt(messageID, 10)
		out[messageID] = append(out[messageID], rr)
	}
	return out, rows.Err()
}
