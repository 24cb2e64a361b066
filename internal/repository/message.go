package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.chatsync/internal/model"
)

var (
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationNotFound = errors.New("conversation not found")
)

// MessageRecord 消息存储行，id 为雪花 id
type MessageRecord struct {
	ID             int64
	ConversationID string
	ParentID       *int64
	Sender         model.Sender
	SenderName     string
	Content        string
	Attachments    []model.Attachment
	Mentions       []string
	IsEdited       bool
	CreateAt       time.Time
	UpdateAt       time.Time
}

// ToModel 转换为对外的消息结构（不含回应、回执、回复数）
func (r *MessageRecord) ToModel() model.Message {
	m := model.Message{
		ID:             strconv.FormatInt(r.ID, 10),
		ConversationID: r.ConversationID,
		Sender:         r.Sender,
		SenderName:     r.SenderName,
		Content:        r.Content,
		IsEdited:       r.IsEdited,
		CreatedAt:      r.CreateAt,
		UpdatedAt:      r.UpdateAt,
		Attachments:    r.Attachments,
		Mentions:       r.Mentions,
	}
	if r.ParentID != nil {
		m.ParentID = strconv.FormatInt(*r.ParentID, 10)
	}
	return m
}

// MessageRepository 消息仓库
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository 创建消息仓库
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, conversation_id, parent_id, sender_user_id, sender_client_id, sender_name,
	content, attachments, mentions, is_edited, create_at, update_at`

// senderKeyExpr 与 model.Sender.Key 一致的 SQL 表达式
const senderKeyExpr = `CASE
	WHEN sender_user_id <> '' THEN 'user:' || sender_user_id
	WHEN sender_client_id <> '' THEN 'client:' || sender_client_id
	ELSE 'anon:' || sender_name END`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*MessageRecord, error) {
	rec := &MessageRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.ConversationID,
		&rec.ParentID,
		&rec.Sender.UserID,
		&rec.Sender.ClientID,
		&rec.SenderName,
		&rec.Content,
		&rec.Attachments,
		&rec.Mentions,
		&rec.IsEdited,
		&rec.CreateAt,
		&rec.UpdateAt,
	)
	if err != nil {
		return nil, err
	}
	if rec.Sender.UserID == "" && rec.Sender.ClientID == "" {
		rec.Sender.Name = rec.SenderName
	}
	return rec, nil
}

// Create 创建消息，id 由调用方生成
func (r *MessageRepository) Create(ctx context.Context, rec *MessageRecord) error {
	if rec.Attachments == nil {
		rec.Attachments = []model.Attachment{}
	}
	if rec.Mentions == nil {
		rec.Mentions = []string{}
	}

	query := `
		INSERT INTO messages (id, conversation_id, parent_id, sender_user_id, sender_client_id, sender_name,
			content, attachments, mentions, create_at, update_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING create_at, update_at
	`
	return r.db.QueryRow(ctx, query,
		rec.ID,
		rec.ConversationID,
		rec.ParentID,
		rec.Sender.UserID,
		rec.Sender.ClientID,
		rec.SenderName,
		rec.Content,
		rec.Attachments,
		rec.Mentions,
	).Scan(&rec.CreateAt, &rec.UpdateAt)
}

// FindByID 根据 ID 查找消息
func (r *MessageRepository) FindByID(ctx context.Context, id int64) (*MessageRecord, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 AND deleted = 0`

	rec, err := scanMessage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return rec, nil
}

// List 取会话最近 limit 条消息，按时间正序返回
// parentID 为 nil 时只返回顶层消息。
func (r *MessageRepository) List(ctx context.Context, conversationID string, parentID *int64, limit int) ([]*MessageRecord, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if parentID == nil {
		rows, err = r.db.Query(ctx, `
			SELECT * FROM (
				SELECT `+messageColumns+` FROM messages
				WHERE conversation_id = $1 AND parent_id IS NULL AND deleted = 0
				ORDER BY id DESC LIMIT $2
			) recent ORDER BY id ASC
		`, conversationID, limit)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT * FROM (
				SELECT `+messageColumns+` FROM messages
				WHERE conversation_id = $1 AND parent_id = $2 AND deleted = 0
				ORDER BY id DESC LIMIT $3
			) recent ORDER BY id ASC
		`, conversationID, *parentID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]*MessageRecord, error) {
	var records []*MessageRecord
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Search 按内容子串搜索（大小写不敏感），最新的在前
func (r *MessageRepository) Search(ctx context.Context, conversationID, query string, limit int) ([]*MessageRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 AND deleted = 0 AND content ILIKE $2 ESCAPE '\'
		ORDER BY id DESC LIMIT $3
	`, conversationID, "%"+EscapeLike(query)+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectMessages(rows)
}

// EscapeLike 转义 LIKE 通配符
func EscapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// UpdateContent 修改消息内容并标记已编辑
func (r *MessageRepository) UpdateContent(ctx context.Context, id int64, content string) (*MessageRecord, error) {
	query := `
		UPDATE messages SET content = $2, is_edited = TRUE, update_at = NOW()
		WHERE id = $1 AND deleted = 0
		RETURNING ` + messageColumns

	rec, err := scanMessage(r.db.QueryRow(ctx, query, id, content))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return rec, nil
}

// SoftDelete 软删除消息及其回复
func (r *MessageRepository) SoftDelete(ctx context.Context, id int64) error {
	query := `UPDATE messages SET deleted = 1, update_at = NOW() WHERE (id = $1 OR parent_id = $1) AND deleted = 0`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ThreadCounts 批量统计回复数
func (r *MessageRepository) ThreadCounts(ctx context.Context, ids []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT parent_id, COUNT(*) FROM messages
		WHERE parent_id = ANY($1) AND deleted = 0
		GROUP BY parent_id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			parentID int64
			n        int
		)
		if err := rows.Scan(&parentID, &n); err != nil {
			return nil, err
		}
		counts[parentID] = n
	}
	return counts, rows.Err()
}

// LatestID 会话最新一条顶层消息 id，没有消息时为 0
func (r *MessageRepository) LatestID(ctx context.Context, conversationID string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(id), 0) FROM messages
		WHERE conversation_id = $1 AND parent_id IS NULL AND deleted = 0
	`, conversationID).Scan(&id)
	return id, err
}

// CountUnread 统计 reader 尚未回执的他人顶层消息
func (r *MessageRepository) CountUnread(ctx context.Context, conversationID string, reader model.Sender) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages m
		WHERE m.conversation_id = $1 AND m.parent_id IS NULL AND m.deleted = 0
		  AND `+senderKeyExpr+` <> $2
		  AND NOT EXISTS (
			SELECT 1 FROM read_receipts rr WHERE rr.message_id = m.id AND rr.reader_key = $2
		  )
	`, conversationID, reader.Key()).Scan(&n)
	return n, err
}
