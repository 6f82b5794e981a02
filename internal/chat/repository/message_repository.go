package repository

import (
	"context"
	"errors"
	"fmt"

	"chatroom_realtime_service/internal/chat/domain"
	errprocess "chatroom_realtime_service/pkg/err"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// MessageRepository definition chat message storage
type MessageRepository interface {
	Migrate(ctx context.Context) error
	// Insert store message, created_at and updated_at are assigned by database
	Insert(ctx context.Context, msg *domain.Message) error
	ListMessages(ctx context.Context, q domain.MessageQuery) ([]domain.Message, error)
	// FindMessage return nil, nil when not found
	FindMessage(ctx context.Context, messageID string) (*domain.Message, error)
	CountUnread(ctx context.Context, q domain.UnreadQuery) (int, error)
	// MarkDeleted tombstone message, already deleted message is left untouched
	MarkDeleted(ctx context.Context, messageID string) (*domain.Message, error)
	UpdateBody(ctx context.Context, messageID, body string) (*domain.Message, error)
}

const messageTable = "chat_messages"

var messageColumns = []string{
	"m.id::text",
	"m.chatroom_id",
	"m.sender_id",
	"m.body",
	"m.kind",
	"m.is_deleted",
	"m.is_edited",
	"m.created_at",
	"m.updated_at",
	"COALESCE(p.nickname, '')",
}

type messageRepository struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

// NewMessageRepository create a MessageRepository
func NewMessageRepository(db *pgxpool.Pool) MessageRepository {
	return &messageRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Migrate create chat_messages table, seq keep insert order of messages with the same created_at
func (r *messageRepository) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id          uuid PRIMARY KEY,
			seq         bigserial NOT NULL,
			chatroom_id varchar(64) NOT NULL,
			sender_id   varchar(64) NOT NULL,
			body        text NOT NULL,
			kind        varchar(16) NOT NULL DEFAULT 'user',
			is_deleted  boolean NOT NULL DEFAULT false,
			is_edited   boolean NOT NULL DEFAULT false,
			created_at  timestamptz NOT NULL DEFAULT now(),
			updated_at  timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_room_created ON chat_messages (chatroom_id, created_at DESC, seq DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return errprocess.Wrap("migrate chat_messages", err)
		}
	}
	return nil
}

func (r *messageRepository) selectMessages() sq.SelectBuilder {
	return r.sb.Select(messageColumns...).
		From(messageTable + " m").
		LeftJoin("chatroom_participants p ON p.chatroom_id = m.chatroom_id AND p.user_id = m.sender_id")
}

// Insert insert message
func (r *messageRepository) Insert(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Kind == "" {
		msg.Kind = domain.KindUser
	}

	query, args, err := r.sb.Insert(messageTable).
		Columns("id", "chatroom_id", "sender_id", "body", "kind").
		Values(msg.ID, msg.ChatroomID, msg.SenderID, msg.Body, string(msg.Kind)).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert message: %w", err)
	}
	return r.db.QueryRow(ctx, query, args...).Scan(&msg.CreatedAt, &msg.UpdatedAt)
}

// ListMessages messages of room newest first, Before is exclusive
func (r *messageRepository) ListMessages(ctx context.Context, q domain.MessageQuery) ([]domain.Message, error) {
	builder := r.selectMessages().
		Where(sq.Eq{"m.chatroom_id": q.ChatroomID}).
		OrderBy("m.created_at DESC", "m.seq DESC")
	if q.Before != nil {
		builder = builder.Where(sq.Lt{"m.created_at": *q.Before})
	}
	if q.Limit > 0 {
		builder = builder.Limit(uint64(q.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages: %w", err)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// FindMessage find message by id with sender nickname
func (r *messageRepository) FindMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		// 不合法的 id 一定不存在
		return nil, nil
	}

	query, args, err := r.selectMessages().Where(sq.Eq{"m.id": messageID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find message: %w", err)
	}
	m, err := scanMessage(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CountUnread count visible user messages of others after q.After
func (r *messageRepository) CountUnread(ctx context.Context, q domain.UnreadQuery) (int, error) {
	builder := r.sb.Select("COUNT(*)").
		From(messageTable).
		Where(sq.Eq{
			"chatroom_id": q.ChatroomID,
			"kind":        string(domain.KindUser),
			"is_deleted":  false,
		}).
		Where(sq.NotEq{"sender_id": q.ExcludeSenderID})
	if q.After != nil {
		builder = builder.Where(sq.Gt{"created_at": *q.After})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count unread: %w", err)
	}
	var n int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// MarkDeleted tombstone message and return the stored row
func (r *messageRepository) MarkDeleted(ctx context.Context, messageID string) (*domain.Message, error) {
	query, args, err := r.sb.Update(messageTable).
		Set("is_deleted", true).
		Set("body", domain.DeletedBody).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": messageID, "is_deleted": false}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build delete message: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return nil, err
	}
	return r.mustFind(ctx, messageID)
}

// UpdateBody edit message body
func (r *messageRepository) UpdateBody(ctx context.Context, messageID, body string) (*domain.Message, error) {
	query, args, err := r.sb.Update(messageTable).
		Set("body", body).
		Set("is_edited", true).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": messageID, "is_deleted": false}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build edit message: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrMessageNotFound
	}
	return r.mustFind(ctx, messageID)
}

func (r *messageRepository) mustFind(ctx context.Context, messageID string) (*domain.Message, error) {
	m, err := r.FindMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.ErrMessageNotFound
	}
	return m, nil
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	var kind string
	err := row.Scan(
		&m.ID,
		&m.ChatroomID,
		&m.SenderID,
		&m.Body,
		&kind,
		&m.IsDeleted,
		&m.IsEdited,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.Nickname,
	)
	m.Kind = domain.MessageKind(kind)
	return m, err
}
