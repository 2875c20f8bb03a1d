package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/teris-io/shortid"
)

const (
	selectMessageColumns = "id, conversation_id, sender_id, text, media_url, media_type, seen, edited, schema_version, created_at, updated_at"
	selectConvColumns    = "id, participant_a, participant_b, COALESCE(last_message_id, ''), created_at, updated_at"
)

func (db *PgRepository) GetUser(ctx context.Context, id string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT u.id, u.name, u.photo, u.online, u.last_active, u.unread_count, "+
			"ARRAY(SELECT l.liked_id FROM likes l WHERE l.liker_id = u.id ORDER BY l.created_at, l.liked_id), "+
			"ARRAY(SELECT m.match_id FROM matches m WHERE m.user_id = u.id ORDER BY m.created_at, m.match_id), "+
			"u.created_at, u.updated_at "+
			"FROM users u WHERE u.id = $1 LIMIT 1",
		id,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Name,
		&u.Photo,
		&u.Online,
		&u.LastActive,
		&u.UnreadCount,
		pq.Array(&u.Likes),
		pq.Array(&u.Matches),
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return User{}, notFound(err)
	}

	return u, nil
}

func (db *PgRepository) SaveUser(ctx context.Context, u User) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO users (id, name, photo, created_at, updated_at) VALUES ($1, $2, $3, $4, $4) "+
			"ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, photo = EXCLUDED.photo, updated_at = EXCLUDED.updated_at",
		u.Id,
		u.Name,
		u.Photo,
		now,
	)
	return err
}

func (db *PgRepository) SetPresence(ctx context.Context, id string, online bool, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE users SET online = $2, last_active = $3 WHERE id = $1",
		id,
		online,
		at,
	)
	if err != nil {
		return err
	}

	return requireRow(res)
}

func (db *PgRepository) ResetUnread(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, "UPDATE users SET unread_count = 0 WHERE id = $1", id)
	if err != nil {
		return err
	}

	return requireRow(res)
}

func (db *PgRepository) IncrementUnread(ctx context.Context, id string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		"UPDATE users SET unread_count = unread_count + 1 WHERE id = $1 RETURNING unread_count",
		id,
	).Scan(&count)

	return count, notFound(err)
}

func (db *PgRepository) AddLike(ctx context.Context, likerId, likedId string) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO likes (liker_id, liked_id, created_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
		likerId,
		likedId,
		time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// AddMatch records the match in both directions in one transaction. It
// reports true only for the call that created the rows. Rows are always
// written in pair order so concurrent callers lock them in the same order.
func (db *PgRepository) AddMatch(ctx context.Context, a, b string) (created bool, err error) {
	a, b = orderedPair(a, b)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	var total int64
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		var res sql.Result
		res, err = tx.ExecContext(ctx,
			"INSERT INTO matches (user_id, match_id, created_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
			pair[0],
			pair[1],
			now,
		)
		if err != nil {
			return false, err
		}

		var n int64
		if n, err = res.RowsAffected(); err != nil {
			return false, err
		}
		total += n
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}

	return total > 0, nil
}

func (db *PgRepository) CreateNotification(ctx context.Context, n Notification) (Notification, error) {
	n.Id = uuid.NewString()
	n.SchemaVersion = SchemaVersion
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO notifications (id, user_id, kind, text, link, read, schema_version, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		n.Id,
		n.UserId,
		n.Kind,
		n.Text,
		n.Link,
		n.Read,
		n.SchemaVersion,
		n.CreatedAt,
	)
	if err != nil {
		return Notification{}, err
	}

	return n, nil
}

func (db *PgRepository) ListNotifications(ctx context.Context, userId string) ([]Notification, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, user_id, kind, text, link, read, schema_version, created_at FROM notifications "+
			"WHERE user_id = $1 ORDER BY created_at DESC",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.Id, &n.UserId, &n.Kind, &n.Text, &n.Link, &n.Read, &n.SchemaVersion, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func (db *PgRepository) MarkNotificationsRead(ctx context.Context, userId string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE notifications SET read = TRUE WHERE user_id = $1 AND read = FALSE",
		userId,
	)
	return err
}

func (db *PgRepository) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+selectConvColumns+" FROM conversations WHERE id = $1 LIMIT 1",
		id,
	)

	c, err := scanConversation(row)
	return c, notFound(err)
}

func (db *PgRepository) FindConversation(ctx context.Context, a, b string) (Conversation, error) {
	a, b = orderedPair(a, b)
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+selectConvColumns+" FROM conversations WHERE participant_a = $1 AND participant_b = $2 LIMIT 1",
		a,
		b,
	)

	c, err := scanConversation(row)
	return c, notFound(err)
}

// ListConversations returns every conversation userId takes part in, most
// recently updated first.
func (db *PgRepository) ListConversations(ctx context.Context, userId string) ([]Conversation, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+selectConvColumns+" FROM conversations WHERE participant_a = $1 OR participant_b = $1 ORDER BY updated_at DESC, id ASC",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := make([]Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}

	return convs, rows.Err()
}

// CreateConversation inserts the conversation for the pair, or returns the
// existing one if a concurrent caller created it first.
func (db *PgRepository) CreateConversation(ctx context.Context, a, b string) (Conversation, error) {
	a, b = orderedPair(a, b)
	if a == b {
		return Conversation{}, fmt.Errorf("conversation requires two distinct participants")
	}

	id, err := shortid.Generate()
	if err != nil {
		return Conversation{}, fmt.Errorf("generate conversation id: %w", err)
	}

	now := time.Now().UTC()
	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO conversations (id, participant_a, participant_b, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) ON CONFLICT (participant_a, participant_b) DO NOTHING",
		id,
		a,
		b,
		now,
	)
	if err != nil {
		return Conversation{}, err
	}

	return db.FindConversation(ctx, a, b)
}

// CreateMessage stores the message and moves the conversation's last message
// pointer in one transaction.
func (db *PgRepository) CreateMessage(ctx context.Context, msg Message) (_ Message, err error) {
	msg.Id = uuid.NewString()
	msg.SchemaVersion = SchemaVersion
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.UpdatedAt = msg.CreatedAt

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"UPDATE conversations SET last_message_id = $2, updated_at = $3 WHERE id = $1",
		msg.ConversationId,
		msg.Id,
		msg.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}
	if err = requireRow(res); err != nil {
		return Message{}, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages ("+selectMessageColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		msg.Id,
		msg.ConversationId,
		msg.SenderId,
		msg.Body.Text,
		msg.Body.MediaURL,
		msg.Body.MediaType,
		msg.Seen,
		msg.Edited,
		msg.SchemaVersion,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgRepository) GetMessage(ctx context.Context, id string) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+selectMessageColumns+" FROM messages WHERE id = $1 LIMIT 1",
		id,
	)

	msg, err := scanMessage(row)
	return msg, notFound(err)
}

func (db *PgRepository) UpdateMessageBody(ctx context.Context, id string, body Body) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"UPDATE messages SET text = $2, media_url = $3, media_type = $4, edited = TRUE, updated_at = $5 "+
			"WHERE id = $1 RETURNING "+selectMessageColumns,
		id,
		body.Text,
		body.MediaURL,
		body.MediaType,
		time.Now().UTC(),
	)

	msg, err := scanMessage(row)
	return msg, notFound(err)
}

// DeleteMessage removes the message and repoints the conversation at its
// newest remaining message. A missing id is not an error.
func (db *PgRepository) DeleteMessage(ctx context.Context, id string) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var conversationId string
	err = tx.QueryRowContext(ctx,
		"DELETE FROM messages WHERE id = $1 RETURNING conversation_id",
		id,
	).Scan(&conversationId)
	if err == sql.ErrNoRows {
		err = nil
		return tx.Commit()
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE conversations SET last_message_id = "+
			"(SELECT id FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT 1) "+
			"WHERE id = $1 AND last_message_id = $2",
		conversationId,
		id,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgRepository) MarkSeen(ctx context.Context, conversationId, viewerId string) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET seen = TRUE WHERE conversation_id = $1 AND sender_id <> $2 AND seen = FALSE",
		conversationId,
		viewerId,
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (db *PgRepository) ListMessages(ctx context.Context, conversationId string) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+selectMessageColumns+" FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC",
		conversationId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (Message, error) {
	var msg Message
	err := s.Scan(
		&msg.Id,
		&msg.ConversationId,
		&msg.SenderId,
		&msg.Body.Text,
		&msg.Body.MediaURL,
		&msg.Body.MediaType,
		&msg.Seen,
		&msg.Edited,
		&msg.SchemaVersion,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	return msg, err
}

func scanConversation(s scanner) (Conversation, error) {
	var c Conversation
	err := s.Scan(
		&c.Id,
		&c.ParticipantA,
		&c.ParticipantB,
		&c.LastMessageId,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
