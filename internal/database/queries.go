package database

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (db *PgRepository) GetOrCreateUserByEmail(email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, NewValidationError("email cannot be empty")
	}

	// The no-op update makes RETURNING yield the existing row on conflict.
	res := db.conn.QueryRow(
		"INSERT INTO users (email) VALUES ($1) "+
			"ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email "+
			"RETURNING id, email, created_at, last_login_at",
		email,
	)

	var u User
	err := res.Scan(&u.Id, &u.Email, &u.CreatedAt, &u.LastLoginAt)

	return u, err
}

func (db *PgRepository) GetUserById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, email, created_at, last_login_at FROM users WHERE id = $1 LIMIT 1",
		id,
	)

	var u User
	err := row.Scan(&u.Id, &u.Email, &u.CreatedAt, &u.LastLoginAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, NewNotFoundError("user")
	}

	return u, err
}

func (db *PgRepository) CreateMagicLink(userId int, tokenHash string, expiresAt time.Time) (MagicLink, error) {
	res := db.conn.QueryRow(
		"INSERT INTO magic_links (user_id, token_hash, expires_at) VALUES ($1, $2, $3) "+
			"RETURNING id, user_id, token_hash, created_at, expires_at",
		userId,
		tokenHash,
		expiresAt,
	)

	var ml MagicLink
	err := res.Scan(&ml.Id, &ml.UserId, &ml.TokenHash, &ml.CreatedAt, &ml.ExpiresAt)

	return ml, err
}

// ConsumeMagicLink transitions a token from unused to used exactly once and
// returns the bound user. Reused, expired and unknown tokens are rejected.
func (db *PgRepository) ConsumeMagicLink(tokenHash string) (User, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return User{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	row := tx.QueryRow(
		"SELECT ml.id, ml.expires_at, ml.used_at, u.id, u.email, u.created_at, u.last_login_at "+
			"FROM magic_links ml JOIN users u ON ml.user_id = u.id "+
			"WHERE ml.token_hash = $1 LIMIT 1",
		tokenHash,
	)

	var (
		linkId    int
		expiresAt time.Time
		usedAt    sql.NullTime
		u         User
	)
	err = row.Scan(&linkId, &expiresAt, &usedAt, &u.Id, &u.Email, &u.CreatedAt, &u.LastLoginAt)
	if errors.Is(err, sql.ErrNoRows) {
		err = NewAuthenticationError("invalid token")
		return User{}, err
	}
	if err != nil {
		return User{}, err
	}

	if usedAt.Valid {
		err = NewAuthenticationError("token already used")
		return User{}, err
	}

	if expiresAt.Before(time.Now().UTC()) {
		err = NewAuthenticationError("token expired")
		return User{}, err
	}

	res, err := tx.Exec(
		"UPDATE magic_links SET used_at = now() WHERE id = $1 AND used_at IS NULL",
		linkId,
	)
	if err != nil {
		return User{}, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return User{}, err
	}
	if n == 0 {
		// lost the race with a concurrent verification
		err = NewAuthenticationError("token already used")
		return User{}, err
	}

	if _, err = tx.Exec("UPDATE users SET last_login_at = now() WHERE id = $1", u.Id); err != nil {
		return User{}, err
	}

	if err = tx.Commit(); err != nil {
		return User{}, err
	}

	return u, nil
}

// CreateChannel inserts the channel and its initial memberships in a single
// transaction: the creator's always, plus the participant's for direct
// message channels. A channel without its initial members is never visible.
func (db *PgRepository) CreateChannel(params CreateChannelParams) (Channel, error) {
	name := strings.TrimSpace(params.Name)
	if !params.IsDM && name == "" {
		return Channel{}, NewValidationError("channel name cannot be empty")
	}
	if params.IsDM && params.ParticipantId == 0 {
		return Channel{}, NewValidationError("participant is required for a direct message channel")
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return Channel{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if params.IsDM {
		var participantId int
		err = tx.QueryRow("SELECT id FROM users WHERE id = $1 LIMIT 1", params.ParticipantId).Scan(&participantId)
		if errors.Is(err, sql.ErrNoRows) {
			err = NewNotFoundError("participant")
			return Channel{}, err
		}
		if err != nil {
			return Channel{}, err
		}
	}

	res := tx.QueryRow(
		"INSERT INTO channels (name, creator_id, is_dm) VALUES (NULLIF($1, ''), $2, $3) "+
			"RETURNING id, name, creator_id, is_dm, created_at, deleted_at",
		name,
		params.CreatorId,
		params.IsDM,
	)

	var ch Channel
	err = res.Scan(&ch.Id, &ch.Name, &ch.CreatorId, &ch.IsDM, &ch.CreatedAt, &ch.DeletedAt)
	if err != nil {
		return Channel{}, err
	}

	_, err = tx.Exec(
		"INSERT INTO channel_memberships (user_id, channel_id) VALUES ($1, $2)",
		params.CreatorId,
		ch.Id,
	)
	if err != nil {
		return Channel{}, err
	}

	// a self-DM degenerates to a single membership row
	if params.IsDM && params.ParticipantId != params.CreatorId {
		_, err = tx.Exec(
			"INSERT INTO channel_memberships (user_id, channel_id) VALUES ($1, $2)",
			params.ParticipantId,
			ch.Id,
		)
		if err != nil {
			return Channel{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return Channel{}, err
	}

	return ch, nil
}

func (db *PgRepository) GetChannelById(id int) (Channel, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, creator_id, is_dm, created_at, deleted_at FROM channels "+
			"WHERE id = $1 AND deleted_at IS NULL LIMIT 1",
		id,
	)

	var ch Channel
	err := row.Scan(&ch.Id, &ch.Name, &ch.CreatorId, &ch.IsDM, &ch.CreatedAt, &ch.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, NewNotFoundError("channel")
	}

	return ch, err
}

func (db *PgRepository) ListChannelsFor(userId int, after Cursor) ([]Channel, error) {
	rows, err := db.conn.Query(
		"SELECT c.id, c.name, c.creator_id, c.is_dm, c.created_at FROM channels c "+
			"JOIN channel_memberships m ON m.channel_id = c.id "+
			"WHERE m.user_id = $1 AND c.deleted_at IS NULL AND (c.created_at, c.id) > ($2, $3) "+
			"ORDER BY c.created_at, c.id",
		userId,
		after.After,
		after.AfterId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := make([]Channel, 0)
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.Id, &ch.Name, &ch.CreatorId, &ch.IsDM, &ch.CreatedAt); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}

	return channels, rows.Err()
}

func (db *PgRepository) ListDeletedChannelsFor(userId int, after Cursor) ([]Deletion, error) {
	rows, err := db.conn.Query(
		"SELECT c.id, c.deleted_at FROM channels c "+
			"JOIN channel_memberships m ON m.channel_id = c.id "+
			"WHERE m.user_id = $1 AND c.deleted_at IS NOT NULL AND (c.deleted_at, c.id) > ($2, $3) "+
			"ORDER BY c.deleted_at, c.id",
		userId,
		after.After,
		after.AfterId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deletions := make([]Deletion, 0)
	for rows.Next() {
		var d Deletion
		if err := rows.Scan(&d.Id, &d.DeletedAt); err != nil {
			return nil, err
		}
		deletions = append(deletions, d)
	}

	return deletions, rows.Err()
}

// DeleteChannel soft-deletes a channel. Regular channels may only be deleted
// by their creator; direct message channels by any member.
func (db *PgRepository) DeleteChannel(channelId, requesterId int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var (
		creatorId int
		isDM      bool
	)
	err = tx.QueryRow(
		"SELECT creator_id, is_dm FROM channels WHERE id = $1 AND deleted_at IS NULL FOR UPDATE",
		channelId,
	).Scan(&creatorId, &isDM)
	if errors.Is(err, sql.ErrNoRows) {
		err = NewNotFoundError("channel")
		return err
	}
	if err != nil {
		return err
	}

	if isDM {
		var memberId int
		err = tx.QueryRow(
			"SELECT id FROM channel_memberships WHERE user_id = $1 AND channel_id = $2 LIMIT 1",
			requesterId,
			channelId,
		).Scan(&memberId)
		if errors.Is(err, sql.ErrNoRows) {
			err = NewAuthorizationError("only members may delete a direct message channel")
			return err
		}
		if err != nil {
			return err
		}
	} else if creatorId != requesterId {
		err = NewAuthorizationError("only the channel creator may delete the channel")
		return err
	}

	if _, err = tx.Exec("UPDATE channels SET deleted_at = now() WHERE id = $1", channelId); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgRepository) IsMember(userId, channelId int) (bool, error) {
	row := db.conn.QueryRow(
		"SELECT id FROM channel_memberships WHERE user_id = $1 AND channel_id = $2 LIMIT 1",
		userId,
		channelId,
	)

	var id int
	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	return err == nil, err
}

// AddMember is idempotent: adding an existing member is a no-op.
func (db *PgRepository) AddMember(userId, channelId int) error {
	var channel int
	err := db.conn.QueryRow(
		"SELECT id FROM channels WHERE id = $1 AND deleted_at IS NULL LIMIT 1",
		channelId,
	).Scan(&channel)
	if errors.Is(err, sql.ErrNoRows) {
		return NewNotFoundError("channel")
	}
	if err != nil {
		return err
	}

	_, err = db.conn.Exec(
		"INSERT INTO channel_memberships (user_id, channel_id) VALUES ($1, $2) "+
			"ON CONFLICT ON CONSTRAINT unique_user_channel DO NOTHING",
		userId,
		channelId,
	)

	return err
}

func (db *PgRepository) ListMemberIds(channelId int) ([]int, error) {
	rows, err := db.conn.Query(
		"SELECT user_id FROM channel_memberships WHERE channel_id = $1 ORDER BY user_id",
		channelId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int, 0)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (db *PgRepository) CreateMessage(channelId, userId int, content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, NewValidationError("message content cannot be empty")
	}

	var chId int
	err := db.conn.QueryRow(
		"SELECT id FROM channels WHERE id = $1 AND deleted_at IS NULL LIMIT 1",
		channelId,
	).Scan(&chId)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, NewNotFoundError("channel")
	}
	if err != nil {
		return Message{}, err
	}

	res := db.conn.QueryRow(
		"INSERT INTO messages (channel_id, user_id, content) VALUES ($1, $2, $3) "+
			"RETURNING id, channel_id, user_id, content, created_at",
		channelId,
		userId,
		content,
	)

	var msg Message
	err = res.Scan(&msg.Id, &msg.ChannelId, &msg.UserId, &msg.Content, &msg.CreatedAt)

	return msg, err
}

func (db *PgRepository) ListMessagesSince(channelId int, after Cursor) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.channel_id, m.user_id, u.email, m.content, m.created_at FROM messages m "+
			"JOIN users u ON m.user_id = u.id "+
			"WHERE m.channel_id = $1 AND m.deleted_at IS NULL AND (m.created_at, m.id) > ($2, $3) "+
			"ORDER BY m.created_at, m.id",
		channelId,
		after.After,
		after.AfterId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Id, &msg.ChannelId, &msg.UserId, &msg.UserEmail, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.attachReactions(messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// attachReactions fills in the per-emoji aggregates for the given messages.
func (db *PgRepository) attachReactions(messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]int64, len(messages))
	byId := make(map[int]*Message, len(messages))
	for i := range messages {
		ids[i] = int64(messages[i].Id)
		byId[messages[i].Id] = &messages[i]
	}

	rows, err := db.conn.Query(
		"SELECT message_id, emoji, count(*), array_agg(user_id ORDER BY user_id) "+
			"FROM message_reactions WHERE message_id = ANY($1) "+
			"GROUP BY message_id, emoji ORDER BY message_id, emoji",
		pq.Array(ids),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			messageId int
			group     ReactionGroup
			userIds   pq.Int64Array
		)
		if err := rows.Scan(&messageId, &group.Emoji, &group.Count, &userIds); err != nil {
			return err
		}

		group.UserIds = make([]int, len(userIds))
		for i, id := range userIds {
			group.UserIds[i] = int(id)
		}

		if msg, ok := byId[messageId]; ok {
			msg.Reactions = append(msg.Reactions, group)
		}
	}

	return rows.Err()
}

func (db *PgRepository) ListDeletedMessagesSince(channelId int, after Cursor) ([]Deletion, error) {
	rows, err := db.conn.Query(
		"SELECT id, deleted_at FROM messages "+
			"WHERE channel_id = $1 AND deleted_at IS NOT NULL AND (deleted_at, id) > ($2, $3) "+
			"ORDER BY deleted_at, id",
		channelId,
		after.After,
		after.AfterId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deletions := make([]Deletion, 0)
	for rows.Next() {
		var d Deletion
		if err := rows.Scan(&d.Id, &d.DeletedAt); err != nil {
			return nil, err
		}
		deletions = append(deletions, d)
	}

	return deletions, rows.Err()
}

// DeleteMessage soft-deletes a message. Only the author may delete it.
func (db *PgRepository) DeleteMessage(messageId, requesterId int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var authorId int
	err = tx.QueryRow(
		"SELECT user_id FROM messages WHERE id = $1 AND deleted_at IS NULL FOR UPDATE",
		messageId,
	).Scan(&authorId)
	if errors.Is(err, sql.ErrNoRows) {
		err = NewNotFoundError("message")
		return err
	}
	if err != nil {
		return err
	}

	if authorId != requesterId {
		err = NewAuthorizationError("only the author may delete a message")
		return err
	}

	if _, err = tx.Exec("UPDATE messages SET deleted_at = now() WHERE id = $1", messageId); err != nil {
		return err
	}

	return tx.Commit()
}

// AddReaction enforces the (message, user, emoji) uniqueness invariant and
// returns the updated count for the emoji on the message.
func (db *PgRepository) AddReaction(messageId, userId int, emoji string) (int, error) {
	if strings.TrimSpace(emoji) == "" {
		return 0, NewValidationError("emoji cannot be empty")
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var msgId int
	err = tx.QueryRow(
		"SELECT id FROM messages WHERE id = $1 AND deleted_at IS NULL LIMIT 1",
		messageId,
	).Scan(&msgId)
	if errors.Is(err, sql.ErrNoRows) {
		err = NewNotFoundError("message")
		return 0, err
	}
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(
		"INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)",
		messageId,
		userId,
		emoji,
	)
	if isUniqueViolation(err) {
		err = NewConflictError("reaction already exists")
		return 0, err
	}
	if err != nil {
		return 0, err
	}

	var count int
	err = tx.QueryRow(
		"SELECT count(*) FROM message_reactions WHERE message_id = $1 AND emoji = $2",
		messageId,
		emoji,
	).Scan(&count)
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	return count, nil
}

func (db *PgRepository) RemoveReaction(messageId, userId int, emoji string) (int, error) {
	res, err := db.conn.Exec(
		"DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3",
		messageId,
		userId,
		emoji,
	)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, NewNotFoundError("reaction")
	}

	var count int
	err = db.conn.QueryRow(
		"SELECT count(*) FROM message_reactions WHERE message_id = $1 AND emoji = $2",
		messageId,
		emoji,
	).Scan(&count)

	return count, err
}
