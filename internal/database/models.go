package database

import (
	"database/sql"
	"time"
)

type User struct {
	Id          int
	Email       string
	CreatedAt   time.Time
	LastLoginAt sql.NullTime
}

type Channel struct {
	Id        int
	Name      sql.NullString
	CreatorId int
	IsDM      bool
	CreatedAt time.Time
	DeletedAt sql.NullTime
}

type ChannelMembership struct {
	Id        int
	UserId    int
	ChannelId int
	JoinedAt  time.Time
}

type Message struct {
	Id        int
	ChannelId int
	UserId    int
	UserEmail string
	Content   string
	CreatedAt time.Time
	DeletedAt sql.NullTime
	Reactions []ReactionGroup
}

// ReactionGroup is the per-emoji aggregate for a message: how many users
// reacted with the emoji and which ones.
type ReactionGroup struct {
	Emoji   string
	Count   int
	UserIds []int
}

type MagicLink struct {
	Id        int
	UserId    int
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    sql.NullTime
}

type CreateChannelParams struct {
	Name          string
	CreatorId     int
	IsDM          bool
	ParticipantId int
}

// Deletion records a soft-deleted row together with its deletion time, so
// sync cursors can advance past deletions that have no later live rows.
type Deletion struct {
	Id        int
	DeletedAt time.Time
}

// Cursor marks the point up to which a client has already observed state.
// The zero value means "from the beginning". Id breaks ties between rows
// sharing a timestamp so pagination is a total order.
type Cursor struct {
	After   time.Time
	AfterId int
}
