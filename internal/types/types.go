package types

import (
	"time"
)

type User struct {
	Id          int        `json:"id"`
	Email       string     `json:"email"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

type Channel struct {
	Id        int       `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatorId int       `json:"creator_id"`
	IsDM      bool      `json:"is_dm"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	Id        int        `json:"id"`
	ChannelId int        `json:"channel_id"`
	UserId    int        `json:"user_id"`
	UserEmail string     `json:"user_email,omitempty"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	Reactions []Reaction `json:"reactions,omitempty"`
}

// Reaction is the per-emoji aggregate on a message.
type Reaction struct {
	Emoji   string `json:"emoji"`
	Count   int    `json:"count"`
	UserIds []int  `json:"user_ids"`
}
