package database

import "time"

type Repository interface {
	Ping() error

	GetOrCreateUserByEmail(email string) (User, error)
	GetUserById(id int) (User, error)

	CreateMagicLink(userId int, tokenHash string, expiresAt time.Time) (MagicLink, error)
	ConsumeMagicLink(tokenHash string) (User, error)

	CreateChannel(params CreateChannelParams) (Channel, error)
	GetChannelById(id int) (Channel, error)
	ListChannelsFor(userId int, after Cursor) ([]Channel, error)
	ListDeletedChannelsFor(userId int, after Cursor) ([]Deletion, error)
	DeleteChannel(channelId, requesterId int) error

	IsMember(userId, channelId int) (bool, error)
	AddMember(userId, channelId int) error
	ListMemberIds(channelId int) ([]int, error)

	CreateMessage(channelId, userId int, content string) (Message, error)
	ListMessagesSince(channelId int, after Cursor) ([]Message, error)
	ListDeletedMessagesSince(channelId int, after Cursor) ([]Deletion, error)
	DeleteMessage(messageId, requesterId int) error

	AddReaction(messageId, userId int, emoji string) (int, error)
	RemoveReaction(messageId, userId int, emoji string) (int, error)
}
