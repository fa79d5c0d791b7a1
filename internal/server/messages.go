package server

import (
	"errors"
	"fmt"
	"time"

	"chatgenius/internal/database"
	"chatgenius/internal/types"
)

// ClientMessage is the envelope for client-to-server events. Exactly one of
// the event fields is set.
type ClientMessage struct {
	JoinChannel   *JoinChannel   `json:"join_channel,omitempty"`
	LeaveChannel  *LeaveChannel  `json:"leave_channel,omitempty"`
	SendMessage   *SendMessage   `json:"send_message,omitempty"`
	DeleteMessage *DeleteMessage `json:"delete_message,omitempty"`

	client *Client
}

type JoinChannel struct {
	ChannelId int `json:"channel_id"`
}

type LeaveChannel struct {
	ChannelId int `json:"channel_id"`
}

type SendMessage struct {
	ChannelId int    `json:"channel_id"`
	Content   string `json:"content"`
}

type DeleteMessage struct {
	ChannelId int `json:"channel_id"`
	MessageId int `json:"message_id"`
}

// ServerMessage is the envelope for server-to-client events.
type ServerMessage struct {
	Timestamp       time.Time        `json:"timestamp"`
	JoinedChannelOk *JoinedChannelOk `json:"joined_channel_ok,omitempty"`
	UserJoined      *UserJoined      `json:"user_joined,omitempty"`
	NewMessage      *types.Message   `json:"new_message,omitempty"`
	MessageDeleted  *MessageDeleted  `json:"message_deleted,omitempty"`
	NewChannel      *types.Channel   `json:"new_channel,omitempty"`
	ChannelDeleted  *ChannelDeleted  `json:"channel_deleted,omitempty"`
	LogoutBroadcast *LogoutBroadcast `json:"logout_broadcast,omitempty"`
	Error           *ErrorEvent      `json:"error,omitempty"`

	// skipClient is excluded from room broadcasts, e.g. the joining
	// connection must not receive its own user_joined event.
	skipClient *Client
}

type JoinedChannelOk struct {
	ChannelId int `json:"channel_id"`
}

type UserJoined struct {
	UserId    int `json:"user_id"`
	ChannelId int `json:"channel_id"`
}

type MessageDeleted struct {
	MessageId int `json:"message_id"`
	ChannelId int `json:"channel_id"`
}

type ChannelDeleted struct {
	ChannelId int `json:"channel_id"`
}

type LogoutBroadcast struct{}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	errCodeBadRequest   = "bad_request"
	errCodeUnauthorized = "unauthorized"
	errCodeForbidden    = "forbidden"
	errCodeNotFound     = "not_found"
	errCodeConflict     = "conflict"
	errCodeUnavailable  = "unavailable"
	errCodeInternal     = "internal"
)

// errEvent maps a store error to an error event for the originating
// connection.
func errEvent(err error) *ServerMessage {
	code := errCodeInternal
	message := "internal server error"

	var (
		validationErr     *database.ValidationError
		authorizationErr  *database.AuthorizationError
		notFoundErr       *database.NotFoundError
		conflictErr       *database.ConflictError
		authenticationErr *database.AuthenticationError
	)

	switch {
	case errors.As(err, &validationErr):
		code, message = errCodeBadRequest, err.Error()
	case errors.As(err, &authorizationErr):
		code, message = errCodeForbidden, err.Error()
	case errors.As(err, &notFoundErr):
		code, message = errCodeNotFound, err.Error()
	case errors.As(err, &conflictErr):
		code, message = errCodeConflict, err.Error()
	case errors.As(err, &authenticationErr):
		code, message = errCodeUnauthorized, err.Error()
	}

	return &ServerMessage{
		Timestamp: Now(),
		Error:     &ErrorEvent{Code: code, Message: message},
	}
}

// errNotJoined is returned when a client targets a channel it has not
// joined on this connection.
func errNotJoined(channelId int) error {
	return database.NewNotFoundError(fmt.Sprintf("subscription to channel %d", channelId))
}

func errServiceUnavailable() *ServerMessage {
	return &ServerMessage{
		Timestamp: Now(),
		Error:     &ErrorEvent{Code: errCodeUnavailable, Message: "service unavailable"},
	}
}

func errInvalidMessage() *ServerMessage {
	return &ServerMessage{
		Timestamp: Now(),
		Error:     &ErrorEvent{Code: errCodeBadRequest, Message: "invalid message format"},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
