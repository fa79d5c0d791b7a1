package api

import (
	"net/http"
	"strconv"
	"time"

	"chatgenius/internal/database"
	"chatgenius/internal/types"
)

// SyncCursor is the resume point of a sync page. It covers live rows by
// creation time and deleted rows by deletion time, so a page holding only
// deletions still advances the cursor and is never re-reported.
type SyncCursor struct {
	After   time.Time `json:"after"`
	AfterId int       `json:"after_id"`
}

// advance moves the cursor forward to (ts, id) if that point is newer.
func (c *SyncCursor) advance(ts time.Time, id int) {
	if ts.After(c.After) || (ts.Equal(c.After) && id > c.AfterId) {
		c.After = ts
		c.AfterId = id
	}
}

// ChannelSyncResponse is one page of channel state: channels visible past the
// cursor plus ids of channels deleted past the cursor. Clients feed
// next_cursor back as the after/after_id parameters of their next poll.
type ChannelSyncResponse struct {
	Channels          []types.Channel `json:"channels"`
	DeletedChannelIds []int           `json:"deleted_channel_ids"`
	NextCursor        SyncCursor      `json:"next_cursor"`
}

type MessageSyncResponse struct {
	Messages          []types.Message `json:"messages"`
	DeletedMessageIds []int           `json:"deleted_message_ids"`
	NextCursor        SyncCursor      `json:"next_cursor"`
}

// parseCursor reads the after/after_id query parameters. Absent parameters
// mean a full sync from the beginning.
func parseCursor(r *http.Request) (database.Cursor, *ApiError) {
	var cursor database.Cursor

	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		after, err := time.Parse(time.RFC3339Nano, afterStr)
		if err != nil {
			return cursor, NewBadRequestError("invalid after timestamp")
		}
		cursor.After = after
	}

	if afterIdStr := r.URL.Query().Get("after_id"); afterIdStr != "" {
		afterId, err := strconv.Atoi(afterIdStr)
		if err != nil || afterId < 0 {
			return cursor, NewBadRequestError("invalid after_id")
		}
		cursor.AfterId = afterId
	}

	return cursor, nil
}

func (s *App) listChannels(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError("")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	cursor, apiErr := parseCursor(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	dbChannels, err := s.db.ListChannelsFor(userId, cursor)
	if err != nil {
		s.log.Println("list channels:", err)
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	deleted, err := s.db.ListDeletedChannelsFor(userId, cursor)
	if err != nil {
		s.log.Println("list deleted channels:", err)
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := ChannelSyncResponse{
		Channels:          []types.Channel{},
		DeletedChannelIds: []int{},
		NextCursor:        SyncCursor{After: cursor.After, AfterId: cursor.AfterId},
	}
	for _, ch := range dbChannels {
		resp.Channels = append(resp.Channels, toApiChannel(ch))
		resp.NextCursor.advance(ch.CreatedAt, ch.Id)
	}
	for _, d := range deleted {
		resp.DeletedChannelIds = append(resp.DeletedChannelIds, d.Id)
		resp.NextCursor.advance(d.DeletedAt, d.Id)
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *App) listMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError("")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	channelId, apiErr := pathId(r, "id")
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	cursor, apiErr := parseCursor(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	if _, apiErr := s.requireMember(userId, channelId); apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	dbMessages, err := s.db.ListMessagesSince(channelId, cursor)
	if err != nil {
		s.log.Println("list messages:", err)
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	deleted, err := s.db.ListDeletedMessagesSince(channelId, cursor)
	if err != nil {
		s.log.Println("list deleted messages:", err)
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := MessageSyncResponse{
		Messages:          []types.Message{},
		DeletedMessageIds: []int{},
		NextCursor:        SyncCursor{After: cursor.After, AfterId: cursor.AfterId},
	}
	for _, msg := range dbMessages {
		resp.Messages = append(resp.Messages, toApiMessage(msg))
		resp.NextCursor.advance(msg.CreatedAt, msg.Id)
	}
	for _, d := range deleted {
		resp.DeletedMessageIds = append(resp.DeletedMessageIds, d.Id)
		resp.NextCursor.advance(d.DeletedAt, d.Id)
	}

	s.writeJson(w, http.StatusOK, resp)
}
