package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"

	"chatgenius/internal/database"
	"chatgenius/internal/server"
	"chatgenius/internal/types"
)

type CreateChannelRequest struct {
	Name          string `json:"name"`
	IsDM          bool   `json:"is_dm"`
	ParticipantId int    `json:"participant_id"`
}

type CreateMessageRequest struct {
	Content string `json:"content"`
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

type ReactionResponse struct {
	MessageId int    `json:"message_id"`
	Emoji     string `json:"emoji"`
	Count     int    `json:"count"`
}

func (s *App) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func pathId(r *http.Request, name string) (int, *ApiError) {
	id, err := strconv.Atoi(r.PathValue(name))
	if err != nil || id <= 0 {
		return 0, NewBadRequestError("invalid " + name)
	}

	return id, nil
}

func toApiChannel(ch database.Channel) types.Channel {
	return types.Channel{
		Id:        ch.Id,
		Name:      ch.Name.String,
		CreatorId: ch.CreatorId,
		IsDM:      ch.IsDM,
		CreatedAt: ch.CreatedAt,
	}
}

func toApiMessage(msg database.Message) types.Message {
	m := types.Message{
		Id:        msg.Id,
		ChannelId: msg.ChannelId,
		UserId:    msg.UserId,
		UserEmail: msg.UserEmail,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	for _, rg := range msg.Reactions {
		m.Reactions = append(m.Reactions, types.Reaction{
			Emoji:   rg.Emoji,
			Count:   rg.Count,
			UserIds: rg.UserIds,
		})
	}

	return m
}

func (s *App) createChannel(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError("")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newChannel, err := s.db.CreateChannel(database.CreateChannelParams{
		Name:          req.Name,
		CreatorId:     userId,
		IsDM:          req.IsDM,
		ParticipantId: req.ParticipantId,
	})
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ch := toApiChannel(newChannel)

	memberIds, err := s.db.ListMemberIds(newChannel.Id)
	if err != nil {
		s.log.Println("list member ids:", err)
		memberIds = []int{userId}
	}
	s.cs.NotifyChannelCreated(ch, memberIds)

	s.writeJson(w, http.StatusCreated, ch)
}

func (s *App) deleteChannel(w http.ResponseWriter, r *http.Request) {
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

	// membership rows survive channel deletion, so members can still be
	// notified and still see the deletion when they poll
	memberIds, err := s.db.ListMemberIds(channelId)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteChannel(channelId, userId); err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.cs.NotifyChannelDeleted(channelId, memberIds)

	s.writeJson(w, http.StatusNoContent, nil)
}

// joinChannel adds the requesting user to a channel's member list. DM
// channels have a fixed pair of members and are not joinable.
func (s *App) joinChannel(w http.ResponseWriter, r *http.Request) {
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

	channel, err := s.db.GetChannelById(channelId)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if channel.IsDM {
		errResp := NewForbiddenError("direct message channels cannot be joined")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.AddMember(userId, channelId); err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// surface the channel on the joiner's own live connections
	s.cs.NotifyChannelCreated(toApiChannel(channel), []int{userId})

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *App) createMessage(w http.ResponseWriter, r *http.Request) {
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

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, apiErr := s.requireMember(userId, channelId)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	msg, err := s.cs.PostMessage(r.Context(), types.User{
		Id:    user.Id,
		Email: user.Email,
	}, channelId, req.Content)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, toApiMessage(msg))
}

func (s *App) deleteMessage(w http.ResponseWriter, r *http.Request) {
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

	messageId, apiErr := pathId(r, "messageId")
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	if err := s.cs.DeleteMessage(r.Context(), types.User{Id: userId}, channelId, messageId); err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *App) addReaction(w http.ResponseWriter, r *http.Request) {
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

	messageId, apiErr := pathId(r, "messageId")
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	var req ReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Emoji == "" {
		errResp := NewBadRequestError("emoji is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, apiErr := s.requireMember(userId, channelId); apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	count, err := s.db.AddReaction(messageId, userId, req.Emoji)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, ReactionResponse{
		MessageId: messageId,
		Emoji:     req.Emoji,
		Count:     count,
	})
}

func (s *App) removeReaction(w http.ResponseWriter, r *http.Request) {
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

	messageId, apiErr := pathId(r, "messageId")
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	emoji := r.URL.Query().Get("emoji")
	if emoji == "" {
		errResp := NewBadRequestError("emoji is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, apiErr := s.requireMember(userId, channelId); apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	count, err := s.db.RemoveReaction(messageId, userId, emoji)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, ReactionResponse{
		MessageId: messageId,
		Emoji:     emoji,
		Count:     count,
	})
}

// requireMember loads the user and verifies channel membership. Every
// channel-scoped read and write goes through this gate.
func (s *App) requireMember(userId, channelId int) (database.User, *ApiError) {
	user, err := s.db.GetUserById(userId)
	if err != nil {
		return database.User{}, FromStoreError(err)
	}

	member, err := s.db.IsMember(userId, channelId)
	if err != nil {
		return database.User{}, FromStoreError(err)
	}

	if !member {
		return database.User{}, NewForbiddenError("user is not a member of this channel")
	}

	return user, nil
}

func (s *App) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError("")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetUserById(id)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sess, err := s.cs.Sessions().Add(types.User{
		Id:        user.Id,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	}, nil)
	if err != nil {
		errResp := FromStoreError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		s.cs.Sessions().Close(sess.Id)
		return
	}

	client := server.NewClient(sess, conn, s.cs, s.log, s.stats)
	s.cs.Sessions().Attach(sess, client)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}

func (s *App) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Println("health check:", err)
		s.writeJson(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}
