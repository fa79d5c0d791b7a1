package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chatgenius/internal/database"
	"chatgenius/internal/server"
	"chatgenius/internal/stats"
	"chatgenius/internal/testutil"
)

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func Test_healthCheck(t *testing.T) {
	t.Run("successful health check", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("Ping").Return(nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db, nil, nil, nil)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		app.healthCheck(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
		assert.Contains(t, rr.Body.String(), `"ok"`, "expected ok status in body")
	})

	t.Run("failed health check", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("Ping").Return(assert.AnError).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db, nil, nil, nil)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		app.healthCheck(rr, req)

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "expected status code to be 503")
	})
}

func Test_createChannel(t *testing.T) {
	now := time.Now().UTC()

	t.Run("creates a channel", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("CreateChannel", database.CreateChannelParams{Name: "general", CreatorId: 1}).
			Return(database.Channel{
				Id:        3,
				Name:      toNullString("general"),
				CreatorId: 1,
				CreatedAt: now,
			}, nil).Once()
		db.On("ListMemberIds", 3).Return([]int{1}, nil).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db)
		app := newTestApp(t, db, cs, nil, nil)

		body, _ := json.Marshal(CreateChannelRequest{Name: "general"})
		req := httptest.NewRequest(http.MethodPost, "/api/channels", bytes.NewBuffer(body))
		req = req.WithContext(WithUserId(req.Context(), 1))
		rr := httptest.NewRecorder()
		app.createChannel(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code, "expected status code to be 201")
		assert.Contains(t, rr.Body.String(), `"general"`, "expected channel name in response")
	})

	t.Run("creates a DM channel", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("CreateChannel", database.CreateChannelParams{CreatorId: 1, IsDM: true, ParticipantId: 2}).
			Return(database.Channel{Id: 4, CreatorId: 1, IsDM: true, CreatedAt: now}, nil).Once()
		db.On("ListMemberIds", 4).Return([]int{1, 2}, nil).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db)
		app := newTestApp(t, db, cs, nil, nil)

		body, _ := json.Marshal(CreateChannelRequest{IsDM: true, ParticipantId: 2})
		req := httptest.NewRequest(http.MethodPost, "/api/channels", bytes.NewBuffer(body))
		req = req.WithContext(WithUserId(req.Context(), 1))
		rr := httptest.NewRecorder()
		app.createChannel(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code, "expected status code to be 201")
		assert.Contains(t, rr.Body.String(), `"is_dm":true`, "expected DM flag in response")
	})

	t.Run("fails with invalid json body", func(t *testing.T) {
		app := newTestApp(t, &database.MockRepository{}, nil, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/channels", strings.NewReader("invalid json"))
		req = req.WithContext(WithUserId(req.Context(), 1))
		rr := httptest.NewRecorder()
		app.createChannel(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected status code to be 400")
	})

	t.Run("fails with store validation error", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("CreateChannel", mock.Anything).
			Return(database.Channel{}, database.NewValidationError("channel name cannot be empty")).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db, nil, nil, nil)

		body, _ := json.Marshal(CreateChannelRequest{})
		req := httptest.NewRequest(http.MethodPost, "/api/channels", bytes.NewBuffer(body))
		req = req.WithContext(WithUserId(req.Context(), 1))
		rr := httptest.NewRecorder()
		app.createChannel(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected status code to be 400")
	})
}

func Test_deleteChannel(t *testing.T) {
	t.Run("deletes channel as creator", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("ListMemberIds", 3).Return([]int{1, 2}, nil).Once()
		db.On("DeleteChannel", 3, 1).Return(nil).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db)
		app := newTestApp(t, db, cs, nil, nil)

		req := httptest.NewRequest(http.MethodDelete, "/api/channels/3", nil)
		req.SetPathValue("id", "3")
		req = req.WithContext(WithUserId(req.Context(), 1))
		rr := httptest.NewRecorder()
		app.deleteChannel(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code, "expected status code to be 204")
	})

	t.Run("fails for non-creator", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("ListMemberIds", 3).Return([]int{1, 2}, nil).Once()
		db.On("DeleteChannel", 3, 2).
			Return(database.NewAuthorizationError("only the creator can delete a channel")).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db, nil, nil, nil)

		req := httptest.NewRequest(http.MethodDelete, "/api/channels/3", nil)
		req.SetPathValue("id", "3")
		req = req.WithContext(WithUserId(req.Context(), 2))
		rr := httptest.NewRecorder()
		app.deleteChannel(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code, "expected status code to be 403")
	})

	t.Run("fails with invalid channel id", func(t *testing.T) {
		app := newTestApp(t, &database.MockRepository{}, nil, nil, nil)

		req := httptest.NewRequest(http.MethodDelete, "/api/channels/abc", nil)
		req.SetPathValue("id", "abc")
		req = req.WithContext(WithUserId(req.Context(), 1))
		rr := httptest.NewRecorder()
		app.deleteChannel(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected status code to be 400")
	})
}

func Test_joinChannel(t *testing.T) {
	t.Run("joins a channel", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetChannelById", 3).Return(database.Channel{Id: 3, CreatorId: 2}, nil).Once()
		db.On("AddMember", 1, 3).Return(nil).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db)
		app := newTestApp(t, db, cs, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/channels/3/members", nil)
		req.SetPathValue("id", "3")
		req = req.WithContext(WithUserId(req.Context(), 1))
		rr := httptest.NewRecorder()
		app.joinChannel(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code, "expected status code to be 204")
	})

	t.Run("fails to join a DM channel", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetChannelById", 3).Return(database.Channel{Id: 3, CreatorId: 2, IsDM: true}, nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db, nil, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/channels/3/members", nil)
		req.SetPathValue("id", "3")
		req = req.WithContext(WithUserId(req.Context(), 1))
		rr := httptest.NewRecorder()
		app.joinChannel(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code, "expected status code to be 403")
	})

	t.Run("fails for unknown channel", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetChannelById", 3).Return(database.Channel{}, database.NewNotFoundError("channel")).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db, nil, nil, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/channels/3/members", nil)
		req.SetPathValue("id", "3")
		req = req.WithContext(WithUserId(req.Context(), 1))
		rr := httptest.NewRecorder()
		app.joinChannel(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code, "expected status code to be 404")
	})
}

func Test_createMessage(t *testing.T) {
	user := database.User{Id: 1, Email: "test@example.com", CreatedAt: time.Now().UTC()}

	t.Run("persists through the chat server", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetUserById", user.Id).Return(user, nil).Once()
		db.On("IsMember", user.Id, 3).Return(true, nil).Once()
		db.On("GetChannelById", 3).Return(database.Channel{Id: 3}, nil).Once()
		db.On("CreateMessage", 3, user.Id, "hello").Return(database.Message{
			Id:        7,
			ChannelId: 3,
			UserId:    user.Id,
			Content:   "hello",
			CreatedAt: time.Now().UTC(),
		}, nil).Once()
		defer db.AssertExpectations(t)

		su := &stats.MockStatsUpdater{}
		su.On("RegisterMetric", mock.Anything).Times(4)
		su.On("Incr", mock.Anything).Maybe()
		su.On("Decr", mock.Anything).Maybe()

		cs, err := server.NewChatServer(testutil.TestLogger(t), db, su, time.Minute)
		assert.NoError(t, err, "expected no error creating chat server")
		go cs.Run()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			assert.NoError(t, cs.Shutdown(ctx), "expected clean chat server shutdown")
		}()

		app := newTestApp(t, db, cs, nil, nil)

		body, _ := json.Marshal(CreateMessageRequest{Content: "hello"})
		req := httptest.NewRequest(http.MethodPost, "/api/channels/3/messages", bytes.NewBuffer(body))
		req.SetPathValue("id", "3")
		req = req.WithContext(WithUserId(req.Context(), user.Id))
		rr := httptest.NewRecorder()
		app.createMessage(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code, "expected status code to be 201")
		assert.Contains(t, rr.Body.String(), `"hello"`, "expected message content in response")
		assert.Contains(t, rr.Body.String(), user.Email, "expected sender email in response")
	})

	t.Run("fails for non-member", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetUserById", user.Id).Return(user, nil).Once()
		db.On("IsMember", user.Id, 3).Return(false, nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db, nil, nil, nil)

		body, _ := json.Marshal(CreateMessageRequest{Content: "hello"})
		req := httptest.NewRequest(http.MethodPost, "/api/channels/3/messages", bytes.NewBuffer(body))
		req.SetPathValue("id", "3")
		req = req.WithContext(WithUserId(req.Context(), user.Id))
		rr := httptest.NewRecorder()
		app.createMessage(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code, "expected status code to be 403")
	})
}

func Test_deleteMessage(t *testing.T) {
	t.Run("deletes own message", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("DeleteMessage", 7, 1).Return(nil).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db)
		go cs.Run()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			assert.NoError(t, cs.Shutdown(ctx), "expected clean chat server shutdown")
		}()

		app := newTestApp(t, db, cs, nil, nil)

		req := httptest.NewRequest(http.MethodDelete, "/api/channels/3/messages/7", nil)
		req.SetPathValue("id", "3")
		req.SetPathValue("messageId", "7")
		req = req.WithContext(WithUserId(req.Context(), 1))
		rr := httptest.NewRecorder()
		app.deleteMessage(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code, "expected status code to be 204")
	})

	t.Run("fails for someone else's message", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("DeleteMessage", 7, 2).
			Return(database.NewAuthorizationError("only the author can delete a message")).Once()
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db)
		go cs.Run()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			assert.NoError(t, cs.Shutdown(ctx), "expected clean chat server shutdown")
		}()

		app := newTestApp(t, db, cs, nil, nil)

		req := httptest.NewRequest(http.MethodDelete, "/api/channels/3/messages/7", nil)
		req.SetPathValue("id", "3")
		req.SetPathValue("messageId", "7")
		req = req.WithContext(WithUserId(req.Context(), 2))
		rr := httptest.NewRecorder()
		app.deleteMessage(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code, "expected status code to be 403")
	})
}

func Test_addReaction(t *testing.T) {
	user := database.User{Id: 1, Email: "test@example.com"}

	t.Run("adds a reaction", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetUserById", user.Id).Return(user, nil).Once()
		db.On("IsMember", user.Id, 3).Return(true, nil).Once()
		db.On("AddReaction", 7, user.Id, "👍").Return(2, nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db, nil, nil, nil)

		body, _ := json.Marshal(ReactionRequest{Emoji: "👍"})
		req := httptest.NewRequest(http.MethodPost, "/api/channels/3/messages/7/reactions", bytes.NewBuffer(body))
		req.SetPathValue("id", "3")
		req.SetPathValue("messageId", "7")
		req = req.WithContext(WithUserId(req.Context(), user.Id))
		rr := httptest.NewRecorder()
		app.addReaction(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code, "expected status code to be 201")

		var resp ReactionResponse
		assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), "expected valid json response")
		assert.Equal(t, 7, resp.MessageId, "expected message id in response")
		assert.Equal(t, 2, resp.Count, "expected reaction count in response")
	})

	t.Run("fails for duplicate reaction", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetUserById", user.Id).Return(user, nil).Once()
		db.On("IsMember", user.Id, 3).Return(true, nil).Once()
		db.On("AddReaction", 7, user.Id, "👍").
			Return(0, database.NewConflictError("reaction already exists")).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db, nil, nil, nil)

		body, _ := json.Marshal(ReactionRequest{Emoji: "👍"})
		req := httptest.NewRequest(http.MethodPost, "/api/channels/3/messages/7/reactions", bytes.NewBuffer(body))
		req.SetPathValue("id", "3")
		req.SetPathValue("messageId", "7")
		req = req.WithContext(WithUserId(req.Context(), user.Id))
		rr := httptest.NewRecorder()
		app.addReaction(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code, "expected status code to be 409")
	})

	t.Run("fails without emoji", func(t *testing.T) {
		app := newTestApp(t, &database.MockRepository{}, nil, nil, nil)

		body, _ := json.Marshal(ReactionRequest{})
		req := httptest.NewRequest(http.MethodPost, "/api/channels/3/messages/7/reactions", bytes.NewBuffer(body))
		req.SetPathValue("id", "3")
		req.SetPathValue("messageId", "7")
		req = req.WithContext(WithUserId(req.Context(), user.Id))
		rr := httptest.NewRecorder()
		app.addReaction(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code, "expected status code to be 400")
	})
}

func Test_removeReaction(t *testing.T) {
	user := database.User{Id: 1, Email: "test@example.com"}

	t.Run("removes a reaction", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetUserById", user.Id).Return(user, nil).Once()
		db.On("IsMember", user.Id, 3).Return(true, nil).Once()
		db.On("RemoveReaction", 7, user.Id, "👍").Return(1, nil).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db, nil, nil, nil)

		req := httptest.NewRequest(http.MethodDelete, "/api/channels/3/messages/7/reactions?emoji=%F0%9F%91%8D", nil)
		req.SetPathValue("id", "3")
		req.SetPathValue("messageId", "7")
		req = req.WithContext(WithUserId(req.Context(), user.Id))
		rr := httptest.NewRecorder()
		app.removeReaction(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")

		var resp ReactionResponse
		assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), "expected valid json response")
		assert.Equal(t, 1, resp.Count, "expected remaining count in response")
	})

	t.Run("fails for missing reaction", func(t *testing.T) {
		db := &database.MockRepository{}
		db.On("GetUserById", user.Id).Return(user, nil).Once()
		db.On("IsMember", user.Id, 3).Return(true, nil).Once()
		db.On("RemoveReaction", 7, user.Id, "👍").
			Return(0, database.NewNotFoundError("reaction")).Once()
		defer db.AssertExpectations(t)

		app := newTestApp(t, db, nil, nil, nil)

		req := httptest.NewRequest(http.MethodDelete, "/api/channels/3/messages/7/reactions?emoji=%F0%9F%91%8D", nil)
		req.SetPathValue("id", "3")
		req.SetPathValue("messageId", "7")
		req = req.WithContext(WithUserId(req.Context(), user.Id))
		rr := httptest.NewRecorder()
		app.removeReaction(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code, "expected status code to be 404")
	})
}
