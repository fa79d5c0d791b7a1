package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chatgenius/internal/database"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   int
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), 42),
			userId:   42,
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %d", tc.userId)
		})
	}
}

func Test_authMiddleware(t *testing.T) {
	app := newTestApp(t, &database.MockRepository{}, nil, nil, nil)

	handler := app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		userId, ok := UserId(r.Context())
		assert.True(t, ok, "expected user id in request context")
		assert.Equal(t, 42, userId, "expected user id to match token")
		w.WriteHeader(http.StatusOK)
	})

	t.Run("passes valid cookie through", func(t *testing.T) {
		token, err := app.createJwtForSession(42, time.Hour)
		assert.NoError(t, err, "expected no error creating token")

		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})
		rr := httptest.NewRecorder()
		handler(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
		assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store", "expected authed responses to be uncacheable")
	})

	t.Run("fails without cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		rr := httptest.NewRecorder()
		handler(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code, "expected status code to be 401")
	})

	t.Run("fails with invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "not-a-token"})
		rr := httptest.NewRecorder()
		handler(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code, "expected status code to be 401")
	})
}

func Test_errorHandler(t *testing.T) {
	app := newTestApp(t, &database.MockRepository{}, nil, nil, nil)

	handler := app.errorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
	assert.Contains(t, rr.Body.String(), `"internal"`, "expected internal error code in body")
}

func TestFromStoreError(t *testing.T) {
	tcases := []struct {
		name         string
		err          error
		expectedCode int
	}{
		{
			name:         "validation error",
			err:          database.NewValidationError("channel name cannot be empty"),
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "authorization error",
			err:          database.NewAuthorizationError("only the creator can delete a channel"),
			expectedCode: http.StatusForbidden,
		},
		{
			name:         "not found error",
			err:          database.NewNotFoundError("channel"),
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "conflict error",
			err:          database.NewConflictError("reaction already exists"),
			expectedCode: http.StatusConflict,
		},
		{
			name:         "authentication error",
			err:          database.NewAuthenticationError("magic link has expired"),
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "unknown error",
			err:          assert.AnError,
			expectedCode: http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			apiErr := FromStoreError(tc.err)
			assert.Equal(t, tc.expectedCode, apiErr.StatusCode, "expected status code to match")
			if tc.expectedCode != http.StatusInternalServerError {
				assert.Equal(t, tc.err.Error(), apiErr.Message, "expected store error message to be surfaced")
			} else {
				assert.NotContains(t, apiErr.Message, tc.err.Error(), "expected internal errors not to leak details")
			}
		})
	}
}
