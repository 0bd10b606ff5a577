package echoapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/roofest/core"
)

func TestMemoryRateLimiter(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	nowFunc = func() time.Time { return now }
	defer func() { nowFunc = time.Now }()

	rl := NewMemoryRateLimiter(2, time.Minute)
	ctx := context.Background()

	allow := func(key string) bool {
		ok, err := rl.Allow(ctx, key)
		require.NoError(t, err)
		return ok
	}

	assert.True(t, allow("a"))
	assert.True(t, allow("a"))
	assert.False(t, allow("a"))
	assert.True(t, allow("b"), "keys are counted separately")

	now = now.Add(61 * time.Second)
	assert.True(t, allow("a"), "window has reset")
}

func TestMemoryRateLimiter_Defaults(t *testing.T) {
	rl := NewMemoryRateLimiter(0, 0)
	assert.Equal(t, 10, rl.limit)
	assert.Equal(t, time.Minute, rl.window)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, assert.AnError
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("login is limited", func(t *testing.T) {
		app := newTestApp(t, func(conf *core.Config) { conf.Server.RateLimit = 2 })
		body := marshalObj(t, LoginRequest{Username: "nobody", Password: testPassword})

		for i := 0; i < 2; i++ {
			rec := app.do(http.MethodPost, "/v1/users/login", "", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		}
		rec := app.do(http.MethodPost, "/v1/users/login", "", body)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.JSONEq(t, `{"error": "rate limit exceeded"}`, rec.Body.String())

		// other routes keep their own window
		rec = app.do(http.MethodPost, "/v1/users/password-reset", "", []byte(`{"email": "nobody@roofest.test"}`))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("limiter failures let requests through", func(t *testing.T) {
		app := newTestApp(t)
		deps := *app.server.deps
		deps.Limiter = failingLimiter{}
		srv := NewServer(app.conf, app.logger, &deps)

		req, rec := newAuthRequest(http.MethodPost, "/v1/users/password-reset", "", []byte(`{"email": "nobody@roofest.test"}`))
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"rate limiter unavailable"}, app.logger.Messages("warn"))
	})
}
