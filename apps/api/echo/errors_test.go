package echoapi

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/roofest/core"
	testutil "github.com/trezcool/roofest/tests"
)

func TestAppHTTPErrorHandler(t *testing.T) {
	conf := core.NewTestConfig()
	_, translator := core.NewValidator()

	tests := []struct {
		name         string
		method       string
		err          error
		wantCode     int
		wantBody     string
		wantShutdown bool
	}{
		{
			name: "http error", err: errHttpNotFound,
			wantCode: http.StatusNotFound, wantBody: `{"error": "not found"}`,
		},
		{
			name:     "validation error with fields",
			err:      errors.Wrap(core.NewValidationError(errors.New("bad"), core.FieldError{Field: "qty", Error: "too many"}), "saving"),
			wantCode: http.StatusBadRequest, wantBody: `{"qty": "too many"}`,
		},
		{
			name: "validation error without fields", err: core.NewValidationError(errors.New("bad input")),
			wantCode: http.StatusBadRequest, wantBody: `{"error": "bad input"}`,
		},
		{
			name: "not found", err: errors.Wrap(core.NewNotFoundError("client not found"), "finding client"),
			wantCode: http.StatusNotFound, wantBody: `{"error": "client not found"}`,
		},
		{
			name: "forbidden", err: errors.Wrap(core.NewForbiddenError("locked"), "updating"),
			wantCode: http.StatusForbidden, wantBody: `{"error": "locked"}`,
		},
		{
			name: "conflict", err: core.NewConflictError("stale"),
			wantCode: http.StatusConflict, wantBody: `{"error": "stale"}`,
		},
		{
			name: "server error", err: errors.New("boom"),
			wantCode: http.StatusInternalServerError, wantBody: `{"error": "Internal Server Error"}`,
		},
		{
			name: "shutdown", err: errors.Wrap(core.NewShutdownError("integrity issue"), "querying"),
			wantCode: http.StatusInternalServerError, wantBody: `{"error": "Internal Server Error"}`, wantShutdown: true,
		},
		{
			name: "head requests have no body", method: http.MethodHead, err: errHttpNotFound,
			wantCode: http.StatusNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			shutdown := false
			handler := newAppHTTPErrorHandler(&testutil.Logger{}, translator, newAuthenticator(conf), func() { shutdown = true })

			method := tc.method
			if method == "" {
				method = http.MethodGet
			}
			e := echo.New()
			rec := httptest.NewRecorder()
			ctx := e.NewContext(httptest.NewRequest(method, "/", nil), rec)

			handler(tc.err, ctx)
			assert.Equal(t, tc.wantCode, rec.Code)
			if tc.wantBody != "" {
				assert.JSONEq(t, tc.wantBody, rec.Body.String())
			} else {
				assert.Empty(t, rec.Body.String())
			}
			assert.Equal(t, tc.wantShutdown, shutdown)
		})
	}

	t.Run("debug shows server errors", func(t *testing.T) {
		handler := newAppHTTPErrorHandler(&testutil.Logger{}, translator, newAuthenticator(conf), func() {})
		e := echo.New()
		e.Debug = true
		rec := httptest.NewRecorder()
		handler(errors.New("boom"), e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec))
		assert.JSONEq(t, `{"error": "boom"}`, rec.Body.String())
	})
}

func TestOrdering_Bind(t *testing.T) {
	tests := []struct {
		query string
		want  []core.DBOrdering
	}{
		{"", nil},
		{"name", []core.DBOrdering{{Field: "name", Ascending: true}}},
		{"-createdAt, loyaltyTier", []core.DBOrdering{{Field: "created_at"}, {Field: "loyalty_tier", Ascending: true}}},
		{"password,-name", []core.DBOrdering{{Field: "name"}}},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/?ordering="+url.QueryEscape(tc.query), nil)
			ctx := e.NewContext(req, httptest.NewRecorder())

			ord := new(Ordering)
			ord.Bind(ctx, clientOrderFields)
			assert.Equal(t, tc.want, ord.Orderings)
		})
	}
}
