package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/db/dbtest"
	"github.com/oelp-platform/billing/internal/ratelimit"
	"github.com/oelp-platform/billing/internal/security"
	internalsettings "github.com/oelp-platform/billing/internal/settings"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-secret"

func bearer(t *testing.T, claims security.Claims) string {
	t.Helper()
	token, err := security.IssueToken(testSecret, claims, time.Hour, time.Now())
	require.NoError(t, err)
	return "Bearer " + token
}

func TestAuthenticate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Authenticate(testSecret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subscriber_id": SubscriberID(c)})
	})

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "no bearer prefix", header: "abc", want: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer abc", want: http.StatusUnauthorized},
		{name: "valid", header: bearer(t, security.Claims{SubscriberID: 9}), want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", bearer(t, security.Claims{SubscriberID: 9}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.JSONEq(t, `{"subscriber_id":9}`, w.Body.String())
}

func TestRequireRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/reports", Authenticate(testSecret), RequireRoles(security.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	for _, tc := range []struct {
		claims security.Claims
		want   int
	}{
		{claims: security.Claims{SubscriberID: 1}, want: http.StatusForbidden},
		{claims: security.Claims{SubscriberID: 1, Roles: []string{security.RoleAdmin}}, want: http.StatusNoContent},
		{claims: security.Claims{SubscriberID: 1, IsPrivileged: true}, want: http.StatusNoContent},
	} {
		req := httptest.NewRequest(http.MethodGet, "/reports", nil)
		req.Header.Set("Authorization", bearer(t, tc.claims))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, tc.want, w.Code)
	}
}

func TestRateLimitByClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := dbtest.Open(t)
	t.Cleanup(func() { internalsettings.StoreDBConfig(time.Time{}, nil) })
	internalsettings.StoreDBConfig(time.Now(), map[string]json.RawMessage{
		internalsettings.RateLimitKey: json.RawMessage(`1`),
	})
	manager := ratelimit.NewManager(ratelimit.WithClock(func() time.Time {
		return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}))

	r := gin.New()
	r.POST("/hook", RateLimit(manager, conn), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/hook", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	first := send("10.0.0.1")
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := send("10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.NotEmpty(t, second.Header().Get("X-RateLimit-Reset"))

	require.Equal(t, http.StatusOK, send("10.0.0.2").Code)
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(RequestIDKey)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Len(t, w.Header().Get(RequestIDHeader), 36)
	require.Equal(t, w.Header().Get(RequestIDHeader), w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "3f1f5d1e-8d0e-4a4c-9a59-3c1b5b8e2d11")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, "3f1f5d1e-8d0e-4a4c-9a59-3c1b5b8e2d11", w.Header().Get(RequestIDHeader))
}
