package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRouter serves GET /scripts behind the given middleware.
func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/scripts", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"scripts": []string{}})
	})
	return r
}

// hit sends one request from addr.
func hit(r http.Handler, method, addr string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/scripts", nil)
	req.RemoteAddr = addr
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	r := newRouter(CORS(DefaultCORSConfig()))
	origin := http.Header{"Origin": {"http://localhost:5173"}}

	t.Run("simple request", func(t *testing.T) {
		w := hit(r, http.MethodGet, "10.0.0.1:1", origin)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, strings.ToLower(w.Header().Get("Access-Control-Expose-Headers")), "x-request-id")
	})

	t.Run("preflight", func(t *testing.T) {
		h := origin.Clone()
		h.Set("Access-Control-Request-Method", http.MethodPut)
		w := hit(r, http.MethodOptions, "10.0.0.1:1", h)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPut)
	})

	t.Run("same origin", func(t *testing.T) {
		w := hit(r, http.MethodGet, "10.0.0.1:1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRateLimitPerClient(t *testing.T) {
	r := newRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))

	tests := []struct {
		addr string
		want int
	}{
		{"10.0.0.1:1000", http.StatusOK},
		{"10.0.0.1:1001", http.StatusOK},
		{"10.0.0.2:1000", http.StatusOK},
		{"10.0.0.1:1002", http.StatusTooManyRequests},
		{"10.0.0.2:1001", http.StatusOK},
		{"10.0.0.2:1002", http.StatusTooManyRequests},
	}
	for i, tt := range tests {
		w := hit(r, http.MethodGet, tt.addr, nil)
		assert.Equal(t, tt.want, w.Code, "request %d from %s", i+1, tt.addr)
	}

	w := hit(r, http.MethodGet, "10.0.0.1:1003", nil)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
}

func TestGlobalRateLimit(t *testing.T) {
	r := newRouter(GlobalRateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))

	assert.Equal(t, http.StatusOK, hit(r, http.MethodGet, "10.0.0.1:1", nil).Code)
	assert.Equal(t, http.StatusOK, hit(r, http.MethodGet, "10.0.0.2:1", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(r, http.MethodGet, "10.0.0.3:1", nil).Code)
}

func TestDefaults(t *testing.T) {
	cors := DefaultCORSConfig()
	assert.Equal(t, []string{"*"}, cors.AllowOrigins)
	assert.Contains(t, cors.AllowMethods, http.MethodDelete)
	assert.Contains(t, cors.AllowHeaders, RequestIDHeader)
	assert.False(t, cors.AllowCredentials)

	assert.Equal(t, RateLimitConfig{RequestsPerSecond: 100, Burst: 200}, DefaultRateLimitConfig())
}

func TestRequestID(t *testing.T) {
	var seen string
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/scripts", func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusOK)
	})

	w := hit(r, http.MethodGet, "10.0.0.1:1", nil)
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	inbound := uuid.NewString()
	hit(r, http.MethodGet, "10.0.0.1:1", http.Header{RequestIDHeader: {inbound}})
	assert.Equal(t, inbound, seen)

	hit(r, http.MethodGet, "10.0.0.1:1", http.Header{RequestIDHeader: {"<script>"}})
	assert.NotEqual(t, "<script>", seen, "malformed ids are replaced")
}
