package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisRateLimitMiddleware_FixedWindow(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})

	// allowed per window = floor(1*1)+2 = 3
	r := limitedRouter(RedisRateLimitMiddleware(client, 1, 2, time.Second))

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.2.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	require.Equal(t, http.StatusOK, codes[2])
	require.Equal(t, http.StatusTooManyRequests, codes[3])
	require.Equal(t, http.StatusTooManyRequests, codes[4])
}

func TestRedisRateLimitMiddleware_NilClientFallsBack(t *testing.T) {
	r := limitedRouter(RedisRateLimitMiddleware(nil, 1, 3, time.Second))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.2.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
