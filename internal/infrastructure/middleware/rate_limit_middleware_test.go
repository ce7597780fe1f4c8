package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"officemesh/pkg/config"

	"github.com/gin-gonic/gin"
)

func rateLimitedRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewHTTPRateLimitMiddleware(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func doGet(router *gin.Engine, remoteAddr string) int {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remoteAddr
	router.ServeHTTP(w, req)
	return w.Code
}

func TestHTTPRateLimitDisabledAllowsAll(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = false

	router := rateLimitedRouter(cfg)
	for i := 0; i < 10; i++ {
		if code := doGet(router, "10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("request %d: status %d, want 200", i, code)
		}
	}
}

func TestHTTPRateLimitBlocksOverBurst(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 2

	router := rateLimitedRouter(cfg)

	if code := doGet(router, "10.0.0.1:1234"); code != http.StatusOK {
		t.Fatalf("first request: status %d, want 200", code)
	}
	if code := doGet(router, "10.0.0.1:1234"); code != http.StatusOK {
		t.Fatalf("second request: status %d, want 200", code)
	}
	if code := doGet(router, "10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Fatalf("third request: status %d, want 429", code)
	}
}

func TestHTTPRateLimitIsPerIP(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 1
	cfg.RateLimiting.HTTP.Burst = 1

	router := rateLimitedRouter(cfg)

	if code := doGet(router, "10.0.0.1:1234"); code != http.StatusOK {
		t.Fatalf("first ip: status %d, want 200", code)
	}
	if code := doGet(router, "10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Fatalf("first ip repeat: status %d, want 429", code)
	}
	// A different caller has its own bucket.
	if code := doGet(router, "10.0.0.2:1234"); code != http.StatusOK {
		t.Fatalf("second ip: status %d, want 200", code)
	}
}
