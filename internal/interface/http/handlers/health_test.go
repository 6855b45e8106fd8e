package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCompositeHealthChecker(t *testing.T) {
	t.Run("no checks", func(t *testing.T) {
		status := NewCompositeHealthChecker("v1").Check(context.Background())
		assert.True(t, status.Healthy)
		assert.True(t, status.Ready)
		assert.Equal(t, "No health checks registered", status.Message)
	})

	t.Run("optional failure only degrades", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.AddCheck("postgres", NewPingCheck(pingerFunc(func(context.Context) error { return nil })))
		c.AddOptionalCheck("redis", func(context.Context) error { return errors.New("dial tcp: refused") })

		status := c.Check(context.Background())
		assert.False(t, status.Healthy)
		assert.True(t, status.Ready)
		assert.Equal(t, "Some checks failed: redis", status.Message)
		assert.Equal(t, "dial tcp: refused", status.Checks["redis"].Message)
		assert.True(t, status.Checks["postgres"].Critical)
	})

	t.Run("critical failure", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.AddCheck("postgres", func(context.Context) error { return errors.New("down") })
		c.AddOptionalCheck("redis", func(context.Context) error { return errors.New("down") })

		status := c.Check(context.Background())
		assert.False(t, status.Ready)
		assert.Equal(t, "Some checks failed: postgres, redis", status.Message)
	})

	t.Run("timeout", func(t *testing.T) {
		c := NewCompositeHealthChecker("v1")
		c.SetTimeout(10 * time.Millisecond)
		c.AddCheck("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

		status := c.Check(context.Background())
		assert.False(t, status.Ready)
		assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"].Message)
	})
}

func TestAPIKeyAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name   string
		keys   []string
		header string
		value  string
		want   int
	}{
		{"disabled", nil, "", "", http.StatusNoContent},
		{"blank keys disable", []string{" ", ""}, "", "", http.StatusNoContent},
		{"missing", []string{"k1"}, "", "", http.StatusUnauthorized},
		{"wrong", []string{"k1"}, "X-API-Key", "nope", http.StatusUnauthorized},
		{"header", []string{"k1", "k2"}, "X-API-Key", "k2", http.StatusNoContent},
		{"bearer", []string{"k1"}, "Authorization", "Bearer k1", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAPIKeyAuth("X-API-Key", tt.keys).Middleware(ok)
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }), mw("outer"), mw("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestRequestSizeLimit(t *testing.T) {
	h := RequestSizeLimitMiddleware(4)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.ContentLength = 5
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
