package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flash_sale/internal/testutil"
	rediskey "flash_sale/pkg/redis"

	"github.com/gin-gonic/gin"
)

func TestStoreResolve(t *testing.T) {
	mr, rdb := testutil.NewTestRedis(t)
	ctx := context.Background()
	s := NewStore(rediskey.NewCache(rdb))

	if _, ok, err := s.Resolve(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected unknown token, got ok=%v err=%v", ok, err)
	}
	if err := s.Put(ctx, "abc", User{ID: 7, Nickname: "u7"}, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	u, ok, err := s.Resolve(ctx, "abc")
	if err != nil || !ok || u.ID != 7 {
		t.Fatalf("expected user 7, got %+v ok=%v err=%v", u, ok, err)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := s.Resolve(ctx, "abc"); ok {
		t.Fatalf("expected session to expire")
	}
}

func TestTokenFrom(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{name: "bearer", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer t1") }, want: "t1"},
		{name: "cookie", setup: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "token", Value: "t2"}) }, want: "t2"},
		{name: "query", setup: func(r *http.Request) { r.URL.RawQuery = "token=t3" }, want: "t3"},
		{name: "header wins", setup: func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer t1")
			r.URL.RawQuery = "token=t3"
		}, want: "t1"},
		{name: "none", setup: func(r *http.Request) {}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(c.Request)
			if got := TokenFrom(c); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestAttach(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, rdb := testutil.NewTestRedis(t)
	s := NewStore(rediskey.NewCache(rdb))
	if err := s.Put(context.Background(), "tok", User{ID: 9}, 0); err != nil {
		t.Fatalf("put: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?token=tok", nil)

	u, ok := Attach(c, s)
	if !ok || u.ID != 9 {
		t.Fatalf("expected user 9, got %+v ok=%v", u, ok)
	}
	got, ok := FromContext(c.Request.Context())
	if !ok || got.ID != 9 {
		t.Fatalf("expected user in request context, got %+v", got)
	}
}
