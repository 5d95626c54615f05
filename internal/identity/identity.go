package identity

import (
	"context"
	"net/http"
	"strings"
	"time"

	rediskey "flash_sale/pkg/redis"

	"github.com/gin-gonic/gin"
)

// User 是会话里保存的登录用户。
type User struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
}

// Resolver 把令牌解析为用户；ok=false 表示令牌无效或已过期。
type Resolver interface {
	Resolve(ctx context.Context, token string) (User, bool, error)
}

// Store 基于 Redis 的会话存储，键为 tk:<token>。
type Store struct {
	cache *rediskey.Cache
}

func NewStore(cache *rediskey.Cache) *Store { return &Store{cache: cache} }

func (s *Store) Resolve(ctx context.Context, token string) (User, bool, error) {
	if token == "" {
		return User{}, false, nil
	}
	u, found, err := rediskey.Get[User](ctx, s.cache, rediskey.SessionPrefix, token)
	if err != nil || !found {
		return User{}, false, err
	}
	return u, u.ID > 0, nil
}

// Put 写入会话；ttl<=0 时使用默认过期时间。
func (s *Store) Put(ctx context.Context, token string, u User, ttl time.Duration) error {
	p := rediskey.SessionPrefix
	if ttl > 0 {
		p = p.WithTTL(ttl)
	}
	return s.cache.Set(ctx, p, token, u)
}

// TokenFrom 依次从 Authorization: Bearer、cookie token、query token 取令牌。
func TokenFrom(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok && t != "" {
			return strings.TrimSpace(t)
		}
	}
	if ck, err := c.Cookie("token"); err == nil && ck != "" {
		return ck
	}
	return c.Query("token")
}

type ctxKey struct{}

// WithUser 把用户放进 context，后续各层显式取出。
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

func FromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}

// Attach 解析请求身份并写回 request context；解析失败时按匿名处理。
func Attach(c *gin.Context, r Resolver) (User, bool) {
	if u, ok := FromContext(c.Request.Context()); ok {
		return u, true
	}
	u, ok, err := r.Resolve(c.Request.Context(), TokenFrom(c))
	if err != nil || !ok {
		return User{}, false
	}
	c.Request = c.Request.WithContext(WithUser(c.Request.Context(), u))
	return u, true
}

// SetCookie 下发会话 cookie。
func SetCookie(c *gin.Context, token string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie("token", token, int(ttl.Seconds()), "/", "", false, true)
}
