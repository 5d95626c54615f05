// Package guard 实现秒杀前的两道防线：算术验证码与一次性秒杀路径。
package guard

import (
	"errors"
	"fmt"
	"time"

	rediskey "flash_sale/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

var ErrInvalidRequest = errors.New("invalid challenge request")

// Guard 持有验证码答案与秒杀路径的 Redis 存储。
type Guard struct {
	rdb      *rd.Client
	cache    *rediskey.Cache
	verify   rediskey.KeyPrefix
	path     rediskey.KeyPrefix
	key      []byte
	renderer Renderer
}

type Option func(*Guard)

// WithRenderer 替换验证码的展示方式，默认输出表达式文本。
func WithRenderer(r Renderer) Option {
	return func(g *Guard) { g.renderer = r }
}

// New 创建 Guard。secret 作为路径摘要的密钥，超过 64 字节时先做一次摘要。
func New(rdb *rd.Client, secret string, verifyTTL, pathTTL time.Duration, opts ...Option) (*Guard, error) {
	if secret == "" {
		return nil, fmt.Errorf("path secret must not be empty")
	}
	key := []byte(secret)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum512(key)
		key = sum[:]
	}
	g := &Guard{
		rdb:      rdb,
		cache:    rediskey.NewCache(rdb),
		verify:   rediskey.VerifyResultPrefix.WithTTL(verifyTTL),
		path:     rediskey.PathPrefix.WithTTL(pathTTL),
		key:      key,
		renderer: TextRenderer{},
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}
