package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	rd "github.com/redis/go-redis/v9"
)

// Cache 是按前缀命名空间访问的 KV 缓存。
// 整数与字符串按原文存储（INCR/DECR 与 Lua 可直接操作），其余类型存 JSON。
type Cache struct {
	rdb *rd.Client
}

func NewCache(rdb *rd.Client) *Cache { return &Cache{rdb: rdb} }

// Get 读取 prefix+key。found=false 表示键不存在，与存储的零值可区分。
func Get[T any](ctx context.Context, c *Cache, p KeyPrefix, key string) (T, bool, error) {
	var out T
	raw, err := c.rdb.Get(ctx, p.Key(key)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return out, false, nil
		}
		return out, false, err
	}
	if err := decode(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode %s: %w", p.Key(key), err)
	}
	return out, true, nil
}

// Set 写入 prefix+key，过期时间取前缀的 TTL。
func (c *Cache) Set(ctx context.Context, p KeyPrefix, key string, value any) error {
	v, err := encode(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, p.Key(key), v, ttlOf(p)).Err()
}

// SetNX 仅在键不存在时写入，返回是否写入成功。
func (c *Cache) SetNX(ctx context.Context, p KeyPrefix, key string, value any) (bool, error) {
	v, err := encode(value)
	if err != nil {
		return false, err
	}
	return c.rdb.SetNX(ctx, p.Key(key), v, ttlOf(p)).Result()
}

// Incr 原子自增。
func (c *Cache) Incr(ctx context.Context, p KeyPrefix, key string) (int64, error) {
	return c.rdb.Incr(ctx, p.Key(key)).Result()
}

// Decr 原子自减。
func (c *Cache) Decr(ctx context.Context, p KeyPrefix, key string) (int64, error) {
	return c.rdb.Decr(ctx, p.Key(key)).Result()
}

func (c *Cache) Exists(ctx context.Context, p KeyPrefix, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, p.Key(key)).Result()
	return n > 0, err
}

// Delete 删除键，返回键此前是否存在。
func (c *Cache) Delete(ctx context.Context, p KeyPrefix, key string) (bool, error) {
	n, err := c.rdb.Del(ctx, p.Key(key)).Result()
	return n > 0, err
}

func ttlOf(p KeyPrefix) time.Duration {
	if p.TTL <= 0 {
		return 0
	}
	return p.TTL
}

func encode(value any) (any, error) {
	switch v := value.(type) {
	case string, []byte, int, int32, int64, uint, uint32, uint64, bool:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %T: %w", value, err)
		}
		return b, nil
	}
}

func decode(raw string, out any) error {
	switch p := out.(type) {
	case *string:
		*p = raw
	case *int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*p = n
	case *int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		*p = n
	case *bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*p = b
	default:
		return json.Unmarshal([]byte(raw), out)
	}
	return nil
}
