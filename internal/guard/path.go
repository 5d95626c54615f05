package guard

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	rediskey "flash_sale/pkg/redis"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// IssuePath 生成新的秒杀路径并覆盖旧值，同一 (user, item) 只有最新一条有效。
func (g *Guard) IssuePath(ctx context.Context, userID, itemID int64) (string, error) {
	if userID <= 0 || itemID <= 0 {
		return "", ErrInvalidRequest
	}
	h, err := blake2b.New256(g.key)
	if err != nil {
		return "", fmt.Errorf("path hash: %w", err)
	}
	id := uuid.New()
	h.Write(id[:])
	path := hex.EncodeToString(h.Sum(nil))

	if err := g.cache.Set(ctx, g.path, rediskey.UserItemKey(userID, itemID), path); err != nil {
		return "", fmt.Errorf("store path: %w", err)
	}
	return path, nil
}

// VerifyPath 比对路径，不删除；路径为空或不存在返回 false。
func (g *Guard) VerifyPath(ctx context.Context, userID, itemID int64, path string) (bool, error) {
	if userID <= 0 || itemID <= 0 || path == "" {
		return false, nil
	}
	stored, err := g.rdb.Get(ctx, g.path.Key(rediskey.UserItemKey(userID, itemID))).Result()
	if errors.Is(err, rd.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("verify path: %w", err)
	}
	return stored == path, nil
}
