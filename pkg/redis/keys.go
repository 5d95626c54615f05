package redis

import (
	"fmt"
	"time"
)

// KeyPrefix 为一类缓存键提供命名空间与默认过期时间，TTL<=0 表示不过期。
type KeyPrefix struct {
	Prefix string
	TTL    time.Duration
}

// Key 拼接出真实的 Redis 键。
func (p KeyPrefix) Key(key string) string { return p.Prefix + key }

// WithTTL 复制前缀并替换过期时间。
func (p KeyPrefix) WithTTL(ttl time.Duration) KeyPrefix {
	return KeyPrefix{Prefix: p.Prefix, TTL: ttl}
}

// 按语义划分的键前缀。TTL 在装配时按配置通过 WithTTL 覆盖。
var (
	AccessPrefix       = KeyPrefix{Prefix: "flash_sale:access:"}
	VerifyResultPrefix = KeyPrefix{Prefix: "flash_sale:verify:", TTL: 300 * time.Second}
	PathPrefix         = KeyPrefix{Prefix: "flash_sale:path:", TTL: 60 * time.Second}
	StockPrefix        = KeyPrefix{Prefix: "flash_sale:stock:", TTL: 24 * time.Hour}
	OrderIndexPrefix   = KeyPrefix{Prefix: "flash_sale:order:", TTL: 24 * time.Hour}
	SoldOutPrefix      = KeyPrefix{Prefix: "flash_sale:over:", TTL: 24 * time.Hour}
	SessionPrefix      = KeyPrefix{Prefix: "flash_sale:tk:", TTL: 2 * 24 * time.Hour}
	FulfillmentPrefix  = KeyPrefix{Prefix: "flash_sale:fulfill:", TTL: 24 * time.Hour}
	CompensatedPrefix  = KeyPrefix{Prefix: "flash_sale:stock:compensated:", TTL: 7 * 24 * time.Hour}
	LockPrefix         = KeyPrefix{Prefix: "flash_sale:lock:"}
)

// StockKey 统一约定商品库存键名。
func StockKey(itemID int64) string {
	return StockPrefix.Key(ItemKey(itemID))
}

// ItemKey 商品维度的业务键。
func ItemKey(itemID int64) string {
	return fmt.Sprintf("%d", itemID)
}

// UserItemKey (user, item) 维度的业务键：验证码、秒杀路径、订单索引都按它隔离。
func UserItemKey(userID, itemID int64) string {
	return fmt.Sprintf("%d_%d", userID, itemID)
}

// AccessKey 限流计数键：接口 key + 身份（用户或 URI）。
func AccessKey(endpoint, identity string) string {
	return endpoint + ":" + identity
}
