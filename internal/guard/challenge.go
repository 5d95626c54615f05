package guard

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"

	rediskey "flash_sale/pkg/redis"
)

// luaCheckAnswer 取出答案、比较、删除在一个脚本里完成，同一答案只能用一次。
// 返回 1 匹配，0 不匹配，-1 不存在；只有匹配时才删除，答错可以重试。
const luaCheckAnswer = `
local v = redis.call('GET', KEYS[1])
if not v then
  return -1
end
if v == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`

const challengeOps = "+-*"

// Challenge 是下发给用户的算术题。
type Challenge struct {
	Expr   string
	Answer int
}

// NewChallenge 生成三个 0-9 的数字与两个运算符组成的表达式。
func NewChallenge() Challenge {
	a, b, c := rand.IntN(10), rand.IntN(10), rand.IntN(10)
	op1 := challengeOps[rand.IntN(len(challengeOps))]
	op2 := challengeOps[rand.IntN(len(challengeOps))]
	expr := fmt.Sprintf("%d%c%d%c%d", a, op1, b, op2, c)
	n, _ := Eval(expr)
	return Challenge{Expr: expr, Answer: n}
}

// IssueChallenge 为 (user, item) 生成新题目并保存答案，同时作废已有的秒杀路径。
// 返回渲染后的题目。
func (g *Guard) IssueChallenge(ctx context.Context, userID, itemID int64) ([]byte, string, error) {
	if userID <= 0 || itemID <= 0 {
		return nil, "", ErrInvalidRequest
	}
	ch := NewChallenge()
	key := rediskey.UserItemKey(userID, itemID)

	pipe := g.rdb.TxPipeline()
	pipe.Set(ctx, g.verify.Key(key), ch.Answer, g.verify.TTL)
	pipe.Del(ctx, g.path.Key(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, "", fmt.Errorf("store challenge: %w", err)
	}

	body, contentType, err := g.renderer.Render(ch)
	if err != nil {
		return nil, "", fmt.Errorf("render challenge: %w", err)
	}
	return body, contentType, nil
}

// CheckChallenge 校验答案并删除，参数非法、题目不存在或答案错误均返回 false。
func (g *Guard) CheckChallenge(ctx context.Context, userID, itemID int64, answer int) (bool, error) {
	if userID <= 0 || itemID <= 0 {
		return false, nil
	}
	key := g.verify.Key(rediskey.UserItemKey(userID, itemID))
	n, err := g.rdb.Eval(ctx, luaCheckAnswer, []string{key}, strconv.Itoa(answer)).Int()
	if err != nil {
		return false, fmt.Errorf("check challenge: %w", err)
	}
	return n == 1, nil
}

// Eval 计算只含个位数字与 + - * 的表达式，乘法优先。
func Eval(expr string) (int, error) {
	if len(expr) == 0 || len(expr)%2 == 0 {
		return 0, fmt.Errorf("malformed expression %q", expr)
	}
	digit := func(i int) (int, error) {
		ch := expr[i]
		if ch < '0' || ch > '9' {
			return 0, fmt.Errorf("malformed expression %q", expr)
		}
		return int(ch - '0'), nil
	}

	sum := 0
	term, err := digit(0)
	if err != nil {
		return 0, err
	}
	sign := 1
	for i := 1; i < len(expr); i += 2 {
		d, err := digit(i + 1)
		if err != nil {
			return 0, err
		}
		switch expr[i] {
		case '*':
			term *= d
		case '+', '-':
			sum += sign * term
			sign = 1
			if expr[i] == '-' {
				sign = -1
			}
			term = d
		default:
			return 0, fmt.Errorf("unknown operator %q in %q", expr[i], expr)
		}
	}
	return sum + sign*term, nil
}
