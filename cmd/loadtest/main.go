package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"flash_sale/internal/guard"

	json "github.com/goccy/go-json"
)

// Result 记录单个用户一次完整抢购的结果，便于聚合统计。
type Result struct {
	Stage   string // 失败发生的阶段，成功时为 "result"
	Status  int    // 该阶段的 HTTP 状态码
	Code    int    // 业务码
	OrderID int64  // >0 下单成功，-1 失败，0 仍在排队
	Err     error
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type client struct {
	http       *http.Client
	base       string
	adminToken string
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	productID := flag.Int64("product", 1, "product id")
	preload := flag.Bool("preload", true, "call preload before test")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token for preload and session endpoints")
	stockCheck := flag.Bool("stock", true, "check redis stock after test")
	polls := flag.Int("polls", 20, "result polls per user")

	// 超卖测试参数：200 个用户并发抢
	nUsers := flag.Int("users", 200, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	cl := &client{http: &http.Client{Timeout: 5 * time.Second}, base: *baseURL, adminToken: *adminToken}

	if *preload {
		// 计数已存在时服务端不会覆盖
		if _, err := cl.do(http.MethodPost, fmt.Sprintf("/api/flash_sale/preload/%d", *productID), "", nil, true); err != nil {
			panic(fmt.Sprintf("preload failed: %v", err))
		}
		fmt.Println("preload ok")
	}

	// 1) 不超卖测试：不同 user 并发走完整流程
	fmt.Printf("start oversell test: product=%d users=%d concurrency=%d\n", *productID, *nUsers, *concurrency)
	results := runUsers(*nUsers, *concurrency, func(idx int) Result {
		return cl.purchase(int64(idx+1), *productID, *polls)
	})
	printSummary("oversell", results)

	if *stockCheck {
		stock, err := cl.stock(*productID)
		if err != nil {
			fmt.Println("stock check err:", err)
		} else {
			fmt.Println("final redis stock:", stock)
		}
	}

	// 2) 限流测试：同一用户反复申请秒杀路径，默认策略 5 秒 5 次
	fmt.Println("\nstart rate limit test: same user (10001), 20 path requests")
	tok, err := cl.session(10001)
	if err != nil {
		panic(fmt.Sprintf("session failed: %v", err))
	}
	results2 := runUsers(20, 20, func(int) Result {
		path := fmt.Sprintf("/api/flash_sale/path?product_id=%d&verify_code=0", *productID)
		st, env, err := cl.call(http.MethodGet, path, tok, nil, false)
		return Result{Stage: "path", Status: st, Code: env.Code, Err: err}
	})
	printSummary("rate_limit", results2)
}

func runUsers(total, concurrency int, fn func(idx int) Result) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = fn(idx)
		}(i)
	}

	wg.Wait()
	return results
}

// purchase 会话 → 验证码 → 秒杀路径 → 下单 → 轮询结果。
func (cl *client) purchase(userID, productID int64, polls int) Result {
	tok, err := cl.session(userID)
	if err != nil {
		return Result{Stage: "session", Err: err}
	}

	q := "?product_id=" + strconv.FormatInt(productID, 10)
	st, raw, err := cl.raw(http.MethodGet, "/api/flash_sale/verify_code"+q, tok)
	if err != nil || st != http.StatusOK {
		return Result{Stage: "verify_code", Status: st, Err: err}
	}
	answer, err := guard.Eval(string(raw))
	if err != nil {
		return Result{Stage: "verify_code", Status: st, Err: err}
	}

	st, env, err := cl.call(http.MethodGet, fmt.Sprintf("/api/flash_sale/path%s&verify_code=%d", q, answer), tok, nil, false)
	if err != nil || st != http.StatusOK {
		return Result{Stage: "path", Status: st, Code: env.Code, Err: err}
	}
	var path string
	_ = json.Unmarshal(env.Data, &path)

	st, env, err = cl.call(http.MethodPost, "/api/flash_sale/"+path+"/buy", tok, map[string]int64{"product_id": productID}, false)
	if err != nil || st != http.StatusOK {
		return Result{Stage: "buy", Status: st, Code: env.Code, Err: err}
	}

	for i := 0; i < polls; i++ {
		st, env, err = cl.call(http.MethodGet, "/api/flash_sale/result"+q, tok, nil, false)
		if err != nil || st != http.StatusOK {
			return Result{Stage: "result", Status: st, Code: env.Code, Err: err}
		}
		var id int64
		_ = json.Unmarshal(env.Data, &id)
		if id != 0 {
			return Result{Stage: "result", Status: st, OrderID: id}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return Result{Stage: "result", Status: http.StatusOK}
}

// printSummary 聚合输出各阶段状态码与最终结果分布。
func printSummary(name string, results []Result) {
	byStage := map[string]int{}
	errCount, ordered, failed, queued := 0, 0, 0, 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		byStage[fmt.Sprintf("%s %d/%d", r.Stage, r.Status, r.Code)]++
		if r.Stage == "result" {
			switch {
			case r.OrderID > 0:
				ordered++
			case r.OrderID < 0:
				failed++
			default:
				queued++
			}
		}
	}

	keys := make([]string, 0, len(byStage))
	for k := range byStage {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("[%s] stage http/code summary:\n", name)
	for _, k := range keys {
		fmt.Printf("  %s -> %d\n", k, byStage[k])
	}
	if ordered+failed+queued > 0 {
		fmt.Printf("  orders=%d failed=%d still_queued=%d\n", ordered, failed, queued)
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

func (cl *client) session(userID int64) (string, error) {
	env, err := cl.do(http.MethodPost, "/api/admin/sessions", "", map[string]int64{"user_id": userID}, true)
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// stock 查询 Redis 中当前库存，用于压测后校验是否出现超卖。
func (cl *client) stock(productID int64) (int64, error) {
	env, err := cl.do(http.MethodGet, fmt.Sprintf("/api/flash_sale/stock/%d", productID), "", nil, false)
	if err != nil {
		return 0, err
	}
	var out struct {
		Stock int64 `json:"stock"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return 0, err
	}
	return out.Stock, nil
}

// do 发送请求，非 2xx 视为错误。
func (cl *client) do(method, path, token string, body any, admin bool) (envelope, error) {
	st, env, err := cl.call(method, path, token, body, admin)
	if err != nil {
		return env, err
	}
	if st >= 300 {
		return env, fmt.Errorf("status=%d code=%d msg=%s", st, env.Code, env.Msg)
	}
	return env, nil
}

func (cl *client) call(method, path, token string, body any, admin bool) (int, envelope, error) {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, cl.base+path, r)
	if err != nil {
		return 0, envelope{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if admin {
		req.Header.Set("X-Admin-Token", cl.adminToken)
	}
	resp, err := cl.http.Do(req)
	if err != nil {
		return 0, envelope{}, err
	}
	defer resp.Body.Close()

	var env envelope
	b, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(b, &env)
	return resp.StatusCode, env, nil
}

// raw 返回原始响应体，验证码接口不是 JSON。
func (cl *client) raw(method, path, token string) (int, []byte, error) {
	req, err := http.NewRequest(method, cl.base+path, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := cl.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}
