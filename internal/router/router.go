package router

import (
	"net/http"
	"strconv"
	"time"

	"flash_sale/internal/config"
	"flash_sale/internal/errcode"
	"flash_sale/internal/identity"
	"flash_sale/internal/middleware"
	"flash_sale/internal/model"
	"flash_sale/internal/seckill"
	"flash_sale/internal/telemetry"
	rediskey "flash_sale/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Deps 是路由层需要的协作者。
type Deps struct {
	Service  *seckill.Service
	Gate     *middleware.Gate
	Sessions *identity.Store
	Config   config.AppConfig
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	svc, cfg := d.Service, d.Config
	admin := middleware.AdminOnly(cfg.AdminToken)
	admit := func(endpoint string) gin.HandlerFunc { return d.Gate.AdmitFor(cfg.Policies, endpoint) }

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	api := r.Group("/api", middleware.Shed(cfg.ShedRPS, cfg.ShedBurst))
	// Products
	api.GET("/products", listProducts(svc))
	api.POST("/products", admin, createProduct(svc))
	// flash Sale
	fs := api.Group("/flash_sale")
	fs.POST("/preload/:product_id", admin, preloadStock(svc))
	fs.GET("/stock/:product_id", getStock(svc))
	fs.GET("/verify_code", admit(config.EndpointVerifyCode), verifyCode(svc))
	fs.GET("/path", admit(config.EndpointPath), getPath(svc))
	fs.POST("/:path/buy", admit(config.EndpointBuy), secKill(svc))
	fs.GET("/result", admit(config.EndpointResult), getResult(svc))
	fs.GET("/metrics", func(c *gin.Context) { ok(c, telemetry.Snapshot()) })
	// Orders
	api.GET("/orders/:order_id", middleware.RequireUser(d.Sessions), getOrder(svc))
	// 开发用：为压测脚本签发会话
	api.POST("/admin/sessions", admin, createSession(d.Sessions))
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
}

// fail 把错误映射为错误码输出，未识别的错误记日志后按服务端异常返回。
func fail(c *gin.Context, err error) {
	e := errcode.From(err)
	if e == errcode.ServerError {
		telemetry.L().Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(e.Status, gin.H{"code": e.Code, "msg": e.Msg})
}

func currentUser(c *gin.Context) identity.User {
	u, _ := identity.FromContext(c.Request.Context())
	return u
}

func productID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errcode.ParamIllegal.WithMsg("商品ID无效")
	}
	return id, nil
}

// listProducts 查询商品列表。
func listProducts(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.ListItems(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, list)
	}
}

// createProduct 创建秒杀商品（含时间窗校验），同时预热库存计数。
func createProduct(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name      string `json:"name" binding:"required"`
			Stock     int64  `json:"stock" binding:"required,min=1"`
			SalePrice int64  `json:"sale_price" binding:"required,min=1"`
			StartTime string `json:"start_time" binding:"required"`
			EndTime   string `json:"end_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, errcode.BindError.WithMsg("%s", err.Error()))
			return
		}
		start, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			fail(c, errcode.BindError.WithMsg("start_time 格式错误，请用 RFC3339"))
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			fail(c, errcode.BindError.WithMsg("end_time 格式错误，请用 RFC3339"))
			return
		}
		it := &model.Item{
			Name:      req.Name,
			Stock:     req.Stock,
			SalePrice: req.SalePrice,
			StartTime: start,
			EndTime:   end,
		}
		if err := svc.CreateItem(c.Request.Context(), it); err != nil {
			fail(c, err)
			return
		}
		ok(c, it)
	}
}

// preloadStock 计数缺失时把 DB 库存补到 Redis，已有计数不覆盖。
func preloadStock(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := productID(c.Param("product_id"))
		if err != nil {
			fail(c, err)
			return
		}
		wrote, err := svc.Preload(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"preloaded": wrote})
	}
}

// getStock 查询 Redis 中的实时库存，未预热时为 0。
func getStock(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := productID(c.Param("product_id"))
		if err != nil {
			fail(c, err)
			return
		}
		n, err := svc.Stock(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"stock": n})
	}
}

// verifyCode 下发算术验证码。
func verifyCode(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := productID(c.Query("product_id"))
		if err != nil {
			fail(c, err)
			return
		}
		body, contentType, err := svc.Challenge(c.Request.Context(), currentUser(c), id)
		if err != nil {
			fail(c, err)
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, contentType, body)
	}
}

// getPath 校验验证码答案，通过后返回秒杀路径。
func getPath(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := productID(c.Query("product_id"))
		if err != nil {
			fail(c, err)
			return
		}
		answer, err := strconv.Atoi(c.Query("verify_code"))
		if err != nil {
			fail(c, errcode.VerifyFail)
			return
		}
		path, err := svc.Path(c.Request.Context(), currentUser(c), id, answer)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, path)
	}
}

// secKill 是秒杀下单入口。
// 关键流程：校验路径 → 活动时间 → 一人一单 → 本地售罄标记 → Redis 预占 → 入队。
// 这里不直接返回订单号，因为落单是异步的。
func secKill(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ProductID int64 `json:"product_id" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, errcode.BindError.WithMsg("%s", err.Error()))
			return
		}
		corr, err := svc.Buy(c.Request.Context(), currentUser(c), req.ProductID, c.Param("path"))
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"status": "queued", "correlation_id": corr})
	}
}

// getResult 轮询秒杀结果：订单号 / -1 失败 / 0 排队中。
func getResult(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := productID(c.Query("product_id"))
		if err != nil {
			fail(c, err)
			return
		}
		res, err := svc.Result(c.Request.Context(), currentUser(c), id)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, res)
	}
}

// getOrder 查询本人订单详情。
func getOrder(svc *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
		if err != nil || id <= 0 {
			fail(c, errcode.OrderNotExist)
			return
		}
		o, err := svc.Order(c.Request.Context(), currentUser(c), id)
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, o)
	}
}

// createSession 为指定用户签发会话令牌。
func createSession(sessions *identity.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID   int64  `json:"user_id" binding:"required,min=1"`
			Nickname string `json:"nickname"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, errcode.BindError.WithMsg("%s", err.Error()))
			return
		}
		token := uuid.NewString()
		u := identity.User{ID: req.UserID, Nickname: req.Nickname}
		if err := sessions.Put(c.Request.Context(), token, u, 0); err != nil {
			fail(c, err)
			return
		}
		identity.SetCookie(c, token, rediskey.SessionPrefix.TTL)
		ok(c, gin.H{"token": token})
	}
}
