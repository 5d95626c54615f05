package middleware

import (
	"flash_sale/internal/errcode"
	"flash_sale/internal/telemetry"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Shed 进程内令牌桶削峰，在访问 Redis 之前挡掉超出本机处理能力的请求。
// rps<=0 时不启用。
func Shed(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !lim.Allow() {
			telemetry.Metrics.Shed.Inc()
			Abort(c, errcode.Overloaded)
			return
		}
		c.Next()
	}
}
