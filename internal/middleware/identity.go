package middleware

import (
	"crypto/subtle"

	"flash_sale/internal/errcode"
	"flash_sale/internal/identity"

	"github.com/gin-gonic/gin"
)

// Identity 解析令牌并写入 request context，不强制登录。
func Identity(r identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity.Attach(c, r)
		c.Next()
	}
}

// RequireUser 要求已登录。
func RequireUser(r identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := identity.Attach(c, r); !ok {
			Abort(c, errcode.SessionError)
			return
		}
		c.Next()
	}
}

// AdminOnly 校验 X-Admin-Token。
func AdminOnly(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Admin-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			Abort(c, errcode.Unauthorized)
			return
		}
		c.Next()
	}
}
