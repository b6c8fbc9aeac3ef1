// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"prompt-forge-go/internal/service"
	"prompt-forge-go/pkg/log"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 校验 Authorization 头中的 access token，并把用户存入上下文。
func AuthMiddleware(userService service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含授权头"})
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的授权头格式"})
			return
		}

		user, err := userService.Authenticate(c.Request.Context(), strings.TrimPrefix(authHeader, bearerPrefix))
		if err != nil {
			log.Debugf("AuthMiddleware: rejected token, error: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token"})
			return
		}

		c.Set("user", user)
		c.Next()
	}
}
