package middlewares

import (
	"errors"
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// SessionMiddleware puts the acting user name on the request context so history
// rows can name who made a change. Sign-in happens upstream: a gateway either
// forwards the name in X-User-Name or a session token that resolves through redis.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if name := strings.TrimSpace(c.GetHeader("X-User-Name")); name != "" {
			c.Request = c.Request.WithContext(utils.SetUsernameInContext(c.Request.Context(), name))
			c.Next()
			return
		}

		token := c.Request.Header.Get("token")
		rdb := config.GetRedisDB()
		if token == "" || rdb == nil {
			c.Next()
			return
		}
		username, err := rdb.Get(c.Request.Context(), "Token:"+token).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				config.LogError(config.GetLogger(), "middlewares", "SessionMiddleware", "lookup session token", nil, err)
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(utils.SetUsernameInContext(c.Request.Context(), username))
		c.Next()
	}
}
