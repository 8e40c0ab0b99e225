package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"stakex.com/pkg/common"
	"stakex.com/pkg/logger"
)

func ReqId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(common.HeaderRequestID)
		if rid == "" {
			rid = common.New()
		}
		c.Set(common.CtxKeyRequestID, rid)
		c.Header(common.HeaderRequestID, rid)
		// 写进 request context，service 层日志会自动带上 request_id
		ctx := context.WithValue(c.Request.Context(), logger.RequestIdKey, rid)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
