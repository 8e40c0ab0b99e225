package router

import (
	"github.com/gin-gonic/gin"
	"stakex.com/apps/treasury/internal/api/handler"
)

func Treasury(api *gin.RouterGroup, h *handler.Treasury) {
	treasury := api.Group("/treasury")
	{
		treasury.POST("/init", h.Init)
		treasury.POST("/fund", h.Fund)
		treasury.GET("/scan", h.Scan)
		treasury.POST("/distribute", h.Distribute)
		treasury.GET("/status", h.Status)
		treasury.POST("/pause", h.Pause)
		treasury.POST("/resume", h.Resume)
		treasury.GET("/projection", h.Projection)
	}
}
