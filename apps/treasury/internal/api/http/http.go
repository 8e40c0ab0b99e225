package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
	"stakex.com/apps/treasury/internal/api/handler"
	"stakex.com/apps/treasury/internal/api/http/router"
	"stakex.com/pkg/middleware"
	"stakex.com/pkg/ratelimit"
)

type Options struct {
	Addr        string
	ServiceName string
	RateLimit   float64 // 每个 ip+路由每秒请求数
	Burst       int
}

// NewEngine 组装中间件和路由，测试直接用 engine 跑 httptest
// ctx 取消后限流 janitor 退出
func NewEngine(ctx context.Context, opt Options, h *handler.Treasury) *gin.Engine {
	store := ratelimit.NewStore(rate.Limit(opt.RateLimit), opt.Burst, 10*time.Minute)
	store.StartJanitor(ctx, time.Minute)

	r := gin.New()
	// 请求指标挂在 /metrics，业务指标走默认 registry 一起暴露
	p := ginprom.NewPrometheus("stakex")
	p.Use(r)
	r.Use(
		otelgin.Middleware(opt.ServiceName),
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
		middleware.RateLimit(store),
	)
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	api := r.Group("/api")
	router.Treasury(api, h)
	return r
}

func NewServer(ctx context.Context, opt Options, h *handler.Treasury) *http.Server {
	return &http.Server{
		Addr:           opt.Addr,
		Handler:        NewEngine(ctx, opt, h),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second, // 分发批次可能比较慢
		MaxHeaderBytes: 1 << 20,
	}
}
