package router

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"purrcast/internal/handlers"
	"purrcast/internal/middleware"
)

const SessionName = "purrcast_session"

// Options 路由所需的依赖
type Options struct {
	SessionSecret string
	CORSOrigins   []string
	Log           logrus.FieldLogger

	// TrustSubjectHeader honours X-Auth-Subject; set only behind an auth proxy.
	TrustSubjectHeader bool

	Posts          *handlers.PostHandler
	Votes          *handlers.VoteHandler
	Forecast       *handlers.ForecastHandler
	Classification *handlers.ClassificationHandler
	Health         *handlers.HealthHandler
}

func RegisterRoutes(r *gin.Engine, opts Options) {
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(opts.Log))
	r.Use(cors.New(corsConfig(opts.CORSOrigins, opts.TrustSubjectHeader)))
	r.Use(sessions.Sessions(SessionName, cookie.NewStore([]byte(opts.SessionSecret))))
	r.Use(middleware.LoadSubject(opts.TrustSubjectHeader))

	// 运维接口
	r.GET("/healthz", opts.Health.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 公共路由 (Public Routes)
	r.POST("/posts", opts.Posts.Upload)       // 上传，匿名也可以
	r.GET("/posts", opts.Posts.List)          // 最新帖子
	r.GET("/posts/nearby", opts.Posts.Nearby) // 同地区帖子
	r.GET("/posts/:id", opts.Posts.Detail)    // 帖子详情
	r.GET("/forecast", opts.Forecast.Get)     // 猫上头预报

	// 受保护路由 (Protected Routes)
	authorized := r.Group("/")
	authorized.Use(middleware.AuthRequired())
	{
		authorized.GET("/posts/mine", opts.Posts.Mine)
		authorized.GET("/posts/upvoted", opts.Posts.Upvoted)
		authorized.PUT("/posts/:id/upvote", opts.Votes.Upvote)
	}

	// 预测服务回调，token 在 handler 内校验
	internal := r.Group("/internal")
	{
		internal.PUT("/posts/:id/classification", opts.Classification.Record)
	}
}

func corsConfig(origins []string, trustSubjectHeader bool) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, middleware.RequestIDHeader)
	if trustSubjectHeader {
		cfg.AllowHeaders = append(cfg.AllowHeaders, middleware.SubjectHeader)
	}
	cfg.ExposeHeaders = []string{middleware.RequestIDHeader}
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
