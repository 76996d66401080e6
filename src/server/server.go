package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	app "dermalyze/src/app"
	cfg "dermalyze/src/configuration"
)

func RunServer(config *cfg.Properties) {
	if !config.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())

	// Top-level boundary: an uncaught panic anywhere in a handler yields
	// the generic recovery payload instead of a blank response.
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error().Interface("panic", recovered).Str("path", c.Request.URL.Path).Msg("recovered from panic")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  "Something went wrong. Please reload the application.",
			"action": actionReload,
		})
	}))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     config.Server.CorsOrigins,
		AllowMethods:     []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "Cache-Control"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	clientS3, err := app.NewImageStore(
		config.S3.Host,
		config.S3.AccessKey,
		config.S3.SecretKey,
		config.S3.Bucket,
		config.S3.UseSSL)
	if err != nil {
		log.Error().Err(err).Msg("could not connect to minio, image uploads disabled")
	}

	handler, err := NewHandler(config, clientS3)
	if err != nil {
		log.Fatal().Err(err).Msg("can not initialize handlers")
	}

	registerRoutes(router, handler)

	if config.Server.Debug {
		pprof.Register(router, "/debug/pprof")
	}

	log.Info().Str("port", config.Server.Port).Msg("starting server")
	if err := router.Run(fmt.Sprintf(":%s", config.Server.Port)); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

// Register Routes
func registerRoutes(router *gin.Engine, handler *AppHandler) {
	router.GET("/health", handler.GetHealth)
	router.GET("/session", handler.Bootstrap)

	router.POST("/auth/login", handler.Login)
	router.POST("/auth/signup", handler.Signup)
	router.POST("/auth/forgot-password", handler.ForgotPassword)
	router.POST("/auth/reset-password", handler.ResetPassword)
	router.POST("/auth/resend-verification", handler.ResendVerification)
	router.POST("/auth/logout/request", handler.RequestLogout)
	router.POST("/auth/logout/confirm", handler.ConfirmLogout)
	router.POST("/auth/logout/cancel", handler.CancelLogout)

	router.GET("/nav", handler.GetNav)
	router.POST("/nav/event", handler.PostNavEvent)

	router.POST("/analysis/image", handler.SelectImage)
	router.DELETE("/analysis/image", handler.ClearImage)
	router.POST("/analysis/run", handler.RunAnalysis)
	router.GET("/analysis/results", handler.GetResults)

	router.GET("/history", handler.GetHistory)
	router.POST("/history/select", handler.SelectHistoryItem)
	router.GET("/stats", handler.GetStats)
	router.GET("/classes", handler.GetClassInfo)

	router.GET("/profile", handler.GetProfile)
	router.GET("/profile/images", handler.GetProfileImages)
	router.PUT("/profile", handler.UpdateProfile)
	router.DELETE("/profile", handler.DeleteAccount)

	router.NoRoute(func(ctx *gin.Context) { ctx.JSON(http.StatusNotFound, gin.H{}) })
}
