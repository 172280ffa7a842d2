package http

import (
	"github.com/gin-gonic/gin"

	"docqa/internal/bootstrap"
	"docqa/internal/transport/http/handler"
	"docqa/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	checks := make(map[string]handler.Check)
	for name, fn := range app.HealthChecks() {
		checks[name] = handler.Check(fn)
	}

	return newRouter(routes{
		ginMode:        app.Config.App.GinMode,
		jwtSecret:      app.Config.Auth.JWTSecret,
		maxUploadBytes: int64(app.Config.App.MaxUploadMB) << 20,
		auth:           handler.NewAuthHandler(app.Auth),
		health:         handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, checks),
		documents:      app.Documents,
		qa:             app.QA,
	})
}

type routes struct {
	ginMode        string
	jwtSecret      string
	maxUploadBytes int64
	auth           *handler.AuthHandler
	health         *handler.HealthHandler
	documents      handler.DocumentService
	qa             handler.QAService
}

func newRouter(r routes) *gin.Engine {
	gin.SetMode(r.ginMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(), gin.Recovery())

	if r.health != nil {
		router.GET("/healthz", r.health.Check)
	}

	authJWT := middleware.AuthJWT(r.jwtSecret)
	requireUser := middleware.RequireUser(r.jwtSecret)
	fileHandler := handler.NewFileHandler(r.documents, r.qa, r.maxUploadBytes)

	files := router.Group("/files", requireUser)
	files.POST("", fileHandler.Upload)
	files.POST("/ask", fileHandler.Ask)
	files.GET("/:file/status", fileHandler.Status)

	rooms := router.Group("/rooms", requireUser)
	rooms.GET("/:id/history", fileHandler.RoomHistory)

	if r.auth != nil {
		v1 := router.Group("/api/v1")
		authGroup := v1.Group("/auth")
		authGroup.POST("/register", r.auth.Register)
		authGroup.POST("/login", r.auth.Login)
		authGroup.GET("/me", authJWT, r.auth.Me)

		users := v1.Group("/users", authJWT)
		users.PUT("/:id/roles", r.auth.SetRoles)
	}

	return router
}
