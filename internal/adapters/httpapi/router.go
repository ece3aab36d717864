package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/adapters/signal"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/core"
)

// AuthMiddleware resolves the bearer credential and rejects connections
// without one before the websocket upgrade. Browsers that cannot set
// headers on websocket dials may pass the token as a query parameter.
func AuthMiddleware(auth core.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		user, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			log.Warn().Err(err).Str("module", "httpapi").Msg("handshake rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
			return
		}
		c.Set("user", user)
		c.Set("session_id", uuid.NewString())
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, auth core.Authenticator, ctl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ParleySessions", store))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "httpapi").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	api.Use(AuthMiddleware(auth))
	// Clients fetch ICE servers here before building their mesh legs.
	api.GET("/ice", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"stun_urls": cfg.STUNURLs})
	})
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "httpapi").Str("sid", c.GetString("session_id")).Msg("ws signal endpoint hit")
		ctl.HandleWS(ctx, c)
	})

	return r
}
