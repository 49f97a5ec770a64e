package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/torvand/bellhop/internal/config"
	"github.com/torvand/bellhop/internal/core"
	"github.com/torvand/bellhop/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter exposes the read-only admin surface: liveness plus a dump
// of the subscription document.
func SetupRouter(ctx context.Context, cfg *config.Config, store core.Store) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("BellhopSessions", cookieStore))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.GET("/subs", func(c *gin.Context) {
		var doc domain.Document
		err := store.View(c.Request.Context(), func(d domain.Document) error {
			doc = d
			return nil
		})
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("document dump failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
			return
		}
		c.JSON(http.StatusOK, doc)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
