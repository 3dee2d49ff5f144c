package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dkeye/Dialogue/internal/adapters/signal"
	"github.com/dkeye/Dialogue/internal/app/orch"
	"github.com/dkeye/Dialogue/internal/config"
	"github.com/dkeye/Dialogue/internal/core"
	"github.com/dkeye/Dialogue/internal/domain"
	"github.com/dkeye/Dialogue/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	sessionTokenKey = "access_token"
	tokenCookie     = "accessToken"
)

// Deps is everything the router serves.
type Deps struct {
	Orch    *orch.Orchestrator
	Auth    core.AuthGate
	Signal  *signal.SignalWSController
	Metrics *metrics.Metrics
}

// tokenFrom looks for the access token in the cookie session, the plain
// cookie set by the account service, the Authorization header and finally
// the query string, which browsers need for websocket upgrades.
func tokenFrom(c *gin.Context) string {
	if s, ok := sessions.Default(c).Get(sessionTokenKey).(string); ok && s != "" {
		return s
	}
	if s, err := c.Cookie(tokenCookie); err == nil && s != "" {
		return s
	}
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

func AuthMiddleware(gate core.AuthGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		hs := core.Handshake{
			Token:      tokenFrom(c),
			RemoteAddr: c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
		}
		uid, err := gate.Authenticate(c.Request.Context(), hs)
		if err != nil {
			log.Info().Err(err).Str("module", "adapters.http").Str("remote", hs.RemoteAddr).Msg("auth rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(signal.UserKey, uid)
		c.Next()
	}
}

func userOf(c *gin.Context) domain.UserID {
	return c.MustGet(signal.UserKey).(domain.UserID)
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("DialogueSessions", store))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	api := r.Group("/api")
	api.GET("/rtc/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": d.Signal.ICE.ICEServers})
	})

	authed := api.Group("", AuthMiddleware(d.Auth))
	authed.GET("/ws/signal", func(c *gin.Context) {
		d.Signal.HandleSignal(ctx, c)
	})
	authed.POST("/conversations", createConversation(d.Orch))
	authed.GET("/conversations/:id/messages", listMessages(d.Orch))
	authed.GET("/presence/:user", func(c *gin.Context) {
		uid, err := domain.ParseUserID(c.Param("user"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": orch.ErrorCode(err)})
			return
		}
		c.JSON(http.StatusOK, d.Orch.Presence(uid))
	})

	if cfg.Mode != "release" {
		api.GET("/debug/registry", func(c *gin.Context) {
			live, users := d.Orch.Registry.Count()
			body := gin.H{"sessions": live, "users": users, "pendingCalls": d.Orch.Calls.Pending()}
			if err := d.Orch.Registry.Check(); err != nil {
				body["error"] = err.Error()
				c.JSON(http.StatusInternalServerError, body)
				return
			}
			c.JSON(http.StatusOK, body)
		})
	}

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

type createConversationReq struct {
	Participants []domain.UserID `json:"participants" binding:"required,min=1"`
}

func createConversation(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createConversationReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
			return
		}
		conv, err := o.NewConversation(c.Request.Context(), userOf(c), req.Participants)
		switch {
		case err == nil:
			c.JSON(http.StatusCreated, conv)
		case errors.Is(err, core.ErrPersistence):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": orch.ErrorCode(err)})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": orch.ErrorCode(err)})
		}
	}
}

func listMessages(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
		if err != nil || limit <= 0 || limit > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_limit"})
			return
		}
		msgs, err := o.History(c.Request.Context(), userOf(c), domain.ConversationID(c.Param("id")), limit)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"messages": msgs})
		case errors.Is(err, domain.ErrConversationGone):
			c.JSON(http.StatusNotFound, gin.H{"error": orch.ErrorCode(err)})
		case errors.Is(err, orch.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": orch.ErrorCode(err)})
		case errors.Is(err, orch.ErrNoHistory):
			c.JSON(http.StatusNotImplemented, gin.H{"error": "no_history"})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": orch.ErrorCode(err)})
		}
	}
}
