package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/realtimeconnect/hub/internal/adapters/chatws"
	session "github.com/realtimeconnect/hub/internal/app/session"
	"github.com/realtimeconnect/hub/internal/auth"
	"github.com/realtimeconnect/hub/internal/config"
	"github.com/realtimeconnect/hub/internal/domain"
)

type Deps struct {
	Cfg      *config.Config
	Users    *auth.Store
	Sessions *session.Manager
	Chat     *chatws.Controller
}

func requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		u, _ := s.Get("username").(string)
		if u == "" {
			if c.Request.URL.Path == "/" {
				c.Redirect(http.StatusFound, "/login")
			} else {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			}
			c.Abort()
			return
		}
		c.Set("username", u)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, d Deps) *gin.Engine {
	if d.Cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if d.Cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(d.Cfg.Secret))
	r.Use(sessions.Sessions("RealtimeConnect", store))

	r.Static("/static", d.Cfg.StaticPath)
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	r.GET("/login", func(c *gin.Context) {
		c.File(d.Cfg.StaticPath + "/login.html")
	})
	r.POST("/login", d.handleLogin)
	r.GET("/register", func(c *gin.Context) {
		c.File(d.Cfg.StaticPath + "/register.html")
	})
	r.POST("/register", d.handleRegister)
	r.GET("/logout", d.handleLogout)

	authed := r.Group("/", requireAuth())
	authed.GET("/", func(c *gin.Context) {
		c.File(d.Cfg.StaticPath + "/index.html")
	})
	authed.POST("/offer", d.handleOffer)
	authed.GET("/ws/chat", func(c *gin.Context) {
		d.Chat.HandleChat(ctx, c)
	})

	log.Info().Str("module", "httpapi").Str("static", d.Cfg.StaticPath).Msg("router setup")
	return r
}

func (d Deps) handleLogin(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	if err := d.Users.Verify(c.Request.Context(), username, password); err != nil {
		c.String(http.StatusUnauthorized, "Invalid username or password")
		return
	}
	s := sessions.Default(c)
	s.Set("username", username)
	if err := s.Save(); err != nil {
		c.String(http.StatusInternalServerError, "session error")
		return
	}
	log.Info().Str("module", "httpapi").Str("username", username).Msg("user logged in")
	c.Redirect(http.StatusFound, "/")
}

func (d Deps) handleRegister(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	if username == "" || password == "" {
		c.String(http.StatusBadRequest, "Username and password required")
		return
	}
	err := d.Users.Register(c.Request.Context(), username, password)
	switch {
	case errors.Is(err, auth.ErrUserExists):
		c.String(http.StatusBadRequest, "Username already exists")
		return
	case err != nil:
		log.Error().Err(err).Str("module", "httpapi").Msg("registration error")
		c.String(http.StatusInternalServerError, "Internal server error during registration")
		return
	}
	s := sessions.Default(c)
	s.Set("username", username)
	_ = s.Save()
	c.Redirect(http.StatusFound, "/")
}

func (d Deps) handleLogout(c *gin.Context) {
	s := sessions.Default(c)
	username, _ := s.Get("username").(string)
	s.Delete("username")
	_ = s.Save()
	log.Info().Str("module", "httpapi").Str("username", username).Msg("user logged out")
	c.Redirect(http.StatusFound, "/login")
}

type offerRequest struct {
	SDP    string `json:"sdp"`
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

func (d Deps) handleOffer(c *gin.Context) {
	var req offerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Type != "offer" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed signaling request"})
		return
	}
	username := c.GetString("username")
	privileged := username == d.Cfg.AdminUser

	resp, err := d.Sessions.Create(c.Request.Context(), session.OfferRequest{
		SDP:        req.SDP,
		Room:       domain.RoomID(req.RoomID),
		Identity:   username,
		Privileged: privileged,
	})
	switch {
	case errors.Is(err, domain.ErrRoomPolicy), errors.Is(err, domain.ErrInvalidOffer):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		log.Error().Err(err).Str("module", "httpapi").Msg("offer failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signaling failure"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sdp":    resp.SDP,
		"type":   "answer",
		"peerId": string(resp.PeerID),
	})
}
