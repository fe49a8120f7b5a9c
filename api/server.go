// Package api assembles the devserver's HTTP surface.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/tovplay/api/rest"
	"github.com/kasuganosora/tovplay/api/ws"
	"github.com/kasuganosora/tovplay/cache"
	"github.com/kasuganosora/tovplay/config"
	mw "github.com/kasuganosora/tovplay/middleware"
	"github.com/kasuganosora/tovplay/social"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Deps are the dependencies of the devserver.
type Deps struct {
	Config *config.Config
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	// Audit may be nil.
	Audit  rest.Auditor
	Logger *zap.Logger
}

// Server is a wired devserver.
type Server struct {
	Engine *gin.Engine
	Social *social.Service
	Hub    *ws.Hub
}

// New wires the social service, REST handlers and websocket endpoint.
func New(d Deps) *Server {
	cfg, logger := d.Config, d.Logger
	sec := cfg.Security

	hub := ws.NewHub(logger)
	svc := social.NewService(d.DB, ws.NewPublisher(d.PubSub, logger), sec.BcryptCost, logger)

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": hub.Count()})
	})
	r.GET("/metrics", mw.IPWhitelist(sec.MetricsAllowedIPs), gin.WrapH(promhttp.Handler()))

	authH := rest.NewAuthHandler(svc, d.Cache, sec, d.Audit, logger)
	friendsH := rest.NewFriendsHandler(svc, d.Audit, logger)
	profileH := rest.NewProfileHandler(svc, logger)
	notifH := rest.NewNotificationHandler(svc, logger)

	authed := []gin.HandlerFunc{
		mw.Auth(sec, d.Cache),
		mw.Presence(d.DB, d.Cache, cfg.Server.PresenceInterval, logger),
	}

	api := r.Group("/api")
	{
		usersG := api.Group("/users")
		usersG.POST("/login", authH.Login)
		usersG.POST("/register", authH.Register)
		usersG.POST("/logout", mw.Auth(sec, d.Cache), authH.Logout)

		friendsG := api.Group("/friends", authed...)
		friendsG.GET("/check_relationship/:username", friendsH.CheckRelationship)
		friendsG.POST("/request", friendsH.SendRequest)
		friendsG.DELETE("/request/:id", friendsH.CancelRequest)
		friendsG.PUT("/accept/:id", friendsH.Respond)
		friendsG.PUT("/block", friendsH.Block)
		friendsG.PUT("/unblock", friendsH.Unblock)
		friendsG.GET("/friends", friendsH.Friends)
		friendsG.GET("/received_requests", friendsH.ReceivedRequests)

		api.GET("/findplayers/", append(authed, friendsH.FindPlayers)...)

		profilesG := api.Group("/user_profiles")
		profilesG.GET("/public/:username", mw.Auth(sec, d.Cache), profileH.Public)
		profilesG.GET("/", append(authed, profileH.Current)...)
		profilesG.PUT("/", append(authed, profileH.Update)...)

		discordG := api.Group("/discord", authed...)
		discordG.GET("/in_community_route", profileH.CommunityStatus)
		discordG.PUT("/get_in_community", profileH.JoinCommunity)

		notifG := api.Group("/notifications", authed...)
		notifG.GET("/", notifH.List)
		notifG.POST("/mark_read", notifH.MarkRead)
	}

	wsH := ws.NewHandler(d.DB, d.Cache, d.PubSub, sec, hub, ws.NewRouter(logger),
		cfg.Server.PresenceInterval, logger)
	r.GET("/ws", wsH.ServeWS)

	return &Server{Engine: r, Social: svc, Hub: hub}
}
