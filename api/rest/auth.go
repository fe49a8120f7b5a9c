package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/tovplay/audit"
	"github.com/kasuganosora/tovplay/cache"
	"github.com/kasuganosora/tovplay/config"
	mw "github.com/kasuganosora/tovplay/middleware"
	"github.com/kasuganosora/tovplay/model"
	"github.com/kasuganosora/tovplay/social"
	"go.uber.org/zap"
)

// AuthHandler handles sign-in, sign-out and registration.
type AuthHandler struct {
	svc    *social.Service
	cache  cache.Cache
	sec    config.SecurityConfig
	audit  Auditor
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. auditor may be nil.
func NewAuthHandler(svc *social.Service, c cache.Cache, sec config.SecurityConfig, auditor Auditor, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, cache: c, sec: sec, audit: orNop(auditor), logger: logger}
}

type loginRequest struct {
	Email    string `json:"Email" binding:"required,max=128"`
	Password string `json:"Password" binding:"required,max=64"`
}

type registerRequest struct {
	Username        string `json:"username" binding:"required,min=2,max=32"`
	Email           string `json:"email" binding:"required,email,max=128"`
	Password        string `json:"password" binding:"required,min=4,max=64"`
	DiscordUsername string `json:"discord_username" binding:"max=64"`
}

// issue creates a token for acc and marks it signed in.
func (h *AuthHandler) issue(c *gin.Context, acc *model.Account) (string, error) {
	token, err := mw.GenerateToken(acc.ID, acc.Username, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.cache.Set(ctx, mw.SessionKey(token), strconv.FormatInt(acc.ID, 10), h.sec.JWTTTLH); err != nil {
		return "", err
	}
	return token, nil
}

// Login handles POST /api/users/login.
func (h *AuthHandler) Login(c *gin.Context) {
	start := time.Now()
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password are required"})
		return
	}
	acc, err := h.svc.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		e := entry(c, start, audit.ActionLogin, "", gin.H{"email": req.Email}, err)
		h.audit.Log(e)
		writeError(c, h.logger, err)
		return
	}
	token, err := h.issue(c, acc)
	if err != nil {
		h.logger.Error("issue token", zap.Int64("account_id", acc.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	if err := h.svc.TouchLogin(c.Request.Context(), acc, c.ClientIP()); err != nil {
		h.logger.Warn("update last login", zap.Int64("account_id", acc.ID), zap.Error(err))
	}
	e := entry(c, start, audit.ActionLogin, "", gin.H{"email": req.Email}, nil)
	e.AccountID, e.Username = &acc.ID, acc.Username
	h.audit.Log(e)

	c.JSON(http.StatusOK, gin.H{
		"jwt_token": token,
		"user_id":   acc.ID,
	})
}

// Register handles POST /api/users/register.
func (h *AuthHandler) Register(c *gin.Context) {
	start := time.Now()
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acc, err := h.svc.CreateAccount(c.Request.Context(), social.NewAccount{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		DiscordUsername: req.DiscordUsername,
	})
	e := entry(c, start, audit.ActionRegister, req.Username, gin.H{"email": req.Email}, err)
	if err != nil {
		h.audit.Log(e)
		writeError(c, h.logger, err)
		return
	}
	e.AccountID, e.Username = &acc.ID, acc.Username
	h.audit.Log(e)
	token, err := h.issue(c, acc)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"jwt_token": token, "user_id": acc.ID})
}

// Logout handles POST /api/users/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := mw.BearerToken(c)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(token))
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
