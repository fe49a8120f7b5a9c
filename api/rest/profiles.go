package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/tovplay/social"
	"go.uber.org/zap"
)

// ProfileHandler handles /user_profiles and /discord.
type ProfileHandler struct {
	svc    *social.Service
	logger *zap.Logger
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(svc *social.Service, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{svc: svc, logger: logger}
}

// Current handles GET /api/user_profiles/.
func (h *ProfileHandler) Current(c *gin.Context) {
	acc := viewer(c, h.svc, h.logger)
	if acc == nil {
		return
	}
	p, err := h.svc.OwnProfile(c.Request.Context(), acc)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Update handles PUT /api/user_profiles/.
func (h *ProfileHandler) Update(c *gin.Context) {
	var upd social.ProfileUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid profile data"})
		return
	}
	acc := viewer(c, h.svc, h.logger)
	if acc == nil {
		return
	}
	p, err := h.svc.UpdateProfile(c.Request.Context(), acc, upd)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Public handles GET /api/user_profiles/public/:username.
func (h *ProfileHandler) Public(c *gin.Context) {
	p, err := h.svc.PublicProfile(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// CommunityStatus handles GET /api/discord/in_community_route.
func (h *ProfileHandler) CommunityStatus(c *gin.Context) {
	acc := viewer(c, h.svc, h.logger)
	if acc == nil {
		return
	}
	st, err := h.svc.CommunityStatus(c.Request.Context(), acc)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// JoinCommunity handles PUT /api/discord/get_in_community.
func (h *ProfileHandler) JoinCommunity(c *gin.Context) {
	acc := viewer(c, h.svc, h.logger)
	if acc == nil {
		return
	}
	if err := h.svc.SetInCommunity(c.Request.Context(), acc); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}
