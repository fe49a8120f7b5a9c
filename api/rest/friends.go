package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/tovplay/audit"
	"github.com/kasuganosora/tovplay/social"
	"go.uber.org/zap"
)

// FriendsHandler handles the /friends endpoints.
type FriendsHandler struct {
	svc    *social.Service
	audit  Auditor
	logger *zap.Logger
}

// NewFriendsHandler creates a new FriendsHandler. auditor may be nil.
func NewFriendsHandler(svc *social.Service, auditor Auditor, logger *zap.Logger) *FriendsHandler {
	return &FriendsHandler{svc: svc, audit: orNop(auditor), logger: logger}
}

// CheckRelationship handles GET /api/friends/check_relationship/:username.
func (h *FriendsHandler) CheckRelationship(c *gin.Context) {
	acc := viewer(c, h.svc, h.logger)
	if acc == nil {
		return
	}
	rel, err := h.svc.CheckRelationship(c.Request.Context(), acc, c.Param("username"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rel)
}

type sendRequest struct {
	RecipientUsername string `json:"recipient_username" binding:"required"`
	Message           string `json:"message"`
}

// SendRequest handles POST /api/friends/request.
func (h *FriendsHandler) SendRequest(c *gin.Context) {
	start := time.Now()
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient_username is required"})
		return
	}
	acc := viewer(c, h.svc, h.logger)
	if acc == nil {
		return
	}
	fr, err := h.svc.SendFriendRequest(c.Request.Context(), acc, req.RecipientUsername, req.Message)
	h.audit.Log(entry(c, start, audit.ActionFriendRequest, req.RecipientUsername, req, err))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, fr)
}

// CancelRequest handles DELETE /api/friends/request/:id.
func (h *FriendsHandler) CancelRequest(c *gin.Context) {
	start := time.Now()
	acc := viewer(c, h.svc, h.logger)
	if acc == nil {
		return
	}
	id := c.Param("id")
	err := h.svc.CancelFriendRequest(c.Request.Context(), acc, id)
	h.audit.Log(entry(c, start, audit.ActionCancelRequest, "", gin.H{"request_id": id}, err))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type respondRequest struct {
	AcceptInvite *bool `json:"accept_invite" binding:"required"`
}

// Respond handles PUT /api/friends/accept/:id.
func (h *FriendsHandler) Respond(c *gin.Context) {
	start := time.Now()
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accept_invite is required"})
		return
	}
	acc := viewer(c, h.svc, h.logger)
	if acc == nil {
		return
	}
	id := c.Param("id")
	rel, err := h.svc.RespondToFriendRequest(c.Request.Context(), acc, id, *req.AcceptInvite)
	action := audit.ActionDecline
	if *req.AcceptInvite {
		action = audit.ActionAccept
	}
	h.audit.Log(entry(c, start, action, "", gin.H{"request_id": id}, err))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, rel)
}

type blockRequest struct {
	UsernameToBlock string `json:"username_to_block" binding:"required"`
	Message         string `json:"message"`
}

// Block handles PUT /api/friends/block.
func (h *FriendsHandler) Block(c *gin.Context) {
	start := time.Now()
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username_to_block is required"})
		return
	}
	acc := viewer(c, h.svc, h.logger)
	if acc == nil {
		return
	}
	err := h.svc.BlockUser(c.Request.Context(), acc, req.UsernameToBlock, req.Message)
	h.audit.Log(entry(c, start, audit.ActionBlock, req.UsernameToBlock, req, err))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User blocked"})
}

type unblockRequest struct {
	RequestID         *string `json:"request_id"`
	UsernameToUnblock string  `json:"username_to_unblock" binding:"required"`
}

// Unblock handles PUT /api/friends/unblock.
func (h *FriendsHandler) Unblock(c *gin.Context) {
	start := time.Now()
	var req unblockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username_to_unblock is required"})
		return
	}
	acc := viewer(c, h.svc, h.logger)
	if acc == nil {
		return
	}
	var requestID string
	if req.RequestID != nil {
		requestID = *req.RequestID
	}
	err := h.svc.UnblockUser(c.Request.Context(), acc, requestID, req.UsernameToUnblock)
	h.audit.Log(entry(c, start, audit.ActionUnblock, req.UsernameToUnblock, req, err))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User unblocked"})
}

// Friends handles GET /api/friends/friends.
func (h *FriendsHandler) Friends(c *gin.Context) {
	acc := viewer(c, h.svc, h.logger)
	if acc == nil {
		return
	}
	out, err := h.svc.Friends(c.Request.Context(), acc)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ReceivedRequests handles GET /api/friends/received_requests.
func (h *FriendsHandler) ReceivedRequests(c *gin.Context) {
	acc := viewer(c, h.svc, h.logger)
	if acc == nil {
		return
	}
	out, err := h.svc.ReceivedRequests(c.Request.Context(), acc)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// FindPlayers handles GET /api/findplayers/?recipient_username=.
func (h *FriendsHandler) FindPlayers(c *gin.Context) {
	recipient := c.Query("recipient_username")
	if recipient == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient_username is required"})
		return
	}
	acc := viewer(c, h.svc, h.logger)
	if acc == nil {
		return
	}
	out, err := h.svc.OverlappingTimes(c.Request.Context(), acc, recipient)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
