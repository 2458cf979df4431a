package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"CollabProject/service/collab"
	"CollabProject/tools/errs"
	"CollabProject/tools/security"
)

// Handler is the small REST surface around the coordinator: a dev
// login that mints tokens, plus read-only visibility endpoints.
type Handler struct {
	coord   *collab.Coordinator
	jwtOpts security.Options
}

func NewHandler(coord *collab.Coordinator, jwtOpts security.Options) *Handler {
	return &Handler{coord: coord, jwtOpts: jwtOpts}
}

type loginReq struct {
	UserID      string `json:"user_id" binding:"required"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

type loginResp struct {
	Token    string    `json:"token"`
	ExpireAt time.Time `json:"expire_at"`
}

// HandleLogin issues a signed token for websocket authentication.
func (h *Handler) HandleLogin(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, errs.ErrArgs.WithDetail(err.Error()))
		return
	}
	token, exp, err := security.Generate(h.jwtOpts, security.Identity{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Role:        req.Role,
	})
	if err != nil {
		c.JSON(http.StatusOK, errs.ErrTokenInvalid.WithDetail(err.Error()))
		return
	}
	c.JSON(http.StatusOK, loginResp{Token: token, ExpireAt: exp})
}

// HandleOnline lists every currently-online user.
func (h *Handler) HandleOnline(c *gin.Context) {
	users := h.coord.OnlineUsers()
	c.JSON(http.StatusOK, gin.H{"count": len(users), "users": users})
}

// HandleRooms lists live room stats.
func (h *Handler) HandleRooms(c *gin.Context) {
	rooms := h.coord.RoomStats()
	c.JSON(http.StatusOK, gin.H{"count": len(rooms), "rooms": rooms})
}

// HandleFileOps returns the recent edit operations for a file,
// oldest first (in-memory ring, cache fallback).
func (h *Handler) HandleFileOps(c *gin.Context) {
	fileID := c.Param("fileId")
	if fileID == "" {
		c.JSON(http.StatusOK, errs.ErrArgs.WithDetail("missing file id"))
		return
	}
	ops := h.coord.RecentOps(c.Request.Context(), fileID, 100)
	c.JSON(http.StatusOK, gin.H{"file_id": fileID, "ops": ops})
}

// HandleHealth is the liveness probe.
func (h *Handler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
