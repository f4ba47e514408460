package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dkeye/RetroHub/internal/adapters/identity"
	"github.com/dkeye/RetroHub/internal/app/orch"
	"github.com/dkeye/RetroHub/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	orch *orch.Orchestrator
}

// status maps core errors onto HTTP codes.
func status(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrInviteNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPrivateRoomAccessDenied),
		errors.Is(err, domain.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInviteTargetAlreadyInRoom),
		errors.Is(err, domain.ErrNotPlaying),
		errors.Is(err, domain.ErrHostNotMember):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	code := status(err)
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

func caller(c *gin.Context) domain.UserID {
	id, _ := identity.UserID(c)
	return id
}

func (h *handlers) createRoom(c *gin.Context) {
	var req struct {
		GameID  domain.GameID `json:"game_id"`
		Private bool          `json:"private"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.GameID <= 0 {
		badRequest(c, "invalid game_id")
		return
	}
	room, err := h.orch.CreateRoom(c.Request.Context(), caller(c), req.GameID, req.Private)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.orch.ListRooms(c.Request.Context())})
}

func (h *handlers) getRoom(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	room, err := h.orch.GetRoom(c.Request.Context(), domain.RoomID(id))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *handlers) updateRoom(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var edit domain.RoomEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		badRequest(c, "bad_payload")
		return
	}
	room, err := h.orch.UpdateRoom(c.Request.Context(), caller(c), domain.RoomID(id), edit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *handlers) updateScreenshot(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Screenshot string `json:"screenshot"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "bad_payload")
		return
	}
	room, err := h.orch.UpdateRoomScreenshot(c.Request.Context(), caller(c), domain.RoomID(id), req.Screenshot)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *handlers) enterRoom(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	room, err := h.orch.EnterPublicRoom(c.Request.Context(), caller(c), domain.RoomID(id))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *handlers) leaveRoom(c *gin.Context) {
	if err := h.orch.LeaveRoom(c.Request.Context(), caller(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) createInvite(c *gin.Context) {
	var req struct {
		RoomID   domain.RoomID `json:"room_id"`
		TargetID domain.UserID `json:"target_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID <= 0 || req.TargetID <= 0 {
		badRequest(c, "invalid room_id or target_id")
		return
	}
	inv, err := h.orch.CreateInvite(c.Request.Context(), caller(c), req.RoomID, req.TargetID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (h *handlers) listInvites(c *gin.Context) {
	user := caller(c)
	if c.Query("sent") == "true" {
		c.JSON(http.StatusOK, gin.H{"invites": h.orch.InvitesFrom(user)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invites": h.orch.InvitesFor(user)})
}

func (h *handlers) acceptInvite(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	entered, err := h.orch.AcceptInvite(c.Request.Context(), caller(c), domain.InviteID(id))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entered": entered})
}

func (h *handlers) declineInvite(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.orch.DeclineInvite(c.Request.Context(), caller(c), domain.InviteID(id)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) withdrawInvites(c *gin.Context) {
	invites := h.orch.WithdrawInvites(c.Request.Context(), caller(c))
	c.JSON(http.StatusOK, gin.H{"deleted": len(invites)})
}

func (h *handlers) isOnline(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": h.orch.IsOnline(domain.UserID(id))})
}

func (h *handlers) onlineCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": h.orch.OnlineCount()})
}

func (h *handlers) loginPing(c *gin.Context) {
	h.orch.LoginPing(caller(c))
	c.Status(http.StatusNoContent)
}
