package http

import (
	"net/http"
	"time"

	"officemesh/internal/core/domain"
	"officemesh/internal/core/ports"
	"officemesh/pkg/utils"
	"officemesh/pkg/validation"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	sessionService ports.SessionService
}

var _ ports.HTTPHandler = (*SessionHandler)(nil)

func NewSessionHandler(sessionService ports.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

func (h *SessionHandler) SetupRoutes(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	api := router.Group("/api/v1")
	api.Use(authMiddleware)
	{
		api.POST("/proximity", h.IngestProximity)
		api.POST("/actions/drain", h.DrainActions)
		api.POST("/meetings/respond", h.RespondMeeting)
		api.POST("/meetings/end", h.EndMeeting)
		api.GET("/users/:id/state", h.GetUserState)
		api.GET("/stats", h.GetStats)
	}

	router.GET("/health", h.Health)
}

// IngestProximity accepts a batch of enter/leave edges, typically from the
// world simulation tick. Events are applied in order.
func (h *SessionHandler) IngestProximity(c *gin.Context) {
	var req struct {
		Events []struct {
			Event domain.ProximityEventType `json:"event" binding:"required"`
			UserA domain.UserID             `json:"user_a" binding:"required"`
			UserB domain.UserID             `json:"user_b" binding:"required"`
			Media domain.MediaKind          `json:"media" binding:"required"`
		} `json:"events" binding:"required,min=1,max=500"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	applied := 0
	for _, ev := range req.Events {
		if err := validation.ValidateUserID(string(ev.UserA)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "applied": applied})
			return
		}
		if err := validation.ValidateUserID(string(ev.UserB)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "applied": applied})
			return
		}
		err := h.sessionService.HandleProximity(c.Request.Context(), domain.ProximityEvent{
			Type:  ev.Event,
			UserA: ev.UserA,
			UserB: ev.UserB,
			Media: ev.Media,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   err.Error(),
				"applied": applied,
			})
			return
		}
		applied++
	}

	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

func (h *SessionHandler) DrainActions(c *gin.Context) {
	userID := userFromContext(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	actions, err := h.sessionService.Drain(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if actions == nil {
		actions = []domain.Action{}
	}

	// Server time lets clients turn absolute deadlines into countdowns
	// without trusting their own clock.
	c.JSON(http.StatusOK, gin.H{"actions": actions, "server_time_ms": utils.NowMs()})
}

func (h *SessionHandler) RespondMeeting(c *gin.Context) {
	userID := userFromContext(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req struct {
		Peer      domain.UserID    `json:"peer" binding:"required"`
		RequestID domain.RequestID `json:"request_id" binding:"required"`
		Accept    bool             `json:"accept"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sessionService.MeetingRespond(c.Request.Context(), userID, req.Peer, req.RequestID, req.Accept); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SessionHandler) EndMeeting(c *gin.Context) {
	userID := userFromContext(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req struct {
		Peer domain.UserID `json:"peer" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sessionService.MeetingEnd(c.Request.Context(), userID, req.Peer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SessionHandler) GetUserState(c *gin.Context) {
	userID := domain.UserID(c.Param("id"))

	stats, err := h.sessionService.UserStats(c.Request.Context(), userID)
	if err != nil {
		if err == domain.ErrPeerNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": stats})
}

func (h *SessionHandler) GetStats(c *gin.Context) {
	stats, err := h.sessionService.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (h *SessionHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// userFromContext reads the identity the auth middleware stored.
func userFromContext(c *gin.Context) domain.UserID {
	v, ok := c.Get("user_id")
	if !ok {
		return ""
	}
	id, ok := v.(string)
	if !ok {
		return ""
	}
	return domain.UserID(id)
}
