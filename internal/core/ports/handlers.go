package ports

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HTTPHandler is the REST surface of the orchestration plane. Route wiring
// stays with the implementation; the interface pins the operation set.
type HTTPHandler interface {
	IngestProximity(c *gin.Context)
	DrainActions(c *gin.Context)
	RespondMeeting(c *gin.Context)
	EndMeeting(c *gin.Context)
	GetUserState(c *gin.Context)
	GetStats(c *gin.Context)
	Health(c *gin.Context)
}

// SignalServer is the realtime plane. It doubles as the in-process
// PendingNotifier so queued actions can be pushed instead of polled.
type SignalServer interface {
	PendingNotifier
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	ConnectedUsers() int
}
