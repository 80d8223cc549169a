package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"fundlink/internal/fundapi"
)

// GetQueueStats exposes the reconcile queue depth to admins, straight from
// the asynq inspector. Before the first sweep ever enqueued a task the queue
// does not exist yet; that answers as an empty queue, not an error.
func GetQueueStats(c *gin.Context) {
	app := c.MustGet("app").(*fundapi.App)
	donor, ok := donorFromContext(c, app)
	if !ok {
		return
	}
	if donor.Group < fundapi.GroupAdmin {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "admin group required"})
		return
	}
	info, err := app.Aqi.GetQueueInfo(fundapi.ReconcileQueue)
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			c.JSON(http.StatusOK, gin.H{"success": true, "queue": &asynq.QueueInfo{Queue: fundapi.ReconcileQueue}})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "queue": info})
}
