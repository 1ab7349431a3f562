package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/w4sdr/rigmuxd/pkg/logging"
)

// handleGetStatus returns the daemon status snapshot.
func (d *Daemon) handleGetStatus(c *gin.Context) {
	state := d.rig.Snapshot()
	holder, held := d.arbiter.Holder()

	c.JSON(http.StatusOK, gin.H{
		"status":    "running",
		"version":   Version,
		"uptime":    time.Since(d.startTime).Round(time.Second).String(),
		"radio":     state,
		"ptt_held":  held,
		"ptt_owner": holder,
		"sync":      d.syncEngine.CurrentStatus(),
	})
}

// handleGetRadio returns a fresh reading from the rig rather than the
// cached snapshot.
func (d *Daemon) handleGetRadio(c *gin.Context) {
	hz, err := d.rig.GetFrequency()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	mode, err := d.rig.GetMode()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"frequency_hz": hz,
		"mode":         mode,
	})
}

// handleSetFrequency retunes the rig from the web UI.
func (d *Daemon) handleSetFrequency(c *gin.Context) {
	var req struct {
		FrequencyHz uint64 `json:"frequency_hz" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frequency_hz is required"})
		return
	}

	if err := d.rig.SetFrequency(req.FrequencyHz); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"frequency_hz": req.FrequencyHz})
}

// handleGetEvents returns recent coordination events.
func (d *Daemon) handleGetEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	events, err := d.store.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// handleMetrics exposes the Prometheus registry.
func (d *Daemon) handleMetrics() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStatusSocket streams periodic radio snapshots to a browser.
func (d *Daemon) handleStatusSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Errorf("web", "websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			holder, held := d.arbiter.Holder()
			payload := gin.H{
				"radio":     d.rig.Snapshot(),
				"ptt_held":  held,
				"ptt_owner": holder,
				"sync":      d.syncEngine.CurrentStatus(),
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		}
	}
}
