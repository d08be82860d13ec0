package middleware

import (
	"net/http"

	"PRelay/module/load"
	"PRelay/module/queue"

	"github.com/gin-gonic/gin"
)

// RegisterAdminRoutes mounts the read-only operational surface: current
// load sample, blended score, pressure flag and per-lane queue depths.
func RegisterAdminRoutes(r *gin.Engine, monitor *load.Monitor, q *queue.Queue) {
	grp := r.Group("/admin")

	grp.GET("/load", func(c *gin.Context) {
		ctx := c.Request.Context()
		s := monitor.Sample(ctx)
		c.JSON(http.StatusOK, gin.H{
			"cpu_pct":      s.CPUPct,
			"mem_pct":      s.MemPct,
			"active_conns": s.ActiveConns,
			"taken_at":     s.TakenAt,
			"score":        monitor.LoadScore(ctx),
			"pressure":     monitor.IsUnderPressure(ctx),
		})
	})

	grp.GET("/queues", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"depths": q.Depths(c.Request.Context()),
		})
	})

	grp.GET("/queues/:job_id", func(c *gin.Context) {
		st, ok, err := q.Status(c.Request.Context(), c.Param("job_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusOK, st)
	})
}
