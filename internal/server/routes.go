package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/jupyterwire/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultHistoryTail = 20

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(a.started).String(),
			"kernel":   a.cfg.Name,
			"protocol": protocol.Version,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.kernel.Status())
	})

	a.router.GET("/comms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"comms": a.kernel.Comms().Info(c.Query("target")),
		})
	})

	a.router.GET("/history", func(c *gin.Context) {
		n := defaultHistoryTail
		if raw := c.Query("n"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "n must be a non-negative integer"})
				return
			}
			n = v
		}
		store := a.kernel.History()
		if store == nil {
			c.JSON(http.StatusOK, gin.H{"history": []protocol.HistoryEntry{}})
			return
		}
		entries, err := store.Tail(n)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if entries == nil {
			entries = []protocol.HistoryEntry{}
		}
		c.JSON(http.StatusOK, gin.H{"history": entries})
	})

	a.router.POST("/interrupt", func(c *gin.Context) {
		cancelled, err := a.kernel.Interrupt()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
	})
}
