package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "operator-console",
		"time":    time.Now().Unix(),
	})
}

// Ready отвечает 503, пока probe возвращает false (нет соединения с сервером чата).
func Ready(probe func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if probe != nil && !probe() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
