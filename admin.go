package rsocketdemo

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Router 返回 HTTP 路由：/ws 网关、/healthz、/peers
func (s *Server) Router() *gin.Engine {
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ws", func(c *gin.Context) {
		s.gateway.HandleWS(c.Writer, c.Request)
	})
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	router.GET("/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"count": s.registry.Len(),
			"peers": s.registry.List(),
		})
	})
	return router
}
