package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	"github.com/psds-microservice/operator-console/api"
	"github.com/psds-microservice/operator-console/internal/handler"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func New(messengerHandler *handler.MessengerHandler, ready func() bool, log *logrus.Entry) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	r.GET(paths.PathHealth, handler.Health)
	r.GET(paths.PathReady, handler.Ready(ready))
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/openapi.json"))(c)
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/dialogs", messengerHandler.Dialogs)
		v1.GET("/messenger", messengerHandler.Messenger)
		v1.POST("/messenger/messages", messengerHandler.SendMessage)
		v1.PATCH("/issues/:issueId", messengerHandler.SetClosed)
		v1.DELETE("/issues/:issueId", messengerHandler.DeleteIssue)
	}

	return r
}

// requestLogger пишет access-лог запросов через logrus.
func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "http")
	return func(c *gin.Context) {
		c.Next()
		if c.Request.URL.Path == paths.PathHealth || c.Request.URL.Path == paths.PathReady {
			return
		}
		entry := log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		})
		if len(c.Errors) > 0 {
			entry.Warn(c.Errors.String())
			return
		}
		entry.Debug("request")
	}
}
