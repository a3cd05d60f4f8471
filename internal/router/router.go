package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/queue-service/api"
	"github.com/psds-microservice/queue-service/internal/handler"
	"github.com/psds-microservice/queue-service/internal/realtime"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func New(queueHandler *handler.QueueHandler, gateway *realtime.Gateway) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", handler.Health)
	r.GET("/ready", handler.Ready)
	r.GET("/swagger", func(c *gin.Context) { c.Redirect(http.StatusFound, "/swagger/") })
	r.GET("/swagger/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = "/swagger/index.html"
			c.Request.RequestURI = "/swagger/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/openapi.json"))(c)
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/services/:id/tickets", queueHandler.Join)
		v1.POST("/services/:id/call-next", queueHandler.CallNext)
		v1.GET("/services/:id/queue", queueHandler.Queue)
		v1.GET("/tickets/:number", queueHandler.GetTicket)
		v1.POST("/tickets/:number/cancel", queueHandler.Cancel)
		v1.POST("/tickets/:number/complete", queueHandler.Complete)
		v1.PUT("/tickets/:number/priority", queueHandler.SetPriority)
	}

	ws := r.Group("/ws")
	{
		ws.GET("/queue/:id", gateway.ServeQueue)
		ws.GET("/ticket/:number", gateway.ServeTicket)
		ws.GET("/admin", gateway.ServeAdmin)
	}

	return r
}
