package client

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/studiosync/studiosync/internal/client/dispatch"
	"github.com/studiosync/studiosync/internal/client/middleware"
	"github.com/studiosync/studiosync/internal/version"
)

func SetupRoutes(dispatcher *dispatch.Dispatcher, config *ControlPlaneConfig, hasAuth func() bool) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(config.WebOrigin))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, version.Detailed())
	})

	enqueue := func(kind string) gin.HandlerFunc {
		return func(c *gin.Context) {
			task := dispatch.NewTask(kind, middleware.CommandClaims(c))
			if !dispatcher.Enqueue(task) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task queue full"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"result": "started", "task_id": task.ID})
		}
	}

	api := r.Group("/api")

	// Probe and drain routes carry no signed payload.
	api.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"result":  "pong",
			"task_id": uuid.NewString(),
			"auth":    hasAuth(),
		})
	})
	api.GET("/results", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"results": dispatcher.Events().Drain()})
	})

	signed := api.Group("")
	signed.Use(middleware.SignedCommand(&middleware.SignedCommandConfig{
		Origin:    config.WebOrigin,
		PublicKey: config.PublicKey,
	}))
	{
		// The GET auth route answers with a banner the browser can show.
		signed.GET("/auth", func(c *gin.Context) {
			task := dispatch.NewTask(dispatch.KindAuth, middleware.CommandClaims(c))
			if !dispatcher.Enqueue(task) {
				c.String(http.StatusServiceUnavailable, "StudioSync is busy, try again.")
				return
			}
			c.String(http.StatusOK, fmt.Sprintf("StudioSync %s: authentication received. You can close this tab.", version.Short()))
		})
		signed.POST("/auth", enqueue(dispatch.KindAuth))
		signed.POST("/sync", enqueue(dispatch.KindSync))
		signed.POST("/workon", enqueue(dispatch.KindWorkOn))
		signed.POST("/workdone", enqueue(dispatch.KindWorkDone))
		signed.POST("/update", enqueue(dispatch.KindUpdate))
		signed.POST("/tasks", enqueue(dispatch.KindTasks))
		signed.POST("/logs", enqueue(dispatch.KindLogs))
		signed.POST("/shutdown", enqueue(dispatch.KindShutdown))
		signed.POST("/settings", enqueue(dispatch.KindSettings))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	return r.Handler()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
