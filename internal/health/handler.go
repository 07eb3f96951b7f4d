package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// LivenessHandler returns the gin handler for /healthz.
func (c *Checker) LivenessHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, c.Liveness())
	}
}

// ReadinessHandler returns the gin handler for /readyz. An unready
// gateway answers 503.
func (c *Checker) ReadinessHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		response := c.Readiness(ctx.Request.Context())

		status := http.StatusOK
		if !response.OK {
			status = http.StatusServiceUnavailable
		}
		ctx.JSON(status, response)
	}
}

// RegisterRoutes registers the probe endpoints on the router.
func (c *Checker) RegisterRoutes(router gin.IRouter) {
	router.GET("/healthz", c.LivenessHandler())
	router.GET("/readyz", c.ReadinessHandler())
}
