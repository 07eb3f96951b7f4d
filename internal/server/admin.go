package server

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed dashboard.html
var dashboardHTML []byte

// handleStats returns the registry snapshot.
func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Registry.Snapshot())
}

// handleDashboard serves the page that polls /admin/stats.
func (s *Server) handleDashboard(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", dashboardHTML)
}
