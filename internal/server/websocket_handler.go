package server

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/streamgw/internal/observability"
	"github.com/vyrodovalexey/streamgw/internal/proxy"
	"github.com/vyrodovalexey/streamgw/internal/util"
)

// queryPath is the query parameter naming the upstream WebSocket path.
const queryPath = "path"

// handleWebSocket upgrades /ws/:service and bridges it to an upstream.
// Unknown services are reported on the upgraded connection with close
// code 1008.
func (s *Server) handleWebSocket(c *gin.Context) {
	service := c.Param("service")
	ctx := util.ContextWithService(c.Request.Context(), service)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.logger.WithContext(ctx).Debug("websocket upgrade failed", observability.Error(err))
		c.Abort()
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	// Hijacked connections outlive the request context; shutdown reaches
	// them through sessionCtx.
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(s.sessionCtx, cancel)
	defer stop()

	path := c.Query(queryPath)
	if path == "" {
		path = "/"
	}

	err = s.deps.Bridge.Serve(ctx, conn, proxy.BridgeRequest{
		Service:       service,
		Path:          path,
		Authorization: c.GetHeader("Authorization"),
		RequestID:     util.RequestIDFromContext(ctx),
	})

	logger := s.logger.WithContext(ctx).With(observability.String("service", service))
	switch {
	case err == nil:
		logger.Debug("websocket session closed")
	case errors.Is(err, proxy.ErrUnknownService):
		logger.Info("websocket rejected", observability.Error(err))
	default:
		logger.Warn("websocket session failed", observability.Error(err))
	}
}
