// Package server wires the gateway's HTTP surface: the gin engine, its
// middleware chain and the proxy, SSE, WebSocket, admin and probe
// routes.
//
//	srv, err := server.New(cfg, server.Dependencies{
//	    Registry: registry,
//	    Cache:    responseCache,
//	    Metrics:  metrics,
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
