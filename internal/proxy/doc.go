// Package proxy forwards HTTP, SSE and WebSocket traffic to upstream
// instances chosen by the backend registry.
//
// Proxy.Forward executes one HTTP exchange. Small GET responses with a
// declared length are buffered so the caller can cache them; everything
// else is streamed to the client with a flush after every chunk.
//
// Bridge.Serve relays messages between an accepted client WebSocket and
// a freshly dialled upstream WebSocket. Each direction runs in its own
// goroutine and the bridge closes both sockets when the first side
// ends, a socket falls too far behind, or the caller's context is done.
package proxy
