package proxy

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/vyrodovalexey/streamgw/internal/util"
)

// Header names used by the proxy.
const (
	HeaderRequestID        = "X-Request-ID"
	headerForwardedFor     = "X-Forwarded-For"
	headerForwardedProto   = "X-Forwarded-Proto"
	headerForwardedHost    = "X-Forwarded-Host"
	headerForwardedPort    = "X-Forwarded-Port"
	headerSetCookie        = "Set-Cookie"
	headerContentType      = "Content-Type"
	headerCacheControl     = "Cache-Control"
	contentTypeJSON        = "application/json; charset=utf-8"
	contentTypeEventStream = "text/event-stream"
)

// hopHeaders are connection-scoped headers that are never forwarded.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func isHopHeader(name string) bool {
	_, ok := hopHeaders[http.CanonicalHeaderKey(name)]
	return ok
}

// FilterRequestHeader copies inbound headers for the upstream hop. Hop
// headers and Host are dropped; repeated values are joined with commas.
func FilterRequestHeader(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for name, values := range in {
		if len(values) == 0 || isHopHeader(name) || strings.EqualFold(name, "Host") {
			continue
		}
		joined := strings.Join(values, ",")
		if joined == "" {
			continue
		}
		out[http.CanonicalHeaderKey(name)] = []string{joined}
	}
	return out
}

// upstreamHeader builds the full header set for an upstream request.
func upstreamHeader(r *http.Request) http.Header {
	h := FilterRequestHeader(r.Header)

	if id := util.RequestIDFromContext(r.Context()); id != "" {
		h.Set(HeaderRequestID, id)
	}

	if remote := clientAddr(r); remote != "" {
		if prior := h.Get(headerForwardedFor); prior != "" {
			h.Set(headerForwardedFor, prior+", "+remote)
		} else {
			h.Set(headerForwardedFor, remote)
		}
	}

	if h.Get(headerForwardedProto) == "" {
		if r.TLS != nil {
			h.Set(headerForwardedProto, "https")
		} else {
			h.Set(headerForwardedProto, "http")
		}
	}

	if r.Host != "" && h.Get(headerForwardedHost) == "" {
		h.Set(headerForwardedHost, r.Host)
	}

	if port := localPort(r); port != "" && h.Get(headerForwardedPort) == "" {
		h.Set(headerForwardedPort, port)
	}

	return h
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func localPort(r *http.Request) string {
	addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr)
	if !ok {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return strconv.Itoa(tcp.Port)
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return ""
	}
	return port
}

// CopyResponseHeader copies upstream response headers to dst. Hop
// headers are dropped and Set-Cookie values are appended to any already
// present.
func CopyResponseHeader(dst, src http.Header) {
	for name, values := range src {
		if isHopHeader(name) {
			continue
		}
		if http.CanonicalHeaderKey(name) == headerSetCookie {
			for _, v := range values {
				dst.Add(headerSetCookie, v)
			}
			continue
		}
		dst[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
}

// reflectRequestID echoes the request correlation id on the response.
func reflectRequestID(w http.ResponseWriter, r *http.Request) {
	if id := util.RequestIDFromContext(r.Context()); id != "" {
		w.Header().Set(HeaderRequestID, id)
	}
}
