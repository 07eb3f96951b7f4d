package server

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/streamgw/internal/backend"
	"github.com/vyrodovalexey/streamgw/internal/cache"
	"github.com/vyrodovalexey/streamgw/internal/observability"
	"github.com/vyrodovalexey/streamgw/internal/proxy"
	"github.com/vyrodovalexey/streamgw/internal/util"
)

const (
	headerCacheControl = "Cache-Control"
	headerXCache       = "X-Cache"
)

// handleAPI proxies /api/:service/*path, answering anonymous GETs from
// the response cache when it is enabled.
func (s *Server) handleAPI(c *gin.Context) {
	service := c.Param("service")
	base, ok := s.pick(c, service)
	if !ok {
		return
	}

	target, err := proxy.Target(base, c.Param("path"), c.Request.URL.RawQuery)
	if err != nil {
		writeProxyError(c, err)
		return
	}

	var key string
	if s.deps.Cache != nil && s.cfg.Cache.Enabled && cache.Eligible(c.Request.Method, c.Request.Header) {
		key = cache.Key(service, target.String())
		if entry, hit := s.deps.Cache.Get(c.Request.Context(), key); hit {
			s.serveCached(c, service, entry)
			return
		}
	}

	opts := proxy.Options{
		Service: service,
		Timeout: s.cfg.Proxy.Timeout.Duration(),
	}
	if body, exists := c.Get(gin.BodyBytesKey); exists {
		opts.ParsedBody = body
	}
	if key != "" {
		opts.CacheMaxBodyBytes = s.cfg.Cache.MaxBodyBytes
	}

	rc := s.deps.Registry.BeginHTTP(service, base)
	result := s.forward(c, rc, target, opts)
	if result == nil {
		return
	}

	if key != "" && result.Cacheable &&
		result.StatusCode >= http.StatusOK && result.StatusCode < http.StatusMultipleChoices {
		s.deps.Cache.Set(c.Request.Context(), key, &cache.Entry{
			Status:    result.StatusCode,
			Header:    cache.StoredHeader(result.Header),
			Body:      result.Body,
			CreatedAt: time.Now(),
			TTL:       s.cfg.Cache.TTL.Duration(),
		})
	}
}

// handleSSE proxies /sse/:service/*path. Responses stream unbuffered and
// are never cached.
func (s *Server) handleSSE(c *gin.Context) {
	service := c.Param("service")
	base, ok := s.pick(c, service)
	if !ok {
		return
	}

	target, err := proxy.Target(base, c.Param("path"), c.Request.URL.RawQuery)
	if err != nil {
		writeProxyError(c, err)
		return
	}

	c.Header(headerCacheControl, "no-cache")

	rc := s.deps.Registry.BeginSSE(service, base)
	s.forward(c, rc, target, proxy.Options{
		Service: service,
		Timeout: s.cfg.Proxy.Timeout.Duration(),
	})
}

// pick selects an upstream for service and records it in the request
// context. It writes 404 unknown_service when there is none.
func (s *Server) pick(c *gin.Context, service string) (string, bool) {
	ctx := util.ContextWithService(c.Request.Context(), service)

	base, ok := s.deps.Registry.Pick(service)
	if !ok {
		c.Request = c.Request.WithContext(ctx)
		writeProxyError(c, proxy.NewUnknownServiceError(service))
		return "", false
	}

	c.Request = c.Request.WithContext(util.ContextWithUpstream(ctx, base))
	return base, true
}

// forward runs the exchange and settles the registry accounting. Client
// errors release the slot without touching upstream health. It returns
// nil when the response was an error already written to the client. A stream that fails after the headers were sent aborts the
// connection so the client sees a truncated response.
func (s *Server) forward(c *gin.Context, rc *backend.RequestContext, target *url.URL, opts proxy.Options) *proxy.Result {
	result := s.deps.Proxy.Forward(c.Writer, c.Request, target, opts)
	if proxy.IsClientError(result.Err) {
		rc.Release()
	} else {
		rc.Finish(result.StatusCode, result.UpstreamLatency)
	}

	if result.Err == nil {
		return result
	}
	if errors.Is(result.Err, proxy.ErrClientCanceled) {
		// Nobody is left to read a body.
		c.Status(proxy.StatusClientClosedRequest)
		c.Abort()
		return nil
	}
	if errors.Is(result.Err, proxy.ErrStreamRelay) {
		s.logger.WithContext(c.Request.Context()).Warn("aborting client response",
			observability.String("service", opts.Service),
			observability.Error(result.Err),
		)
		c.Abort()
		panic(http.ErrAbortHandler)
	}
	writeProxyError(c, result.Err)
	return nil
}

// serveCached writes a stored response.
func (s *Server) serveCached(c *gin.Context, service string, entry *cache.Entry) {
	header := c.Writer.Header()
	for name, values := range entry.Header {
		header[name] = append([]string(nil), values...)
	}
	header.Set(headerXCache, "HIT")
	s.deps.ProxyMetrics.RecordCacheServed(service)

	c.Status(entry.Status)
	_, _ = c.Writer.Write(entry.Body)
}
