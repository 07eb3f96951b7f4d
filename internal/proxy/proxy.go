package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/streamgw/internal/observability"
)

const streamBufferSize = 32 * 1024

// Options control a single forwarded exchange.
type Options struct {
	// Service is the logical service name, used in logs and metrics.
	Service string
	// Timeout bounds connect and response headers, and the body read when
	// the response is buffered. Zero disables it.
	Timeout time.Duration
	// ParsedBody replaces the inbound body when non-nil: []byte and string
	// are sent as-is, other values are JSON-encoded.
	ParsedBody any
	// CacheMaxBodyBytes enables buffering of small GET responses when
	// positive.
	CacheMaxBodyBytes int64
}

// Result describes the outcome of Forward.
type Result struct {
	// StatusCode is the upstream status, or the gateway status on failure.
	StatusCode int
	// UpstreamLatency is the time until response headers, or until the
	// failure.
	UpstreamLatency time.Duration
	// Cacheable is set when the response was buffered; Header and Body
	// then hold what was sent to the client.
	Cacheable bool
	Header    http.Header
	Body      []byte
	// Err is set when the exchange failed. Nothing has been written to the
	// client unless it wraps ErrStreamRelay.
	Err error
}

// Proxy forwards requests to upstream URLs.
type Proxy struct {
	client  *http.Client
	logger  observability.Logger
	metrics *Metrics
}

// Option is a functional option for configuring the proxy.
type Option func(*Proxy)

// WithLogger sets the logger for the proxy.
func WithLogger(logger observability.Logger) Option {
	return func(p *Proxy) {
		p.logger = logger
	}
}

// WithTransport sets the transport for the proxy.
func WithTransport(transport http.RoundTripper) Option {
	return func(p *Proxy) {
		p.client.Transport = transport
	}
}

// WithMetrics sets the proxy metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Proxy) {
		p.metrics = m
	}
}

// New creates a proxy. Redirects are returned to the client rather than
// followed.
func New(opts ...Option) *Proxy {
	p := &Proxy{
		client: &http.Client{
			Transport: DefaultTransport(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// DefaultTransport returns the transport used for upstream calls.
// Compression is left to the client and upstream so bodies pass through
// byte for byte.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		DisableCompression:    true,
	}
}

// Forward sends r to target and writes the upstream response to w. On
// failure before the response headers, nothing is written and Result.Err
// maps to a gateway status through ErrorResponse.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, target *url.URL, opts Options) *Result {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var timedOut atomic.Bool
	timer := time.AfterFunc(maxDuration(opts.Timeout), func() {
		timedOut.Store(true)
		cancel()
	})
	defer timer.Stop()

	logger := p.logger.WithContext(r.Context()).With(
		observability.String("service", opts.Service),
		observability.String("target", target.String()),
	)

	body, length, jsonEncoded, err := requestBody(r, opts.ParsedBody)
	if err != nil {
		logger.Warn("failed to encode request body", observability.Error(err))
		return &Result{StatusCode: http.StatusBadRequest, UpstreamLatency: -1, Err: err}
	}

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return p.failure(logger, opts.Service, target, -1, newUnavailableError(opts.Service, target.String(), err), false)
	}
	outReq.ContentLength = length
	outReq.Header = upstreamHeader(r)
	if jsonEncoded && outReq.Header.Get(headerContentType) == "" {
		outReq.Header.Set(headerContentType, contentTypeJSON)
	}
	observability.InjectTraceContext(ctx, outReq.Header)

	start := time.Now()
	resp, err := p.client.Do(outReq)
	latency := time.Since(start)
	if err != nil {
		return p.classify(logger, r, body, opts.Service, target, latency, err, timedOut.Load())
	}
	defer resp.Body.Close()

	p.metrics.observeUpstream(opts.Service, latency)
	result := &Result{StatusCode: resp.StatusCode, UpstreamLatency: latency}

	if r.Method == http.MethodHead || resp.StatusCode == http.StatusNoContent ||
		resp.StatusCode == http.StatusNotModified || resp.Body == http.NoBody {
		timer.Stop()
		p.writeHead(w, r, resp)
		return result
	}

	if cacheable(r, resp, opts.CacheMaxBodyBytes) {
		data, err := io.ReadAll(io.LimitReader(resp.Body, opts.CacheMaxBodyBytes+1))
		if err != nil {
			return p.classify(logger, r, body, opts.Service, target, latency, err, timedOut.Load())
		}
		timer.Stop()

		p.writeHead(w, r, resp)
		if _, err := w.Write(data); err != nil {
			logger.Debug("client went away during buffered write", observability.Error(err))
		}

		result.Cacheable = true
		result.Header = resp.Header.Clone()
		result.Body = data
		return result
	}

	// Streams may outlive the request timeout.
	timer.Stop()
	p.writeHead(w, r, resp)

	if err := stream(w, resp.Body); err != nil {
		logger.Warn("upstream response stream failed", observability.Error(err))
		p.metrics.proxyError(opts.Service, errorTypeStream)
		result.Err = newStreamError(opts.Service, target.String(), err)
	}
	return result
}

// classify attributes a failed upstream call. A body over the size limit
// and a client that went away are reported as client errors; everything
// else is an upstream timeout or an unreachable upstream.
func (p *Proxy) classify(
	logger observability.Logger,
	r *http.Request,
	body io.Reader,
	service string,
	target *url.URL,
	latency time.Duration,
	err error,
	timedOut bool,
) *Result {
	if mbe, ok := exceededLimit(body); ok {
		logger.Debug("request body exceeded limit", observability.Int64("limit", mbe.Limit))
		p.metrics.proxyError(service, errorTypeClient)
		return &Result{
			StatusCode:      http.StatusRequestEntityTooLarge,
			UpstreamLatency: -1,
			Err:             newRequestTooLargeError(service, target.String(), mbe),
		}
	}
	if timedOut {
		return p.failure(logger, service, target, latency, newTimeoutError(service, target.String(), err), true)
	}
	if r.Context().Err() != nil {
		logger.Debug("client canceled request", observability.Error(err))
		p.metrics.proxyError(service, errorTypeClient)
		return &Result{
			StatusCode:      StatusClientClosedRequest,
			UpstreamLatency: -1,
			Err:             newClientCanceledError(service, target.String(), err),
		}
	}
	return p.failure(logger, service, target, latency, newUnavailableError(service, target.String(), err), false)
}

func (p *Proxy) failure(
	logger observability.Logger,
	service string,
	target *url.URL,
	latency time.Duration,
	err error,
	timeout bool,
) *Result {
	status := http.StatusBadGateway
	errorType := errorTypeUnavailable
	if timeout {
		status = http.StatusGatewayTimeout
		errorType = errorTypeTimeout
	}

	logger.Warn("upstream request failed",
		observability.Int("status", status),
		observability.Error(err),
	)
	p.metrics.proxyError(service, errorType)

	return &Result{StatusCode: status, UpstreamLatency: latency, Err: err}
}

func (p *Proxy) writeHead(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	CopyResponseHeader(w.Header(), resp.Header)
	reflectRequestID(w, r)
	w.WriteHeader(resp.StatusCode)
}

// cacheable reports whether a response may be buffered for the cache.
func cacheable(r *http.Request, resp *http.Response, maxBody int64) bool {
	if maxBody <= 0 || r.Method != http.MethodGet {
		return false
	}
	if strings.Contains(strings.ToLower(resp.Header.Get(headerContentType)), contentTypeEventStream) {
		return false
	}
	if resp.ContentLength < 0 || resp.ContentLength > maxBody {
		return false
	}
	cc := strings.ToLower(resp.Header.Get(headerCacheControl))
	return !strings.Contains(cc, "no-store") && !strings.Contains(cc, "private")
}

// stream copies body to w, flushing after every chunk.
func stream(w http.ResponseWriter, body io.Reader) error {
	rc := http.NewResponseController(w)
	_ = rc.Flush()

	buf := make([]byte, streamBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// maxDuration treats a non-positive timeout as effectively unbounded.
func maxDuration(d time.Duration) time.Duration {
	if d <= 0 {
		return 1<<63 - 1
	}
	return d
}
