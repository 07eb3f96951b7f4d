package backend

import (
	"runtime"
	"sort"
)

// Snapshot is a point-in-time view of the registry.
type Snapshot struct {
	NowMs         int64                      `json:"nowMs"`
	UptimeSeconds float64                    `json:"uptimeSeconds"`
	GoVersion     string                     `json:"goVersion"`
	Env           string                     `json:"env"`
	Services      map[string]ServiceSnapshot `json:"services"`
	Connections   ProtocolCounts             `json:"connections"`
}

// ProtocolCounts holds one counter per protocol.
type ProtocolCounts struct {
	HTTP int64 `json:"http"`
	SSE  int64 `json:"sse"`
	WS   int64 `json:"ws"`
}

// ServiceSnapshot aggregates the upstreams of one service.
type ServiceSnapshot struct {
	Upstreams       int                `json:"upstreams"`
	Healthy         int                `json:"healthy"`
	AvgLatencyMs    *float64           `json:"avgLatencyMs"`
	RPS             float64            `json:"rps"`
	ErrorRate       float64            `json:"errorRate"`
	FailOpenPicks   int64              `json:"failOpenPicks"`
	UpstreamDetails []UpstreamSnapshot `json:"upstreamDetails"`
}

// UpstreamSnapshot describes one upstream.
type UpstreamSnapshot struct {
	URL                string         `json:"url"`
	Healthy            bool           `json:"healthy"`
	CircuitOpenUntilMs *int64         `json:"circuitOpenUntilMs"`
	Inflight           ProtocolCounts `json:"inflight"`
	RequestsTotal      int64          `json:"requestsTotal"`
	ErrorsTotal        int64          `json:"errorsTotal"`
	RPS                float64        `json:"rps"`
	Latency            LatencySummary `json:"latency"`
}

// LatencySummary holds the smoothed and last observed latency, nil when
// nothing was observed yet.
type LatencySummary struct {
	EWMAMs *float64 `json:"ewmaMs"`
	LastMs *float64 `json:"lastMs"`
}

// Snapshot reports the state of every configured service. Rates are
// re-sampled as part of taking the snapshot.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := Snapshot{
		NowMs:         now.UnixMilli(),
		UptimeSeconds: now.Sub(r.startedAt).Seconds(),
		GoVersion:     runtime.Version(),
		Env:           r.env,
		Services:      make(map[string]ServiceSnapshot, len(r.services)),
	}

	for name, svc := range r.services {
		s := ServiceSnapshot{
			Upstreams:       len(svc.urls),
			FailOpenPicks:   svc.failOpenPicks,
			UpstreamDetails: make([]UpstreamSnapshot, 0, len(svc.urls)),
		}

		var latencySum float64
		var latencyCount int
		var requests, errs int64

		for _, url := range svc.urls {
			u := r.getLocked(name, url)
			u.sampleRPS(now)

			open := u.isOpen(now)
			if !open {
				s.Healthy++
			}

			out.Connections.HTTP += u.inflight[ProtocolHTTP]
			out.Connections.SSE += u.inflight[ProtocolSSE]
			out.Connections.WS += u.inflight[ProtocolWebSocket]

			if latency, ok := u.latency(); ok {
				latencySum += latency
				latencyCount++
			}

			requests += u.requestsTotal
			errs += u.errorsTotal
			s.RPS += u.rps

			s.UpstreamDetails = append(s.UpstreamDetails, upstreamSnapshot(u, open))
		}

		if latencyCount > 0 {
			avg := latencySum / float64(latencyCount)
			s.AvgLatencyMs = &avg
		}
		if requests > 0 {
			s.ErrorRate = float64(errs) / float64(requests)
		}

		out.Services[name] = s
	}

	return out
}

func upstreamSnapshot(u *upstream, open bool) UpstreamSnapshot {
	d := UpstreamSnapshot{
		URL:     u.url,
		Healthy: !open,
		Inflight: ProtocolCounts{
			HTTP: u.inflight[ProtocolHTTP],
			SSE:  u.inflight[ProtocolSSE],
			WS:   u.inflight[ProtocolWebSocket],
		},
		RequestsTotal: u.requestsTotal,
		ErrorsTotal:   u.errorsTotal,
		RPS:           u.rps,
	}
	if open {
		until := u.circuitOpenUntil.UnixMilli()
		d.CircuitOpenUntilMs = &until
	}
	if u.hasEWMA {
		ewma := u.ewmaLatencyMs
		d.Latency.EWMAMs = &ewma
	}
	if u.hasLastLatency {
		last := u.lastLatencyMs
		d.Latency.LastMs = &last
	}
	return d
}

// ServiceNames returns the sorted names of the configured services.
func (s Snapshot) ServiceNames() []string {
	names := make([]string, 0, len(s.Services))
	for name := range s.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
