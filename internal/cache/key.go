package cache

import (
	"net/http"
)

// Key builds the cache key for a resolved upstream target.
func Key(service, target string) string {
	return service + ":" + target
}

// Eligible reports whether a request may be answered from, or stored
// in, the shared cache. Only anonymous GET requests qualify.
func Eligible(method string, header http.Header) bool {
	if method != http.MethodGet {
		return false
	}
	return len(header.Values("Authorization")) == 0 && len(header.Values("Cookie")) == 0
}

// storedHeaders are the response headers kept with a cached body.
var storedHeaders = []string{
	"Content-Type",
	"Content-Encoding",
	"Cache-Control",
	"Etag",
	"Last-Modified",
}

// StoredHeader copies the subset of response headers kept with an entry.
func StoredHeader(h http.Header) http.Header {
	out := make(http.Header, len(storedHeaders))
	for _, name := range storedHeaders {
		if v := h.Values(name); len(v) > 0 {
			out[name] = append([]string(nil), v...)
		}
	}
	return out
}
