package proxy

import (
	"fmt"
	"net/url"
	"strings"
)

// Target resolves the upstream URL for a request. The wildcard path is
// appended to the base URL path and the inbound query string replaces
// any query on the base.
func Target(base, wildcard, rawQuery string) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL %q: %w", base, err)
	}
	u.Path = joinPath(u.Path, wildcard)
	u.RawPath = ""
	u.RawQuery = rawQuery
	u.Fragment = ""
	return u, nil
}

// WebSocketTarget resolves the upstream WebSocket URL. http becomes ws
// and https becomes wss; path may carry its own query string and
// defaults to "/".
func WebSocketTarget(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid upstream URL %q: %w", base, err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	if path == "" {
		path = "/"
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid websocket path %q: %w", path, err)
	}

	u.Path = joinPath(u.Path, ref.Path)
	u.RawPath = ""
	u.RawQuery = ref.RawQuery
	u.Fragment = ""
	return u.String(), nil
}

func joinPath(base, rest string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(rest, "/")
}
