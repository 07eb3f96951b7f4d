package proxy

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterRequestHeader(t *testing.T) {
	in := http.Header{}
	in.Set("Host", "example.com")
	in.Set("Connection", "Upgrade")
	in.Set("Keep-Alive", "timeout=5")
	in.Set("Proxy-Authorization", "Basic x")
	in.Set("Te", "trailers")
	in.Set("Trailer", "X")
	in.Set("Transfer-Encoding", "chunked")
	in.Set("Upgrade", "websocket")
	in.Set("Authorization", "Bearer token")
	in.Add("X-Multi", "a")
	in.Add("X-Multi", "b")
	in["X-Empty"] = []string{""}

	out := FilterRequestHeader(in)

	for _, name := range []string{"Host", "Connection", "Keep-Alive", "Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade", "X-Empty"} {
		assert.Empty(t, out.Values(name), name)
	}
	assert.Equal(t, "Bearer token", out.Get("Authorization"))
	assert.Equal(t, []string{"a,b"}, out.Values("X-Multi"))
}

func TestCopyResponseHeader(t *testing.T) {
	src := http.Header{}
	src.Set("Content-Type", "application/json")
	src.Set("Transfer-Encoding", "chunked")
	src.Set("Proxy-Authenticate", "Basic")
	src.Add("Set-Cookie", "b=2")

	dst := http.Header{}
	dst.Set("Content-Type", "text/plain")
	dst.Add("Set-Cookie", "a=1")

	CopyResponseHeader(dst, src)

	assert.Equal(t, "application/json", dst.Get("Content-Type"))
	assert.Empty(t, dst.Get("Transfer-Encoding"))
	assert.Empty(t, dst.Get("Proxy-Authenticate"))
	assert.Equal(t, []string{"a=1", "b=2"}, dst.Values("Set-Cookie"))
}

func TestTarget(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		wildcard string
		query    string
		want     string
	}{
		{name: "root base", base: "http://u1:8080", wildcard: "/v1/users", query: "page=2", want: "http://u1:8080/v1/users?page=2"},
		{name: "base path kept", base: "http://u1:8080/api", wildcard: "/v1/users", want: "http://u1:8080/api/v1/users"},
		{name: "empty wildcard", base: "http://u1:8080", wildcard: "", want: "http://u1:8080/"},
		{name: "base query replaced", base: "https://u1/x?a=1", wildcard: "/y", query: "b=2", want: "https://u1/x/y?b=2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := Target(tt.base, tt.wildcard, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}

	_, err := Target("://bad", "/x", "")
	assert.Error(t, err)
}

func TestWebSocketTarget(t *testing.T) {
	tests := []struct {
		name string
		base string
		path string
		want string
	}{
		{name: "http to ws", base: "http://chat:9000", path: "/room/1", want: "ws://chat:9000/room/1"},
		{name: "https to wss", base: "https://chat", path: "/room", want: "wss://chat/room"},
		{name: "default path", base: "http://chat:9000", path: "", want: "ws://chat:9000/"},
		{name: "path with query", base: "http://chat:9000", path: "/room?id=7", want: "ws://chat:9000/room?id=7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WebSocketTarget(tt.base, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "unknown service", err: NewUnknownServiceError("ghost"), status: http.StatusNotFound, code: CodeUnknownService},
		{name: "timeout", err: newTimeoutError("s", "http://u", errors.New("deadline")), status: http.StatusGatewayTimeout, code: CodeUpstreamTimeout},
		{name: "unavailable", err: newUnavailableError("s", "http://u", errors.New("refused")), status: http.StatusBadGateway, code: CodeUpstreamUnavailable},
		{name: "other", err: errors.New("boom"), status: http.StatusInternalServerError, code: CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, message := ErrorResponse(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
			assert.NotEmpty(t, message)
		})
	}

	_, _, message := ErrorResponse(NewUnknownServiceError("ghost"))
	assert.Equal(t, "No upstream configured for service: ghost", message)
}

func TestProxyError(t *testing.T) {
	err := newStreamError("users", "http://u1", errors.New("reset"))

	assert.True(t, errors.Is(err, ErrStreamRelay))
	assert.True(t, errors.Is(err, &ProxyError{}))
	assert.False(t, errors.Is(err, ErrUpstreamTimeout))
	assert.Contains(t, err.Error(), "service=users")
	assert.Contains(t, err.Error(), "target=http://u1")
}

func TestMessage(t *testing.T) {
	var m Message = Text("hello")
	assert.Equal(t, 5, m.Len())

	m = Binary([]byte{1, 2, 3})
	assert.Equal(t, 3, m.Len())

	_, ok := messageFromFrame(9, nil)
	assert.False(t, ok)
}
