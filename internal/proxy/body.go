package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// requestBody returns the body to send upstream and its length (-1 when
// unknown). GET and HEAD never carry a body. A nil parsed value passes
// the inbound stream through; otherwise the body is rebuilt from it and
// jsonEncoded reports whether it was JSON-encoded.
func requestBody(r *http.Request, parsed any) (body io.Reader, length int64, jsonEncoded bool, err error) {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return http.NoBody, 0, false, nil
	}

	if parsed == nil {
		if r.Body == nil || r.Body == http.NoBody {
			return http.NoBody, 0, false, nil
		}
		return &inboundBody{ReadCloser: r.Body}, r.ContentLength, false, nil
	}

	switch v := parsed.(type) {
	case []byte:
		return bytes.NewReader(v), int64(len(v)), false, nil
	case string:
		return strings.NewReader(v), int64(len(v)), false, nil
	case json.RawMessage:
		return bytes.NewReader(v), int64(len(v)), true, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, 0, false, fmt.Errorf("%w: %v", ErrInvalidBody, err)
		}
		return bytes.NewReader(data), int64(len(data)), true, nil
	}
}

// inboundBody remembers the first read error of a passed-through client
// body so a failed upstream call can be attributed to the client.
type inboundBody struct {
	io.ReadCloser

	mu  sync.Mutex
	err error
}

func (b *inboundBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		b.mu.Lock()
		if b.err == nil {
			b.err = err
		}
		b.mu.Unlock()
	}
	return n, err
}

// exceededLimit reports whether reading body hit an http.MaxBytesReader
// limit.
func exceededLimit(body io.Reader) (*http.MaxBytesError, bool) {
	b, ok := body.(*inboundBody)
	if !ok {
		return nil, false
	}
	b.mu.Lock()
	err := b.err
	b.mu.Unlock()

	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return mbe, true
	}
	return nil, false
}
