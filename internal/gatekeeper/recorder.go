package gatekeeper

import (
	"bytes"
	"net/http"
)

// recorder buffers the downstream handler's response so the pipeline can
// inspect and rewrite the body before anything reaches the wire. Headers go
// straight to the underlying writer's header map; status and body are held
// back until the pipeline flushes.
type recorder struct {
	header     http.Header
	body       bytes.Buffer
	statusCode int
}

func newRecorder(w http.ResponseWriter) *recorder {
	return &recorder{header: w.Header()}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(status int) {
	if r.statusCode == 0 {
		r.statusCode = status
	}
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	return r.body.Write(b)
}

func (r *recorder) status() int {
	if r.statusCode == 0 {
		return http.StatusOK
	}
	return r.statusCode
}

func (r *recorder) contentType() string {
	return r.header.Get("Content-Type")
}
