package viewcache

import (
	"bytes"
	"net/http"
)

// recorder buffers the downstream response so it can be persisted before
// it is forwarded to the client.
type recorder struct {
	header      http.Header
	sent        http.Header // snapshot taken at WriteHeader
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header)}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.sent = r.header.Clone()
	r.wroteHeader = true
}

func (r *recorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(p)
}

// Status returns the recorded status, 200 when the handler wrote nothing.
func (r *recorder) Status() int {
	if !r.wroteHeader {
		return http.StatusOK
	}
	return r.status
}

// Body returns the recorded body.
func (r *recorder) Body() []byte {
	return r.body.Bytes()
}

// Sent returns the headers as they stood when the status was written.
// Changes made by the handler after WriteHeader are not part of the
// response, as with net/http.
func (r *recorder) Sent() http.Header {
	if !r.wroteHeader {
		return r.header
	}
	return r.sent
}

// forward writes the recorded response to w.
func (r *recorder) forward(w http.ResponseWriter) error {
	dst := w.Header()
	for k, vs := range r.Sent() {
		dst[k] = append([]string(nil), vs...)
	}
	w.WriteHeader(r.Status())
	_, err := w.Write(r.body.Bytes())
	return err
}
