package viewcache

import (
	"net/http"
)

// HeaderPair is a single response header, stored as [name, value].
type HeaderPair [2]string

// Name returns the header name.
func (p HeaderPair) Name() string { return p[0] }

// Value returns the header value.
func (p HeaderPair) Value() string { return p[1] }

// Entry is a cached view: the headers allowed through by the headers filter
// and the response body.
type Entry struct {
	// Status is the status of the populating response.
	// Zero means 200, for entries written without it.
	Status int `json:"status,omitempty" msgpack:"status,omitempty"`

	// Headers are the filtered response headers, in order.
	Headers []HeaderPair `json:"headers" msgpack:"headers"`

	// Body is the response body.
	Body []byte `json:"body" msgpack:"body"`
}

// StatusCode returns the status to replay for this entry.
func (e *Entry) StatusCode() int {
	if e.Status == 0 {
		return http.StatusOK
	}
	return e.Status
}

// writeTo replays the entry on w.
func (e *Entry) writeTo(w http.ResponseWriter) error {
	h := w.Header()
	for _, p := range e.Headers {
		h.Del(p.Name())
	}
	for _, p := range e.Headers {
		h.Add(p.Name(), p.Value())
	}
	h.Set(HeaderHit, "true")

	w.WriteHeader(e.StatusCode())
	_, err := w.Write(e.Body)
	return err
}
