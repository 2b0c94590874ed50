package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"
)

// BodyLimit caps request payload size before any handler reads the body.
// Webhook deliveries and checkout payloads are small; anything past Max is
// refused with 413 rather than buffered.
type BodyLimit struct {
	Max int64
}

// Middleware enforces the cap. A declared Content-Length over the limit is
// rejected without reading; otherwise the body is read through a limited
// reader and handed to the handler as an in-memory copy.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength != -1 && r.ContentLength > b.Max {
			http.Error(w, "request entity too large", http.StatusRequestEntityTooLarge)
			return
		}

		body, err := readCapped(r.Body, b.Max)
		switch {
		case errors.Is(err, errBodyTooLarge):
			http.Error(w, "request entity too large", http.StatusRequestEntityTooLarge)
			return
		case err != nil:
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()

		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		next.ServeHTTP(w, r)
	})
}

var errBodyTooLarge = errors.New("security: request body exceeds limit")

// readCapped reads at most max bytes; one byte more means the body is over
// the cap, not merely at it.
func readCapped(r io.Reader, max int64) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if int64(len(buf)) > max {
		return nil, errBodyTooLarge
	}
	return buf, nil
}
