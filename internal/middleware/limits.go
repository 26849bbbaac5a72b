package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// RequestSizeLimit enforces maximum request body size. Requests declaring a
// larger Content-Length are rejected outright; chunked bodies are capped by
// http.MaxBytesReader when the downstream proxy reads them.
func RequestSizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				log.Warn().
					Int64("content_length", r.ContentLength).
					Int64("max_size", maxBytes).
					Msg("request body too large")
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
