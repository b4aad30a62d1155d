// Package errors provides the HTTP-facing error handling of the GLACIER
// modeling service: panic recovery and the JSON error body shared by every
// API endpoint.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Recoverer converts handler panics into 500 responses, logging the panic
// value and stack together with the request identity. http.ErrAbortHandler
// is re-raised, as the server uses it to abort responses on purpose.
func Recoverer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				log := logger
				if r != nil {
					log = logger.With(
						zap.String("request_id", middleware.GetReqID(r.Context())),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
					)
				}
				log.Error("panic while serving request",
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)

				JSONError(w, http.StatusInternalServerError,
					http.StatusText(http.StatusInternalServerError))
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// JSONError writes the service's error body with the given HTTP status.
func JSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
