// Package httpapi exposes the engine over HTTP: the /api/auth endpoints,
// the role-gated dashboard destinations, and a catch-all redirect.
package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Response is the uniform reply envelope. Error stays server-side in the
// logs; Message and Data go to the client.
type Response struct {
	Error   error  `json:"-"`
	Code    int    `json:"-"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Encode writes the envelope with its status code.
func (res Response) Encode(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	if res.Code == 0 {
		res.Code = http.StatusOK
	}
	w.WriteHeader(res.Code)
	return json.NewEncoder(w).Encode(res)
}

// handle adapts an envelope-returning handler to http.Handler and logs
// server-side errors centrally.
func (s *Server) handle(fn func(w http.ResponseWriter, r *http.Request) Response) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := fn(w, r)

		if res.Error != nil {
			s.log.Error("request failed",
				zap.String("path", r.URL.Path),
				zap.Int("code", res.Code),
				zap.Error(res.Error),
			)
		}

		if err := res.Encode(w); err != nil {
			s.log.Error("response encode failed", zap.Error(err))
		}
	})
}
