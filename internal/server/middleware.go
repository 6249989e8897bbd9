package server

import (
	"net/http"
	"slices"
)

func (s *Server) allowAllOrigins() bool {
	return slices.Contains(s.cfg.Server.AllowedOrigins, "*")
}

// cors applies the configured origin policy and answers preflight requests
// before they reach the method-qualified routes.
func (s *Server) cors(next http.Handler) http.Handler {
	allowAll := s.allowAllOrigins()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			h := w.Header()
			switch {
			case allowAll:
				h.Set("Access-Control-Allow-Origin", "*")
			case slices.Contains(s.cfg.Server.AllowedOrigins, origin):
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "*")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
