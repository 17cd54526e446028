package httpserver

import (
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/origin"
)

// handleAPI registers a browser-facing JSON endpoint. Cross-origin callers
// must pass the origin policy; a matching OPTIONS preflight is answered too.
func (s *Server) handleAPI(pattern string, h http.HandlerFunc) {
	path := strings.TrimPrefix(pattern, http.MethodGet+" ")
	s.mux.Handle(pattern, originPolicyMiddleware(s.cfg.AllowedOrigins)(h))
	s.mux.Handle(http.MethodOptions+" "+path, originPolicyMiddleware(s.cfg.AllowedOrigins)(http.HandlerFunc(preflight)))
}

func preflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
		w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
	}
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

// originPolicyMiddleware admits same-origin and non-browser requests, and
// cross-origin ones listed in allowed.
func originPolicyMiddleware(allowed []string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Origin")
			if strings.TrimSpace(header) == "" {
				next.ServeHTTP(w, r)
				return
			}
			normalized, host, ok := origin.NormalizeHeader(header)
			if !ok || !origin.IsAllowed(normalized, host, r.Host, allowed) {
				WriteJSON(w, http.StatusForbidden, map[string]any{"error": "origin not allowed"})
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", normalized)
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			w.Header().Add("Vary", "Origin")
			next.ServeHTTP(w, r)
		})
	}
}
