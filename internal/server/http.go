package server

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// routes builds the HTTP surface: probes, the read-only content API, the
// websocket endpoint, and the static client.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !s.daemons.Ready() {
			http.Error(w, "booting", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, map[string]any{
				"name":       s.cfg.Server.Name,
				"version":    s.cfg.Server.Version,
				"start_time": s.cfg.Server.StartTime,
			})
		})
		r.Get("/races", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, s.races.All())
		})
		r.Get("/announcements", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, s.announce.List())
		})
	})

	r.Get("/ws", s.manager.ServeWS)

	if dir := s.cfg.Server.ClientDir; dir != "" {
		if _, err := os.Stat(dir); err == nil {
			r.Handle("/*", http.FileServer(http.Dir(dir)))
		}
	}
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
