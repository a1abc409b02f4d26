// Package server exposes the collector over a small JSON API: scheduler
// status, stored records, derived analytics, and a manual fetch trigger.
package server

import (
	"net/http"

	"github.com/gridpulse/gridpulse/internal/utils"
	"github.com/gridpulse/gridpulse/pkg/analytics"
	"github.com/gridpulse/gridpulse/pkg/scheduler"
	"github.com/gridpulse/gridpulse/pkg/storage"
)

type Server struct {
	DB        *storage.DB
	Engine    *analytics.Engine
	Scheduler *scheduler.Scheduler
	Username  string
	Password  string
}

func New(db *storage.DB, engine *analytics.Engine, sched *scheduler.Scheduler, user, pass string) *Server {
	return &Server{
		DB:        db,
		Engine:    engine,
		Scheduler: sched,
		Username:  user,
		Password:  pass,
	}
}

func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.basicAuth(s.handleStatus))
	mux.HandleFunc("GET /api/records", s.basicAuth(s.handleRecords))
	mux.HandleFunc("GET /api/aggregate", s.basicAuth(s.handleAggregate))
	mux.HandleFunc("GET /api/analysis", s.basicAuth(s.handleAnalysis))
	mux.HandleFunc("GET /api/correlation", s.basicAuth(s.handleCorrelation))
	mux.HandleFunc("GET /api/sustainability", s.basicAuth(s.handleSustainability))
	mux.HandleFunc("GET /api/compare", s.basicAuth(s.handleCompare))
	mux.HandleFunc("POST /api/fetch", s.basicAuth(s.handleFetch))

	utils.Log.Infof("Starting server on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Username == "" && s.Password == "" {
			next(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
