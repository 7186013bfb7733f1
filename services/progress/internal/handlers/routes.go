package handlers

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/watch-progress/internal/platform/auth"
	"github.com/example/watch-progress/internal/platform/httpserver"
)

type Deps struct {
	Tracker Tracker
	Log     *zap.Logger
	// Verifier enables bearer identities and the admin delete route.
	Verifier *auth.JWTVerifier
	Limiter  *httpserver.RateLimiter
}

// Register mounts the progress API on r.
func Register(r chi.Router, d Deps) {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	r.Group(func(r chi.Router) {
		if d.Limiter != nil {
			r.Use(d.Limiter.Middleware)
		}
		if d.Verifier != nil {
			r.Use(auth.OptionalUser(*d.Verifier))
		}

		r.Post("/progress", RecordProgress(d.Tracker, log))
		r.Post("/progress/bulk", BulkProgress(d.Tracker, log))
		r.Get("/progress", ListProgress(d.Tracker, log))
		r.Get("/progress/stats/summary", StatsSummary(d.Tracker, log))
		r.Get("/progress/{videoId}", GetProgress(d.Tracker, log))

		if d.Verifier != nil {
			r.With(auth.RequireUser(*d.Verifier), auth.RequireAdmin).
				Delete("/progress/{videoId}", DeleteProgress(d.Tracker, log))
		}
	})
}
