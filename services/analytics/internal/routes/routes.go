package routes

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/example/watch-progress/internal/platform/api"
	"github.com/example/watch-progress/internal/platform/httpserver"
	"github.com/example/watch-progress/services/analytics/internal/tally"
)

const maxTop = 100

type Reader interface {
	Video(videoID string) (tally.VideoStats, bool)
	Top(limit int) []tally.VideoStats
}

var _ Reader = (*tally.Memory)(nil)

func Register(r chi.Router, rd Reader) {
	r.Get("/analytics/videos", TopVideos(rd))
	r.Get("/analytics/videos/{videoId}", VideoStats(rd))
}

func TopVideos(rd Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				api.BadRequest(w, "INVALID_LIMIT", "limit must be a positive integer", httpserver.RequestIDFromContext(r.Context()), nil)
				return
			}
			limit = min(n, maxTop)
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{"videos": rd.Top(limit)})
	}
}

func VideoStats(rd Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videoID := strings.TrimSpace(chi.URLParam(r, "videoId"))
		if videoID == "" {
			api.BadRequest(w, "MISSING_FIELD", "videoId is required", httpserver.RequestIDFromContext(r.Context()), nil)
			return
		}
		st, _ := rd.Video(videoID)
		api.WriteJSON(w, http.StatusOK, map[string]any{"stats": st})
	}
}
