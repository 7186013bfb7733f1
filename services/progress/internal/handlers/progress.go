// Package handlers exposes the progress tracker over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/watch-progress/internal/platform/api"
	"github.com/example/watch-progress/internal/platform/auth"
	"github.com/example/watch-progress/internal/platform/httpserver"
	"github.com/example/watch-progress/services/progress/internal/domain"
	"github.com/example/watch-progress/services/progress/internal/interval"
	"github.com/example/watch-progress/services/progress/internal/service"
)

// MaxBulkUpdates caps the number of updates accepted by POST /progress/bulk.
const MaxBulkUpdates = 100

// Tracker is the subset of service.Tracker used by the handlers.
type Tracker interface {
	Record(ctx context.Context, key domain.Key, obs domain.Observation) (*domain.Progress, error)
	Get(ctx context.Context, key domain.Key, duration float64) (*domain.Progress, error)
	List(ctx context.Context, userID string) ([]*domain.Progress, error)
	Stats(ctx context.Context, userID string) (domain.Stats, error)
	Delete(ctx context.Context, key domain.Key) error
	Bulk(ctx context.Context, userID string, items []service.BulkItem) []service.BulkResult
}

var _ Tracker = (*service.Tracker)(nil)

type recordRequest struct {
	UserID      string          `json:"userId"`
	VideoID     string          `json:"videoId"`
	CurrentTime *float64        `json:"currentTime"`
	Duration    *float64        `json:"duration"`
	Interval    json.RawMessage `json:"interval,omitempty"`
}

type bulkUpdate struct {
	VideoID     string          `json:"videoId"`
	CurrentTime *float64        `json:"currentTime"`
	Duration    *float64        `json:"duration"`
	Interval    json.RawMessage `json:"interval,omitempty"`
}

type bulkRequest struct {
	UserID  string       `json:"userId"`
	Updates []bulkUpdate `json:"updates"`
}

type bulkResult struct {
	VideoID  string          `json:"videoId"`
	Success  bool            `json:"success"`
	Progress *domain.Summary `json:"progress,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type bulkResponse struct {
	Results []bulkResult `json:"results"`
}

type detailResponse struct {
	LastPosition     float64      `json:"lastPosition"`
	Percentage       float64      `json:"percentage"`
	WatchedIntervals interval.Set `json:"watchedIntervals"`
	IsCompleted      bool         `json:"isCompleted"`
	WatchedTime      float64      `json:"watchedTime"`
	Duration         float64      `json:"duration"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

type listItem struct {
	VideoID      string    `json:"videoId"`
	LastPosition float64   `json:"lastPosition"`
	Percentage   float64   `json:"percentage"`
	IsCompleted  bool      `json:"isCompleted"`
	Duration     float64   `json:"duration"`
	WatchedTime  float64   `json:"watchedTime"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type listResponse struct {
	Progress []listItem `json:"progress"`
}

type statsResponse struct {
	Stats domain.Stats `json:"stats"`
}

// RecordProgress handles POST /progress
func RecordProgress(t Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())

		var req recordRequest
		if err := decodeJSON(w, r, &req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", rid, nil)
			return
		}
		userID, err := resolveUser(r, req.UserID)
		if err != nil {
			writeIdentityError(w, rid, err)
			return
		}
		videoID := strings.TrimSpace(req.VideoID)
		if videoID == "" {
			api.BadRequest(w, "MISSING_FIELD", "videoId is required", rid, map[string]any{"field": "videoId"})
			return
		}
		obs, field := observationFrom(req.CurrentTime, req.Duration, req.Interval)
		if field != "" {
			api.BadRequest(w, "MISSING_FIELD", field+" is required", rid, map[string]any{"field": field})
			return
		}

		p, err := t.Record(r.Context(), domain.Key{UserID: userID, VideoID: videoID}, obs)
		if err != nil {
			writeServiceError(w, log, rid, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, p.ToSummary())
	}
}

// GetProgress handles GET /progress/{videoId}
func GetProgress(t Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())

		videoID := strings.TrimSpace(chi.URLParam(r, "videoId"))
		if videoID == "" {
			api.BadRequest(w, "MISSING_FIELD", "videoId is required", rid, map[string]any{"field": "videoId"})
			return
		}
		userID, err := resolveUser(r, r.URL.Query().Get("userId"))
		if err != nil {
			writeIdentityError(w, rid, err)
			return
		}

		var duration float64
		if raw := strings.TrimSpace(r.URL.Query().Get("duration")); raw != "" {
			d, err := strconv.ParseFloat(raw, 64)
			if err != nil || d <= 0 {
				api.BadRequest(w, "INVALID_DURATION", "duration must be a positive number", rid, map[string]any{"field": "duration"})
				return
			}
			duration = d
		}

		p, err := t.Get(r.Context(), domain.Key{UserID: userID, VideoID: videoID}, duration)
		if err != nil {
			writeServiceError(w, log, rid, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, detailResponse{
			LastPosition:     p.LastPosition,
			Percentage:       domain.Round2(p.Percentage),
			WatchedIntervals: p.WatchedIntervals,
			IsCompleted:      p.IsCompleted,
			WatchedTime:      p.WatchedTime(),
			Duration:         p.Duration,
			CreatedAt:        p.CreatedAt,
			UpdatedAt:        p.UpdatedAt,
		})
	}
}

// ListProgress handles GET /progress
func ListProgress(t Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())

		userID, err := resolveUser(r, r.URL.Query().Get("userId"))
		if err != nil {
			writeIdentityError(w, rid, err)
			return
		}
		records, err := t.List(r.Context(), userID)
		if err != nil {
			writeServiceError(w, log, rid, err)
			return
		}

		items := make([]listItem, 0, len(records))
		for _, p := range records {
			items = append(items, listItem{
				VideoID:      p.VideoID,
				LastPosition: p.LastPosition,
				Percentage:   domain.Round2(p.Percentage),
				IsCompleted:  p.IsCompleted,
				Duration:     p.Duration,
				WatchedTime:  p.WatchedTime(),
				UpdatedAt:    p.UpdatedAt,
			})
		}
		api.WriteJSON(w, http.StatusOK, listResponse{Progress: items})
	}
}

// StatsSummary handles GET /progress/stats/summary. With a token the stats
// cover the caller; anonymously userId is optional and absent means everyone.
func StatsSummary(t Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())

		supplied := strings.TrimSpace(r.URL.Query().Get("userId"))
		userID := supplied
		if uid, ok := auth.UserIDFromContext(r.Context()); ok && uid != "" {
			if supplied != "" && supplied != uid {
				writeIdentityError(w, rid, errUserMismatch)
				return
			}
			userID = uid
		}

		st, err := t.Stats(r.Context(), userID)
		if err != nil {
			writeServiceError(w, log, rid, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, statsResponse{Stats: st.Rounded()})
	}
}

// BulkProgress handles POST /progress/bulk
func BulkProgress(t Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())

		var req bulkRequest
		if err := decodeJSON(w, r, &req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", rid, nil)
			return
		}
		userID, err := resolveUser(r, req.UserID)
		if err != nil {
			writeIdentityError(w, rid, err)
			return
		}
		if req.Updates == nil {
			api.BadRequest(w, "MISSING_FIELD", "updates must be an array", rid, map[string]any{"field": "updates"})
			return
		}
		if len(req.Updates) > MaxBulkUpdates {
			api.BadRequest(w, "TOO_MANY_UPDATES", "too many updates in one batch", rid,
				map[string]any{"max": MaxBulkUpdates, "got": len(req.Updates)})
			return
		}

		results := make([]bulkResult, len(req.Updates))
		items := make([]service.BulkItem, 0, len(req.Updates))
		slots := make([]int, 0, len(req.Updates))
		for i, u := range req.Updates {
			videoID := strings.TrimSpace(u.VideoID)
			results[i].VideoID = videoID
			if videoID == "" {
				results[i].Error = "videoId is required"
				continue
			}
			obs, field := observationFrom(u.CurrentTime, u.Duration, u.Interval)
			if field != "" {
				results[i].Error = field + " is required"
				continue
			}
			items = append(items, service.BulkItem{VideoID: videoID, Observation: obs})
			slots = append(slots, i)
		}

		for j, res := range t.Bulk(r.Context(), userID, items) {
			i := slots[j]
			if res.Err != nil {
				log.Debug("bulk item failed", zap.String("request_id", rid),
					zap.String("video_id", res.VideoID), zap.Error(res.Err))
				results[i].Error = itemError(res.Err)
				continue
			}
			sum := res.Progress.ToSummary()
			results[i].Success = true
			results[i].Progress = &sum
		}
		api.WriteJSON(w, http.StatusOK, bulkResponse{Results: results})
	}
}

// DeleteProgress handles DELETE /progress/{videoId}?userId=
func DeleteProgress(t Tracker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())

		key := domain.Key{
			UserID:  strings.TrimSpace(r.URL.Query().Get("userId")),
			VideoID: strings.TrimSpace(chi.URLParam(r, "videoId")),
		}
		if err := key.Validate(); err != nil {
			api.BadRequest(w, "MISSING_FIELD", err.Error(), rid, nil)
			return
		}
		if err := t.Delete(r.Context(), key); err != nil {
			writeServiceError(w, log, rid, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// observationFrom builds an Observation. It returns the name of the first
// missing scalar field, if any. A malformed interval is dropped.
func observationFrom(currentTime, duration *float64, rawInterval json.RawMessage) (domain.Observation, string) {
	if currentTime == nil {
		return domain.Observation{}, "currentTime"
	}
	if duration == nil {
		return domain.Observation{}, "duration"
	}
	obs := domain.Observation{Position: *currentTime, Duration: *duration}
	if in, ok := interval.Parse(rawInterval); ok {
		obs.Interval = &in
	}
	return obs, ""
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}
