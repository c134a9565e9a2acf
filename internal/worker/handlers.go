package worker

import (
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/lesson-popularity/internal/scoring"
	"github.com/thebtf/lesson-popularity/pkg/models"
)

// Handler configuration constants
const (
	// DefaultPopularLimit is the default number of lessons to return.
	DefaultPopularLimit = 10

	// MaxPopularLimit is the maximum number of lessons returned per request.
	MaxPopularLimit = 100

	// TriggerManual marks runs started over HTTP.
	TriggerManual = "manual"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// parseLimit parses the "limit" query parameter.
// Returns defaultLimit if missing or invalid, capped at maxLimit.
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	limit := defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// handleHealth handles liveness requests.
// GET /health
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleReady returns 200 only when the database answers.
// GET /api/ready
func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	info := s.database.HealthCheck(r.Context())
	if !info.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "unavailable",
			"database": info,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ready",
		"database": info,
	})
}

// StatusResponse is the body of GET /api/popularity/status.
type StatusResponse struct {
	NextRun  *time.Time    `json:"next_run,omitempty"`
	Pipeline scoring.Stats `json:"pipeline"`
}

// handleStatus reports pipeline state, the last run and the next scheduled run.
// GET /api/popularity/status
func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Pipeline: s.pipeline.GetStats()}
	if s.schedule != nil {
		next := s.schedule.NextRun()
		resp.NextRun = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRun starts a full pipeline run in the background.
// POST /api/popularity/run
func (s *Service) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.pipeline.TryStart(r.Context(), TriggerManual) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"status": "already_running",
		})
		return
	}

	log.Info().Str("request_id", GetRequestID(r.Context())).Msg("Manual popularity run started")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "started",
	})
}

// PopularLessonsResponse is the body of GET /api/lessons/popular.
type PopularLessonsResponse struct {
	Lessons []*models.LessonPopularity `json:"lessons"`
	Count   int                        `json:"count"`
}

// handlePopularLessons lists active lessons by live popularity score.
// GET /api/lessons/popular?limit=N
func (s *Service) handlePopularLessons(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, DefaultPopularLimit, MaxPopularLimit)

	lessons, err := s.lessons.GetTopLessons(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Int("limit", limit).Msg("Failed to load popular lessons")
		http.Error(w, "failed to load lessons", http.StatusInternalServerError)
		return
	}
	if lessons == nil {
		lessons = []*models.LessonPopularity{}
	}

	writeJSON(w, http.StatusOK, PopularLessonsResponse{Lessons: lessons, Count: len(lessons)})
}
