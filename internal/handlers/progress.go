package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/database"
	"github.com/ieraasyl/LearnHub/internal/middleware"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/ieraasyl/LearnHub/internal/progress"
	"github.com/ieraasyl/LearnHub/pkg/utils"
	"github.com/rs/zerolog/log"
)

// maxLessonMinutes bounds the study time a single completion may report.
const maxLessonMinutes = 24 * 60

// ProgressService is the progress engine. progress.Service implements it.
type ProgressService interface {
	Streak(ctx context.Context, userID uuid.UUID) (progress.StreakResult, error)
	WeeklyActivity(ctx context.Context, userID uuid.UUID) ([]models.DayTotal, error)
	Overview(ctx context.Context, userID uuid.UUID) (*progress.Overview, error)
	ActivityHistory(ctx context.Context, userID uuid.UUID, params utils.PageParams) (utils.PaginatedResponse, error)
	CourseProgress(ctx context.Context, userID, courseID uuid.UUID) (*models.CourseProgress, error)
	MarkLessonComplete(ctx context.Context, userID, courseID, lessonID uuid.UUID, minutes int) (*progress.CompletionResult, error)
}

// ProgressHandler serves the streak, activity and course progress endpoints.
// Every route is mounted behind middleware.RequireSession.
type ProgressHandler struct {
	service ProgressService
}

// NewProgressHandler creates a progress handler.
func NewProgressHandler(service ProgressService) *ProgressHandler {
	return &ProgressHandler{service: service}
}

// Streak returns the current streak and any reward it paid.
//
// Response:
//
//	{"days": 10, "reward": 10, "balance": 150}
func (h *ProgressHandler) Streak(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	streak, err := h.service.Streak(r.Context(), userID)
	if err != nil {
		respondProgressError(w, r, err, "Failed to compute streak")
		return
	}
	utils.RespondWithJSON(w, r, http.StatusOK, streak)
}

// Weekly returns the summed activity of the last seven days, oldest first.
func (h *ProgressHandler) Weekly(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	week, err := h.service.WeeklyActivity(r.Context(), userID)
	if err != nil {
		respondProgressError(w, r, err, "Failed to load weekly activity")
		return
	}
	utils.RespondWithJSON(w, r, http.StatusOK, map[string]interface{}{"days": week})
}

// Overview returns the streak and weekly activity together.
func (h *ProgressHandler) Overview(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	overview, err := h.service.Overview(r.Context(), userID)
	if err != nil {
		respondProgressError(w, r, err, "Failed to load overview")
		return
	}
	utils.RespondWithJSON(w, r, http.StatusOK, overview)
}

// Activity pages through the activity log.
//
// Example request:
//
//	GET /api/v1/progress/activity?page=2&page_size=50
func (h *ProgressHandler) Activity(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	page, err := h.service.ActivityHistory(r.Context(), userID, utils.ParsePageParams(r))
	if err != nil {
		respondProgressError(w, r, err, "Failed to load activity")
		return
	}
	utils.RespondWithJSON(w, r, http.StatusOK, page)
}

// CourseProgress returns the user's progress through a course.
func (h *ProgressHandler) CourseProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	courseID, err := uuid.Parse(chi.URLParam(r, "courseID"))
	if err != nil {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid course ID")
		return
	}

	cp, err := h.service.CourseProgress(r.Context(), userID, courseID)
	if err != nil {
		respondProgressError(w, r, err, "Failed to load course progress")
		return
	}
	utils.RespondWithJSON(w, r, http.StatusOK, cp)
}

// CompleteLesson marks a lesson complete. The body is optional.
//
// Example request:
//
//	POST /api/v1/courses/{courseID}/lessons/{lessonID}/complete
//	{"minutes": 25}
//
// Responses: 201 the first time, 200 when the lesson was already complete,
// 404 for an unknown lesson.
func (h *ProgressHandler) CompleteLesson(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	courseID, err := uuid.Parse(chi.URLParam(r, "courseID"))
	if err != nil {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid course ID")
		return
	}
	lessonID, err := uuid.Parse(chi.URLParam(r, "lessonID"))
	if err != nil {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid lesson ID")
		return
	}

	var req struct {
		Minutes int `json:"minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Minutes < 0 || req.Minutes > maxLessonMinutes {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Minutes out of range")
		return
	}

	result, err := h.service.MarkLessonComplete(r.Context(), userID, courseID, lessonID, req.Minutes)
	if err != nil {
		respondProgressError(w, r, err, "Failed to complete lesson")
		return
	}

	status := http.StatusOK
	if result.FirstTime {
		status = http.StatusCreated
	}
	utils.RespondWithJSON(w, r, status, result)
}

func requireUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		utils.RespondWithError(w, r, http.StatusUnauthorized, "Unauthorized")
	}
	return userID, ok
}

func respondProgressError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if errors.Is(err, database.ErrNotFound) {
		utils.RespondWithError(w, r, http.StatusNotFound, "Not found")
		return
	}
	userID, _ := middleware.GetUserID(r.Context())
	log.Error().Err(err).Str("user_id", userID.String()).Str("path", r.URL.Path).Msg(msg)
	utils.RespondWithError(w, r, http.StatusInternalServerError, msg)
}
