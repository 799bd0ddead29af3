package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/faithtrack-bot-go/internal/config"
	"github.com/faithtrack-bot-go/internal/metrics"
	"github.com/faithtrack-bot-go/internal/middleware"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/faithtrack-bot-go/internal/services/moderation"
	"github.com/faithtrack-bot-go/internal/services/notification"
	"github.com/faithtrack-bot-go/internal/services/ratelimit"
	"github.com/faithtrack-bot-go/internal/services/search"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// API serves the rate limit, moderation, notification and search endpoints
type API struct {
	config    *config.Config
	limiter   *ratelimit.Limiter
	moderator *moderation.Moderator
	scheduler *notification.Scheduler
	search    *search.Service
	auth      *middleware.Authenticator
	rateLimit *middleware.RateLimit
	rules     RuleStore
	metrics   *metrics.Metrics
	logger    *logrus.Logger
}

// RuleStore persists moderation rules managed through the API
type RuleStore interface {
	SaveRule(ctx context.Context, rule models.ModerationRule) error
	DeleteRule(ctx context.Context, id string) error
}

// NewAPI creates the HTTP API
func NewAPI(
	cfg *config.Config,
	limiter *ratelimit.Limiter,
	moderator *moderation.Moderator,
	scheduler *notification.Scheduler,
	searchService *search.Service,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *API {
	auth := middleware.NewAuthenticator(cfg.Server.AdminToken)
	return &API{
		config:    cfg,
		limiter:   limiter,
		moderator: moderator,
		scheduler: scheduler,
		search:    searchService,
		auth:      auth,
		rateLimit: middleware.NewRateLimit(limiter, auth, cfg.Server, logger),
		metrics:   m,
		logger:    logger,
	}
}

// RateLimit returns the middleware guarding /api/v1
func (a *API) RateLimit() *middleware.RateLimit {
	return a.rateLimit
}

// PersistRules makes rule changes made through the API durable
func (a *API) PersistRules(store RuleStore) {
	a.rules = store
}

// Router builds the route table
func (a *API) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Instrument(a.metrics, a.logger))

	router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	if a.config.Monitoring.Metrics.Enabled {
		router.Handle(a.config.Monitoring.Metrics.Path, promhttp.Handler())
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(a.rateLimit.Handler, middleware.MaxBody(a.config.Server.MaxBodyBytes))

	api.HandleFunc("/ratelimit/check", a.handleRateLimitCheck).Methods(http.MethodPost)
	api.HandleFunc("/moderation/moderate", a.handleModerate).Methods(http.MethodPost)

	api.HandleFunc("/notifications", a.handleSubscribe).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{subscriber}/preferences", a.handleGetPreferences).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{subscriber}/preferences", a.handlePutPreferences).Methods(http.MethodPut)
	api.HandleFunc("/notifications/{subscriber}/preferences", a.handleUnsubscribe).Methods(http.MethodDelete)
	api.HandleFunc("/notifications/{subscriber}/check", a.handleCheckNotification).Methods(http.MethodPost)

	api.HandleFunc("/search/posts", a.handleSearchPosts).Methods(http.MethodGet)
	api.HandleFunc("/search/users", a.handleSearchUsers).Methods(http.MethodGet)
	api.HandleFunc("/search/suggestions", a.handleSuggestions).Methods(http.MethodGet)

	// Counting or resetting another user's budget, rule management and
	// aggregate stats need the admin token
	admin := api.NewRoute().Subrouter()
	admin.Use(a.auth.RequireToken)

	admin.HandleFunc("/ratelimit/record", a.handleRateLimitRecord).Methods(http.MethodPost)
	admin.HandleFunc("/ratelimit/consume", a.handleRateLimitConsume).Methods(http.MethodPost)
	admin.HandleFunc("/ratelimit/stats", a.handleRateLimitStats).Methods(http.MethodGet)
	admin.HandleFunc("/ratelimit/{action}/{user}", a.handleRateLimitReset).Methods(http.MethodDelete)

	admin.HandleFunc("/moderation/rules", a.handleListRules).Methods(http.MethodGet)
	admin.HandleFunc("/moderation/rules", a.handleAddRule).Methods(http.MethodPost)
	admin.HandleFunc("/moderation/rules/{id}", a.handleRemoveRule).Methods(http.MethodDelete)
	admin.HandleFunc("/moderation/stats", a.handleModerationStats).Methods(http.MethodGet)

	admin.HandleFunc("/search/cache", a.handleClearSearchCache).Methods(http.MethodDelete)

	return router
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Rate limits

type rateLimitRequest struct {
	UserID        string            `json:"user_id"`
	Action        models.ActionType `json:"action"`
	MaxRequests   int               `json:"max_requests,omitempty"`
	WindowSeconds int               `json:"window_seconds,omitempty"`
}

func (req rateLimitRequest) override() *models.RateLimitConfig {
	if req.MaxRequests <= 0 || req.WindowSeconds <= 0 {
		return nil
	}
	return &models.RateLimitConfig{
		MaxRequests: req.MaxRequests,
		Window:      time.Duration(req.WindowSeconds) * time.Second,
	}
}

type rateLimitResponse struct {
	Allowed           bool      `json:"allowed"`
	Remaining         int       `json:"remaining"`
	ResetTime         time.Time `json:"reset_time"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
}

func newRateLimitResponse(result *models.RateLimitResult) rateLimitResponse {
	resp := rateLimitResponse{
		Allowed:   result.Allowed,
		Remaining: result.Remaining,
		ResetTime: result.ResetTime,
	}
	if !result.Allowed {
		resp.RetryAfterSeconds = int((result.RetryAfter + time.Second - 1) / time.Second)
	}
	return resp
}

func (a *API) handleRateLimitCheck(w http.ResponseWriter, r *http.Request) {
	var req rateLimitRequest
	if !a.decode(w, r, &req) {
		return
	}
	result, err := a.limiter.CheckRateLimit(r.Context(), req.UserID, req.Action, req.override())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRateLimitResponse(result))
}

func (a *API) handleRateLimitRecord(w http.ResponseWriter, r *http.Request) {
	var req rateLimitRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.limiter.RecordAction(r.Context(), req.UserID, req.Action); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRateLimitConsume(w http.ResponseWriter, r *http.Request) {
	var req rateLimitRequest
	if !a.decode(w, r, &req) {
		return
	}
	result, err := a.limiter.Consume(r.Context(), req.UserID, req.Action)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	resp := newRateLimitResponse(result)
	status := http.StatusOK
	if !result.Allowed {
		w.Header().Set(middleware.HeaderRetryAfter, strconv.Itoa(resp.RetryAfterSeconds))
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, resp)
}

func (a *API) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := a.limiter.ResetRateLimit(r.Context(), vars["user"], models.ActionType(vars["action"])); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.limiter.GetStats(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Moderation

type moderateRequest struct {
	Content  string `json:"content"`
	AuthorID string `json:"author_id"`
	Category string `json:"category"`
}

func (a *API) handleModerate(w http.ResponseWriter, r *http.Request) {
	var req moderateRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.AuthorID == "" {
		req.AuthorID = a.rateLimit.ClientKey(r)
	}
	writeJSON(w, http.StatusOK, a.moderator.ModerateContent(r.Context(), req.Content, req.AuthorID, req.Category))
}

func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.moderator.Rules())
}

func (a *API) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule models.ModerationRule
	if !a.decode(w, r, &rule) {
		return
	}
	added, err := a.moderator.AddRule(rule)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if a.rules != nil {
		// the rule is live either way; it just won't survive a restart
		if err := a.rules.SaveRule(r.Context(), added); err != nil {
			a.logger.WithError(err).WithField("rule_id", added.ID).Warn("Failed to persist moderation rule")
		}
	}
	writeJSON(w, http.StatusCreated, added)
}

func (a *API) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.moderator.RemoveRule(id); err != nil {
		a.writeServiceError(w, err)
		return
	}
	if a.rules != nil {
		if err := a.rules.DeleteRule(r.Context(), id); err != nil {
			a.logger.WithError(err).WithField("rule_id", id).Warn("Failed to delete persisted moderation rule")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleModerationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.moderator.GetStats(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Notifications

func (a *API) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var prefs models.NotificationPreferences
	if !a.decode(w, r, &prefs) {
		return
	}
	// the server assigns anonymous ids
	prefs.SubscriberID = ""
	saved, err := a.scheduler.SetPreferences(r.Context(), prefs)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (a *API) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := a.scheduler.GetPreferences(r.Context(), mux.Vars(r)["subscriber"])
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (a *API) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs models.NotificationPreferences
	if !a.decode(w, r, &prefs) {
		return
	}
	prefs.SubscriberID = mux.Vars(r)["subscriber"]
	saved, err := a.scheduler.SetPreferences(r.Context(), prefs)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (a *API) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := a.scheduler.Unsubscribe(r.Context(), mux.Vars(r)["subscriber"]); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCheckNotification(w http.ResponseWriter, r *http.Request) {
	shown, err := a.scheduler.CheckAndShow(r.Context(), mux.Vars(r)["subscriber"])
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"shown": shown})
}

// Search

func (a *API) handleSearchPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := a.search.SearchPosts(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (a *API) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.search.SearchUsers(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := a.search.Suggestions(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (a *API) handleClearSearchCache(w http.ResponseWriter, r *http.Request) {
	if err := a.search.ClearCache(r.Context()); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helpers

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	return true
}

// writeServiceError maps service errors onto status codes
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ratelimit.ErrUnknownAction),
		errors.Is(err, ratelimit.ErrEmptyUser),
		errors.Is(err, moderation.ErrInvalidRule),
		errors.Is(err, notification.ErrInvalidPreferences),
		errors.Is(err, search.ErrEmptyQuery):
		status = http.StatusBadRequest
	case errors.Is(err, moderation.ErrRuleNotFound),
		errors.Is(err, notification.ErrUnknownSubscriber):
		status = http.StatusNotFound
	case errors.Is(err, moderation.ErrDuplicateRule):
		status = http.StatusConflict
	case errors.Is(err, ratelimit.ErrRecordDenied):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		a.logger.WithError(err).Error("API request failed")
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}
