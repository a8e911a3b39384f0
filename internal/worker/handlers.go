package worker

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/cadence/internal/config"
	"github.com/thebtf/cadence/pkg/hostevent"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Debug().Err(err).Msg("Failed to write response")
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth reports daemon liveness.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := s.store.Ping(); err != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": s.version,
		"ready":   s.ready.Load(),
		"uptime":  time.Since(s.startTime).String(),
	})
}

// handleGetConfig returns the settings host integrations need to configure
// their local detectors. The auth token is never exposed.
func (s *Service) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := config.Get()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trackingEnabled":            cfg.TrackingEnabled,
		"idleThresholdSeconds":       cfg.IdleThresholdSeconds,
		"inactivityWindowSeconds":    cfg.InactivityWindowSeconds,
		"interactionThrottleSeconds": cfg.InteractionThrottleSeconds,
		"excludedSubjects":           cfg.ExcludedSubjects,
	})
}

// handleEvent ingests one host activity event.
func (s *Service) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev hostevent.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	if ev.Source == "" || ev.Type == "" {
		writeError(w, http.StatusBadRequest, "source and type are required")
		return
	}

	s.engine.HandleEvent(r.Context(), &ev)
	w.WriteHeader(http.StatusAccepted)
}

// handleCurrentSession returns the engine snapshot.
func (s *Service) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// handleTrackingToggle enables or disables tracking.
func (s *Service) handleTrackingToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	s.engine.SetTrackingEnabled(r.Context(), req.Enabled)

	// Persist the toggle so a settings reload does not revert it.
	if cfg, err := config.Load(); err == nil && cfg.TrackingEnabled != req.Enabled {
		cfg.TrackingEnabled = req.Enabled
		if err := config.Save(cfg); err != nil {
			log.Warn().Err(err).Msg("Failed to persist tracking toggle")
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

// handleSync triggers an on-demand sync pass. A missing credential reports
// a skip, not an error.
func (s *Service) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.syncer.Sync(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"result": result,
			"error":  err.Error(),
		})
		return
	}
	pending, _ := s.queue.Len(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":  result,
		"pending": pending,
	})
}

// handleStatsToday returns the daily summary.
func (s *Service) handleStatsToday(w http.ResponseWriter, r *http.Request) {
	today, err := s.stats.Today(r.Context(), config.Get().ProductivityGoalMinutes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, today)
}

// handleListOverrides returns the user category override map.
func (s *Service) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.classifier.Overrides())
}

// handleSetOverride records a category override.
func (s *Service) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject  string `json:"subject"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	req.Category = strings.TrimSpace(req.Category)
	if req.Subject == "" || req.Category == "" {
		writeError(w, http.StatusBadRequest, "subject and category are required")
		return
	}

	if err := s.classifier.SetOverride(r.Context(), req.Subject, req.Category); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"subject": req.Subject, "category": req.Category})
}

// handleDeleteOverride removes a category override.
func (s *Service) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	subj, err := url.PathUnescape(chi.URLParam(r, "subject"))
	if err != nil || subj == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}
	if err := s.classifier.ClearOverride(r.Context(), subj); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetCredential stores the sync endpoint and token.
func (s *Service) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIBaseURL string `json:"apiBaseUrl"`
		Token      string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	cfg, _ := config.Load()
	if req.APIBaseURL != "" {
		cfg.APIBaseURL = strings.TrimRight(req.APIBaseURL, "/")
	}
	cfg.AuthToken = req.Token
	if err := config.Save(cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearCredential removes the sync token. Tracking continues; sessions
// accumulate locally until a new credential arrives.
func (s *Service) handleClearCredential(w http.ResponseWriter, r *http.Request) {
	if err := config.SetAuthToken(""); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReset clears the pending sync queue. This is the only path that
// discards unsynced sessions and it requires explicit confirmation.
func (s *Service) handleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Confirm {
		writeError(w, http.StatusBadRequest, "confirmation required")
		return
	}

	if err := s.queue.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
