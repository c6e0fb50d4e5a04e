package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"register-login-api/internal/observability"
)

// LockReleaser unlocks accounts whose lock window has already passed.
type LockReleaser interface {
	ReleaseExpiredLocks(ctx context.Context, lockWindow time.Duration, batchSize int) (int64, error)
}

// CleanupHandler releases stale account locks on a schedule. Login traffic
// auto-unlocks on the next attempt, so this only sweeps accounts nobody
// retried. Guarded by a shared cron secret; the route 404s when no secret is
// configured.
type CleanupHandler struct {
	store      LockReleaser
	logger     *observability.Logger
	cronSecret string
	lockWindow time.Duration
	batchSize  int
}

func NewCleanupHandler(store LockReleaser, logger *observability.Logger, cronSecret string, lockWindow time.Duration, batchSize int) *CleanupHandler {
	return &CleanupHandler{
		store:      store,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		lockWindow: lockWindow,
		batchSize:  batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	released, err := h.store.ReleaseExpiredLocks(r.Context(), h.lockWindow, h.batchSize)
	if err != nil {
		h.logger.Error("lock_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("lock_cleanup_completed", map[string]any{"released_locks": released})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"released_locks": released,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
