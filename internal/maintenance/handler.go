package maintenance

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"lead-capture/internal/apierror"
	"lead-capture/internal/observability"
)

type LeadPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// WindowSweeper drops expired rate-limit windows. Only the in-memory store
// needs it; Redis expires keys on its own.
type WindowSweeper interface {
	Sweep(now time.Time) int
}

type Result struct {
	DeletedLeads  int64  `json:"deleted_leads"`
	SweptWindows  int    `json:"swept_rate_limit_windows"`
	LeadRetention string `json:"lead_retention"`
}

type CleanupHandler struct {
	purger        LeadPurger
	sweeper       WindowSweeper
	logger        *observability.Logger
	responder     *apierror.Responder
	cronSecret    string
	leadRetention time.Duration
	batchSize     int
	now           func() time.Time
}

func NewCleanupHandler(
	purger LeadPurger,
	sweeper WindowSweeper,
	logger *observability.Logger,
	responder *apierror.Responder,
	cronSecret string,
	leadRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		purger:        purger,
		sweeper:       sweeper,
		logger:        logger,
		responder:     responder,
		cronSecret:    strings.TrimSpace(cronSecret),
		leadRetention: leadRetention,
		batchSize:     batchSize,
		now:           time.Now,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		h.responder.Error(w, r, apierror.NotFound("not found"))
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		h.responder.Error(w, r, apierror.Authentication("unauthorized"))
		return
	}

	now := h.now().UTC()
	result := Result{LeadRetention: "disabled"}

	if h.purger != nil && h.leadRetention > 0 {
		deleted, err := h.purger.PurgeOlderThan(r.Context(), now.Add(-h.leadRetention), h.batchSize)
		if err != nil {
			h.logger.Error("lead_cleanup_failed", map[string]any{"error": err.Error(), "deleted_leads": deleted})
			h.responder.Error(w, r, apierror.Internal(err))
			return
		}
		result.DeletedLeads = deleted
		result.LeadRetention = h.leadRetention.String()
	}

	if h.sweeper != nil {
		result.SweptWindows = h.sweeper.Sweep(now)
	}

	h.logger.Info("maintenance_cleanup_completed", map[string]any{
		"deleted_leads":            result.DeletedLeads,
		"swept_rate_limit_windows": result.SweptWindows,
	})

	h.responder.JSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func (h *CleanupHandler) authorized(r *http.Request) bool {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return false
	}
	provided := strings.TrimSpace(parts[1])
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.cronSecret)) == 1
}
