package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-ripper/internal/store"
)

const (
	defaultRipLimit   = 50
	maxRipLimit       = 500
	defaultSitesLimit = 100
	maxSitesLimit     = 1000
	progressTimeout   = 3 * time.Second
)

// ProgressHandler exposes read-only rip progress endpoints.
type ProgressHandler struct {
	repo    store.ProgressRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository and logger.
func NewProgressHandler(repo store.ProgressRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		repo:    repo,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// ListRips handles GET /v1/rips?status=&limit=&offset=. It returns
// {"rips": [...]}, 400 for invalid filters, 503 without a repository, or
// 500 if the repository call fails.
func (h *ProgressHandler) ListRips(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRipLimit, maxRipLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.RipRunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, parseErr := parseStatus(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListRips(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list rips failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list rips")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rips": toRipDTOs(runs)})
}

// GetRip handles GET /v1/rips/{rip_id}.
func (h *ProgressHandler) GetRip(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	ripID, err := parseRipID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRip(ctx, ripID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rip not found")
			return
		}
		h.logger.Error("get rip failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load rip")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rip": toRipDTO(run)})
}

// ListRipSites handles GET /v1/rips/{rip_id}/sites?limit=&offset=.
func (h *ProgressHandler) ListRipSites(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "progress repository unavailable")
		return
	}
	ripID, err := parseRipID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultSitesLimit, maxSitesLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sites, err := h.repo.ListRipSites(ctx, ripID, limit, offset)
	if err != nil {
		h.logger.Error("list rip sites failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list rip sites")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": toSiteDTOs(sites)})
}

func parseRipID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "rip_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("rip_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid rip_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.RipRunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.RunRunning, nil
	case "complete", "completed", "done":
		return store.RunComplete, nil
	case "error", "errored", "failed":
		return store.RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toRipDTOs(in []store.RipRun) []ripDTO {
	out := make([]ripDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRipDTO(run))
	}
	return out
}

func toRipDTO(run store.RipRun) ripDTO {
	return ripDTO{
		ID:         run.ID.String(),
		Root:       run.Root,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Summary:    run.Summary,
		Error:      run.ErrorMessage,
	}
}

func toSiteDTOs(in []store.SiteStats) []siteDTO {
	out := make([]siteDTO, 0, len(in))
	for _, s := range in {
		out = append(out, siteDTO{
			Site:       s.Site,
			LastUpdate: s.LastUpdate,
			Completed:  s.Completed,
			Errored:    s.Errored,
			Existing:   s.Existing,
			BytesTotal: s.BytesTotal,
		})
	}
	return out
}

type ripDTO struct {
	ID         string     `json:"id"`
	Root       string     `json:"root"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Summary    *string    `json:"summary,omitempty"`
	Error      *string    `json:"error,omitempty"`
}

type siteDTO struct {
	Site       string    `json:"site"`
	LastUpdate time.Time `json:"last_update"`
	Completed  int64     `json:"completed"`
	Errored    int64     `json:"errored"`
	Existing   int64     `json:"existing"`
	BytesTotal int64     `json:"bytes_total"`
}
