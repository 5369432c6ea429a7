package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/livewatch/livewatch/internal/core"
	apperrors "github.com/livewatch/livewatch/internal/errors"
)

// Engine is the part of the running poller exposed over HTTP.
type Engine interface {
	UsageStatistics(now time.Time) core.UsageStatistics
	ListTargets() []core.Target
	ValidateEntry(entry core.DirectoryEntry) error
	RegisterEntry(entry core.DirectoryEntry) error
	RemoveTarget(id string) bool
}

// StatusReader reads persisted live statuses.
type StatusReader interface {
	GetStatus(ctx context.Context, targetID string) (*core.StoredStatus, error)
	ListStatuses(ctx context.Context, liveOnly bool) ([]core.StoredStatus, error)
	ListTransitions(ctx context.Context, targetID string, limit int) ([]core.Transition, error)
}

// TargetWriter persists tracked channels. It is nil when the directory is
// a read-only file, and target mutations are then refused.
type TargetWriter interface {
	UpsertTarget(ctx context.Context, entry core.DirectoryEntry, now time.Time) (bool, error)
	DeleteTarget(ctx context.Context, id string) (bool, error)
}

// API serves the /v1 endpoints.
type API struct {
	Engine   Engine
	Statuses StatusReader
	Writer   TargetWriter
	Now      func() time.Time
}

// TargetRequest is the body of POST /v1/targets.
type TargetRequest struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
	Channel  string `json:"channel,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// TargetResponse reports the outcome of a target mutation.
type TargetResponse struct {
	Target  core.DirectoryEntry `json:"target"`
	Created bool                `json:"created"`
}

// StatusResponse is the body of GET /v1/status/{id}.
type StatusResponse struct {
	Status      core.StoredStatus `json:"status"`
	Transitions []core.Transition `json:"transitions"`
}

// Routes mounts the API on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/usage", a.Usage)
	r.Get("/targets", a.ListTargets)
	r.Post("/targets", a.AddTarget)
	r.Delete("/targets/{id}", a.RemoveTarget)
	r.Get("/status", a.ListStatuses)
	r.Get("/status/{id}", a.GetStatus)
}

func (a *API) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Usage returns quota consumption and target counts.
func (a *API) Usage(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a.Engine.UsageStatistics(a.now()))
}

// ListTargets returns the scheduling state of every target.
func (a *API) ListTargets(w http.ResponseWriter, r *http.Request) {
	targets := a.Engine.ListTargets()
	if platform := strings.TrimSpace(r.URL.Query().Get("platform")); platform != "" {
		p, err := core.ParsePlatform(platform)
		if err != nil {
			respondWithError(w, r, apperrors.NewInvalidInputError(err.Error()))
			return
		}
		filtered := targets[:0]
		for _, t := range targets {
			if t.Platform == p {
				filtered = append(filtered, t)
			}
		}
		targets = filtered
	}
	respondJSON(w, http.StatusOK, targets)
}

// AddTarget persists a channel and starts polling it.
func (a *API) AddTarget(w http.ResponseWriter, r *http.Request) {
	if a.Writer == nil {
		respondWithError(w, r, readOnlyDirectory())
		return
	}

	var req TargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid request body"))
		return
	}

	entry, err := req.entry()
	if err != nil {
		respondWithError(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	if err := a.Engine.ValidateEntry(entry); err != nil {
		respondWithError(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	created, err := a.Writer.UpsertTarget(r.Context(), entry, a.now())
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to store target"))
		return
	}

	if err := a.Engine.RegisterEntry(entry); err != nil {
		if created {
			_, _ = a.Writer.DeleteTarget(r.Context(), entry.ID)
		}
		respondWithError(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, TargetResponse{Target: entry, Created: created})
}

// RemoveTarget stops polling a channel and deletes it from the store.
func (a *API) RemoveTarget(w http.ResponseWriter, r *http.Request) {
	if a.Writer == nil {
		respondWithError(w, r, readOnlyDirectory())
		return
	}

	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("target id is required"))
		return
	}

	deleted, err := a.Writer.DeleteTarget(r.Context(), id)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to delete target"))
		return
	}
	if a.Engine.RemoveTarget(id) {
		deleted = true
	}

	if !deleted {
		respondWithError(w, r, apperrors.NewNotFoundError("target not found: "+id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListStatuses returns the latest status of every checked target.
// ?live=true limits the list to live channels.
func (a *API) ListStatuses(w http.ResponseWriter, r *http.Request) {
	if a.Statuses == nil {
		respondWithError(w, r, apperrors.NewNotFoundError("status storage is not configured"))
		return
	}
	liveOnly, _ := strconv.ParseBool(r.URL.Query().Get("live"))
	statuses, err := a.Statuses.ListStatuses(r.Context(), liveOnly)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list statuses"))
		return
	}
	respondJSON(w, http.StatusOK, statuses)
}

// GetStatus returns one target's latest status and recent transitions.
func (a *API) GetStatus(w http.ResponseWriter, r *http.Request) {
	if a.Statuses == nil {
		respondWithError(w, r, apperrors.NewNotFoundError("status storage is not configured"))
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondWithError(w, r, apperrors.NewInvalidInputError("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	status, err := a.Statuses.GetStatus(r.Context(), id)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to fetch status"))
		return
	}
	if status == nil {
		respondWithError(w, r, apperrors.NewNotFoundError("no status recorded for "+id))
		return
	}

	transitions, err := a.Statuses.ListTransitions(r.Context(), id, limit)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list transitions"))
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{Status: *status, Transitions: transitions})
}

func (req TargetRequest) entry() (core.DirectoryEntry, error) {
	platform, err := core.ParsePlatform(req.Platform)
	if err != nil {
		return core.DirectoryEntry{}, err
	}
	priority, err := core.ParsePriority(req.Priority)
	if err != nil {
		return core.DirectoryEntry{}, err
	}
	id := strings.TrimSpace(req.ID)
	channel := strings.TrimSpace(req.Channel)
	if id == "" {
		id = channel
	}
	if id == "" {
		return core.DirectoryEntry{}, errMissingID
	}
	return core.DirectoryEntry{ID: id, Platform: platform, Channel: channel, Priority: priority}, nil
}

var errMissingID = errors.New("id or channel is required")

func readOnlyDirectory() error {
	return apperrors.NewConflictError("targets are managed by the directory file")
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
