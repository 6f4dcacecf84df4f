package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Dosada05/tournament-standings/models"
	"github.com/Dosada05/tournament-standings/services"
)

type StandingHandler struct {
	standingService      *services.StandingService
	phaseStandingService *services.PhaseStandingService
}

func NewStandingHandler(ss *services.StandingService, ps *services.PhaseStandingService) *StandingHandler {
	return &StandingHandler{standingService: ss, phaseStandingService: ps}
}

// LeaderboardHandler обрабатывает GET /tournaments/{tournamentID}/phases/{phase}/leaderboard?group=&limit=
func (h *StandingHandler) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	limit, _, err := queryInt(r, "limit", 1)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	q := services.LeaderboardQuery{
		TournamentID: tournamentID,
		Phase:        chi.URLParam(r, "phase"),
		Limit:        limit,
	}
	if group := r.URL.Query().Get("group"); group != "" {
		q.Group = &group
	}

	standings, err := h.standingService.Leaderboard(r.Context(), q)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if standings == nil {
		standings = []models.Standing{}
	}

	respond(w, r, http.StatusOK, jsonResponse{"standings": standings})
}

// PhaseStandingHandler обрабатывает GET /tournaments/{tournamentID}/phases/{phase}/standings
func (h *StandingHandler) PhaseStandingHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	ps, err := h.phaseStandingService.GetOrCreate(r.Context(), tournamentID, chi.URLParam(r, "phase"))
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, jsonResponse{
		"phase_standing": ps,
		"stale":          h.phaseStandingService.IsStale(ps),
	})
}

// RecalculateHandler обрабатывает POST /tournaments/{tournamentID}/phases/{phase}/standings/recalculate
func (h *StandingHandler) RecalculateHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	phase := chi.URLParam(r, "phase")

	ps, err := h.phaseStandingService.Recalculate(r.Context(), tournamentID, phase, models.CalculatedManual)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if ps == nil {
		// nothing to rank yet
		if ps, err = h.phaseStandingService.GetOrCreate(r.Context(), tournamentID, phase); err != nil {
			mapServiceErrorToHTTP(w, r, err)
			return
		}
	}

	respond(w, r, http.StatusOK, jsonResponse{
		"phase_standing": ps,
		"stale":          h.phaseStandingService.IsStale(ps),
	})
}

// StaleHandler обрабатывает GET /standings/stale?threshold_minutes=
func (h *StandingHandler) StaleHandler(w http.ResponseWriter, r *http.Request) {
	minutes, _, err := queryInt(r, "threshold_minutes", 1)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	stale, err := h.phaseStandingService.GetStale(r.Context(), minutes)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if stale == nil {
		stale = []*models.PhaseStanding{}
	}

	respond(w, r, http.StatusOK, jsonResponse{"phase_standings": stale})
}

// SweepHandler обрабатывает POST /standings/sweep?threshold_minutes=
func (h *StandingHandler) SweepHandler(w http.ResponseWriter, r *http.Request) {
	minutes, _, err := queryInt(r, "threshold_minutes", 1)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	report, err := h.phaseStandingService.SweepStale(r.Context(), time.Duration(minutes)*time.Minute)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, jsonResponse{"report": report})
}
