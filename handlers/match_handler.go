package handlers

import (
	"net/http"

	"github.com/Dosada05/tournament-standings/middleware"
	"github.com/Dosada05/tournament-standings/models"
	"github.com/Dosada05/tournament-standings/services"
)

type MatchHandler struct {
	matchService *services.MatchService
}

func NewMatchHandler(ms *services.MatchService) *MatchHandler {
	return &MatchHandler{matchService: ms}
}

type createMatchRequest struct {
	Phase   string  `json:"phase"`
	Group   *string `json:"group,omitempty"`
	Number  int     `json:"number,omitempty"`
	TeamIDs []int   `json:"team_ids"`
}

type recordResultsRequest struct {
	Results []services.ResultInput `json:"results"`
}

// CreateHandler обрабатывает POST /tournaments/{tournamentID}/matches
func (h *MatchHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input createMatchRequest
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.matchService.CreateMatch(r.Context(), services.CreateMatchInput{
		TournamentID: tournamentID,
		Phase:        input.Phase,
		Group:        input.Group,
		Number:       input.Number,
		TeamIDs:      input.TeamIDs,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusCreated, jsonResponse{"match": match})
}

// ListHandler обрабатывает GET /tournaments/{tournamentID}/matches?phase=
func (h *MatchHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	matches, err := h.matchService.ListMatches(r.Context(), tournamentID, r.URL.Query().Get("phase"))
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if matches == nil {
		matches = []*models.Match{}
	}

	respond(w, r, http.StatusOK, jsonResponse{"matches": matches})
}

// GetHandler обрабатывает GET /matches/{matchID}
func (h *MatchHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.matchService.GetMatch(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, jsonResponse{"match": match})
}

// RecordResultsHandler обрабатывает PUT /matches/{matchID}/results
func (h *MatchHandler) RecordResultsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	var input recordResultsRequest
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.matchService.RecordResults(r.Context(), id, input.Results, actor)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, jsonResponse{"match": match})
}

// SyncHandler обрабатывает POST /matches/{matchID}/sync
func (h *MatchHandler) SyncHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.matchService.SyncStats(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, jsonResponse{"match": match})
}

// FinalizeHandler обрабатывает POST /matches/{matchID}/finalize
func (h *MatchHandler) FinalizeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	match, err := h.matchService.FinalizeMatch(r.Context(), id, actor)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, jsonResponse{"match": match})
}
