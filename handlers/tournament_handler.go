package handlers

import (
	"errors"
	"net/http"

	"github.com/Dosada05/tournament-standings/middleware"
	"github.com/Dosada05/tournament-standings/models"
	"github.com/Dosada05/tournament-standings/repositories"
	"github.com/Dosada05/tournament-standings/services"
)

type TournamentHandler struct {
	tournamentService *services.TournamentService
}

func NewTournamentHandler(ts *services.TournamentService) *TournamentHandler {
	return &TournamentHandler{tournamentService: ts}
}

type createTournamentRequest struct {
	Name       string                  `json:"name"`
	TotalSlots int                     `json:"total_slots"`
	Status     models.TournamentStatus `json:"status,omitempty"`
	Phases     []models.Phase          `json:"phases"`
}

// CreateHandler обрабатывает POST /tournaments
func (h *TournamentHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required to create tournament")
		return
	}

	var input createTournamentRequest
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournament := &models.Tournament{
		Name:       input.Name,
		TotalSlots: input.TotalSlots,
		Status:     input.Status,
		Phases:     input.Phases,
	}
	if err := h.tournamentService.CreateTournament(r.Context(), tournament, actor); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusCreated, jsonResponse{"tournament": tournament})
}

// GetByIDHandler обрабатывает GET /tournaments/{tournamentID}
func (h *TournamentHandler) GetByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournament, err := h.tournamentService.GetTournament(r.Context(), id)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, jsonResponse{"tournament": tournament})
}

// ListHandler обрабатывает GET /tournaments
func (h *TournamentHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	var filter repositories.ListTournamentsFilter

	organizerID, ok, err := queryInt(r, "organizer_id", 1)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if ok {
		filter.OrganizerID = &organizerID
	}
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := models.TournamentStatus(statusStr)
		if !status.Valid() {
			badRequestResponse(w, r, errors.New("invalid status query parameter"))
			return
		}
		filter.Status = &status
	}
	if filter.Limit, _, err = queryInt(r, "limit", 1); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if filter.Offset, _, err = queryInt(r, "offset", 0); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournaments, err := h.tournamentService.ListTournaments(r.Context(), filter)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if tournaments == nil {
		tournaments = []models.Tournament{}
	}

	respond(w, r, http.StatusOK, jsonResponse{"tournaments": tournaments})
}
