package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Dosada05/tournament-standings/middleware"
	"github.com/Dosada05/tournament-standings/services"
)

type ProgressionHandler struct {
	progressionService *services.ProgressionService
}

func NewProgressionHandler(ps *services.ProgressionService) *ProgressionHandler {
	return &ProgressionHandler{progressionService: ps}
}

type inviteRequest struct {
	TeamID   int      `json:"team_id"`
	TeamName string   `json:"team_name"`
	Phase    string   `json:"phase,omitempty"`
	Group    *string  `json:"group,omitempty"`
	Roster   []string `json:"roster,omitempty"`
}

type assignGroupsRequest struct {
	Groups map[string][]int `json:"groups"`
}

// StartPhaseHandler обрабатывает POST /tournaments/{tournamentID}/phases/{phase}/start
func (h *ProgressionHandler) StartPhaseHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	ps, err := h.progressionService.StartPhase(r.Context(), tournamentID, chi.URLParam(r, "phase"), actor)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, jsonResponse{"phase_standing": ps})
}

// CompletePhaseHandler обрабатывает POST /tournaments/{tournamentID}/phases/{phase}/complete
func (h *ProgressionHandler) CompletePhaseHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	ps, err := h.progressionService.CompletePhase(r.Context(), tournamentID, chi.URLParam(r, "phase"), actor)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, jsonResponse{"phase_standing": ps})
}

// QualifyHandler обрабатывает POST /tournaments/{tournamentID}/phases/{phase}/qualify
func (h *ProgressionHandler) QualifyHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	result, err := h.progressionService.ApplyQualification(r.Context(), tournamentID, chi.URLParam(r, "phase"))
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, jsonResponse{"qualification": result})
}

// InviteHandler обрабатывает POST /tournaments/{tournamentID}/invitations
func (h *ProgressionHandler) InviteHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "authentication required")
		return
	}

	var input inviteRequest
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	reg, err := h.progressionService.InviteTeam(r.Context(), services.InviteInput{
		TournamentID: tournamentID,
		TeamID:       input.TeamID,
		TeamName:     input.TeamName,
		Phase:        input.Phase,
		Group:        input.Group,
		Roster:       input.Roster,
	}, actor)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusCreated, jsonResponse{"registration": reg})
}

// AssignGroupsHandler обрабатывает PUT /tournaments/{tournamentID}/phases/{phase}/groups
func (h *ProgressionHandler) AssignGroupsHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input assignGroupsRequest
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournament, err := h.progressionService.AssignGroups(r.Context(), tournamentID, chi.URLParam(r, "phase"), input.Groups)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, jsonResponse{"tournament": tournament})
}
